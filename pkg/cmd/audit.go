package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/vspedr/airlock/pkg/audit"
)

// NewAuditStore selects the audit backend by URL scheme: postgres:// and
// redis:// map to their stores, anything else is treated as a local
// directory for the file backend.
func NewAuditStore(ctx context.Context, logger *slog.Logger, auditURL string) (audit.Store, error) {
	switch {
	case strings.HasPrefix(auditURL, "postgres://"), strings.HasPrefix(auditURL, "postgresql://"):
		return audit.NewPostgresStore(ctx, logger, auditURL)
	case strings.HasPrefix(auditURL, "redis://"), strings.HasPrefix(auditURL, "rediss://"):
		return audit.NewRedisStore(ctx, logger, auditURL)
	default:
		return audit.NewFileStore(strings.TrimPrefix(auditURL, "file://"))
	}
}
