// Package audit keeps an append-only trail of trigger attempts and their
// outcomes. The admission gate itself is stateless and recomputed on every
// call; the audit trail exists so operators can answer "who triggered what,
// and why was it denied" after the fact.
package audit

import (
	"context"
	"time"
)

// Outcome classifies how a trigger attempt ended.
type Outcome string

const (
	// OutcomeTriggered means the gate admitted the request and the
	// upstream trigger call succeeded.
	OutcomeTriggered Outcome = "triggered"
	// OutcomeDenied means the gate blocked the request.
	OutcomeDenied Outcome = "denied"
	// OutcomeFailed means the gate admitted the request but the upstream
	// trigger call failed.
	OutcomeFailed Outcome = "failed"
)

// Record is one trigger attempt.
type Record struct {
	ID           string    `json:"id"`
	DagID        string    `json:"dag_id"`
	RunID        string    `json:"run_id,omitempty"`
	Outcome      Outcome   `json:"outcome"`
	Reason       string    `json:"reason,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	GateFallback bool      `json:"gate_fallback,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store is the audit persistence interface. Backends are selected by the
// audit URL scheme at startup.
type Store interface {
	Append(ctx context.Context, record *Record) error
	Recent(ctx context.Context, limit int) ([]*Record, error)
	HealthCheck(ctx context.Context) error
	Close() error
}
