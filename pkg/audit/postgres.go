package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore connects, pings, and runs the audit schema migrations.
func NewPostgresStore(ctx context.Context, logger *slog.Logger, databaseURL string) (*PostgresStore, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{
		db:     database,
		logger: logger.With("component", "audit_postgres_store"),
	}

	err = newMigrationManager(logger, database, auditMigrations()).RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run audit migrations: %w", err)
	}

	logger.InfoContext(ctx, "Audit PostgreSQL store initialized")

	return store, nil
}

func (s *PostgresStore) Append(ctx context.Context, record *Record) error {
	stamp(record)

	query := `
		INSERT INTO trigger_audit (
			id, dag_id, run_id, outcome, reason, detail, gate_fallback, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.db.ExecContext(ctx, query,
		record.ID,
		record.DagID,
		nullable(record.RunID),
		string(record.Outcome),
		nullable(record.Reason),
		nullable(record.Detail),
		record.GateFallback,
		record.CreatedAt,
	)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to append audit record", "record_id", record.ID, "error", err)

		return fmt.Errorf("failed to append audit record: %w", err)
	}

	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]*Record, error) {
	query := `
		SELECT id, dag_id, run_id, outcome, reason, detail, gate_fallback, created_at
		FROM trigger_audit
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var records []*Record

	for rows.Next() {
		var (
			record Record
			runID  sql.NullString
			reason sql.NullString
			detail sql.NullString
		)

		err := rows.Scan(
			&record.ID,
			&record.DagID,
			&runID,
			&record.Outcome,
			&reason,
			&detail,
			&record.GateFallback,
			&record.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}

		record.RunID = runID.String
		record.Reason = reason.String
		record.Detail = detail.String

		records = append(records, &record)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate audit records: %w", err)
	}

	return records, nil
}

func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func nullable(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
