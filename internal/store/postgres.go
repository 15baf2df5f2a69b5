package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresAuditSink durably records every security decision in a Postgres
// table, independent of the zap audit log. Intended for deployments that
// need queryable, long-retention audit history rather than log-line grep.
type PostgresAuditSink struct {
	db *sql.DB
}

// NewPostgresAuditSink opens a connection pool against dsn. It neither
// connects nor checks that the audit_log table exists (callers are expected
// to run the migration that creates it; this mediator does not own schema
// migration).
func NewPostgresAuditSink(dsn string) (*PostgresAuditSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	return &PostgresAuditSink{db: db}, nil
}

// RecordDecision inserts one audit row. Failures here are logged by the
// caller and never block or fail the tool call being audited — audit
// writes are fire-and-forget relative to the response path.
func (s *PostgresAuditSink) RecordDecision(ctx context.Context, sessionID, eventType, toolName, decision, details string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (session_id, event_type, tool_name, decision, details, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, now())`,
		sessionID, eventType, toolName, decision, details)
	if err != nil {
		return fmt.Errorf("store: postgres insert audit row: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *PostgresAuditSink) Close() error { return s.db.Close() }
