// Package postgres provides the durable tool-event store backend.
//
// Records land in a single table keyed by (workflow_id, sort_key), mirroring
// the partition/sort layout remote sandboxes write against. The after-cursor
// query is a plain range scan on the primary key, so polling stays cheap even
// while a workflow is appending.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hupe1980/agenttrace/logging"
	"github.com/hupe1980/agenttrace/store"
)

// DefaultTable is the tool-event table name.
const DefaultTable = "tool_events"

var identifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Options configures a Store.
type Options struct {
	// Table overrides the tool-event table name. Must be a plain SQL
	// identifier; it is interpolated into statements, not bound.
	Table string
	// Logger receives schema and connection diagnostics.
	Logger logging.Logger
}

// Store is a Postgres-backed tool-event store.
type Store struct {
	pool     *pgxpool.Pool
	table    string
	logger   logging.Logger
	ownsPool bool
}

var _ store.Store = (*Store)(nil)

// New wraps an existing connection pool. The pool stays owned by the caller;
// Close on the returned store is a no-op.
func New(pool *pgxpool.Pool, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{
		Table:  DefaultTable,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if !identifierRe.MatchString(opts.Table) {
		return nil, fmt.Errorf("invalid table name %q", opts.Table)
	}

	return &Store{
		pool:   pool,
		table:  opts.Table,
		logger: opts.Logger,
	}, nil
}

// Connect opens a pool for dsn and wraps it. The returned store owns the
// pool and releases it on Close.
func Connect(ctx context.Context, dsn string, optFns ...func(o *Options)) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect tool-event store: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping tool-event store: %w", err)
	}

	s, err := New(pool, optFns...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.ownsPool = true
	return s, nil
}

// Close releases the pool when this store opened it.
func (s *Store) Close() {
	if s.ownsPool {
		s.pool.Close()
	}
}

// EnsureSchema creates the tool-event table and its expiry index if needed.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.schemaSQL() {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure tool-event schema: %w", err)
		}
	}
	s.logger.Debug("tool-event schema ready", "table", s.table)
	return nil
}

func (s *Store) schemaSQL() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    workflow_id TEXT NOT NULL,
    sort_key TEXT NOT NULL,
    event_id TEXT NOT NULL,
    agent_name TEXT NOT NULL DEFAULT '',
    tool_name TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    parameters TEXT NOT NULL DEFAULT '',
    duration_ms BIGINT NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT '',
    expires_at TIMESTAMPTZ,
    PRIMARY KEY (workflow_id, sort_key)
);`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_expiry ON %s (expires_at);`, s.table, s.table),
	}
}

// Append writes one record. Conflicting (workflow_id, sort_key) pairs are
// ignored so retried writes stay idempotent.
func (s *Store) Append(ctx context.Context, rec store.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	var expires any
	if !rec.ExpiresAt.IsZero() {
		expires = rec.ExpiresAt.UTC()
	}

	_, err := s.pool.Exec(ctx, s.insertSQL(),
		rec.WorkflowID,
		string(rec.SortKey),
		rec.EventID,
		rec.AgentName,
		rec.ToolName,
		rec.Status,
		rec.Parameters,
		rec.DurationMS,
		rec.ErrorMessage,
		expires,
	)
	if err != nil {
		return fmt.Errorf("append tool event: %w", err)
	}
	return nil
}

func (s *Store) insertSQL() string {
	return fmt.Sprintf(`
INSERT INTO %s (
    workflow_id, sort_key, event_id, agent_name, tool_name,
    status, parameters, duration_ms, error_message, expires_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (workflow_id, sort_key) DO NOTHING
`, s.table)
}

// QueryAfter returns up to limit unexpired records with sort keys strictly
// greater than after, in ascending order.
func (s *Store) QueryAfter(ctx context.Context, workflowID string, after store.SortKey, limit int) ([]store.Record, error) {
	if limit <= 0 {
		limit = store.DefaultQueryLimit
	}

	rows, err := s.pool.Query(ctx, s.querySQL(), workflowID, string(after), limit)
	if err != nil {
		return nil, fmt.Errorf("query tool events: %w", err)
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		var rec store.Record
		var sortKey string
		var expires *time.Time
		if err := rows.Scan(
			&rec.WorkflowID,
			&sortKey,
			&rec.EventID,
			&rec.AgentName,
			&rec.ToolName,
			&rec.Status,
			&rec.Parameters,
			&rec.DurationMS,
			&rec.ErrorMessage,
			&expires,
		); err != nil {
			return nil, fmt.Errorf("scan tool event: %w", err)
		}
		rec.SortKey = store.SortKey(sortKey)
		if expires != nil {
			rec.ExpiresAt = expires.UTC()
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read tool events: %w", err)
	}
	return out, nil
}

func (s *Store) querySQL() string {
	return fmt.Sprintf(`
SELECT workflow_id, sort_key, event_id, agent_name, tool_name,
       status, parameters, duration_ms, error_message, expires_at
FROM %s
WHERE workflow_id = $1
  AND sort_key > $2
  AND (expires_at IS NULL OR expires_at > now())
ORDER BY sort_key ASC
LIMIT $3
`, s.table)
}
