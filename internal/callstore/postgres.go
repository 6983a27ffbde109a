package callstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// PostgresStore is the database-backed call store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the call database at dsn and ensures the
// schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("call store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("call store: ping: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("call store: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStoreWithPool wraps an existing pool.
func NewPostgresStoreWithPool(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if err := migrate(ctx, pool); err != nil {
		return nil, fmt.Errorf("call store: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

const ddlCalls = `
CREATE TABLE IF NOT EXISTS calls (
    call_id     TEXT         PRIMARY KEY,
    from_number TEXT         NOT NULL DEFAULT '',
    to_number   TEXT         NOT NULL DEFAULT '',
    status      TEXT         NOT NULL,
    order_id    TEXT         NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ  NOT NULL,
    ended_at    TIMESTAMPTZ,
    duration_ms BIGINT       NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_calls_started_at ON calls (started_at);
CREATE INDEX IF NOT EXISTS idx_calls_status     ON calls (status);
`

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, ddlCalls)
	return err
}

// CallStarted implements [Store].
func (s *PostgresStore) CallStarted(ctx context.Context, callID, from, to string, startedAt time.Time) error {
	const q = `
		INSERT INTO calls (call_id, from_number, to_number, status, started_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (call_id) DO NOTHING`

	if _, err := s.pool.Exec(ctx, q, callID, from, to, StatusActive, startedAt); err != nil {
		return fmt.Errorf("call store: call started %q: %w: %v", callID, ErrUnavailable, err)
	}
	return nil
}

// CallEnded implements [Store]. The duration is computed in SQL from the
// stored start time so a clock-skewed caller cannot write a negative value.
func (s *PostgresStore) CallEnded(ctx context.Context, callID, status, orderID string, endedAt time.Time) error {
	const q = `
		UPDATE calls
		SET    status      = $2,
		       order_id    = $3,
		       ended_at    = $4,
		       duration_ms = GREATEST(0, (EXTRACT(EPOCH FROM ($4::timestamptz - started_at)) * 1000)::bigint)
		WHERE  call_id = $1`

	tag, err := s.pool.Exec(ctx, q, callID, status, orderID, endedAt)
	if err != nil {
		return fmt.Errorf("call store: call ended %q: %w: %v", callID, ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("call store: call ended %q: no such call", callID)
	}
	return nil
}

// RecentCalls implements [Store].
func (s *PostgresStore) RecentCalls(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	const q = `
		SELECT call_id, from_number, to_number, status, order_id, started_at,
		       COALESCE(ended_at, 'epoch'::timestamptz), duration_ms
		FROM   calls
		ORDER  BY started_at DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("call store: recent calls: %w: %v", ErrUnavailable, err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var (
			r          Record
			durationMS int64
		)
		if err := row.Scan(&r.CallID, &r.From, &r.To, &r.Status, &r.OrderID,
			&r.StartedAt, &r.EndedAt, &durationMS); err != nil {
			return Record{}, err
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("call store: scan rows: %w", err)
	}
	return records, nil
}
