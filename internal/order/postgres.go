package order

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// PostgresStore persists orders and their lines in a single transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the order database at dsn and ensures the
// schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("order store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("order store: ping: %w", err)
	}
	if err := migrateOrders(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("order store: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStoreWithPool wraps an existing pool.
func NewPostgresStoreWithPool(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if err := migrateOrders(ctx, pool); err != nil {
		return nil, fmt.Errorf("order store: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

const ddlOrders = `
CREATE TABLE IF NOT EXISTS orders (
    id             TEXT         PRIMARY KEY,
    call_id        TEXT         NOT NULL,
    total          DOUBLE PRECISION NOT NULL,
    avg_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    status         TEXT         NOT NULL,
    needs_review   BOOLEAN      NOT NULL DEFAULT FALSE,
    review_reason  TEXT         NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_call_id ON orders (call_id);
CREATE INDEX IF NOT EXISTS idx_orders_status  ON orders (status);

CREATE TABLE IF NOT EXISTS order_lines (
    order_id     TEXT    NOT NULL REFERENCES orders (id) ON DELETE CASCADE,
    position     INTEGER NOT NULL,
    product_key  TEXT    NOT NULL,
    display_name TEXT    NOT NULL,
    quantity     INTEGER NOT NULL,
    unit         TEXT    NOT NULL,
    unit_price   DOUBLE PRECISION NOT NULL,
    line_total   DOUBLE PRECISION NOT NULL,
    match_score  DOUBLE PRECISION NOT NULL,
    in_stock     BOOLEAN NOT NULL,
    PRIMARY KEY (order_id, position)
);
`

func migrateOrders(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, ddlOrders)
	return err
}

// SaveOrder implements [Store]. Re-saving an existing order replaces its
// header and lines, which Finalize relies on when a line is demoted after a
// failed reservation.
func (s *PostgresStore) SaveOrder(ctx context.Context, o Order) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("order store: begin: %w: %v", ErrUnavailable, err)
	}
	defer tx.Rollback(ctx)

	const qOrder = `
		INSERT INTO orders (id, call_id, total, avg_confidence, status, needs_review, review_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
		    total         = EXCLUDED.total,
		    status        = EXCLUDED.status,
		    needs_review  = EXCLUDED.needs_review,
		    review_reason = EXCLUDED.review_reason`

	if _, err := tx.Exec(ctx, qOrder,
		o.ID, o.CallID, o.Total, o.AvgConfidence, o.Status, o.NeedsReview, o.ReviewReason, o.CreatedAt); err != nil {
		return fmt.Errorf("order store: insert order: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM order_lines WHERE order_id = $1`, o.ID); err != nil {
		return fmt.Errorf("order store: clear lines: %w", err)
	}

	const qLine = `
		INSERT INTO order_lines
		    (order_id, position, product_key, display_name, quantity, unit, unit_price, line_total, match_score, in_stock)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	for i, l := range o.Lines {
		if _, err := tx.Exec(ctx, qLine,
			o.ID, i, l.ProductKey, l.DisplayName, l.Quantity, l.Unit,
			l.UnitPrice, l.LineTotal, l.MatchScore, l.InStock); err != nil {
			return fmt.Errorf("order store: insert line %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("order store: commit: %w: %v", ErrUnavailable, err)
	}
	return nil
}
