package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time interface check.
var _ Service = (*PostgresService)(nil)

// PostgresService is the database-backed inventory service. Reservation
// updates use a guarded UPDATE so the sellable check and the claim are one
// atomic statement.
type PostgresService struct {
	pool *pgxpool.Pool
}

// NewPostgresService connects to the inventory database at dsn and ensures
// the stock table exists.
func NewPostgresService(ctx context.Context, dsn string) (*PostgresService, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("stock service: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("stock service: ping: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("stock service: migrate: %w", err)
	}
	return &PostgresService{pool: pool}, nil
}

// NewPostgresServiceWithPool wraps an existing pool, for deployments that
// share one pool across the catalog, stock, and order stores.
func NewPostgresServiceWithPool(ctx context.Context, pool *pgxpool.Pool) (*PostgresService, error) {
	if err := migrate(ctx, pool); err != nil {
		return nil, fmt.Errorf("stock service: migrate: %w", err)
	}
	return &PostgresService{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresService) Close() {
	s.pool.Close()
}

const ddlStock = `
CREATE TABLE IF NOT EXISTS stock (
    product_key TEXT         PRIMARY KEY,
    available   INTEGER      NOT NULL DEFAULT 0 CHECK (available >= 0),
    reserved    INTEGER      NOT NULL DEFAULT 0 CHECK (reserved >= 0),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, ddlStock)
	return err
}

// Level implements [Service].
func (s *PostgresService) Level(ctx context.Context, productKey string) (Level, error) {
	const q = `SELECT available, reserved FROM stock WHERE product_key = $1`

	lvl := Level{ProductKey: productKey}
	err := s.pool.QueryRow(ctx, q, productKey).Scan(&lvl.Available, &lvl.Reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return Level{}, fmt.Errorf("stock: level %q: %w", productKey, ErrUnknownProduct)
	}
	if err != nil {
		return Level{}, fmt.Errorf("stock: level %q: %w: %v", productKey, ErrUnavailable, err)
	}
	return lvl, nil
}

// InStock implements [Service].
func (s *PostgresService) InStock(ctx context.Context, productKey string, qty int) (bool, error) {
	lvl, err := s.Level(ctx, productKey)
	if err != nil {
		return false, err
	}
	return lvl.Sellable() >= qty, nil
}

// Reserve implements [Service]. The sellable guard lives in the WHERE clause
// so concurrent reservations for the last units serialize in the database.
func (s *PostgresService) Reserve(ctx context.Context, productKey string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("stock: reserve %q: quantity %d must be positive", productKey, qty)
	}

	const q = `
		UPDATE stock
		SET    reserved = reserved + $2, updated_at = now()
		WHERE  product_key = $1
		  AND  available - reserved >= $2`

	tag, err := s.pool.Exec(ctx, q, productKey, qty)
	if err != nil {
		return fmt.Errorf("stock: reserve %q: %w: %v", productKey, ErrUnavailable, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// The guarded update touched nothing: either the product is unknown or
	// the sellable quantity is too low. One more read to tell them apart.
	if _, err := s.Level(ctx, productKey); err != nil {
		return err
	}
	return fmt.Errorf("stock: reserve %d x %q: %w", qty, productKey, ErrInsufficientStock)
}

// Release implements [Service]. Releasing more than is reserved clamps to
// zero rather than failing; a crashed finalization may release twice.
func (s *PostgresService) Release(ctx context.Context, productKey string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("stock: release %q: quantity %d must be positive", productKey, qty)
	}

	const q = `
		UPDATE stock
		SET    reserved = GREATEST(reserved - $2, 0), updated_at = now()
		WHERE  product_key = $1`

	tag, err := s.pool.Exec(ctx, q, productKey, qty)
	if err != nil {
		return fmt.Errorf("stock: release %q: %w: %v", productKey, ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("stock: release %q: %w", productKey, ErrUnknownProduct)
	}
	return nil
}

// SetLevel upserts the absolute available quantity for a product. Used by
// inventory imports and tests, not by the call path.
func (s *PostgresService) SetLevel(ctx context.Context, productKey string, available int) error {
	const q = `
		INSERT INTO stock (product_key, available)
		VALUES ($1, $2)
		ON CONFLICT (product_key) DO UPDATE SET
		    available  = EXCLUDED.available,
		    updated_at = now()`

	if _, err := s.pool.Exec(ctx, q, productKey, available); err != nil {
		return fmt.Errorf("stock: set level %q: %w: %v", productKey, ErrUnavailable, err)
	}
	return nil
}
