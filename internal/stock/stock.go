// Package stock tracks per-product inventory with reservation accounting.
//
// A unit is sellable when available minus reserved covers the requested
// quantity. Reads tolerate short staleness and go through a small TTL cache;
// reservations and releases always hit the database so two concurrent calls
// cannot both claim the last box.
package stock

import (
	"context"
	"errors"
)

var (
	// ErrInsufficientStock is returned by Reserve when available minus
	// reserved does not cover the requested quantity.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrUnknownProduct is returned for product keys absent from the
	// inventory table.
	ErrUnknownProduct = errors.New("unknown product")

	// ErrUnavailable is returned when the inventory backend cannot be
	// reached.
	ErrUnavailable = errors.New("stock service unavailable")
)

// Level is a point-in-time inventory snapshot for one product.
type Level struct {
	ProductKey string
	Available  int
	Reserved   int
}

// Sellable returns the quantity that can still be promised to a caller.
func (l Level) Sellable() int {
	return l.Available - l.Reserved
}

// Service is the inventory surface used during order taking and finalization.
type Service interface {
	// Level returns the current inventory snapshot for a product. May be
	// served from a short-lived cache.
	Level(ctx context.Context, productKey string) (Level, error)

	// InStock reports whether qty units can currently be promised. May be
	// served from a short-lived cache.
	InStock(ctx context.Context, productKey string, qty int) (bool, error)

	// Reserve atomically claims qty units. Never cached. Returns
	// ErrInsufficientStock when the sellable quantity is too low.
	Reserve(ctx context.Context, productKey string, qty int) error

	// Release returns qty previously reserved units. Never cached.
	Release(ctx context.Context, productKey string, qty int) error
}
