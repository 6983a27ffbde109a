// Package mock provides an in-memory test double for the stock Service
// interface with real reservation accounting.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/ordovox/ordovox/internal/stock"
)

// ReserveCall records a single invocation of Service.Reserve.
type ReserveCall struct {
	ProductKey string
	Qty        int
}

// ReleaseCall records a single invocation of Service.Release.
type ReleaseCall struct {
	ProductKey string
	Qty        int
}

// Service is an in-memory implementation of stock.Service. Seed levels with
// SetLevel before use; unknown products behave as in the real service.
type Service struct {
	mu     sync.Mutex
	levels map[string]stock.Level

	// LevelErr, ReserveErr, and ReleaseErr force the corresponding method
	// to fail when non-nil.
	LevelErr   error
	ReserveErr error
	ReleaseErr error

	// ReserveCalls and ReleaseCalls record mutating calls in order.
	ReserveCalls []ReserveCall
	ReleaseCalls []ReleaseCall
}

// SetLevel seeds or replaces the available quantity for a product, clearing
// any reservation.
func (s *Service) SetLevel(productKey string, available int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.levels == nil {
		s.levels = make(map[string]stock.Level)
	}
	s.levels[productKey] = stock.Level{ProductKey: productKey, Available: available}
}

// Level implements [stock.Service].
func (s *Service) Level(_ context.Context, productKey string) (stock.Level, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LevelErr != nil {
		return stock.Level{}, s.LevelErr
	}
	lvl, ok := s.levels[productKey]
	if !ok {
		return stock.Level{}, fmt.Errorf("mock stock: %q: %w", productKey, stock.ErrUnknownProduct)
	}
	return lvl, nil
}

// InStock implements [stock.Service].
func (s *Service) InStock(ctx context.Context, productKey string, qty int) (bool, error) {
	lvl, err := s.Level(ctx, productKey)
	if err != nil {
		return false, err
	}
	return lvl.Sellable() >= qty, nil
}

// Reserve implements [stock.Service] with the same sellable guard as the
// real service.
func (s *Service) Reserve(_ context.Context, productKey string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReserveCalls = append(s.ReserveCalls, ReserveCall{ProductKey: productKey, Qty: qty})
	if s.ReserveErr != nil {
		return s.ReserveErr
	}
	lvl, ok := s.levels[productKey]
	if !ok {
		return fmt.Errorf("mock stock: %q: %w", productKey, stock.ErrUnknownProduct)
	}
	if lvl.Sellable() < qty {
		return fmt.Errorf("mock stock: %d x %q: %w", qty, productKey, stock.ErrInsufficientStock)
	}
	lvl.Reserved += qty
	s.levels[productKey] = lvl
	return nil
}

// Release implements [stock.Service], clamping at zero.
func (s *Service) Release(_ context.Context, productKey string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReleaseCalls = append(s.ReleaseCalls, ReleaseCall{ProductKey: productKey, Qty: qty})
	if s.ReleaseErr != nil {
		return s.ReleaseErr
	}
	lvl, ok := s.levels[productKey]
	if !ok {
		return fmt.Errorf("mock stock: %q: %w", productKey, stock.ErrUnknownProduct)
	}
	lvl.Reserved -= qty
	if lvl.Reserved < 0 {
		lvl.Reserved = 0
	}
	s.levels[productKey] = lvl
	return nil
}

// Ensure Service implements stock.Service at compile time.
var _ stock.Service = (*Service)(nil)
