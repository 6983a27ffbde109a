// Package mock provides a test double for the order Store interface.
package mock

import (
	"context"
	"sync"

	"github.com/ordovox/ordovox/internal/order"
)

// SaveOrderCall records a single invocation of Store.SaveOrder.
type SaveOrderCall struct {
	Order order.Order
}

// Store is a mock implementation of order.Store.
type Store struct {
	mu sync.Mutex

	// SaveOrderErrs is consumed one element per call; when exhausted,
	// SaveOrder succeeds. Use a single nil to make the first call succeed.
	SaveOrderErrs []error

	// SaveOrderCalls records every call in order.
	SaveOrderCalls []SaveOrderCall
}

// SaveOrder records the call and returns the next scripted error.
func (s *Store) SaveOrder(_ context.Context, o order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SaveOrderCalls = append(s.SaveOrderCalls, SaveOrderCall{Order: o})
	if len(s.SaveOrderErrs) == 0 {
		return nil
	}
	err := s.SaveOrderErrs[0]
	s.SaveOrderErrs = s.SaveOrderErrs[1:]
	return err
}

// Last returns the most recently saved order, or false when none was saved.
func (s *Store) Last() (order.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.SaveOrderCalls) == 0 {
		return order.Order{}, false
	}
	return s.SaveOrderCalls[len(s.SaveOrderCalls)-1].Order, true
}

// Ensure Store implements order.Store at compile time.
var _ order.Store = (*Store)(nil)
