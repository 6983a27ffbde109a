// Package mock provides an in-memory test double for the callstore Store
// interface.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ordovox/ordovox/internal/callstore"
)

// Store is an in-memory implementation of callstore.Store.
type Store struct {
	mu      sync.Mutex
	records map[string]callstore.Record

	// StartedErr and EndedErr force the corresponding method to fail.
	StartedErr error
	EndedErr   error
}

// CallStarted implements [callstore.Store].
func (s *Store) CallStarted(_ context.Context, callID, from, to string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StartedErr != nil {
		return s.StartedErr
	}
	if s.records == nil {
		s.records = make(map[string]callstore.Record)
	}
	if _, exists := s.records[callID]; exists {
		return nil
	}
	s.records[callID] = callstore.Record{
		CallID:    callID,
		From:      from,
		To:        to,
		Status:    callstore.StatusActive,
		StartedAt: startedAt,
	}
	return nil
}

// CallEnded implements [callstore.Store].
func (s *Store) CallEnded(_ context.Context, callID, status, orderID string, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.EndedErr != nil {
		return s.EndedErr
	}
	r, ok := s.records[callID]
	if !ok {
		return fmt.Errorf("mock call store: no such call %q", callID)
	}
	r.Status = status
	r.OrderID = orderID
	r.EndedAt = endedAt
	r.Duration = endedAt.Sub(r.StartedAt)
	s.records[callID] = r
	return nil
}

// RecentCalls implements [callstore.Store].
func (s *Store) RecentCalls(_ context.Context, limit int) ([]callstore.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]callstore.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Record returns the stored record for callID.
func (s *Store) Record(callID string) (callstore.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[callID]
	return r, ok
}

// Ensure Store implements callstore.Store at compile time.
var _ callstore.Store = (*Store)(nil)
