// Package call admits, supervises, and tears down concurrent phone calls.
//
// The Registry enforces the concurrent-call ceiling and owns the cancellation
// handle for every live call; the Orchestrator runs one call end to end,
// turning media frames into transcripts, dialogue effects, and synthesized
// replies.
package call

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultMaxCalls is the default concurrent-call ceiling.
const DefaultMaxCalls = 10

// ErrAtCapacity is returned by Admit when the ceiling is reached.
var ErrAtCapacity = errors.New("call registry at capacity")

// Cancellation causes passed to the owner's cancel handle. The orchestrator
// reads them back with context.Cause to pick the terminal call status.
var (
	// ErrCancelled marks an operator-requested cancellation.
	ErrCancelled = errors.New("call cancelled by operator")

	// ErrReaped marks a stale call evicted by ReapStale.
	ErrReaped = errors.New("call reaped as stale")
)

// Entry is a snapshot of one admitted call.
type Entry struct {
	CallID    string
	Phone     string
	StartedAt time.Time
}

// registryEntry is the internal record, holding the owner's cancel handle.
type registryEntry struct {
	phone     string
	startedAt time.Time
	cancel    context.CancelCauseFunc
}

// Registry tracks active calls under a single mutex.
type Registry struct {
	mu      sync.Mutex
	max     int
	entries map[string]*registryEntry
	log     *slog.Logger
	now     func() time.Time
}

// RegistryOption is a functional option for Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger.
func WithRegistryLogger(log *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.log = log
	}
}

// WithRegistryClock overrides the time source, for tests.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates a Registry with the given concurrent-call ceiling.
// Non-positive max falls back to DefaultMaxCalls.
func NewRegistry(max int, opts ...RegistryOption) *Registry {
	if max <= 0 {
		max = DefaultMaxCalls
	}
	r := &Registry{
		max:     max,
		entries: make(map[string]*registryEntry),
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Admit registers a call and stores its cancellation handle. Admitting an
// already-registered call ID is a no-op. Returns ErrAtCapacity when the
// ceiling is reached.
func (r *Registry) Admit(callID, phone string, cancel context.CancelCauseFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[callID]; exists {
		return nil
	}
	if len(r.entries) >= r.max {
		r.log.Warn("call refused at capacity",
			"call_id", callID, "active", len(r.entries), "max", r.max)
		return ErrAtCapacity
	}
	r.entries[callID] = &registryEntry{
		phone:     phone,
		startedAt: r.now(),
		cancel:    cancel,
	}
	r.log.Info("call admitted", "call_id", callID, "active", len(r.entries))
	return nil
}

// Release removes a call. Releasing an unknown ID is a no-op, which makes
// teardown paths idempotent.
func (r *Registry) Release(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[callID]; !exists {
		return
	}
	delete(r.entries, callID)
	r.log.Info("call released", "call_id", callID, "active", len(r.entries))
}

// Cancel signals the owner of a call to terminate. It reports whether the
// call was found. The entry itself is removed by the owner's teardown via
// Release.
func (r *Registry) Cancel(callID string) bool {
	r.mu.Lock()
	e, ok := r.entries[callID]
	r.mu.Unlock()

	if !ok {
		return false
	}
	e.cancel(ErrCancelled)
	return true
}

// ReapStale cancels every call older than the threshold and returns how many
// were signalled. Entries stay registered until their owners acknowledge the
// cancellation and Release themselves.
func (r *Registry) ReapStale(olderThan time.Duration) int {
	r.mu.Lock()
	cutoff := r.now().Add(-olderThan)
	var stale []struct {
		id string
		e  *registryEntry
	}
	for id, e := range r.entries {
		if e.startedAt.Before(cutoff) {
			stale = append(stale, struct {
				id string
				e  *registryEntry
			}{id, e})
		}
	}
	r.mu.Unlock()

	for _, s := range stale {
		r.log.Warn("reaping stale call", "call_id", s.id, "started_at", s.e.startedAt)
		s.e.cancel(ErrReaped)
	}
	return len(stale)
}

// Snapshot returns the current entries ordered by start time.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.entries))
	for id, e := range r.entries {
		out = append(out, Entry{CallID: id, Phone: e.phone, StartedAt: e.startedAt})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Len returns the number of active calls.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
