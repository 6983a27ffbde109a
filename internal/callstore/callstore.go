// Package callstore records call lifecycle rows for reporting and audit.
//
// A row is written when a call is admitted and updated once when it reaches a
// terminal status. The store is off the audio path; writes are retried but a
// failure never tears down a live call.
package callstore

import (
	"context"
	"errors"
	"time"
)

// Terminal statuses a call row can end in.
const (
	StatusActive      = "active"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusTimeout     = "timeout"
	StatusDropped     = "dropped"
	StatusRejected    = "rejected"
	StatusTransferred = "transferred"
)

// ErrUnavailable is returned when the call database cannot be reached.
var ErrUnavailable = errors.New("call store unavailable")

// Record is one call's lifecycle row.
type Record struct {
	CallID    string
	From      string
	To        string
	Status    string
	OrderID   string
	StartedAt time.Time
	EndedAt   time.Time
	Duration  time.Duration
}

// Store persists call lifecycle records.
type Store interface {
	// CallStarted inserts an active row for a newly admitted call.
	CallStarted(ctx context.Context, callID, from, to string, startedAt time.Time) error

	// CallEnded marks the row terminal, recording the final status, the
	// order produced (empty when none), and the wall-clock duration.
	CallEnded(ctx context.Context, callID, status, orderID string, endedAt time.Time) error

	// RecentCalls returns the most recent records, newest first.
	RecentCalls(ctx context.Context, limit int) ([]Record, error)
}
