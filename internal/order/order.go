// Package order turns a confirmed dialogue into a persisted purchase order.
//
// Finalization is the only operation: it prices the resolved lines, applies
// the review rules, persists the order, and reserves stock for it. Orders
// that trip a review rule are persisted with NeedsReview set so a human
// checks them before the supplier sees anything.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ordovox/ordovox/pkg/types"
)

// Statuses an order moves through. Voice orders are created confirmed; the
// pending_review status gates supplier submission.
const (
	StatusConfirmed     = "confirmed"
	StatusPendingReview = "pending_review"
)

// ErrUnavailable is returned when the order backend cannot be reached.
var ErrUnavailable = errors.New("order store unavailable")

// ResolvedItem is one order line as resolved during the dialogue: a catalog
// product, a quantity, and the catalog match score that picked it. Lines the
// stock check flagged carry InStock false and are persisted for review
// rather than dropped.
type ResolvedItem struct {
	Product    types.Product
	Quantity   int
	Unit       string
	MatchScore float64
	InStock    bool
}

// Line is a priced order line.
type Line struct {
	ProductKey  string
	DisplayName string
	Quantity    int
	Unit        string
	UnitPrice   float64
	LineTotal   float64
	MatchScore  float64
	InStock     bool
}

// Order is a finalized purchase order. AvgConfidence is the call's average
// transcript confidence, carried from the dialogue for the review rules.
type Order struct {
	ID            string
	CallID        string
	Lines         []Line
	Total         float64
	AvgConfidence float64
	Status        string
	NeedsReview   bool
	ReviewReason  string
	CreatedAt     time.Time
}

// Store persists orders.
type Store interface {
	SaveOrder(ctx context.Context, o Order) error
}

// NewOrderID builds the externally visible order number from the creation
// time. The millisecond timestamp keeps IDs sortable and collision-free at
// call-center volumes.
func NewOrderID(at time.Time) string {
	return fmt.Sprintf("CMD-%d", at.UnixMilli())
}
