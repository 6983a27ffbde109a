package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ordovox/ordovox/internal/resilience"
	"github.com/ordovox/ordovox/internal/stock"
)

// ErrEmptyOrder is returned by Finalize when no lines were resolved.
var ErrEmptyOrder = errors.New("order has no lines")

// Service finalizes orders against a store and the inventory service.
type Service struct {
	store      Store
	stock      stock.Service
	log        *slog.Logger
	retry      resilience.RetryConfig
	thresholds reviewThresholds
	now        func() time.Time
}

// ServiceOption is a functional option for Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the logger.
func WithServiceLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.log = log
	}
}

// WithRetryConfig tunes the retry policy for store writes.
func WithRetryConfig(cfg resilience.RetryConfig) ServiceOption {
	return func(s *Service) {
		s.retry = cfg
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// WithReviewThresholds overrides the review rule parameters. Non-positive
// values keep the defaults.
func WithReviewThresholds(total, confidenceFloor float64) ServiceOption {
	return func(s *Service) {
		if total > 0 {
			s.thresholds.total = total
		}
		if confidenceFloor > 0 {
			s.thresholds.confidenceFloor = confidenceFloor
		}
	}
}

// NewService builds a finalization service.
func NewService(store Store, stockSvc stock.Service, opts ...ServiceOption) *Service {
	s := &Service{
		store: store,
		stock: stockSvc,
		log:   slog.Default(),
		thresholds: reviewThresholds{
			total:           DefaultReviewTotalThreshold,
			confidenceFloor: DefaultReviewConfidenceFloor,
		},
		now: time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Finalize prices the resolved items, applies the review rules, persists the
// order, and reserves stock line by line. Out-of-stock lines are kept and
// park the order for review; only sellable lines are reserved. Persisting
// happens before reserving: an order on disk with a failed reservation is
// recoverable, a reservation without an order is leaked inventory. A line
// whose reservation fails is demoted to out-of-stock; stock claimed for
// earlier lines of the same order stays claimed.
func (s *Service) Finalize(ctx context.Context, callID string, items []ResolvedItem, avgConfidence float64) (Order, error) {
	if len(items) == 0 {
		return Order{}, ErrEmptyOrder
	}

	now := s.now()
	o := Order{
		ID:            NewOrderID(now),
		CallID:        callID,
		AvgConfidence: avgConfidence,
		CreatedAt:     now,
		Status:        StatusConfirmed,
	}
	for _, it := range items {
		line := Line{
			ProductKey:  it.Product.Key,
			DisplayName: it.Product.DisplayName,
			Quantity:    it.Quantity,
			Unit:        it.Unit,
			UnitPrice:   it.Product.UnitPrice,
			LineTotal:   it.Product.UnitPrice * float64(it.Quantity),
			MatchScore:  it.MatchScore,
			InStock:     it.InStock,
		}
		o.Total += line.LineTotal
		o.Lines = append(o.Lines, line)
	}

	o.NeedsReview, o.ReviewReason = evaluateReview(o, s.thresholds)
	if o.NeedsReview {
		o.Status = StatusPendingReview
	}

	if err := s.save(ctx, o); err != nil {
		return Order{}, fmt.Errorf("order: persist %s: %w", o.ID, err)
	}

	demoted := false
	for i := range o.Lines {
		l := &o.Lines[i]
		if !l.InStock {
			continue
		}
		if err := s.stock.Reserve(ctx, l.ProductKey, l.Quantity); err != nil {
			s.log.Warn("stock reservation failed, demoting line",
				"order_id", o.ID,
				"product_key", l.ProductKey,
				"quantity", l.Quantity,
				"error", err)
			l.InStock = false
			demoted = true
		}
	}

	if demoted {
		o.NeedsReview, o.ReviewReason = evaluateReview(o, s.thresholds)
		o.Status = StatusPendingReview
		if err := s.save(ctx, o); err != nil {
			// The confirmed order is already on disk; log and return it
			// rather than failing the call at the last step.
			s.log.Error("updating order after demotion failed",
				"order_id", o.ID, "error", err)
		}
	}

	s.log.Info("order finalized",
		"order_id", o.ID,
		"call_id", callID,
		"lines", len(o.Lines),
		"total", o.Total,
		"needs_review", o.NeedsReview)
	return o, nil
}

// save writes the order with bounded retries for transient store failures.
func (s *Service) save(ctx context.Context, o Order) error {
	return resilience.Retry(ctx, s.retry, func(ctx context.Context) error {
		return s.store.SaveOrder(ctx, o)
	})
}
