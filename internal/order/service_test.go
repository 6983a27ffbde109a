package order_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ordovox/ordovox/internal/order"
	ordermock "github.com/ordovox/ordovox/internal/order/mock"
	"github.com/ordovox/ordovox/internal/resilience"
	stockmock "github.com/ordovox/ordovox/internal/stock/mock"
	"github.com/ordovox/ordovox/pkg/types"
)

var fixedNow = time.UnixMilli(1724580000000)

const confidentCall = 0.93

func newService(store *ordermock.Store, st *stockmock.Service) *order.Service {
	return order.NewService(store, st,
		order.WithClock(func() time.Time { return fixedNow }),
		order.WithRetryConfig(resilience.RetryConfig{
			MaxAttempts:  2,
			InitialDelay: time.Millisecond,
		}),
	)
}

func resolvedDoliprane(qty int) order.ResolvedItem {
	return order.ResolvedItem{
		Product: types.Product{
			Key:         "3400930000001",
			DisplayName: "Doliprane 1000mg",
			UnitPrice:   2.50,
		},
		Quantity:   qty,
		Unit:       "boites",
		MatchScore: 0.95,
		InStock:    true,
	}
}

func TestFinalize_PersistsAndReserves(t *testing.T) {
	store := &ordermock.Store{}
	st := &stockmock.Service{}
	st.SetLevel("3400930000001", 10)
	svc := newService(store, st)

	o, err := svc.Finalize(context.Background(), "call-1", []order.ResolvedItem{resolvedDoliprane(3)}, confidentCall)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if o.ID != "CMD-1724580000000" {
		t.Errorf("order ID = %q", o.ID)
	}
	if o.Total != 7.50 {
		t.Errorf("total = %v, want 7.50", o.Total)
	}
	if o.AvgConfidence != confidentCall {
		t.Errorf("avg confidence = %v, want %v", o.AvgConfidence, confidentCall)
	}
	if o.Status != order.StatusConfirmed || o.NeedsReview {
		t.Errorf("status = %q, needs_review = %v; want confirmed, false", o.Status, o.NeedsReview)
	}
	if len(store.SaveOrderCalls) != 1 {
		t.Errorf("SaveOrder called %d times, want 1", len(store.SaveOrderCalls))
	}
	if len(st.ReserveCalls) != 1 || st.ReserveCalls[0].Qty != 3 {
		t.Errorf("reserve calls = %+v, want one call for 3 units", st.ReserveCalls)
	}
}

func TestFinalize_PersistBeforeReserve(t *testing.T) {
	store := &ordermock.Store{SaveOrderErrs: []error{errors.New("db down"), errors.New("db down")}}
	st := &stockmock.Service{}
	st.SetLevel("3400930000001", 10)
	svc := newService(store, st)

	_, err := svc.Finalize(context.Background(), "call-1", []order.ResolvedItem{resolvedDoliprane(3)}, confidentCall)
	if err == nil {
		t.Fatal("expected error when persistence fails")
	}
	if len(st.ReserveCalls) != 0 {
		t.Errorf("stock reserved despite failed persistence: %+v", st.ReserveCalls)
	}
}

func TestFinalize_RetriesTransientSave(t *testing.T) {
	store := &ordermock.Store{SaveOrderErrs: []error{errors.New("transient")}}
	st := &stockmock.Service{}
	st.SetLevel("3400930000001", 10)
	svc := newService(store, st)

	if _, err := svc.Finalize(context.Background(), "call-1", []order.ResolvedItem{resolvedDoliprane(1)}, confidentCall); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(store.SaveOrderCalls) != 2 {
		t.Errorf("SaveOrder called %d times, want 2 (one retry)", len(store.SaveOrderCalls))
	}
}

func TestFinalize_ReserveFailureDemotesLine(t *testing.T) {
	store := &ordermock.Store{}
	st := &stockmock.Service{}
	st.SetLevel("3400930000001", 1) // less than requested
	svc := newService(store, st)

	o, err := svc.Finalize(context.Background(), "call-1", []order.ResolvedItem{resolvedDoliprane(5)}, confidentCall)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !o.NeedsReview {
		t.Fatal("expected review after failed reservation")
	}
	if o.Status != order.StatusPendingReview {
		t.Errorf("status = %q, want pending_review", o.Status)
	}
	if o.Lines[0].InStock {
		t.Error("line should be demoted to out-of-stock")
	}
	// Initial save plus the post-demotion update.
	if len(store.SaveOrderCalls) != 2 {
		t.Errorf("SaveOrder called %d times, want 2", len(store.SaveOrderCalls))
	}
}

func TestFinalize_OutOfStockItemSkipsReservation(t *testing.T) {
	store := &ordermock.Store{}
	st := &stockmock.Service{}
	svc := newService(store, st)

	item := resolvedDoliprane(2)
	item.InStock = false
	o, err := svc.Finalize(context.Background(), "call-1", []order.ResolvedItem{item}, confidentCall)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(st.ReserveCalls) != 0 {
		t.Errorf("reserve called for an out-of-stock line: %+v", st.ReserveCalls)
	}
	if !o.NeedsReview {
		t.Error("out-of-stock line should park the order for review")
	}
}

func TestFinalize_AllLinesOutOfStock(t *testing.T) {
	store := &ordermock.Store{}
	st := &stockmock.Service{}
	svc := newService(store, st)

	first := resolvedDoliprane(2)
	first.InStock = false
	second := order.ResolvedItem{
		Product: types.Product{
			Key:         "3400930000002",
			DisplayName: "Smecta",
			UnitPrice:   4.10,
		},
		Quantity:   1,
		Unit:       "boites",
		MatchScore: 0.91,
		InStock:    false,
	}

	o, err := svc.Finalize(context.Background(), "call-1", []order.ResolvedItem{first, second}, confidentCall)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(o.Lines) != 2 {
		t.Fatalf("order carries %d lines, want 2", len(o.Lines))
	}
	if !o.NeedsReview || o.Status != order.StatusPendingReview {
		t.Errorf("status = %q, needs_review = %v; want pending_review, true", o.Status, o.NeedsReview)
	}
	if len(store.SaveOrderCalls) != 1 {
		t.Errorf("SaveOrder called %d times, want 1", len(store.SaveOrderCalls))
	}
	if len(st.ReserveCalls) != 0 {
		t.Errorf("reserve called for out-of-stock lines: %+v", st.ReserveCalls)
	}
}

func TestFinalize_EmptyOrder(t *testing.T) {
	svc := newService(&ordermock.Store{}, &stockmock.Service{})
	if _, err := svc.Finalize(context.Background(), "call-1", nil, confidentCall); !errors.Is(err, order.ErrEmptyOrder) {
		t.Fatalf("err = %v, want ErrEmptyOrder", err)
	}
}

func TestFinalize_HighTotalNeedsReview(t *testing.T) {
	store := &ordermock.Store{}
	st := &stockmock.Service{}
	st.SetLevel("3400930000001", 10000)
	svc := newService(store, st)

	item := resolvedDoliprane(5000) // 5000 * 2.50 = 12500
	o, err := svc.Finalize(context.Background(), "call-1", []order.ResolvedItem{item}, confidentCall)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !o.NeedsReview || o.Status != order.StatusPendingReview {
		t.Errorf("order with total %v should be pending review", o.Total)
	}
}

func TestFinalize_LowTranscriptConfidenceNeedsReview(t *testing.T) {
	store := &ordermock.Store{}
	st := &stockmock.Service{}
	st.SetLevel("3400930000001", 10)
	svc := newService(store, st)

	o, err := svc.Finalize(context.Background(), "call-1", []order.ResolvedItem{resolvedDoliprane(1)}, 0.60)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !o.NeedsReview || o.Status != order.StatusPendingReview {
		t.Errorf("order heard at 0.60 should be pending review, got status %q", o.Status)
	}
}

func TestFinalize_CustomThresholdsApply(t *testing.T) {
	store := &ordermock.Store{}
	st := &stockmock.Service{}
	st.SetLevel("3400930000001", 10)
	svc := order.NewService(store, st,
		order.WithClock(func() time.Time { return fixedNow }),
		order.WithReviewThresholds(5, 0.99),
	)

	o, err := svc.Finalize(context.Background(), "call-1", []order.ResolvedItem{resolvedDoliprane(3)}, confidentCall)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	// Total 7.50 over the 5.00 limit and 0.93 under the 0.99 floor.
	if !o.NeedsReview {
		t.Fatal("tightened thresholds should park this order for review")
	}
}
