package stock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ordovox/ordovox/internal/stock"
	stockmock "github.com/ordovox/ordovox/internal/stock/mock"
)

func TestCachedService_ServesCachedLevel(t *testing.T) {
	inner := &stockmock.Service{}
	inner.SetLevel("3400930000001", 10)
	svc := stock.NewCachedService(inner, time.Minute)

	ctx := context.Background()
	lvl, err := svc.Level(ctx, "3400930000001")
	if err != nil {
		t.Fatalf("Level: %v", err)
	}
	if lvl.Available != 10 {
		t.Fatalf("Available = %d, want 10", lvl.Available)
	}

	// Change the backing level: the cached snapshot should still be served.
	inner.SetLevel("3400930000001", 3)
	lvl, err = svc.Level(ctx, "3400930000001")
	if err != nil {
		t.Fatalf("Level: %v", err)
	}
	if lvl.Available != 10 {
		t.Fatalf("Available = %d, want cached 10", lvl.Available)
	}
}

func TestCachedService_ReserveBypassesAndEvicts(t *testing.T) {
	inner := &stockmock.Service{}
	inner.SetLevel("3400930000001", 10)
	svc := stock.NewCachedService(inner, time.Minute)

	ctx := context.Background()
	if _, err := svc.Level(ctx, "3400930000001"); err != nil {
		t.Fatalf("Level: %v", err)
	}

	if err := svc.Reserve(ctx, "3400930000001", 4); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if len(inner.ReserveCalls) != 1 {
		t.Fatalf("inner Reserve called %d times, want 1", len(inner.ReserveCalls))
	}

	// The next read must reflect the reservation, not the cached snapshot.
	lvl, err := svc.Level(ctx, "3400930000001")
	if err != nil {
		t.Fatalf("Level: %v", err)
	}
	if lvl.Sellable() != 6 {
		t.Fatalf("Sellable = %d, want 6 after reservation", lvl.Sellable())
	}
}

func TestCachedService_ReleaseEvicts(t *testing.T) {
	inner := &stockmock.Service{}
	inner.SetLevel("3400930000001", 10)
	svc := stock.NewCachedService(inner, time.Minute)

	ctx := context.Background()
	if err := svc.Reserve(ctx, "3400930000001", 4); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := svc.Level(ctx, "3400930000001"); err != nil {
		t.Fatalf("Level: %v", err)
	}
	if err := svc.Release(ctx, "3400930000001", 4); err != nil {
		t.Fatalf("Release: %v", err)
	}

	lvl, err := svc.Level(ctx, "3400930000001")
	if err != nil {
		t.Fatalf("Level: %v", err)
	}
	if lvl.Sellable() != 10 {
		t.Fatalf("Sellable = %d, want 10 after release", lvl.Sellable())
	}
}

func TestCachedService_InsufficientStock(t *testing.T) {
	inner := &stockmock.Service{}
	inner.SetLevel("3400930000001", 2)
	svc := stock.NewCachedService(inner, time.Minute)

	err := svc.Reserve(context.Background(), "3400930000001", 5)
	if !errors.Is(err, stock.ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}
}

func TestCachedService_UnknownProductNotCached(t *testing.T) {
	inner := &stockmock.Service{}
	svc := stock.NewCachedService(inner, time.Minute)

	ctx := context.Background()
	if _, err := svc.Level(ctx, "missing"); !errors.Is(err, stock.ErrUnknownProduct) {
		t.Fatalf("err = %v, want ErrUnknownProduct", err)
	}

	// Once the product appears, the error must not have been cached.
	inner.SetLevel("missing", 1)
	lvl, err := svc.Level(ctx, "missing")
	if err != nil {
		t.Fatalf("Level after seed: %v", err)
	}
	if lvl.Available != 1 {
		t.Fatalf("Available = %d, want 1", lvl.Available)
	}
}

func TestCachedService_InStock(t *testing.T) {
	inner := &stockmock.Service{}
	inner.SetLevel("3400930000001", 3)
	svc := stock.NewCachedService(inner, time.Minute)

	ctx := context.Background()
	ok, err := svc.InStock(ctx, "3400930000001", 3)
	if err != nil || !ok {
		t.Fatalf("InStock(3) = %v, %v; want true, nil", ok, err)
	}
	ok, err = svc.InStock(ctx, "3400930000001", 4)
	if err != nil || ok {
		t.Fatalf("InStock(4) = %v, %v; want false, nil", ok, err)
	}
}
