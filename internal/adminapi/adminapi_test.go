package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ordovox/ordovox/internal/call"
	"github.com/ordovox/ordovox/internal/callstore"
	callmock "github.com/ordovox/ordovox/internal/callstore/mock"
)

func newTestServer(t *testing.T) (*Server, *call.Registry, *callmock.Store) {
	t.Helper()
	registry := call.NewRegistry(10)
	store := &callmock.Store{}
	return New(registry, store), registry, store
}

func doRequest(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	s.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func TestListCalls(t *testing.T) {
	s, registry, _ := newTestServer(t)
	registry.Admit("call-1", "+33611111111", func(error) {})
	registry.Admit("call-2", "+33622222222", func(error) {})

	rec := doRequest(t, s, http.MethodGet, "/admin/calls")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Active []activeCall `json:"active"`
		Count  int          `json:"count"`
	}
	decodeBody(t, rec, &body)
	if body.Count != 2 || len(body.Active) != 2 {
		t.Fatalf("count = %d, active = %d; want 2", body.Count, len(body.Active))
	}
	if body.Active[0].CallID == "" || body.Active[0].Phone == "" {
		t.Fatalf("incomplete entry: %+v", body.Active[0])
	}
}

func TestListCallsEmpty(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/admin/calls")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &body)
	if body.Count != 0 {
		t.Fatalf("count = %d, want 0", body.Count)
	}
}

func TestCancelCall(t *testing.T) {
	s, registry, _ := newTestServer(t)
	cancelled := false
	registry.Admit("call-1", "+33611111111", func(error) { cancelled = true })

	rec := doRequest(t, s, http.MethodDelete, "/admin/calls/call-1")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if !cancelled {
		t.Fatal("cancel func was not invoked")
	}
	// The entry stays until the owning orchestrator releases it.
	if registry.Len() != 1 {
		t.Fatalf("registry len = %d, want 1", registry.Len())
	}
}

func TestCancelUnknownCallReturns404(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodDelete, "/admin/calls/no-such-call")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestReap(t *testing.T) {
	now := time.Now()
	registry := call.NewRegistry(10, call.WithRegistryClock(func() time.Time { return now }))
	s := New(registry, &callmock.Store{})

	cancelled := 0
	registry.Admit("old", "+336", func(error) { cancelled++ })
	now = now.Add(45 * time.Minute)
	registry.Admit("fresh", "+336", func(error) { cancelled++ })

	rec := doRequest(t, s, http.MethodPost, "/admin/reap?older_than=30m")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Reaped int `json:"reaped"`
	}
	decodeBody(t, rec, &body)
	if body.Reaped != 1 || cancelled != 1 {
		t.Fatalf("reaped = %d, cancelled = %d; want 1 and 1", body.Reaped, cancelled)
	}
}

func TestReapInvalidDuration(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/admin/reap?older_than=yesterday")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRecentCalls(t *testing.T) {
	s, _, store := newTestServer(t)

	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()
	store.CallStarted(ctx, "call-1", "+33611111111", "+33100000000", base)
	store.CallEnded(ctx, "call-1", callstore.StatusCompleted, "CMD-1", base.Add(90*time.Second))
	store.CallStarted(ctx, "call-2", "+33622222222", "+33100000000", base.Add(time.Hour))
	store.CallEnded(ctx, "call-2", callstore.StatusDropped, "", base.Add(time.Hour+30*time.Second))

	rec := doRequest(t, s, http.MethodGet, "/admin/calls/recent?limit=10")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Calls []recentCall `json:"calls"`
		Count int          `json:"count"`
	}
	decodeBody(t, rec, &body)
	if body.Count != 2 {
		t.Fatalf("count = %d, want 2", body.Count)
	}
	// Newest first.
	if body.Calls[0].CallID != "call-2" {
		t.Fatalf("first record = %s, want call-2", body.Calls[0].CallID)
	}
	if body.Calls[1].OrderID != "CMD-1" || body.Calls[1].Duration != "1m30s" {
		t.Fatalf("completed record = %+v", body.Calls[1])
	}
}

func TestRecentCallsInvalidLimit(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/admin/calls/recent?limit=-3")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandlerMountsMetricsEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
