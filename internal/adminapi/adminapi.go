// Package adminapi serves the operator HTTP surface: active-call listing,
// forced call termination, stale-call reaping, and recent call history.
//
// The API is mounted on its own listener, separate from the media websocket,
// so operators can act on the service even when the call path is saturated.
// All responses are JSON.
package adminapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ordovox/ordovox/internal/call"
	"github.com/ordovox/ordovox/internal/callstore"
	"github.com/ordovox/ordovox/internal/health"
	"github.com/ordovox/ordovox/internal/observe"
)

// defaultReapAge is the stale threshold for POST /admin/reap when the request
// does not name one. It matches the session timeout.
const defaultReapAge = 30 * time.Minute

// defaultRecentLimit caps GET /admin/calls/recent when no limit is given.
const defaultRecentLimit = 50

// Server exposes the admin endpoints over a given registry and call store.
type Server struct {
	registry *call.Registry
	calls    callstore.Store
	health   *health.Handler
	metrics  *observe.Metrics
	log      *slog.Logger
}

// Option is a functional option for Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// WithHealth mounts the given health handler on the admin listener.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) {
		s.health = h
	}
}

// WithMetrics sets the metrics instance used by the HTTP middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates a Server over the registry and call store.
func New(registry *call.Registry, calls callstore.Store, opts ...Option) *Server {
	s := &Server{
		registry: registry,
		calls:    calls,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the full admin handler: routes, health, /metrics, and the
// observability middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	if s.health != nil {
		s.health.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())

	m := s.metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return observe.Middleware(m)(mux)
}

// Register adds the admin routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin/calls", s.listCalls)
	mux.HandleFunc("DELETE /admin/calls/{id}", s.cancelCall)
	mux.HandleFunc("POST /admin/reap", s.reap)
	mux.HandleFunc("GET /admin/calls/recent", s.recentCalls)
}

// activeCall is the JSON shape of one live call.
type activeCall struct {
	CallID    string    `json:"call_id"`
	Phone     string    `json:"phone"`
	StartedAt time.Time `json:"started_at"`
	Age       string    `json:"age"`
}

// listCalls returns the live calls, oldest first.
func (s *Server) listCalls(w http.ResponseWriter, _ *http.Request) {
	snap := s.registry.Snapshot()
	now := time.Now()

	calls := make([]activeCall, 0, len(snap))
	for _, e := range snap {
		calls = append(calls, activeCall{
			CallID:    e.CallID,
			Phone:     e.Phone,
			StartedAt: e.StartedAt,
			Age:       now.Sub(e.StartedAt).Round(time.Second).String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active": calls,
		"count":  len(calls),
	})
}

// cancelCall signals the owning orchestrator to terminate the call. The call
// leaves the registry when its owner finishes teardown, so a 202 here means
// "signalled", not "gone".
func (s *Server) cancelCall(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.registry.Cancel(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no active call with id " + id,
		})
		return
	}
	s.log.Info("call cancellation requested", "call_id", id)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"call_id": id,
		"status":  "cancelling",
	})
}

// reap cancels every call older than the older_than form value (Go duration
// syntax, default 30m) and reports how many were signalled.
func (s *Server) reap(w http.ResponseWriter, r *http.Request) {
	age := defaultReapAge
	if raw := r.FormValue("older_than"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid older_than duration: " + raw,
			})
			return
		}
		age = parsed
	}

	n := s.registry.ReapStale(age)
	s.log.Info("stale call reap requested", "older_than", age, "reaped", n)
	writeJSON(w, http.StatusOK, map[string]any{
		"reaped":     n,
		"older_than": age.String(),
	})
}

// recentCall is the JSON shape of one finished call row.
type recentCall struct {
	CallID    string    `json:"call_id"`
	From      string    `json:"from"`
	Status    string    `json:"status"`
	OrderID   string    `json:"order_id,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
}

// recentCalls returns the most recent call records, newest first.
func (s *Server) recentCalls(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.FormValue("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid limit: " + raw,
			})
			return
		}
		limit = parsed
	}

	records, err := s.calls.RecentCalls(r.Context(), limit)
	if err != nil {
		s.log.Error("listing recent calls failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "call store unavailable",
		})
		return
	}

	out := make([]recentCall, 0, len(records))
	for _, rec := range records {
		out = append(out, recentCall{
			CallID:    rec.CallID,
			From:      rec.From,
			Status:    rec.Status,
			OrderID:   rec.OrderID,
			StartedAt: rec.StartedAt,
			Duration:  rec.Duration.Round(time.Second).String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"calls": out,
		"count": len(out),
	})
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}
