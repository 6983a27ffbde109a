// Package health serves the liveness and readiness probes for the call
// server.
//
// Liveness (/healthz) only proves the process answers HTTP. Readiness
// (/readyz) probes the dependencies a call actually needs, the database
// first among them, and reports 503 while any of them is down so the load
// balancer keeps new calls away from an instance that would greet a caller
// and then fail them.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// DefaultProbeTimeout bounds one dependency probe on /readyz.
const DefaultProbeTimeout = 5 * time.Second

// Checker probes one dependency of the call path.
type Checker struct {
	// Name labels the dependency in the readiness report ("database",
	// "stt", ...).
	Name string

	// Check returns nil while the dependency can serve calls. It must
	// respect ctx.
	Check func(ctx context.Context) error
}

// checkResult is one dependency's line in the readiness report.
type checkResult struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}

// report is the JSON body of both probes.
type report struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

// Handler answers the health probes. The checker set is fixed at
// construction; Handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
	timeout  time.Duration
	log      *slog.Logger
}

// Option is a functional option for Handler.
type Option func(*Handler)

// WithProbeTimeout overrides the per-dependency probe timeout.
func WithProbeTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithHandlerLogger sets the logger.
func WithHandlerLogger(log *slog.Logger) Option {
	return func(h *Handler) {
		h.log = log
	}
}

// New builds a Handler over the given dependency checkers.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{
		checkers: append([]Checker(nil), checkers...),
		timeout:  DefaultProbeTimeout,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Healthz is the liveness probe. Always 200: a process that can answer is
// alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz is the readiness probe. Dependencies are probed concurrently, each
// under its own timeout; one failure makes the whole report 503.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		checks  = make(map[string]checkResult, len(h.checkers))
		healthy = true
	)

	for _, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
			defer cancel()

			start := time.Now()
			err := c.Check(ctx)
			res := checkResult{
				Status:  "ok",
				Latency: time.Since(start).Round(time.Millisecond).String(),
			}
			if err != nil {
				res.Status = "fail"
				res.Error = err.Error()
				h.log.Warn("readiness probe failed", "check", c.Name, "error", err)
			}

			mu.Lock()
			checks[c.Name] = res
			healthy = healthy && err == nil
			mu.Unlock()
		}()
	}
	wg.Wait()

	rep := report{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !healthy {
		rep.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
