// AngelaMos | 2026
// handler.go

package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
)

const checkTimeout = 5 * time.Second

const (
	statusOK           = "ok"
	statusDegraded     = "degraded"
	statusNotReady     = "not_ready"
	statusShuttingDown = "shutting_down"
)

type Checker interface {
	Ping(ctx context.Context) error
}

// CheckerFunc adapts a plain function to Checker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// Dependency is a named readiness check.
type Dependency struct {
	Name    string
	Checker Checker
}

// Handler serves the probes. Liveness only fails while shutting down;
// readiness also pings every dependency.
type Handler struct {
	deps     []Dependency
	ready    atomic.Bool
	shutdown atomic.Bool
}

func NewHandler(deps ...Dependency) *Handler {
	h := &Handler{deps: deps}
	h.ready.Store(true)
	return h
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.Liveness)
	r.Get("/livez", h.Liveness)
	r.Get("/readyz", h.Readiness)
}

func (h *Handler) SetReady(ready bool)       { h.ready.Store(ready) }
func (h *Handler) SetShutdown(shutdown bool) { h.shutdown.Store(shutdown) }

func (h *Handler) Liveness(w http.ResponseWriter, _ *http.Request) {
	if h.shutdown.Load() {
		writeJSON(w, http.StatusServiceUnavailable, StatusResponse{Status: statusShuttingDown})
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: statusOK})
}

func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	switch {
	case h.shutdown.Load():
		writeJSON(w, http.StatusServiceUnavailable, StatusResponse{Status: statusShuttingDown})
		return
	case !h.ready.Load():
		writeJSON(w, http.StatusServiceUnavailable, StatusResponse{Status: statusNotReady})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	resp := ReadinessResponse{Status: statusOK, Checks: Probe(ctx, h.deps...)}
	code := http.StatusOK
	for _, c := range resp.Checks {
		if !c.Healthy {
			resp.Status = statusDegraded
			code = http.StatusServiceUnavailable
			break
		}
	}

	writeJSON(w, code, resp)
}

// Probe pings every dependency concurrently. Results keep the order of
// deps.
func Probe(ctx context.Context, deps ...Dependency) []HealthCheck {
	checks := make([]HealthCheck, len(deps))

	var wg sync.WaitGroup
	for i, dep := range deps {
		wg.Go(func() { checks[i] = probe(ctx, dep) })
	}
	wg.Wait()

	return checks
}

func probe(ctx context.Context, dep Dependency) HealthCheck {
	if dep.Checker == nil {
		return HealthCheck{Name: dep.Name, Message: dep.Name + " checker not configured"}
	}

	start := time.Now()
	err := dep.Checker.Ping(ctx)

	check := HealthCheck{
		Name:    dep.Name,
		Healthy: err == nil,
		Latency: time.Since(start).String(),
	}
	if err != nil {
		check.Message = "ping failed"
	}
	return check
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	//nolint:errcheck // probe clients ignore partial bodies
	_ = json.NewEncoder(w).Encode(body)
}

type StatusResponse struct {
	Status string `json:"status"`
}

type ReadinessResponse struct {
	Status string        `json:"status"`
	Checks []HealthCheck `json:"checks"`
}

type HealthCheck struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}
