// Package health serves the liveness and readiness probes of the caption
// server.
//
//   - GET /healthz answers 200 while the process can serve HTTP.
//   - GET /readyz answers 200 when every [Checker] passes and the server is
//     not draining, 503 otherwise.
//
// Both bodies are JSON: {"status":"ok"|"fail"|"draining","checks":{...}}.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 3 * time.Second

const (
	statusOK       = "ok"
	statusFail     = "fail"
	statusDraining = "draining"
)

// Checker is one named readiness probe. Check returns nil when healthy and
// must honour ctx.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. Checkers may be added while serving.
type Handler struct {
	mu       sync.RWMutex
	checkers []Checker
	draining atomic.Bool
}

// New creates a Handler evaluating checkers on every /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Add registers another checker.
func (h *Handler) Add(c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, c)
}

// SetDraining marks the server as shutting down. /readyz fails from then on
// so load balancers stop routing new subscribers here.
func (h *Handler) SetDraining(v bool) {
	h.draining.Store(v)
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: statusOK})
}

// Readyz runs all checkers concurrently, each bounded by checkTimeout.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.draining.Load() {
		writeJSON(w, http.StatusServiceUnavailable, result{Status: statusDraining})
		return
	}

	h.mu.RLock()
	checkers := append([]Checker(nil), h.checkers...)
	h.mu.RUnlock()

	outcomes := make([]error, len(checkers))
	var g errgroup.Group
	for idx, c := range checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			outcomes[idx] = c.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: statusOK, Checks: make(map[string]string, len(checkers))}
	code := http.StatusOK
	for idx, c := range checkers {
		if err := outcomes[idx]; err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = statusFail
			code = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = statusOK
	}
	writeJSON(w, code, res)
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
