// Package health serves liveness and readiness probes.
//
// /healthz answers 200 whenever the process can serve HTTP. /readyz runs the
// registered checks concurrently and answers 200 only when all of them pass,
// reporting per-check outcome and latency in the JSON body.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker probes one dependency. Check returns nil when the dependency is
// usable and an error describing the failure otherwise; it must honor
// context cancellation.
type Checker struct {
	// Name keys the check in the /readyz response, e.g. "postgres".
	Name string

	Check func(ctx context.Context) error
}

type checkResult struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Elapsed string `json:"elapsed"`
}

type response struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

// Handler answers the probe endpoints. The checker set is fixed at
// construction, so a Handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New builds a Handler over the given checkers.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz reports liveness. It never fails.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: "ok"})
}

// Readyz runs every checker concurrently, each under its own timeout, and
// reports 503 when any of them fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	results := make([]checkResult, len(h.checkers))

	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()

			start := time.Now()
			err := c.Check(ctx)
			res := checkResult{
				Status:  "ok",
				Elapsed: time.Since(start).Round(time.Microsecond).String(),
			}
			if err != nil {
				res.Status = "fail"
				res.Error = err.Error()
			}
			results[i] = res
		}()
	}
	wg.Wait()

	resp := response{
		Status: "ok",
		Checks: make(map[string]checkResult, len(h.checkers)),
	}
	status := http.StatusOK
	for i, c := range h.checkers {
		resp.Checks[c.Name] = results[i]
		if results[i].Status != "ok" {
			resp.Status = "fail"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, resp)
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
