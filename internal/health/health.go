// Package health serves the liveness and readiness probes of the minutes
// server.
//
//   - GET /healthz answers 200 while the process can serve HTTP.
//   - GET /readyz answers 200 only when every [Checker] passes. The server
//     registers a store ping and a check that the recording pipeline is not
//     stuck in its error state.
//
// Both respond with {"status": "ok"|"fail", "checks": {name: result}}.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds each readiness check.
const checkTimeout = 5 * time.Second

// Checker is one named readiness check. Check returns nil when healthy and
// must honour ctx.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Pinger is satisfied by every record store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker reports whether the record store answers.
func StoreChecker(p Pinger) Checker {
	return Checker{Name: "store", Check: p.Ping}
}

// ErrPipelineFailed is reported by [PipelineChecker] while the last session
// ended in error.
var ErrPipelineFailed = errors.New("pipeline is in the error state")

// PipelineChecker fails while failed reports true. lastError, if non-nil,
// adds the cause to the message.
func PipelineChecker(failed func() bool, lastError func() string) Checker {
	return Checker{Name: "pipeline", Check: func(context.Context) error {
		if !failed() {
			return nil
		}
		if lastError != nil {
			if msg := lastError(); msg != "" {
				return errors.Join(ErrPipelineFailed, errors.New(msg))
			}
		}
		return ErrPipelineFailed
	}}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probes. The checker list is fixed at construction.
type Handler struct {
	checkers []Checker
}

// New returns a Handler over checkers.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every checker concurrently, each under its own
// [checkTimeout], and answers 503 if any fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	outcomes := make([]error, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Go(func() {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			outcomes[i] = c.Check(ctx)
		})
	}
	wg.Wait()

	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK
	for i, c := range h.checkers {
		if err := outcomes[i]; err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}
	writeJSON(w, status, res)
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
