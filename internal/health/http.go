package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds the time a single readiness check may take.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is healthy and a non-nil error describing the failure otherwise.
type Checker struct {
	// Name labels this check in the JSON response (e.g. "relay", "buffer").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// RelayChecker adapts a [Monitor] into a readiness [Checker] named "relay".
// The check fails while the monitored buffer is outside the hard health
// thresholds.
func RelayChecker(m *Monitor) Checker {
	return Checker{
		Name: "relay",
		Check: func(_ context.Context) error {
			if !m.IsHealthy() {
				return &unhealthyError{state: m.State()}
			}
			return nil
		},
	}
}

// unhealthyError reports the derived health state as a check failure.
type unhealthyError struct {
	state State
}

func (e *unhealthyError) Error() string {
	return "relay unhealthy (state: " + e.state.String() + ")"
}

// result is the JSON response body for the health endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the /healthz and /readyz endpoints. Safe for concurrent
// use; the checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
}

// NewHandler creates a [Handler] that evaluates the given checkers on each
// /readyz request, in the order provided.
func NewHandler(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is a liveness probe that always returns 200 OK. A process that
// can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is a readiness probe that returns 200 only when every registered
// [Checker] passes. Each checker receives a context with a [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON with the given status code, falling back to a
// plain 500 on encoding failure.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
