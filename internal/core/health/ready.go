package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Check probes one dependency.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// ReadinessReporter is implemented by the change event runner.
type ReadinessReporter interface {
	Readiness() (ready bool, partitions []int32)
}

// Readiness reports ready when every check passes within timeout and rr,
// if set, holds a partition assignment.
func Readiness(timeout time.Duration, rr ReadinessReporter, checks ...Check) http.HandlerFunc {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status     string            `json:"status"`
			Checks     map[string]string `json:"checks,omitempty"`
			Partitions []int32           `json:"partitions,omitempty"`
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		ready := true
		out := resp{Checks: map[string]string{}}
		for _, c := range checks {
			if err := c.Fn(ctx); err != nil {
				ready = false
				out.Checks[c.Name] = err.Error()
				continue
			}
			out.Checks[c.Name] = "ok"
		}
		if rr != nil {
			ok, parts := rr.Readiness()
			if ok {
				out.Partitions = parts
				out.Checks["change_events"] = "ok"
			} else {
				ready = false
				out.Checks["change_events"] = "no partitions assigned"
			}
		}

		out.Status = "not_ready"
		if ready {
			out.Status = "ready"
		}
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
