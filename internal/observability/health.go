package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
)

// Build metadata, set from main.
var (
	Version = "dev"
	Commit  = "unknown"
)

var startedAt = time.Now()

// Readiness states.
const (
	StatusReady    = "ready"
	StatusDegraded = "degraded"
	StatusNotReady = "not_ready"
)

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ReadinessResponse is the readiness payload.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the result of one dependency probe.
type CheckResult struct {
	Status    string `json:"status"`
	Optional  bool   `json:"optional,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker probes a dependency.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

// HealthCheck implements HealthChecker.
func (f HealthCheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

const checkTimeout = 2 * time.Second

// HandleHealth serves liveness. It never touches dependencies.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeHealthJSON(w, http.StatusOK, HealthResponse{
			Status:        "ok",
			Version:       Version,
			Commit:        Commit,
			UptimeSeconds: int64(time.Since(startedAt).Seconds()),
		})
	}
}

// HandleReady serves readiness. A failing check named in optional only
// degrades the response; any other failure answers 503. Nil checkers are
// skipped.
func HandleReady(checks map[string]HealthChecker, optional ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names := make([]string, 0, len(checks))
		for name, c := range checks {
			if c != nil {
				names = append(names, name)
			}
		}
		slices.Sort(names)

		results := make([]CheckResult, len(names))
		var g errgroup.Group
		for i, name := range names {
			g.Go(func() error {
				results[i] = probe(r.Context(), checks[name])
				results[i].Optional = slices.Contains(optional, name)
				return nil
			})
		}
		_ = g.Wait()

		resp := ReadinessResponse{Status: StatusReady, Checks: make(map[string]CheckResult, len(names))}
		for i, name := range names {
			res := results[i]
			resp.Checks[name] = res
			if res.Status == "ok" {
				continue
			}
			if !res.Optional {
				resp.Status = StatusNotReady
			} else if resp.Status == StatusReady {
				resp.Status = StatusDegraded
			}
		}

		status := http.StatusOK
		if resp.Status == StatusNotReady {
			status = http.StatusServiceUnavailable
		}
		writeHealthJSON(w, status, resp)
	}
}

func probe(parent context.Context, checker HealthChecker) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := checker.HealthCheck(ctx)
	res := CheckResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
	}
	return res
}

func writeHealthJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
