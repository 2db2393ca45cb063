// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Healthz returns 200 "ok\n" unconditionally.
func Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// Check reports whether one dependency is usable.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Readiness runs its checks on every probe.
type Readiness struct {
	checks  []Check
	timeout time.Duration
	logger  *slog.Logger
}

// NewReadiness creates a readiness probe. With no checks it always reports
// ready.
func NewReadiness(logger *slog.Logger, checks ...Check) *Readiness {
	return &Readiness{checks: checks, timeout: 2 * time.Second, logger: logger}
}

// Readyz returns 200 "ready\n" when every check passes, 503 otherwise.
func (rd *Readiness) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), rd.timeout)
	defer cancel()

	w.Header().Set("Content-Type", "text/plain")
	for _, c := range rd.checks {
		if err := c.Fn(ctx); err != nil {
			rd.logger.Warn("readiness check failed", "check", c.Name, "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "not ready: %s\n", c.Name)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready\n"))
}
