package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"go.uber.org/zap"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

type HealthHandler struct {
	responder
	checks  map[string]HealthCheck
	timeout time.Duration
}

func NewHealthHandler(checks map[string]HealthCheck, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{responder: responder{logger: logger}, checks: checks, timeout: 5 * time.Second}
}

type healthReport struct {
	Status       string            `json:"status"`
	Service      string            `json:"service"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// Health runs every check in parallel and reports 503 if any failed.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make(map[string]string, len(h.checks))
		healthy = true
	)
	g, gctx := errgroup.WithContext(ctx)
	for name, check := range h.checks {
		name, check := name, check
		g.Go(func() error {
			status := "ok"
			if err := check(gctx); err != nil {
				status = "unavailable"
				h.logger.Warn("Health check failed", zap.String("dependency", name), zap.Error(err))
			}
			mu.Lock()
			results[name] = status
			if status != "ok" {
				healthy = false
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report := healthReport{Status: "healthy", Service: "policy-core", Dependencies: results}
	code := http.StatusOK
	if !healthy {
		report.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	h.respondWithJSON(w, code, report)
}
