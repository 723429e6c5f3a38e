package api

import (
	"context"
	"net/http"
	"time"
)

// healthCheckTimeout bounds each subsystem probe.
const healthCheckTimeout = 2 * time.Second

// handleHealth reports overall service health plus each registered
// subsystem check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.health))
	status := "ok"

	for name, checker := range s.health {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := checker.HealthCheck(ctx)
		cancel()

		if err != nil {
			checks[name] = err.Error()
			status = "degraded"
			continue
		}
		checks[name] = "ok"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
		"devices": s.fleet.Len(),
		"checks":  checks,
	})
}
