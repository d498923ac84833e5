package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const readinessTimeout = 5 * time.Second

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthHandler manages health check endpoints.
type HealthHandler struct {
	db     HealthChecker
	cache  HealthChecker
	logger *slog.Logger
}

// NewHealthHandler creates a new HealthHandler.
// cache is nil when Redis is not configured.
func NewHealthHandler(db, cache HealthChecker, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandler{
		db:     db,
		cache:  cache,
		logger: logger,
	}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz is the liveness probe. It never touches dependencies.
//
// GET /healthz
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Readyz is the readiness probe. It returns 503 when any configured
// dependency fails to answer a ping.
//
// GET /readyz
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	deps := []struct {
		name    string
		checker HealthChecker
	}{
		{"postgres", h.db},
		{"redis", h.cache},
	}

	checks := make(map[string]string, len(deps))
	healthy := true
	for _, dep := range deps {
		if dep.checker == nil {
			checks[dep.name] = "not configured"
			continue
		}
		if err := dep.checker.Ping(ctx); err != nil {
			// Driver errors can carry hosts and credentials; keep them in the logs.
			h.logger.WarnContext(ctx, "readiness check failed", "dependency", dep.name, "error", err)
			checks[dep.name] = "error"
			healthy = false
			continue
		}
		checks[dep.name] = "ok"
	}

	if !healthy {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Checks: checks})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Checks: checks})
}
