package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// ServiceName is reported by the health endpoints.
const ServiceName = "AMMA Bedtime Story Agent"

const defaultReadyTimeout = 5 * time.Second

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	archive StoryArchive
	timeout time.Duration
}

// NewHealthHandler creates a health handler. archive may be nil.
func NewHealthHandler(archive StoryArchive) *HealthHandler {
	return &HealthHandler{archive: archive, timeout: defaultReadyTimeout}
}

// Health is the fixed liveness payload.
func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": ServiceName,
	})
}

// Ready reports the health of the service's dependencies.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok", "archive": "disabled"}
	status := map[string]any{
		"status":  "healthy",
		"service": ServiceName,
		"checks":  checks,
	}
	statusCode := http.StatusOK

	if h.archive != nil {
		if err := h.archive.Ping(ctx); err != nil {
			slog.Error("Readiness check failed", "error", err)
			status["status"] = "degraded"
			checks["archive"] = "unreachable"
			statusCode = http.StatusServiceUnavailable
		} else {
			checks["archive"] = "ok"
		}
	}

	JSON(w, statusCode, status)
}
