package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger checks the liveness of one backing dependency.
type Pinger interface {
	Health(ctx context.Context) error
}

// PingerFunc adapts a function to the Pinger interface.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Health(ctx context.Context) error { return f(ctx) }

// HealthHandler reports service and dependency health.
type HealthHandler struct {
	deps   map[string]Pinger
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler over the named dependencies.
func NewHealthHandler(deps map[string]Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		deps:   deps,
		logger: logger.With(slog.String("component", "health_handler")),
	}
}

// Health pings every dependency with a short timeout. Any failing dependency
// degrades the overall status to 503.
// GET /api/health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.deps))
	for name, p := range h.deps {
		if err := p.Health(ctx); err != nil {
			checks[name] = "unhealthy"
			status = http.StatusServiceUnavailable
			h.logger.WarnContext(ctx, "dependency unhealthy",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		checks[name] = "ok"
	}

	body := map[string]interface{}{
		"status": "ok",
		"checks": checks,
		"time":   time.Now().UTC(),
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}
