package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts"
)

// HealthResponse is the body of GET /healthz
type HealthResponse struct {
	Status     string                `json:"status"`
	Version    contracts.VersionInfo `json:"version"`
	Uptime     string                `json:"uptime"`
	ActiveRuns int                   `json:"active_runs"`
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	started    time.Time
	activeRuns func() []string
	logger     *slog.Logger
}

// NewHealthHandler creates a new health handler. activeRuns may be nil.
func NewHealthHandler(activeRuns func() []string, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandler{
		started:    time.Now(),
		activeRuns: activeRuns,
		logger:     logger.With(slog.String("handler", "health")),
	}
}

// HealthCheck handles GET /healthz
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: contracts.GetVersionInfo(),
		Uptime:  time.Since(h.started).Round(time.Second).String(),
	}
	if h.activeRuns != nil {
		resp.ActiveRuns = len(h.activeRuns())
	}
	render.JSON(w, r, resp)
}
