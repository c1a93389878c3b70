package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"polarcli/internal/services"
)

// HubStats reports progress hub counters
type HubStats interface {
	Stats() map[string]int64
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	service *services.HealthService
	hub     HubStats
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler. hub may be nil.
func NewHealthHandler(service *services.HealthService, hub HubStats, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		service: service,
		hub:     hub,
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// HealthCheck handles GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.HealthCheck(r.Context()))
}

// ReadinessCheck handles GET /api/health/ready
func (h *HealthHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	status := h.service.ReadinessCheck(r.Context())
	if status.Status != "ready" {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, status)
}

// LivenessCheck handles GET /api/health/live
func (h *HealthHandler) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.LivenessCheck(r.Context()))
}

// Version handles GET /api/version
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Version())
}

// Stats handles GET /api/stats
func (h *HealthHandler) Stats(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"system": h.service.SystemStats(r.Context()),
	}
	if h.hub != nil {
		response["websocket"] = h.hub.Stats()
	}
	render.JSON(w, r, response)
}
