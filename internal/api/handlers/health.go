// Package handlers provides HTTP handlers for API endpoints.
package handlers

import (
	"net/http"
	"time"

	"github.com/asgard/aegis/internal/tracking"
)

// HealthHandler reports liveness plus a cheap signal of whether the
// Tracking engine is actually doing anything, grounded on
// internal/api/handlers/health.go's shape.
type HealthHandler struct {
	engine    *tracking.Engine
	startedAt time.Time
}

// NewHealthHandler creates a new health handler that reports uptime and
// active-track count from engine.
func NewHealthHandler(engine *tracking.Engine) *HealthHandler {
	return &HealthHandler{engine: engine, startedAt: time.Now()}
}

// Health handles GET /healthz.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"service":      "aegis",
		"uptimeSeconds": time.Since(h.startedAt).Seconds(),
		"activeTracks": h.engine.Len(),
	})
}
