package handlers

import (
	"net/http"

	"github.com/asgard/aegis/internal/platform/bus"
	"github.com/asgard/aegis/internal/tracking"
)

// SnapshotHandler exposes the Tracking engine's current state over HTTP,
// a polling alternative to the livefeed WebSocket.
type SnapshotHandler struct {
	engine *tracking.Engine
}

// NewSnapshotHandler constructs a SnapshotHandler backed by engine.
func NewSnapshotHandler(engine *tracking.Engine) *SnapshotHandler {
	return &SnapshotHandler{engine: engine}
}

// Snapshot handles GET /snapshot: every active track's current fused
// state.
func (h *SnapshotHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	snaps := h.engine.Snapshot()
	msgs := make([]bus.SnapshotMessage, len(snaps))
	for i, s := range snaps {
		msgs[i] = bus.ToSnapshotMessage(s)
	}
	jsonResponse(w, http.StatusOK, msgs)
}

// Rejections handles GET /admin/rejections: per-kind rejection counters.
func (h *SnapshotHandler) Rejections(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, h.engine.RejectionCounts())
}
