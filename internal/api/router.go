// Package api provides HTTP routing for the fusion core's admin and
// observability surface, grounded on internal/api/router.go's
// chi+cors+route-group structure.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/asgard/aegis/internal/api/handlers"
	"github.com/asgard/aegis/internal/api/livefeed"
	apimiddleware "github.com/asgard/aegis/internal/api/middleware"
	"github.com/asgard/aegis/internal/platform/observability"
	"github.com/asgard/aegis/internal/trust"
	"github.com/asgard/aegis/internal/trust/highauth"
	"github.com/asgard/aegis/internal/tracking"
)

// NewRouter builds the HTTP handler serving /healthz, /metrics,
// /snapshot, the admin token-issuance endpoints, and the livefeed
// WebSocket. gate may be nil if restricted-region issuance is not
// configured for this deployment.
func NewRouter(authority *trust.Authority, gate *highauth.Gate, engine *tracking.Engine, hub *livefeed.Hub, jwtSecret []byte) http.Handler {
	r := chi.NewRouter()

	r.Use(apimiddleware.Apply)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	healthHandler := handlers.NewHealthHandler(engine)
	adminHandler := handlers.NewAdminHandler(authority, gate)
	snapshotHandler := handlers.NewSnapshotHandler(engine)

	r.Get("/healthz", healthHandler.Health)
	r.Handle("/metrics", observability.Handler())
	r.Get("/snapshot", snapshotHandler.Snapshot)

	r.Route("/admin", func(r chi.Router) {
		r.Use(apimiddleware.RequireAdmin(jwtSecret))
		r.Post("/tokens", adminHandler.IssueToken)
		r.Post("/tokens/attenuate", adminHandler.AttenuateToken)
		r.Post("/tokens/restricted", adminHandler.IssueRestrictedToken)
		r.Get("/rejections", snapshotHandler.Rejections)
	})

	r.Get("/ws/livefeed", hub.ServeWS)

	return r
}
