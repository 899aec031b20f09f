// Package middleware provides the admin API's HTTP middleware, grounded
// on internal/api/middleware/middleware.go's Apply chain.
package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// Apply wires the ambient middleware chain common to every route.
func Apply(handler http.Handler) http.Handler {
	handler = middleware.RequestID(handler)
	handler = middleware.RealIP(handler)
	handler = middleware.Logger(handler)
	handler = Recoverer(handler)
	handler = middleware.Timeout(30 * time.Second)(handler)
	return handler
}
