// Package middleware provides the admin API's HTTP middleware, grounded
// on internal/api/middleware/auth.go's RequireAuth/extractToken shape
// and internal/services/auth.go's jwt.Parse-based validation, adapted to
// an admin-only bearer token instead of a user-account session.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const claimsContextKey contextKey = "admin_claims"

// AdminClaims is the decoded payload of an admin bearer token.
type AdminClaims struct {
	Subject string
	Role    string
}

// RequireAdmin validates a bearer JWT signed with secret using HS256 and
// rejects the request unless its role claim is "admin".
func RequireAdmin(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := extractToken(r)
			if tokenString == "" {
				http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrTokenSignatureInvalid
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}
			role, _ := claims["role"].(string)
			if role != "admin" {
				http.Error(w, `{"error":"admin role required"}`, http.StatusForbidden)
				return
			}
			subject, _ := claims["sub"].(string)

			ctx := context.WithValue(r.Context(), claimsContextKey, AdminClaims{Subject: subject, Role: role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// ClaimsFromContext extracts the AdminClaims RequireAdmin attached.
func ClaimsFromContext(r *http.Request) (AdminClaims, bool) {
	v := r.Context().Value(claimsContextKey)
	if v == nil {
		return AdminClaims{}, false
	}
	c, ok := v.(AdminClaims)
	return c, ok
}
