// Package handlers provides the admin HTTP API's request handlers,
// grounded on internal/api/handlers/helpers.go's jsonResponse/jsonError
// conventions.
package handlers

import (
	"encoding/json"
	"net/http"
)

// jsonResponse sends a JSON response with the given status code and data.
func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// jsonError sends a JSON error response.
func jsonError(w http.ResponseWriter, status int, message, code string) {
	jsonResponse(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"code":    code,
			"status":  status,
		},
	})
}
