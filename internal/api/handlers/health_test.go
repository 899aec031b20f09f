package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/asgard/aegis/internal/tracking"
)

func TestHealthReturnsOK(t *testing.T) {
	h := NewHealthHandler(tracking.New(tracking.DefaultConfig(), nil))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	h.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
