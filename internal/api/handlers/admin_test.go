package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/asgard/aegis/internal/trust"
	"github.com/asgard/aegis/internal/trust/highauth"
)

func restrictedRequest(t *testing.T, verifiedOperator bool) *http.Request {
	t.Helper()
	body, err := json.Marshal(issueRestrictedTokenRequest{
		Principal:        "sentry-1",
		Topics:           []string{"*"},
		Regions:          []string{"restricted"},
		NotAfter:         time.Now().Add(time.Hour).Format(time.RFC3339),
		VerifiedOperator: verifiedOperator,
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/admin/tokens/restricted", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// TestIssueRestrictedTokenRejectsWithoutGate confirms a handler built
// without a highauth.Gate refuses restricted issuance outright rather
// than silently minting unrestricted-equivalent tokens.
func TestIssueRestrictedTokenRejectsWithoutGate(t *testing.T) {
	authority, err := trust.GenerateAuthority()
	if err != nil {
		t.Fatalf("generate authority: %v", err)
	}
	h := NewAdminHandler(authority, nil)

	rec := httptest.NewRecorder()
	h.IssueRestrictedToken(rec, restrictedRequest(t, true))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with no gate configured, got %d", rec.Code)
	}
}

// TestIssueRestrictedTokenRequiresVerifiedOperator confirms the
// endpoint surfaces highauth.Gate's hardware-auth requirement as a 403
// rather than minting the token anyway.
func TestIssueRestrictedTokenRequiresVerifiedOperator(t *testing.T) {
	authority, err := trust.GenerateAuthority()
	if err != nil {
		t.Fatalf("generate authority: %v", err)
	}
	gate, err := highauth.NewGate(authority, nil)
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	h := NewAdminHandler(authority, gate)

	rec := httptest.NewRecorder()
	h.IssueRestrictedToken(rec, restrictedRequest(t, false))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without a verified operator, got %d", rec.Code)
	}
}

// TestIssueRestrictedTokenSucceedsWithVerifiedOperator confirms the
// happy path mints an encoded token once the ceremony is satisfied.
func TestIssueRestrictedTokenSucceedsWithVerifiedOperator(t *testing.T) {
	authority, err := trust.GenerateAuthority()
	if err != nil {
		t.Fatalf("generate authority: %v", err)
	}
	gate, err := highauth.NewGate(authority, nil)
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	h := NewAdminHandler(authority, gate)

	rec := httptest.NewRecorder()
	h.IssueRestrictedToken(rec, restrictedRequest(t, true))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp tokenResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Token == "" {
		t.Error("expected a non-empty encoded token")
	}
}
