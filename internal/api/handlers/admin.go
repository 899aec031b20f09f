package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/asgard/aegis/internal/trust"
	"github.com/asgard/aegis/internal/trust/highauth"
)

// AdminHandler exposes the Trust engine's token-issuance surface,
// grounded on internal/api/handlers/admin.go's JSON request/response
// shape but scoped to capability tokens instead of user accounts.
type AdminHandler struct {
	authority *trust.Authority
	gate      *highauth.Gate
}

// NewAdminHandler constructs an AdminHandler backed by authority. gate
// may be nil, in which case restricted-region issuance always rejects.
func NewAdminHandler(authority *trust.Authority, gate *highauth.Gate) *AdminHandler {
	return &AdminHandler{authority: authority, gate: gate}
}

type issueTokenRequest struct {
	Principal string   `json:"principal"`
	Topics    []string `json:"topics"`
	Regions   []string `json:"regions"`
	NotAfter  string   `json:"notAfter"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

var tokenCanonical = func() cbor.EncMode {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic("handlers: invalid canonical cbor options: " + err.Error())
	}
	return mode
}()

// IssueToken handles POST /admin/tokens: mints a root-signed capability
// token scoped to the requested topics/regions.
func (h *AdminHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body", "INVALID_REQUEST")
		return
	}
	if req.Principal == "" || len(req.Topics) == 0 || len(req.Regions) == 0 {
		jsonError(w, http.StatusBadRequest, "principal, topics, and regions are required", "INVALID_REQUEST")
		return
	}

	notAfter := time.Now().Add(24 * time.Hour)
	if req.NotAfter != "" {
		parsed, err := time.Parse(time.RFC3339, req.NotAfter)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "notAfter must be RFC3339", "INVALID_REQUEST")
			return
		}
		notAfter = parsed
	}

	policy := trust.Policy{
		Principal: req.Principal,
		Topics:    req.Topics,
		Regions:   req.Regions,
		NotBefore: time.Now().Add(-time.Minute),
		NotAfter:  notAfter,
	}
	token := h.authority.IssueRootToken(policy)
	encoded, err := encodeToken(token)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error(), "ENCODE_ERROR")
		return
	}

	jsonResponse(w, http.StatusCreated, tokenResponse{Token: encoded})
}

type attenuateTokenRequest struct {
	Token   string   `json:"token"`
	Topics  []string `json:"topics"`
	Regions []string `json:"regions"`
}

// AttenuateToken handles POST /admin/tokens/attenuate: narrows an
// existing token's policy without needing the root private key.
func (h *AdminHandler) AttenuateToken(w http.ResponseWriter, r *http.Request) {
	var req attenuateTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body", "INVALID_REQUEST")
		return
	}

	parent, err := decodeToken(req.Token)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "malformed token", "INVALID_TOKEN")
		return
	}
	if len(parent.Policies) == 0 {
		jsonError(w, http.StatusBadRequest, "malformed token", "INVALID_TOKEN")
		return
	}
	last := parent.Policies[len(parent.Policies)-1]

	stricter := trust.Policy{
		Principal: last.Principal,
		Topics:    req.Topics,
		Regions:   req.Regions,
		NotBefore: last.NotBefore,
		NotAfter:  last.NotAfter,
	}
	if len(stricter.Topics) == 0 {
		stricter.Topics = last.Topics
	}
	if len(stricter.Regions) == 0 {
		stricter.Regions = last.Regions
	}

	attenuated, err := trust.Attenuate(parent, stricter)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error(), "NOT_AN_ATTENUATION")
		return
	}

	encoded, err := encodeToken(attenuated)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error(), "ENCODE_ERROR")
		return
	}
	jsonResponse(w, http.StatusOK, tokenResponse{Token: encoded})
}

type issueRestrictedTokenRequest struct {
	Principal        string   `json:"principal"`
	Topics           []string `json:"topics"`
	Regions          []string `json:"regions"`
	NotAfter         string   `json:"notAfter"`
	VerifiedOperator bool     `json:"verifiedOperator"`
}

// IssueRestrictedToken handles POST /admin/tokens/restricted: mints a
// root-signed token that may name the "restricted" region, which
// highauth.Gate only permits after a WebAuthn ceremony has set
// VerifiedOperator. The ceremony itself happens out of band (a separate
// registration/login round trip against the Gate's *webauthn.WebAuthn);
// this endpoint only enforces its result.
func (h *AdminHandler) IssueRestrictedToken(w http.ResponseWriter, r *http.Request) {
	if h.gate == nil {
		jsonError(w, http.StatusServiceUnavailable, "restricted-region issuance is not configured", "HIGHAUTH_UNCONFIGURED")
		return
	}

	var req issueRestrictedTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body", "INVALID_REQUEST")
		return
	}
	if req.Principal == "" || len(req.Topics) == 0 || len(req.Regions) == 0 {
		jsonError(w, http.StatusBadRequest, "principal, topics, and regions are required", "INVALID_REQUEST")
		return
	}

	notAfter := time.Now().Add(24 * time.Hour)
	if req.NotAfter != "" {
		parsed, err := time.Parse(time.RFC3339, req.NotAfter)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "notAfter must be RFC3339", "INVALID_REQUEST")
			return
		}
		notAfter = parsed
	}

	policy := trust.Policy{
		Principal: req.Principal,
		Topics:    req.Topics,
		Regions:   req.Regions,
		NotBefore: time.Now().Add(-time.Minute),
		NotAfter:  notAfter,
	}
	token, err := h.gate.IssueRestricted(policy, req.VerifiedOperator)
	if err != nil {
		jsonError(w, http.StatusForbidden, err.Error(), "HARDWARE_AUTH_REQUIRED")
		return
	}

	encoded, err := encodeToken(token)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error(), "ENCODE_ERROR")
		return
	}
	jsonResponse(w, http.StatusCreated, tokenResponse{Token: encoded})
}

func encodeToken(t trust.Token) (string, error) {
	b, err := tokenCanonical.Marshal(t)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func decodeToken(s string) (trust.Token, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return trust.Token{}, err
	}
	var t trust.Token
	if err := cbor.Unmarshal(raw, &t); err != nil {
		return trust.Token{}, err
	}
	return t, nil
}
