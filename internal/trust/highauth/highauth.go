// Package highauth gates issuance of "restricted"-region root tokens
// behind a WebAuthn (FIDO2) ceremony, echoing internal/security/vault's
// SecurityLevelGovernment/Military tiers that require hardware-backed
// authentication before a sensitive operation proceeds.
package highauth

import (
	"errors"

	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/asgard/aegis/internal/trust"
)

// ErrHardwareAuthRequired is returned when a policy names a restricted
// region but no verified WebAuthn credential was presented.
var ErrHardwareAuthRequired = errors.New("highauth: restricted-region token issuance requires a verified hardware credential")

// restrictedRegion is the region tag that triggers the FIDO2 requirement.
const restrictedRegion = "restricted"

// Gate wraps an Authority so that issuing a token scoped to the
// restricted region requires a prior, separately-verified WebAuthn
// assertion (verifiedOperator == true). The WebAuthn ceremony itself
// (BeginLogin/FinishLogin against a registered credential) is carried out
// by the admin API using *webauthn.WebAuthn exactly as
// internal/services/auth.go does for government-tier accounts; Gate only
// enforces the resulting policy-level requirement.
type Gate struct {
	authority *trust.Authority
	webAuthn  *webauthn.WebAuthn
}

// NewGate constructs a Gate. cfg may be nil in development mode, in which
// case no *webauthn.WebAuthn is built and WebAuthn returns nil;
// IssueRestricted still decides on the verifiedOperator flag alone.
func NewGate(authority *trust.Authority, cfg *webauthn.Config) (*Gate, error) {
	g := &Gate{authority: authority}
	if cfg == nil {
		return g, nil
	}
	wa, err := webauthn.New(cfg)
	if err != nil {
		return nil, err
	}
	g.webAuthn = wa
	return g, nil
}

// WebAuthn exposes the underlying *webauthn.WebAuthn for the admin API to
// run registration/login ceremonies against.
func (g *Gate) WebAuthn() *webauthn.WebAuthn {
	return g.webAuthn
}

// IssueRestricted issues policy as a root token, requiring
// verifiedOperator to be true whenever policy names the restricted
// region.
func (g *Gate) IssueRestricted(policy trust.Policy, verifiedOperator bool) (trust.Token, error) {
	for _, r := range policy.Regions {
		if r == restrictedRegion && !verifiedOperator {
			return trust.Token{}, ErrHardwareAuthRequired
		}
	}
	return g.authority.IssueRootToken(policy), nil
}
