// Package trust implements the Trust engine (C4): capability-token
// issuance, packet signing, and offline admission verification.
package trust

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"errors"

	"github.com/fxamacker/cbor/v2"
)

// ErrMalformedToken is returned when a token's structure or signature
// chain does not verify against the configured root public key.
var ErrMalformedToken = errors.New("trust: malformed token")

// ErrNotAnAttenuation is returned by Attenuate when the requested policy is
// not a narrowing of (or equal to) the token's last policy link.
var ErrNotAnAttenuation = errors.New("trust: requested policy is not an attenuation")

// Token is an offline-verifiable bearer credential: a root-signed policy
// plus zero or more holder-derived attenuation links. Each link's MAC is
// keyed by the previous link's MAC (or, for link 0, by the root Ed25519
// signature) — a macaroon-style chain that lets any holder attenuate
// without contacting the issuer, since no step requires the root private
// key, only the previous (public, bearer-visible) link value.
type Token struct {
	Policies []Policy `cbor:"policies"`
	Links    [][]byte `cbor:"links"`
}

var tokenCanonical = func() cbor.EncMode {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic("trust: invalid canonical cbor options: " + err.Error())
	}
	return mode
}()

func canonicalPolicyBytes(p Policy) []byte {
	b, err := tokenCanonical.Marshal(p)
	if err != nil {
		// Policy is a plain value type with no cyclic or unsupported
		// fields; marshal failure here indicates a programming error.
		panic("trust: policy marshal: " + err.Error())
	}
	return b
}

// Authority holds the root Ed25519 keypair used to issue tokens. The
// private key never leaves the issuing process; only RootPublicKey is
// distributed as configuration (spec.md §6's root_public_key).
type Authority struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// NewAuthority constructs an Authority from an existing keypair, e.g. one
// loaded from internal/trust/keyring.
func NewAuthority(pub ed25519.PublicKey, priv ed25519.PrivateKey) *Authority {
	return &Authority{public: pub, private: priv}
}

// GenerateAuthority creates a fresh root keypair, for tests and first-run
// bootstrapping.
func GenerateAuthority() (*Authority, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, err
	}
	return &Authority{public: pub, private: priv}, nil
}

// PublicKey returns the root public key to distribute as configuration.
func (a *Authority) PublicKey() ed25519.PublicKey {
	return a.public
}

// IssueRootToken signs policy as the root link of a new token. Authority
// only.
func (a *Authority) IssueRootToken(policy Policy) Token {
	sig := ed25519.Sign(a.private, canonicalPolicyBytes(policy))
	return Token{
		Policies: []Policy{policy},
		Links:    [][]byte{sig},
	}
}

// Attenuate derives a weaker-or-equal token from an existing one. It is
// holder-side: it needs no access to the root private key, only the
// parent token's own (bearer-visible) last link, which becomes the HMAC
// key for the new link.
func Attenuate(parent Token, stricter Policy) (Token, error) {
	if len(parent.Policies) == 0 || len(parent.Links) != len(parent.Policies) {
		return Token{}, ErrMalformedToken
	}
	if !stricter.isAttenuationOf(parent.Policies[len(parent.Policies)-1]) {
		return Token{}, ErrNotAnAttenuation
	}

	prevLink := parent.Links[len(parent.Links)-1]
	mac := hmac.New(sha256.New, prevLink)
	mac.Write(canonicalPolicyBytes(stricter))
	newLink := mac.Sum(nil)

	return Token{
		Policies: append(append([]Policy{}, parent.Policies...), stricter),
		Links:    append(append([][]byte{}, parent.Links...), newLink),
	}, nil
}

// verifyChain checks the full signature/MAC chain against rootPub,
// independent of policy semantics. A failure here is always
// ErrMalformedToken: the chain is structurally broken or forged, not
// merely out of scope.
func verifyChain(t Token, rootPub ed25519.PublicKey) error {
	if len(t.Policies) == 0 || len(t.Links) != len(t.Policies) {
		return ErrMalformedToken
	}
	if !ed25519.Verify(rootPub, canonicalPolicyBytes(t.Policies[0]), t.Links[0]) {
		return ErrMalformedToken
	}
	for i := 1; i < len(t.Policies); i++ {
		mac := hmac.New(sha256.New, t.Links[i-1])
		mac.Write(canonicalPolicyBytes(t.Policies[i]))
		expected := mac.Sum(nil)
		if !hmac.Equal(expected, t.Links[i]) {
			return ErrMalformedToken
		}
	}
	return nil
}
