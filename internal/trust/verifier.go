package trust

import (
	"crypto/ed25519"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/asgard/aegis/internal/geodesy"
	"github.com/asgard/aegis/pkg/wire"
)

// Kind enumerates verify_packet's outcome, matching spec.md §7's
// admission-phase error taxonomy exactly.
type Kind int

const (
	// OK indicates the packet is admitted.
	OK Kind = iota
	InvalidSignature
	Unauthorized
	Expired
	Future
	MalformedPacket
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "ok"
	case InvalidSignature:
		return "invalid_signature"
	case Unauthorized:
		return "unauthorized"
	case Expired:
		return "expired"
	case Future:
		return "future"
	case MalformedPacket:
		return "malformed_packet"
	default:
		return "unknown"
	}
}

// Result is verify_packet's pure return value: the outcome kind.
type Result struct {
	Kind Kind
}

// Config configures a Verifier.
type Config struct {
	RootPublicKey ed25519.PublicKey
	// MaxAdmissibleLatency bounds how far in the past a packet's
	// timestamp may be (spec.md ties this to the Time engine's window).
	MaxAdmissibleLatency time.Duration
	// ClockSkewTolerance bounds how far in the future a packet's
	// timestamp may be.
	ClockSkewTolerance time.Duration
	// Action is the action string the Verifier records for observation
	// packets. VerifyPacket does not check it: policies carry no action
	// field, so authorization covers topic, region and time only.
	Action string
}

// DefaultAction is the Action a Verifier is given when Config.Action is
// empty.
const DefaultAction = "observe"

// Verifier holds the root public key and any cached peer (emitting agent)
// public keys. Admission is pure relative to observation content — the
// Verifier itself holds no mutable per-packet state, only the (mostly
// static) key registry, matching spec.md §5's "admission is pure relative
// to observation content".
type Verifier struct {
	cfg  Config
	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

// NewVerifier constructs a Verifier with an empty peer key registry.
func NewVerifier(cfg Config) *Verifier {
	if cfg.Action == "" {
		cfg.Action = DefaultAction
	}
	return &Verifier{cfg: cfg, keys: make(map[string]ed25519.PublicKey)}
}

// RegisterAgentKey records the Ed25519 public key for an emitting agent.
// Collaborators populate this out of band (e.g. from internal/trust/keystore).
func (v *Verifier) RegisterAgentKey(agentID string, pub ed25519.PublicKey) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.keys[agentID] = pub
}

func (v *Verifier) agentKey(agentID string) (ed25519.PublicKey, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	k, ok := v.keys[agentID]
	return k, ok
}

// VerifyPacket admits or rejects p at currentTime against region, checking
// signature, capability, and freshness in that order, per spec.md §4.4. The
// observation's topic is read from p.Topic; region is supplied by the
// caller (the spatial partition the observation was received on). It has
// no side effects.
func (v *Verifier) VerifyPacket(p wire.Packet, currentTime time.Time, region string) Result {
	signed, err := p.SignedFields.CanonicalBytes()
	if err != nil {
		return Result{Kind: MalformedPacket}
	}

	pub, ok := v.agentKey(p.AgentID)
	if !ok {
		return Result{Kind: InvalidSignature}
	}
	if !ed25519.Verify(pub, signed, p.Signature) {
		return Result{Kind: InvalidSignature}
	}

	var token Token
	if err := cbor.Unmarshal(p.CapabilityToken, &token); err != nil {
		return Result{Kind: MalformedPacket}
	}
	if err := verifyChain(token, v.cfg.RootPublicKey); err != nil {
		return Result{Kind: MalformedPacket}
	}

	if !effectivePermits(token, p.Topic, region, currentTime) {
		return Result{Kind: Unauthorized}
	}

	ts := time.UnixMilli(p.TimestampMs)
	if ts.Before(currentTime.Add(-v.cfg.MaxAdmissibleLatency)) {
		return Result{Kind: Expired}
	}
	if ts.After(currentTime.Add(v.cfg.ClockSkewTolerance)) {
		return Result{Kind: Future}
	}

	return Result{Kind: OK}
}

// effectivePermits reports whether every link in the chain permits the
// given (topic, region) tuple — the chain's effective authorization is the
// intersection of all its links, so an attenuation step that a holder
// skipped enforcing locally is still caught here.
func effectivePermits(t Token, topic, region string, at time.Time) bool {
	for _, p := range t.Policies {
		if !p.permits(topic, region, at) {
			return false
		}
	}
	return true
}

// Signer holds an emitting agent's own Ed25519 signing key and produces
// signed packets. Agents are collaborators; this lives in trust because
// it is the inverse operation of VerifyPacket and shares its canonical
// serialization.
type Signer struct {
	AgentID string
	private ed25519.PrivateKey
}

// NewSigner constructs a Signer for agentID from its private key.
func NewSigner(agentID string, priv ed25519.PrivateKey) *Signer {
	return &Signer{AgentID: agentID, private: priv}
}

// GenerateSigner creates a fresh Ed25519 keypair for agentID, returning
// the Signer and its public key (to be registered with a Verifier), for
// tests and collaborator bootstrapping.
func GenerateSigner(agentID string) (*Signer, ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, err
	}
	return NewSigner(agentID, priv), pub, nil
}

// Sign fills in p.Signature over p.SignedFields' canonical bytes.
func (s *Signer) Sign(p *wire.Packet) error {
	p.AgentID = s.AgentID
	signed, err := p.SignedFields.CanonicalBytes()
	if err != nil {
		return err
	}
	p.Signature = ed25519.Sign(s.private, signed)
	return nil
}

// PositionToGeodetic is a small convenience used by collaborators
// assembling packets from a geodesy.Geodetic value.
func PositionToGeodetic(p wire.SignedFields) geodesy.Geodetic {
	return geodesy.Geodetic{LatDeg: p.Position[0], LonDeg: p.Position[1], AltM: p.Position[2]}
}
