package trust

import (
	"testing"
	"time"

	"github.com/asgard/aegis/pkg/wire"
)

func buildVerifier(t *testing.T) (*Verifier, *Authority, *Signer) {
	t.Helper()
	authority, err := GenerateAuthority()
	if err != nil {
		t.Fatalf("generate authority: %v", err)
	}
	signer, pub, err := GenerateSigner("agent-1")
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	v := NewVerifier(Config{
		RootPublicKey:        authority.PublicKey(),
		MaxAdmissibleLatency: 1 * time.Second,
		ClockSkewTolerance:   500 * time.Millisecond,
	})
	v.RegisterAgentKey("agent-1", pub)
	return v, authority, signer
}

// validPacket builds a packet whose embedded capability token permits
// policyTopic, with the packet itself declaring packetTopic as its own
// topic. Most callers pass the same value for both; TestUnauthorizedTopic
// diverges them to exercise S5.
func validPacket(t *testing.T, authority *Authority, signer *Signer, now time.Time, policyTopic, packetTopic string) wire.Packet {
	t.Helper()
	policy := Policy{
		Principal: "agent-1",
		Topics:    []string{policyTopic},
		Regions:   []string{"*"},
		NotBefore: now.Add(-time.Hour),
		NotAfter:  now.Add(time.Hour),
	}
	token := authority.IssueRootToken(policy)
	tokenBytes, err := tokenCanonical.Marshal(token)
	if err != nil {
		t.Fatalf("marshal token: %v", err)
	}

	p := wire.Packet{SignedFields: wire.SignedFields{
		ID:              "obs-1",
		Topic:           packetTopic,
		TimestampMs:     now.UnixMilli(),
		Position:        [3]float64{37.7, -122.4, 10},
		CapabilityToken: tokenBytes,
		Class:           "vehicle",
		Confidence:      0.9,
	}}
	if err := signer.Sign(&p); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return p
}

// TestSignatureRejection implements scenario S4: flip one bit in a valid
// packet's signed field and confirm admission rejects it.
func TestSignatureRejection(t *testing.T) {
	v, authority, signer := buildVerifier(t)
	now := time.Now()
	p := validPacket(t, authority, signer, now, "zone_A", "zone_A")

	p.Position[0] += 1e-9 // perturb a signed field without re-signing

	res := v.VerifyPacket(p, now, "global")
	if res.Kind != InvalidSignature {
		t.Fatalf("expected InvalidSignature, got %v", res.Kind)
	}
}

// TestUnauthorizedTopic implements scenario S5: a token valid for
// "zone_A" must not authorize an observation tagged "zone_B".
func TestUnauthorizedTopic(t *testing.T) {
	v, authority, signer := buildVerifier(t)
	now := time.Now()
	p := validPacket(t, authority, signer, now, "zone_A", "zone_B")

	res := v.VerifyPacket(p, now, "global")
	if res.Kind != Unauthorized {
		t.Fatalf("expected Unauthorized, got %v", res.Kind)
	}
}

// TestStaleObservation implements scenario S6: a packet timestamped 10s in
// the past with a 1s admissible-latency window must be rejected.
func TestStaleObservation(t *testing.T) {
	v, authority, signer := buildVerifier(t)
	now := time.Now()
	p := validPacket(t, authority, signer, now.Add(-10*time.Second), "zone_A", "zone_A")

	res := v.VerifyPacket(p, now, "global")
	if res.Kind != Expired {
		t.Fatalf("expected Expired, got %v", res.Kind)
	}
}

func TestFutureObservationRejected(t *testing.T) {
	v, authority, signer := buildVerifier(t)
	now := time.Now()
	p := validPacket(t, authority, signer, now.Add(10*time.Second), "zone_A", "zone_A")

	res := v.VerifyPacket(p, now, "global")
	if res.Kind != Future {
		t.Fatalf("expected Future, got %v", res.Kind)
	}
}

func TestValidPacketAdmitted(t *testing.T) {
	v, authority, signer := buildVerifier(t)
	now := time.Now()
	p := validPacket(t, authority, signer, now, "zone_A", "zone_A")

	res := v.VerifyPacket(p, now, "global")
	if res.Kind != OK {
		t.Fatalf("expected OK, got %v", res.Kind)
	}
}

func TestAttenuationNarrowsAuthorization(t *testing.T) {
	v, authority, signer := buildVerifier(t)
	now := time.Now()

	rootPolicy := Policy{
		Principal: "agent-1",
		Topics:    []string{"zone_*"},
		Regions:   []string{"*"},
		NotBefore: now.Add(-time.Hour),
		NotAfter:  now.Add(time.Hour),
	}
	root := authority.IssueRootToken(rootPolicy)

	narrower := Policy{
		Principal: "agent-1",
		Topics:    []string{"zone_A"},
		Regions:   []string{"*"},
		NotBefore: now.Add(-time.Hour),
		NotAfter:  now.Add(time.Hour),
	}
	attenuated, err := Attenuate(root, narrower)
	if err != nil {
		t.Fatalf("attenuate: %v", err)
	}
	tokenBytes, _ := tokenCanonical.Marshal(attenuated)

	buildPacket := func(id, topic string) wire.Packet {
		p := wire.Packet{SignedFields: wire.SignedFields{
			ID:              id,
			Topic:           topic,
			TimestampMs:     now.UnixMilli(),
			Position:        [3]float64{1, 2, 3},
			CapabilityToken: tokenBytes,
		}}
		signer.Sign(&p)
		return p
	}

	if res := v.VerifyPacket(buildPacket("obs-2a", "zone_A"), now, "global"); res.Kind != OK {
		t.Fatalf("expected attenuated token to authorize zone_A, got %v", res.Kind)
	}
	if res := v.VerifyPacket(buildPacket("obs-2b", "zone_B"), now, "global"); res.Kind != Unauthorized {
		t.Fatalf("expected attenuated token to no longer authorize zone_B, got %v", res.Kind)
	}
}

func TestAttenuateRejectsBroadening(t *testing.T) {
	authority, _ := GenerateAuthority()
	now := time.Now()
	root := authority.IssueRootToken(Policy{
		Topics:    []string{"zone_A"},
		Regions:   []string{"*"},
		NotBefore: now.Add(-time.Hour),
		NotAfter:  now.Add(time.Hour),
	})

	_, err := Attenuate(root, Policy{
		Topics:    []string{"zone_A", "zone_B"},
		Regions:   []string{"*"},
		NotBefore: now.Add(-time.Hour),
		NotAfter:  now.Add(time.Hour),
	})
	if err != ErrNotAnAttenuation {
		t.Fatalf("expected ErrNotAnAttenuation, got %v", err)
	}
}

func TestMalformedTokenBytesRejected(t *testing.T) {
	v, _, signer := buildVerifier(t)
	now := time.Now()
	p := wire.Packet{SignedFields: wire.SignedFields{
		ID:              "obs-3",
		TimestampMs:     now.UnixMilli(),
		CapabilityToken: []byte("not a token"),
	}}
	signer.Sign(&p)

	if res := v.VerifyPacket(p, now, "global"); res.Kind != MalformedPacket {
		t.Fatalf("expected MalformedPacket, got %v", res.Kind)
	}
}

func TestUnknownAgentRejected(t *testing.T) {
	v, authority, _ := buildVerifier(t)
	now := time.Now()
	stranger, _, _ := GenerateSigner("agent-unknown")
	p := validPacket(t, authority, stranger, now, "zone_A", "zone_A")

	if res := v.VerifyPacket(p, now, "global"); res.Kind != InvalidSignature {
		t.Fatalf("expected InvalidSignature for unregistered agent, got %v", res.Kind)
	}
}
