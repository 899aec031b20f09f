// Package wire defines the observation packet wire format shared between
// collaborators and the core engines, along with its canonical
// serialization for signing and verification.
package wire

import (
	"github.com/fxamacker/cbor/v2"
)

// AgentPose is the emitting sensor's own pose, carried for provenance only
// — spec.md is explicit that it is "not trusted for routing".
type AgentPose struct {
	LatDeg    float64 `cbor:"lat"`
	LonDeg    float64 `cbor:"lon"`
	AltM      float64 `cbor:"alt"`
	HeadingDeg float64 `cbor:"heading"`
}

// SignedFields holds every packet field that participates in the
// signature, in the fixed set spec.md §6 names. Signature itself is not
// part of SignedFields — it signs over SignedFields' canonical bytes.
// Topic is matched against a capability token's permitted topic patterns
// independently of the region argument passed to VerifyPacket, per
// spec.md §4.4's (topic, action, region, time) authorization tuple.
type SignedFields struct {
	ID              string      `cbor:"id"`
	AgentID         string      `cbor:"agent_id"`
	Topic           string      `cbor:"topic"`
	TimestampMs     int64       `cbor:"timestamp_ms"`
	Position        [3]float64  `cbor:"position"` // [lat, lon, alt]
	PositionCov     [3][3]float64 `cbor:"position_cov"`
	HasVelocity     bool        `cbor:"has_velocity"`
	Velocity        [3]float64  `cbor:"velocity"`
	VelocityCov     [3][3]float64 `cbor:"velocity_cov"`
	AgentPose       AgentPose   `cbor:"agent_pose"`
	Class           string      `cbor:"class"`
	Confidence      float64     `cbor:"confidence"`
	CapabilityToken []byte      `cbor:"capability_token"`
}

// Packet is a complete observation packet as received off the wire.
type Packet struct {
	SignedFields
	Signature []byte `cbor:"signature"`
}

var canonicalMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic("wire: invalid canonical cbor options: " + err.Error())
	}
	return mode
}()

// CanonicalBytes returns the deterministic serialization of f: canonical
// CBOR sorts map keys by their encoded byte representation and uses a
// fixed, shortest-form numeric encoding, so two calls over equal values
// always produce identical bytes regardless of construction order.
func (f SignedFields) CanonicalBytes() ([]byte, error) {
	return canonicalMode.Marshal(f)
}

// Encode serializes the full packet (including signature) for transport.
func Encode(p Packet) ([]byte, error) {
	return canonicalMode.Marshal(p)
}

// Decode parses a packet from transport bytes.
func Decode(data []byte) (Packet, error) {
	var p Packet
	err := cbor.Unmarshal(data, &p)
	return p, err
}
