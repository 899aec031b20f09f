package bus

import (
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"gonum.org/v1/gonum/mat"

	"github.com/asgard/aegis/internal/geodesy"
	"github.com/asgard/aegis/internal/tracking"
)

func TestToSnapshotMessageFlattensCovariances(t *testing.T) {
	posCov := mat.NewSymDense(3, []float64{1, 0, 0, 0, 2, 0, 0, 0, 3})
	velCov := mat.NewSymDense(3, []float64{4, 0, 0, 0, 5, 0, 0, 0, 6})

	snap := tracking.Snapshot{
		CanonicalID:     "track-1",
		Position:        geodesy.Geodetic{LatDeg: 1, LonDeg: 2, AltM: 3},
		PositionCov:     posCov,
		Velocity:        [3]float64{1, 2, 3},
		VelocityCov:     velCov,
		Class:           "vehicle",
		LastUpdate:      time.Unix(1700000000, 0),
		ContributingIDs: []string{"a", "b"},
		AliasCount:      2,
	}

	msg := ToSnapshotMessage(snap)
	if msg.CanonicalID != "track-1" {
		t.Fatalf("expected canonical id track-1, got %s", msg.CanonicalID)
	}
	if msg.PositionCov[1][1] != 2 {
		t.Fatalf("expected position_cov[1][1] = 2, got %v", msg.PositionCov[1][1])
	}
	if msg.VelocityCov[2][2] != 6 {
		t.Fatalf("expected velocity_cov[2][2] = 6, got %v", msg.VelocityCov[2][2])
	}

	g := msg.Geodetic()
	if g.LatDeg != 1 || g.LonDeg != 2 || g.AltM != 3 {
		t.Fatalf("unexpected geodetic round-trip: %+v", g)
	}
}

func TestSnapshotMessageCanonicalRoundTrip(t *testing.T) {
	msgs := []SnapshotMessage{
		{CanonicalID: "t1", LatDeg: 10, LonDeg: 20, AltM: 5, AliasCount: 1},
	}
	data, err := snapshotCanonical.Marshal(msgs)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded []SnapshotMessage
	if err := cbor.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded) != 1 || decoded[0].CanonicalID != "t1" {
		t.Fatalf("round-trip mismatch: %+v", decoded)
	}
}
