package tracking

import (
	"math"
	"testing"
	"time"

	"github.com/asgard/aegis/internal/geodesy"
)

func testEngine() *Engine {
	return New(DefaultConfig(), nil)
}

func baseObservation(id, agentID string, t time.Time, pos geodesy.Geodetic) Observation {
	return Observation{
		ID:      id,
		AgentID: agentID,
		Time:    t,
		Position: pos,
		PositionCov: [3][3]float64{
			{4, 0, 0},
			{0, 4, 0},
			{0, 0, 4},
		},
		Class:      "vehicle",
		Confidence: 0.9,
	}
}

func TestCreateTrackFromFirstObservation(t *testing.T) {
	e := testEngine()
	now := time.Now()
	pos := geodesy.Geodetic{LatDeg: 37.7749, LonDeg: -122.4194, AltM: 10}

	outcome := e.Process(baseObservation("obs-1", "agent-a", now, pos), now)
	if outcome != Created {
		t.Fatalf("expected Created, got %v", outcome)
	}
	if e.Len() != 1 {
		t.Fatalf("expected 1 active track, got %d", e.Len())
	}
}

// TestSameAgentUpdatesViaOOSM implements scenario S1's dispatch rule: a
// second observation from the same agent a few hundred milliseconds later
// should associate and update via OOSM, not create a second track.
func TestSameAgentUpdatesViaOOSM(t *testing.T) {
	e := testEngine()
	now := time.Now()
	pos := geodesy.Geodetic{LatDeg: 37.7749, LonDeg: -122.4194, AltM: 10}

	e.Process(baseObservation("obs-1", "agent-a", now, pos), now)

	pos2 := geodesy.Geodetic{LatDeg: 37.77491, LonDeg: -122.4194, AltM: 10}
	now2 := now.Add(300 * time.Millisecond)
	outcome := e.Process(baseObservation("obs-2", "agent-a", now2, pos2), now2)

	if outcome != UpdatedOOSM {
		t.Fatalf("expected UpdatedOOSM, got %v", outcome)
	}
	if e.Len() != 1 {
		t.Fatalf("expected the two observations to merge into one track, got %d", e.Len())
	}
}

// TestDifferentAgentUpdatesViaCI covers the cross-agent dispatch rule: a
// second observation from a different agent, spatially co-located, is
// fused via covariance intersection rather than OOSM.
func TestDifferentAgentUpdatesViaCI(t *testing.T) {
	e := testEngine()
	now := time.Now()
	pos := geodesy.Geodetic{LatDeg: 37.7749, LonDeg: -122.4194, AltM: 10}

	e.Process(baseObservation("obs-1", "agent-a", now, pos), now)

	now2 := now.Add(100 * time.Millisecond)
	outcome := e.Process(baseObservation("obs-2", "agent-b", now2, pos), now2)
	if outcome != UpdatedCI {
		t.Fatalf("expected UpdatedCI, got %v", outcome)
	}
	if e.Len() != 1 {
		t.Fatalf("expected one fused track, got %d", e.Len())
	}
}

// TestHighlanderConvergence implements scenario S3: three agents
// independently observe the same physical point within 2m position noise
// and submit observations "obs-z", "obs-m", "obs-a" in that order. After
// all three are processed, the canonical identifier must be "obs-a" and
// the alias set {"obs-a","obs-m","obs-z"}.
func TestHighlanderConvergence(t *testing.T) {
	e := testEngine()
	now := time.Now()
	pos := geodesy.Geodetic{LatDeg: 37.7749, LonDeg: -122.4194, AltM: 10}

	outcome := e.Process(baseObservation("obs-z", "agent-z", now, pos), now)
	if outcome != Created {
		t.Fatalf("expected Created for obs-z, got %v", outcome)
	}
	now1 := now.Add(100 * time.Millisecond)
	e.Process(baseObservation("obs-m", "agent-m", now1, pos), now1)
	now2 := now.Add(200 * time.Millisecond)
	e.Process(baseObservation("obs-a", "agent-a", now2, pos), now2)

	snaps := e.Snapshot()
	if len(snaps) != 1 {
		t.Fatalf("expected exactly one fused track, got %d", len(snaps))
	}
	got := snaps[0]
	if got.CanonicalID != "obs-a" {
		t.Fatalf("expected canonical id obs-a, got %s", got.CanonicalID)
	}
	if got.AliasCount != 3 {
		t.Fatalf("expected alias count 3, got %d", got.AliasCount)
	}
}

// TestHighlanderConvergenceOrderIndependent checks CRDT commutativity
// (spec.md's testable property 5): the same three observations processed
// in reverse order converge to the same canonical identifier and alias
// count.
func TestHighlanderConvergenceOrderIndependent(t *testing.T) {
	e := testEngine()
	now := time.Now()
	pos := geodesy.Geodetic{LatDeg: 10, LonDeg: 20, AltM: 0}

	e.Process(baseObservation("obs-a", "agent-a", now, pos), now)
	now1 := now.Add(100 * time.Millisecond)
	e.Process(baseObservation("obs-m", "agent-m", now1, pos), now1)
	now2 := now.Add(200 * time.Millisecond)
	e.Process(baseObservation("obs-z", "agent-z", now2, pos), now2)

	snaps := e.Snapshot()
	if len(snaps) != 1 {
		t.Fatalf("expected exactly one fused track, got %d", len(snaps))
	}
	if snaps[0].CanonicalID != "obs-a" {
		t.Fatalf("expected canonical id obs-a regardless of arrival order, got %s", snaps[0].CanonicalID)
	}
	if snaps[0].AliasCount != 3 {
		t.Fatalf("expected alias count 3, got %d", snaps[0].AliasCount)
	}
}

func TestDistantObservationCreatesSeparateTrack(t *testing.T) {
	e := testEngine()
	now := time.Now()
	pos := geodesy.Geodetic{LatDeg: 37.7749, LonDeg: -122.4194, AltM: 10}
	farPos := geodesy.Geodetic{LatDeg: 38.5, LonDeg: -121.0, AltM: 10}

	e.Process(baseObservation("obs-1", "agent-a", now, pos), now)
	outcome := e.Process(baseObservation("obs-2", "agent-b", now, farPos), now)

	if outcome != Created {
		t.Fatalf("expected a far-away observation to create a new track, got %v", outcome)
	}
	if e.Len() != 2 {
		t.Fatalf("expected two separate tracks, got %d", e.Len())
	}
}

func TestNonFiniteObservationDropped(t *testing.T) {
	e := testEngine()
	now := time.Now()
	obs := baseObservation("obs-1", "agent-a", now, geodesy.Geodetic{LatDeg: 1, LonDeg: 1, AltM: 1})
	obs.Position.AltM = math.NaN()

	if outcome := e.Process(obs, now); outcome != Dropped {
		t.Fatalf("expected Dropped for non-finite observation, got %v", outcome)
	}
	if counts := e.RejectionCounts(); counts["non_finite_input"] != 1 {
		t.Fatalf("expected non_finite_input counter at 1, got %v", counts)
	}
}

// TestStaleObservationDroppedBeforeAssociation implements scenario S6:
// with MaxAdmissibleLatency = 1s, a fresh observation timestamped 10s in
// the past must be dropped as StaleObservation before it ever reaches
// association, and must not create a track.
func TestStaleObservationDroppedBeforeAssociation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAdmissibleLatency = 1 * time.Second
	e := New(cfg, nil)

	now := time.Now()
	obs := baseObservation("obs-1", "agent-a", now.Add(-10*time.Second), geodesy.Geodetic{LatDeg: 1, LonDeg: 1, AltM: 1})

	if outcome := e.Process(obs, now); outcome != Dropped {
		t.Fatalf("expected Dropped for a stale observation, got %v", outcome)
	}
	if counts := e.RejectionCounts(); counts["stale_observation"] != 1 {
		t.Fatalf("expected stale_observation counter at 1, got %v", counts)
	}
	if e.Len() != 0 {
		t.Fatalf("expected no track created from a stale observation, got %d", e.Len())
	}
}

func TestRetirementSweepRemovesStaleTrack(t *testing.T) {
	e := testEngine()
	now := time.Now()
	pos := geodesy.Geodetic{LatDeg: 1, LonDeg: 1, AltM: 1}
	e.Process(baseObservation("obs-1", "agent-a", now, pos), now)

	removed := e.RetirementSweep(now.Add(60 * time.Second))
	if removed != 1 {
		t.Fatalf("expected 1 track retired, got %d", removed)
	}
	if e.Len() != 0 {
		t.Fatalf("expected no active tracks after retirement, got %d", e.Len())
	}
}
