package tracking

import (
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/asgard/aegis/internal/filter"
	"github.com/asgard/aegis/internal/geodesy"
	"github.com/asgard/aegis/internal/spatial"
)

// Track is one fused world-state entity: a canonical identifier, its
// grow-only alias set (the Highlander CRDT's state), and the Time-engine
// instance that owns its estimate. The spatial Handle is stored on the
// track so drift against the Space engine's authoritative state can be
// detected and repaired (internal/spatial.Index.Verify), per spec.md's
// invariant that cyclic track/filter/handle references are avoided by
// storing identifiers, not pointers, in the Space engine.
type Track struct {
	CanonicalID  string
	Aliases      map[string]struct{}
	Contributors map[string]struct{}

	// Origin anchors this track's local East-North-Up frame; it is fixed
	// at creation time and never moves, so the filter's state vector is a
	// stable Cartesian frame even though the track itself drifts within it.
	Origin geodesy.Geodetic
	Filter *filter.AugmentedEKF

	// LastOOSMAgent is the emitting agent whose observation most recently
	// advanced this track via OOSM (as opposed to covariance intersection).
	// A subsequent observation from the same agent continues that OOSM
	// lineage; an observation from any other agent is fused via CI.
	LastOOSMAgent string

	Class      string
	Confidence float64
	LastUpdate time.Time
	Handle     spatial.Handle
}

// Position returns the track's current position in geodetic coordinates,
// reconstituted from the filter's local ENU state.
func (tr *Track) Position() geodesy.Geodetic {
	s := tr.Filter.CurrentState()
	return geodesy.LocalOffsetToWGS84(tr.Origin, [3]float64{s.AtVec(0), s.AtVec(1), s.AtVec(2)}, 0)
}

// Velocity returns the track's current East-North-Up velocity in m/s.
func (tr *Track) Velocity() [3]float64 {
	s := tr.Filter.CurrentState()
	return [3]float64{s.AtVec(3), s.AtVec(4), s.AtVec(5)}
}

// PositionCovariance returns the 3x3 position block of the current
// covariance, in the track's local ENU meters frame.
func (tr *Track) PositionCovariance() *mat.SymDense {
	c := tr.Filter.CurrentCovariance()
	return subSym(c, 0, 3)
}

// VelocityCovariance returns the 3x3 velocity block of the current
// covariance, in the track's local ENU meters/second frame.
func (tr *Track) VelocityCovariance() *mat.SymDense {
	c := tr.Filter.CurrentCovariance()
	return subSym(c, 3, 3)
}

func subSym(m *mat.SymDense, offset, size int) *mat.SymDense {
	out := mat.NewSymDense(size, nil)
	for i := 0; i < size; i++ {
		for j := 0; j < size; j++ {
			out.SetSym(i, j, m.At(offset+i, offset+j))
		}
	}
	return out
}

// AliasCount reports the current cardinality of the alias set.
func (tr *Track) AliasCount() int {
	return len(tr.Aliases)
}
