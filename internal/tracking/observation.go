// Package tracking implements the Tracking engine (C5): data association,
// covariance-intersection fusion across agents, and deterministic identity
// merging over the admitted-observation stream.
package tracking

import (
	"time"

	"github.com/asgard/aegis/internal/geodesy"
)

// Observation is an admitted packet, digested into the form the Tracking
// engine operates on: geodetic position plus its covariance, expressed in
// meters on the local East-North-Up axes, an optional velocity, and the
// provenance needed for OOSM/CI dispatch and identity merge.
type Observation struct {
	ID          string
	AgentID     string
	Time        time.Time
	Position    geodesy.Geodetic
	PositionCov [3][3]float64

	HasVelocity bool
	Velocity    [3]float64
	VelocityCov [3][3]float64

	Class      string
	Confidence float64
}
