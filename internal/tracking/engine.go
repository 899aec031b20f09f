package tracking

import (
	"log"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/asgard/aegis/internal/filter"
	"github.com/asgard/aegis/internal/geodesy"
	"github.com/asgard/aegis/internal/spatial"
)

// Outcome reports what Process did with an observation.
type Outcome int

const (
	Created Outcome = iota
	UpdatedOOSM
	UpdatedCI
	Dropped
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case UpdatedOOSM:
		return "updated_oosm"
	case UpdatedCI:
		return "updated_ci"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// RejectKind enumerates the Tracking-engine-phase drop reasons named in
// spec.md §7's error taxonomy (the admission-phase kinds live in
// internal/trust.Kind).
type RejectKind int

const (
	StaleObservation RejectKind = iota
	NonFiniteInput
	SingularInnovation
	TrackDivergence
)

func (k RejectKind) String() string {
	switch k {
	case StaleObservation:
		return "stale_observation"
	case NonFiniteInput:
		return "non_finite_input"
	case SingularInnovation:
		return "singular_innovation"
	case TrackDivergence:
		return "track_divergence"
	default:
		return "unknown"
	}
}

// Config configures the Tracking engine. FilterConfig is applied to every
// newly created track's Time engine; its StateDim must be 6 (position and
// velocity on three local axes).
type Config struct {
	FilterConfig filter.Config
	Space        spatial.Config

	// GateChiSquare is the Mahalanobis^2 acceptance threshold for
	// candidate association, evaluated against the 3-dof position
	// innovation. 7.815 is the 0.95-coverage chi-square critical value for
	// 3 degrees of freedom.
	GateChiSquare float64
	// SearchRadiusM bounds the Space-engine query issued to find
	// candidate tracks before Mahalanobis gating narrows them further.
	SearchRadiusM float64
	// RetirementThreshold is how long a track may go without an update
	// before RetirementSweep removes it.
	RetirementThreshold time.Duration
	// MaxAdmissibleLatency bounds how far obs.Time may trail the wall
	// clock at the moment Process is called. This is the Tracking-phase
	// staleness gate and is independent of FilterConfig.LagL, which only
	// bounds how far an observation may trail the filter's own head time
	// once it has matched a track.
	MaxAdmissibleLatency time.Duration

	// DefaultVelocityVarianceM2S2 seeds the velocity-block variance for a
	// newly created track when its founding observation carries no
	// velocity estimate.
	DefaultVelocityVarianceM2S2 float64
}

// DefaultConfig returns reasonable defaults for a 6-dimensional
// (position, velocity) constant-velocity filter, a one-second lag window
// split into ten 100ms slots, and a 95%-coverage 3-dof association gate.
func DefaultConfig() Config {
	const dt = 0.1
	n := 6
	f := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		f.Set(i, i, 1)
	}
	for i := 0; i < 3; i++ {
		f.Set(i, i+3, dt)
	}
	q := mat.NewSymDense(n, nil)
	for i := 0; i < 3; i++ {
		q.SetSym(i, i, 0.01)
		q.SetSym(i+3, i+3, 0.1)
	}

	return Config{
		FilterConfig: filter.Config{
			LagL:     10,
			StateDim: n,
			Dt:       dt,
			F:        f,
			Q:        q,
		},
		Space: spatial.Config{
			HexResolution:   9,
			AltitudeBucketM: 25,
		},
		GateChiSquare:               7.815,
		SearchRadiusM:               500,
		RetirementThreshold:         30 * time.Second,
		MaxAdmissibleLatency:        5 * time.Second,
		DefaultVelocityVarianceM2S2: 1000,
	}
}

// RejectionSink receives per-kind rejection telemetry and retired-track
// snapshots for offline audit; internal/platform/audit implements it
// against Postgres. A nil sink is a valid no-op configuration.
type RejectionSink interface {
	IncrementRejectionCount(kind RejectKind)
	RecordRetirement(tr *Track)
}

// Engine is the Tracking engine (C5): it owns the track table, the Space
// engine, and drives association, fusion dispatch, and identity merge for
// the admitted-observation stream. Per spec.md's shared-resource policy,
// the Space engine, track table, and every track's Time engine are owned
// exclusively by the Engine; no other component mutates them.
type Engine struct {
	mu sync.Mutex

	cfg   Config
	space *spatial.Index

	tracks     map[string]*Track // canonical ID -> track
	aliasIndex map[string]string // alias ID -> canonical ID

	rejections map[RejectKind]int64
	sink       RejectionSink
}

// New constructs an empty Tracking engine.
func New(cfg Config, sink RejectionSink) *Engine {
	return &Engine{
		cfg:        cfg,
		space:      spatial.New(cfg.Space),
		tracks:     make(map[string]*Track),
		aliasIndex: make(map[string]string),
		rejections: make(map[RejectKind]int64),
		sink:       sink,
	}
}

func toFilterTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func (e *Engine) count(kind RejectKind) {
	e.rejections[kind]++
	if e.sink != nil {
		e.sink.IncrementRejectionCount(kind)
	}
}

// Process routes an admitted observation to an existing track or creates a
// new one. now is the wall-clock time at which Process is called, used
// only for the staleness gate below; it is independent of obs.Time, which
// is the emitting agent's own clock. It must be called with the engine's
// single-writer discipline already enforced by the caller (e.g. one
// goroutine per shard of the canonical-identifier space).
func (e *Engine) Process(obs Observation, now time.Time) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	if lag := now.Sub(obs.Time); lag > e.cfg.MaxAdmissibleLatency {
		e.count(StaleObservation)
		return Dropped
	}

	if !observationFinite(obs) {
		e.count(NonFiniteInput)
		return Dropped
	}

	if canonical, ok := e.aliasIndex[obs.ID]; ok {
		// Re-delivery of an already-merged alias: treat as an update to
		// its existing track rather than a fresh association search.
		tr := e.tracks[canonical]
		return e.applyToTrack(tr, obs)
	}

	track, matched := e.associate(obs)
	if !matched {
		e.createTrack(obs)
		return Created
	}
	return e.applyToTrack(track, obs)
}

func observationFinite(obs Observation) bool {
	vals := []float64{obs.Position.LatDeg, obs.Position.LonDeg, obs.Position.AltM}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			vals = append(vals, obs.PositionCov[i][j])
		}
	}
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// associate finds the spatially-nearby track whose predicted state, at the
// observation's timestamp, has the smallest Mahalanobis distance to the
// observation among those within the gate.
func (e *Engine) associate(obs Observation) (*Track, bool) {
	candidateIDs := e.space.QueryRadius(obs.Position, e.cfg.SearchRadiusM)

	var best *Track
	bestDist := math.Inf(1)

	obsT := toFilterTime(obs.Time)
	for _, id := range candidateIDs {
		tr, ok := e.tracks[id]
		if !ok {
			continue
		}

		predState, predCov, err := tr.Filter.PredictTo(math.Max(obsT, tr.Filter.LatestTime()))
		if err != nil {
			continue
		}

		z := geodesy.ENUOffset(tr.Origin, obs.Position)
		dist, ok := mahalanobisPosition(z, obs.PositionCov, predState, predCov)
		if !ok {
			continue
		}
		if dist <= e.cfg.GateChiSquare && dist < bestDist {
			best = tr
			bestDist = dist
		}
	}

	return best, best != nil
}

// mahalanobisPosition computes the squared Mahalanobis distance between an
// observation's position (relative to the track's origin) and the track's
// predicted position, using the combined innovation covariance
// S = H*Ppred*H^T + R restricted to the 3-dimensional position block.
func mahalanobisPosition(z [3]float64, rMeas [3][3]float64, predState *mat.VecDense, predCov *mat.SymDense) (float64, bool) {
	innovation := mat.NewVecDense(3, []float64{
		z[0] - predState.AtVec(0),
		z[1] - predState.AtVec(1),
		z[2] - predState.AtVec(2),
	})

	s := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			s.Set(i, j, predCov.At(i, j)+rMeas[i][j])
		}
	}

	var sInv mat.Dense
	if err := sInv.Inverse(s); err != nil {
		return 0, false
	}

	var tmp mat.VecDense
	tmp.MulVec(&sInv, innovation)
	dist := mat.Dot(innovation, &tmp)
	return dist, true
}

// createTrack seeds a brand-new track from an observation that matched no
// existing candidate.
func (e *Engine) createTrack(obs Observation) *Track {
	n := e.cfg.FilterConfig.StateDim
	state := mat.NewVecDense(n, nil)
	cov := mat.NewSymDense(n, nil)

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			cov.SetSym(i, j, obs.PositionCov[i][j])
		}
	}
	if obs.HasVelocity {
		for i := 0; i < 3; i++ {
			state.SetVec(3+i, obs.Velocity[i])
			for j := 0; j < 3; j++ {
				cov.SetSym(3+i, 3+j, obs.VelocityCov[i][j])
			}
		}
	} else {
		for i := 0; i < 3; i++ {
			cov.SetSym(3+i, 3+i, e.cfg.DefaultVelocityVarianceM2S2)
		}
	}

	f := filter.New(e.cfg.FilterConfig, state, cov, toFilterTime(obs.Time))

	tr := &Track{
		CanonicalID:   obs.ID,
		Aliases:       map[string]struct{}{obs.ID: {}},
		Contributors:  map[string]struct{}{obs.AgentID: {}},
		Origin:        obs.Position,
		Filter:        f,
		LastOOSMAgent: obs.AgentID,
		Class:         obs.Class,
		Confidence:    obs.Confidence,
		LastUpdate:    obs.Time,
	}
	tr.Handle = e.space.Upsert(tr.CanonicalID, obs.Position)

	e.tracks[tr.CanonicalID] = tr
	e.aliasIndex[obs.ID] = tr.CanonicalID
	return tr
}

// applyToTrack dispatches obs into an already-matched track via OOSM (same
// emitting agent as the track's most recent OOSM contributor) or
// covariance intersection (any other agent), then performs the Highlander
// identity merge and re-indexes the track if its position moved.
func (e *Engine) applyToTrack(tr *Track, obs Observation) Outcome {
	var outcome Outcome
	if obs.AgentID == tr.LastOOSMAgent {
		if !e.updateOOSM(tr, obs) {
			return Dropped
		}
		outcome = UpdatedOOSM
	} else {
		if !e.updateCI(tr, obs) {
			return Dropped
		}
		outcome = UpdatedCI
	}

	tr.Contributors[obs.AgentID] = struct{}{}
	tr.LastUpdate = obs.Time
	if obs.Confidence > 0 {
		tr.Confidence = obs.Confidence
	}

	oldCanonical := tr.CanonicalID
	newCanonical := mergeAlias(tr.Aliases, obs.ID)
	e.aliasIndex[obs.ID] = oldCanonical

	if newCanonical != oldCanonical {
		delete(e.tracks, oldCanonical)
		tr.CanonicalID = newCanonical
		e.tracks[newCanonical] = tr
		for alias := range tr.Aliases {
			e.aliasIndex[alias] = newCanonical
		}
		e.space.Remove(oldCanonical)
		tr.Handle = e.space.Upsert(newCanonical, tr.Position())
	} else {
		tr.Handle = e.space.Upsert(tr.CanonicalID, tr.Position())
	}

	if !trackFinite(tr) {
		e.retire(tr, TrackDivergence)
		return Dropped
	}

	return outcome
}

func (e *Engine) updateOOSM(tr *Track, obs Observation) bool {
	dt := e.cfg.FilterConfig.Dt
	obsT := toFilterTime(obs.Time)

	if obsT > tr.Filter.LatestTime() {
		steps := int(math.Round((obsT - tr.Filter.LatestTime()) / dt))
		for i := 0; i < steps; i++ {
			tr.Filter.Predict(dt)
		}
	}

	lag := tr.Filter.LatestTime() - obsT
	lagIndex := int(math.Round(lag / dt))
	if lagIndex < 0 {
		lagIndex = 0
	}
	if lagIndex > e.cfg.FilterConfig.LagL {
		e.count(StaleObservation)
		return false
	}

	z := geodesy.ENUOffset(tr.Origin, obs.Position)
	hBase, zVec, rMeas := measurementModel(obs, z, e.cfg.FilterConfig.StateDim)

	err := tr.Filter.UpdateOOSM(zVec, hBase, rMeas, lagIndex)
	switch {
	case err == filter.ErrSingularInnovation:
		e.count(SingularInnovation)
		return false
	case err == filter.ErrNonFinite:
		e.count(NonFiniteInput)
		return false
	case err != nil:
		log.Printf("[tracking] unexpected OOSM error for track %s: %v", tr.CanonicalID, err)
		return false
	}
	tr.LastOOSMAgent = obs.AgentID
	return true
}

// updateCI fuses obs into the track's current estimate via covariance
// intersection rather than the Time engine's own OOSM path, since the
// observation originates from an agent whose correlation with the track's
// existing estimate is unknown. The fusion always commits at the filter's
// head time: if obs is newer, the filter catches up first; if obs is
// older, its measurement is treated as applying at the head, a documented
// approximation that keeps CI's single-shot pairwise form simple.
func (e *Engine) updateCI(tr *Track, obs Observation) bool {
	dt := e.cfg.FilterConfig.Dt
	obsT := toFilterTime(obs.Time)

	if obsT > tr.Filter.LatestTime() {
		steps := int(math.Round((obsT - tr.Filter.LatestTime()) / dt))
		for i := 0; i < steps; i++ {
			tr.Filter.Predict(dt)
		}
	}

	z := geodesy.ENUOffset(tr.Origin, obs.Position)
	obsMean := mat.NewVecDense(3, z[:])
	obsCov := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			obsCov.SetSym(i, j, obs.PositionCov[i][j])
		}
	}

	curState := tr.Filter.CurrentState()
	curPosMean := mat.NewVecDense(3, []float64{curState.AtVec(0), curState.AtVec(1), curState.AtVec(2)})
	curPosCov := tr.PositionCovariance()

	fusedMean, fusedCov, err := CovarianceIntersect(curPosMean, curPosCov, obsMean, obsCov)
	if err != nil {
		e.count(SingularInnovation)
		return false
	}

	full := tr.Filter.CurrentState()
	fullCov := tr.Filter.CurrentCovariance()
	n := e.cfg.FilterConfig.StateDim
	newState := mat.NewVecDense(n, nil)
	newCov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		newState.SetVec(i, full.AtVec(i))
		for j := 0; j < n; j++ {
			newCov.SetSym(i, j, fullCov.At(i, j))
		}
	}
	for i := 0; i < 3; i++ {
		newState.SetVec(i, fusedMean.AtVec(i))
		for j := 0; j < 3; j++ {
			newCov.SetSym(i, j, fusedCov.At(i, j))
		}
	}

	if err := tr.Filter.SetCurrent(newState, newCov); err != nil {
		e.count(NonFiniteInput)
		return false
	}
	return true
}

// measurementModel builds the H, z, R triple for an update: 3-dimensional
// (position only) unless the observation carries a velocity estimate, in
// which case the full n-dimensional state is observed directly.
func measurementModel(obs Observation, z [3]float64, n int) (hBase *mat.Dense, zVec *mat.VecDense, rMeas *mat.SymDense) {
	if !obs.HasVelocity {
		hBase = mat.NewDense(3, n, nil)
		for i := 0; i < 3; i++ {
			hBase.Set(i, i, 1)
		}
		zVec = mat.NewVecDense(3, z[:])
		rMeas = mat.NewSymDense(3, nil)
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				rMeas.SetSym(i, j, obs.PositionCov[i][j])
			}
		}
		return hBase, zVec, rMeas
	}

	hBase = mat.NewDense(6, n, nil)
	for i := 0; i < 6; i++ {
		hBase.Set(i, i, 1)
	}
	zVec = mat.NewVecDense(6, append(append([]float64{}, z[:]...), obs.Velocity[:]...))
	rMeas = mat.NewSymDense(6, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rMeas.SetSym(i, j, obs.PositionCov[i][j])
			rMeas.SetSym(3+i, 3+j, obs.VelocityCov[i][j])
		}
	}
	return hBase, zVec, rMeas
}

func trackFinite(tr *Track) bool {
	c := tr.Filter.CurrentCovariance()
	n := c.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := c.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// retire removes tr from the track table and Space engine, recording a
// last-state snapshot through the rejection sink if one is configured.
func (e *Engine) retire(tr *Track, reason RejectKind) {
	delete(e.tracks, tr.CanonicalID)
	for alias := range tr.Aliases {
		delete(e.aliasIndex, alias)
	}
	e.space.Remove(tr.CanonicalID)
	e.count(reason)
	if e.sink != nil {
		e.sink.RecordRetirement(tr)
	}
	log.Printf("[tracking] retired track %s: %s", tr.CanonicalID, reason)
}

// RetirementSweep removes every track whose last update predates now minus
// the configured retirement threshold.
func (e *Engine) RetirementSweep(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	var stale []*Track
	for _, tr := range e.tracks {
		if now.Sub(tr.LastUpdate) > e.cfg.RetirementThreshold {
			stale = append(stale, tr)
		}
	}
	for _, tr := range stale {
		delete(e.tracks, tr.CanonicalID)
		for alias := range tr.Aliases {
			delete(e.aliasIndex, alias)
		}
		e.space.Remove(tr.CanonicalID)
		if e.sink != nil {
			e.sink.RecordRetirement(tr)
		}
	}
	return len(stale)
}

// Snapshot is one track's externally-visible state, per spec.md §4.5's
// snapshot() output.
type Snapshot struct {
	CanonicalID     string
	Position        geodesy.Geodetic
	PositionCov     *mat.SymDense
	Velocity        [3]float64
	VelocityCov     *mat.SymDense
	Class           string
	LastUpdate      time.Time
	ContributingIDs []string
	AliasCount      int
}

// Snapshot returns an immutable view of every active track.
func (e *Engine) Snapshot() []Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Snapshot, 0, len(e.tracks))
	for _, tr := range e.tracks {
		contributors := make([]string, 0, len(tr.Contributors))
		for id := range tr.Contributors {
			contributors = append(contributors, id)
		}
		out = append(out, Snapshot{
			CanonicalID:     tr.CanonicalID,
			Position:        tr.Position(),
			PositionCov:     tr.PositionCovariance(),
			Velocity:        tr.Velocity(),
			VelocityCov:     tr.VelocityCovariance(),
			Class:           tr.Class,
			LastUpdate:      tr.LastUpdate,
			ContributingIDs: contributors,
			AliasCount:      tr.AliasCount(),
		})
	}
	return out
}

// RejectionCounts returns a snapshot of the tracking-phase rejection
// counters, keyed by kind string for easy export to metrics/logging.
func (e *Engine) RejectionCounts() map[string]int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]int64, len(e.rejections))
	for k, v := range e.rejections {
		out[k.String()] = v
	}
	return out
}

// Len returns the number of active tracks.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tracks)
}
