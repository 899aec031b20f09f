// Package filter implements the Time engine: an augmented-state extended
// Kalman filter (AS-EKF) that accepts out-of-sequence measurements (OOSM)
// by carrying a bounded window of lagged states inside one covariance
// matrix, instead of rewinding and replaying history.
package filter

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrSingularInnovation is returned when the innovation covariance S
	// cannot be inverted. The update is rejected; the filter is unchanged.
	ErrSingularInnovation = errors.New("filter: singular innovation covariance")
	// ErrLagOutOfRange is returned when lagIndex falls outside [0, L].
	ErrLagOutOfRange = errors.New("filter: lag index out of range")
	// ErrNonFinite is returned when a measurement, covariance, or state
	// contains a NaN or Inf value.
	ErrNonFinite = errors.New("filter: non-finite input")
)

// Config configures an AugmentedEKF at construction.
type Config struct {
	// LagL is the number of lagged states carried alongside the current
	// state (L >= 0). The augmented state dimension is StateDim*(L+1).
	LagL int
	// StateDim is the base physical state dimension n (e.g. 9 for
	// position, velocity, acceleration in three axes).
	StateDim int
	// Dt is the nominal per-step time interval used by F and by
	// PredictTo's repeated-predict projection.
	Dt float64
	// F is the n x n per-timestep state transition matrix.
	F *mat.Dense
	// Q is the n x n process noise covariance, injected only into the
	// current (non-lagged) block on each predict.
	Q *mat.SymDense
}

// AugmentedEKF is a single track's Time-engine instance: it owns the
// current estimate plus LagL historical copies in one augmented state and
// covariance, enabling O(1)-structure OOSM updates.
type AugmentedEKF struct {
	cfg Config

	n      int
	augDim int

	state *mat.VecDense   // augDim x 1
	cov   *mat.SymDense   // augDim x augDim

	latestTime float64 // wall/measurement time of the current (block 0) state
}

// New constructs an AugmentedEKF seeded with an initial base state and
// covariance, replicated across all lag slots (they start fully correlated
// since they all represent the same initial estimate).
func New(cfg Config, initialState *mat.VecDense, initialCov *mat.SymDense, initialTime float64) *AugmentedEKF {
	n := cfg.StateDim
	l := cfg.LagL
	augDim := n * (l + 1)

	augState := mat.NewVecDense(augDim, nil)
	for block := 0; block <= l; block++ {
		for i := 0; i < n; i++ {
			augState.SetVec(block*n+i, initialState.AtVec(i))
		}
	}

	augCov := mat.NewSymDense(augDim, nil)
	for bi := 0; bi <= l; bi++ {
		for bj := 0; bj <= l; bj++ {
			for i := 0; i < n; i++ {
				for j := 0; j < n; j++ {
					augCov.SetSym(bi*n+i, bj*n+j, initialCov.At(i, j))
				}
			}
		}
	}

	return &AugmentedEKF{
		cfg:        cfg,
		n:          n,
		augDim:     augDim,
		state:      augState,
		cov:        augCov,
		latestTime: initialTime,
	}
}

// buildFAug constructs the augmented transition matrix: F in the top-left
// n x n block, identity on the lag-copy sub-diagonal, zero elsewhere.
func (f *AugmentedEKF) buildFAug() *mat.Dense {
	n := f.n
	fAug := mat.NewDense(f.augDim, f.augDim, nil)

	fAug.Slice(0, n, 0, n).(*mat.Dense).Copy(f.cfg.F)

	for block := 1; block <= f.cfg.LagL; block++ {
		for i := 0; i < n; i++ {
			fAug.Set(block*n+i, (block-1)*n+i, 1.0)
		}
	}
	return fAug
}

// Predict shifts the augmented state one slot to the right (dropping the
// oldest lag), advances the current block by F, and propagates the
// augmented covariance as F_aug * P * F_aug^T + Q_aug.
func (f *AugmentedEKF) Predict(dt float64) error {
	newState, newCov := f.predictInto(f.state, f.cov)
	f.state = newState
	f.cov = newCov
	f.latestTime += dt
	return nil
}

// predictInto computes one predict step without mutating receiver state,
// so PredictTo can run scratch projections for gating.
func (f *AugmentedEKF) predictInto(state *mat.VecDense, cov *mat.SymDense) (*mat.VecDense, *mat.SymDense) {
	fAug := f.buildFAug()

	var newState mat.VecDense
	newState.MulVec(fAug, state)

	var temp mat.Dense
	temp.Mul(fAug, cov)

	var fAugT mat.Dense
	fAugT.CloneFrom(fAug.T())

	var predictedCov mat.Dense
	predictedCov.Mul(&temp, &fAugT)

	n := f.n
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			predictedCov.Set(i, j, predictedCov.At(i, j)+f.cfg.Q.At(i, j))
		}
	}

	return &newState, symmetrize(&predictedCov, f.augDim)
}

// PredictTo projects the current estimate forward to tTarget by repeated
// predict(dt) without committing any change to the filter's own state;
// this is the scratch prediction the Tracking engine uses for gating.
// It returns an error only if tTarget precedes the filter's current head.
func (f *AugmentedEKF) PredictTo(tTarget float64) (*mat.VecDense, *mat.SymDense, error) {
	if tTarget < f.latestTime {
		return nil, nil, errors.New("filter: predict_to target precedes filter head")
	}

	steps := int(math.Round((tTarget - f.latestTime) / f.cfg.Dt))
	state := f.state
	cov := f.cov
	for i := 0; i < steps; i++ {
		state, cov = f.predictInto(state, cov)
	}

	topState := mat.NewVecDense(f.n, nil)
	for i := 0; i < f.n; i++ {
		topState.SetVec(i, state.AtVec(i))
	}
	topCov := mat.NewSymDense(f.n, nil)
	for i := 0; i < f.n; i++ {
		for j := 0; j < f.n; j++ {
			topCov.SetSym(i, j, cov.At(i, j))
		}
	}
	return topState, topCov, nil
}

// UpdateOOSM applies an out-of-sequence measurement at the given lag
// index. hBase maps the base n-dim state to the measurement space
// (zDim x n); lagIndex selects which augmented block the measurement maps
// into. Joseph-form covariance update is mandatory: it preserves symmetry
// and positive-definiteness under finite-precision arithmetic.
func (f *AugmentedEKF) UpdateOOSM(z *mat.VecDense, hBase *mat.Dense, rMeas *mat.SymDense, lagIndex int) error {
	if lagIndex < 0 || lagIndex > f.cfg.LagL {
		return ErrLagOutOfRange
	}
	if !finite(z) || !finiteSym(rMeas) {
		return ErrNonFinite
	}

	zDim, _ := z.Dims()
	hAug := mat.NewDense(zDim, f.augDim, nil)
	hAug.Slice(0, zDim, lagIndex*f.n, (lagIndex+1)*f.n).(*mat.Dense).Copy(hBase)

	var expected mat.VecDense
	expected.MulVec(hAug, f.state)

	innovation := mat.NewVecDense(zDim, nil)
	for i := 0; i < zDim; i++ {
		innovation.SetVec(i, z.AtVec(i)-expected.AtVec(i))
	}

	var temp mat.Dense
	temp.Mul(hAug, f.cov)

	var hAugT mat.Dense
	hAugT.CloneFrom(hAug.T())

	var s mat.Dense
	s.Mul(&temp, &hAugT)
	for i := 0; i < zDim; i++ {
		for j := 0; j < zDim; j++ {
			s.Set(i, j, s.At(i, j)+rMeas.At(i, j))
		}
	}

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return ErrSingularInnovation
	}

	var pht mat.Dense
	pht.Mul(f.cov, &hAugT)
	var k mat.Dense
	k.Mul(&pht, &sInv)

	var correction mat.VecDense
	correction.MulVec(&k, innovation)

	var newState mat.VecDense
	newState.AddVec(f.state, &correction)

	var kh mat.Dense
	kh.Mul(&k, hAug)

	ident := identity(f.augDim)
	var imKH mat.Dense
	imKH.Sub(ident, &kh)

	var imKHT mat.Dense
	imKHT.CloneFrom(imKH.T())

	var term1 mat.Dense
	term1.Mul(&imKH, f.cov)
	var term1Full mat.Dense
	term1Full.Mul(&term1, &imKHT)

	var kr mat.Dense
	kr.Mul(&k, rMeas)
	var kT mat.Dense
	kT.CloneFrom(k.T())
	var term2 mat.Dense
	term2.Mul(&kr, &kT)

	var newCovDense mat.Dense
	newCovDense.Add(&term1Full, &term2)

	f.state = &newState
	f.cov = symmetrize(&newCovDense, f.augDim)
	return nil
}

// SetCurrent overwrites the current (non-lagged) block of the augmented
// state and covariance, leaving the lag blocks and their cross-covariance
// with the current block untouched. The Tracking engine uses this to
// commit a covariance-intersection fusion result, which by construction
// (unknown cross-correlation between independently-maintained estimates)
// has no principled way to update the lag blocks anyway.
func (f *AugmentedEKF) SetCurrent(state *mat.VecDense, cov *mat.SymDense) error {
	if !finite(state) || !finiteSym(cov) {
		return ErrNonFinite
	}
	for i := 0; i < f.n; i++ {
		f.state.SetVec(i, state.AtVec(i))
	}
	for i := 0; i < f.n; i++ {
		for j := 0; j < f.n; j++ {
			f.cov.SetSym(i, j, cov.At(i, j))
		}
	}
	return nil
}

// CurrentState returns the top (non-lagged) block of the augmented state.
func (f *AugmentedEKF) CurrentState() *mat.VecDense {
	s := mat.NewVecDense(f.n, nil)
	for i := 0; i < f.n; i++ {
		s.SetVec(i, f.state.AtVec(i))
	}
	return s
}

// CurrentCovariance returns the top-left n x n block of the augmented
// covariance.
func (f *AugmentedEKF) CurrentCovariance() *mat.SymDense {
	c := mat.NewSymDense(f.n, nil)
	for i := 0; i < f.n; i++ {
		for j := 0; j < f.n; j++ {
			c.SetSym(i, j, f.cov.At(i, j))
		}
	}
	return c
}

// LatestTime returns the time associated with the current (non-lagged)
// block.
func (f *AugmentedEKF) LatestTime() float64 {
	return f.latestTime
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1.0)
	}
	return m
}

// symmetrize forces exact symmetry on a covariance matrix, guarding
// against asymmetry introduced by floating-point rounding, and returns it
// as a SymDense.
func symmetrize(m *mat.Dense, n int) *mat.SymDense {
	data := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := (m.At(i, j) + m.At(j, i)) / 2
			data[i*n+j] = v
			data[j*n+i] = v
		}
	}
	return mat.NewSymDense(n, data)
}

func finite(v *mat.VecDense) bool {
	n, _ := v.Dims()
	for i := 0; i < n; i++ {
		f := v.AtVec(i)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

func finiteSym(m *mat.SymDense) bool {
	n := m.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			f := m.At(i, j)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return false
			}
		}
	}
	return true
}
