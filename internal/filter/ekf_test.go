package filter

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// newConstVelConfig builds a 1D constant-velocity (position, velocity)
// filter config with the given step and lag window, mirroring the
// production Tracking engine's per-track filter construction.
func newConstVelConfig(dt float64, lagL int) Config {
	f := mat.NewDense(2, 2, []float64{
		1, dt,
		0, 1,
	})
	q := mat.NewSymDense(2, []float64{
		1e-6, 0,
		0, 1e-6,
	})
	return Config{LagL: lagL, StateDim: 2, Dt: dt, F: f, Q: q}
}

func posH() *mat.Dense {
	return mat.NewDense(1, 2, []float64{1, 0})
}

func measNoise(sigma float64) *mat.SymDense {
	return mat.NewSymDense(1, []float64{sigma * sigma})
}

// TestOOSMConsistency implements scenario S1: three position measurements
// z(0.0)=0, z(0.2)=0.2, z(0.4)=0.4 arriving in the order z0.0, z0.4, z0.2
// (the middle one late). The final estimate must land near 0.4, and the
// final covariance must not be dramatically worse than processing the same
// three measurements in chronological order.
func TestOOSMConsistency(t *testing.T) {
	dt := 0.2
	initState := mat.NewVecDense(2, []float64{0, 0})
	initCov := mat.NewSymDense(2, []float64{1, 0, 0, 1})

	runOutOfOrder := func() (*mat.VecDense, *mat.SymDense) {
		f := New(newConstVelConfig(dt, 2), initState, initCov, 0.0)

		if err := f.UpdateOOSM(mat.NewVecDense(1, []float64{0.0}), posH(), measNoise(0.05), 0); err != nil {
			t.Fatalf("z(0.0) update failed: %v", err)
		}
		if err := f.Predict(dt); err != nil {
			t.Fatalf("predict 1 failed: %v", err)
		}
		if err := f.Predict(dt); err != nil {
			t.Fatalf("predict 2 failed: %v", err)
		}
		// z(0.4) arrives first, at the current (lag 0) slot.
		if err := f.UpdateOOSM(mat.NewVecDense(1, []float64{0.4}), posH(), measNoise(0.05), 0); err != nil {
			t.Fatalf("z(0.4) update failed: %v", err)
		}
		// z(0.2) arrives late, at lag slot 1 (one step behind current).
		if err := f.UpdateOOSM(mat.NewVecDense(1, []float64{0.2}), posH(), measNoise(0.05), 1); err != nil {
			t.Fatalf("z(0.2) update failed: %v", err)
		}
		return f.CurrentState(), f.CurrentCovariance()
	}

	runInOrder := func() (*mat.VecDense, *mat.SymDense) {
		f := New(newConstVelConfig(dt, 2), initState, initCov, 0.0)
		if err := f.UpdateOOSM(mat.NewVecDense(1, []float64{0.0}), posH(), measNoise(0.05), 0); err != nil {
			t.Fatalf("z(0.0) update failed: %v", err)
		}
		f.Predict(dt)
		if err := f.UpdateOOSM(mat.NewVecDense(1, []float64{0.2}), posH(), measNoise(0.05), 0); err != nil {
			t.Fatalf("z(0.2) in-order update failed: %v", err)
		}
		f.Predict(dt)
		if err := f.UpdateOOSM(mat.NewVecDense(1, []float64{0.4}), posH(), measNoise(0.05), 0); err != nil {
			t.Fatalf("z(0.4) in-order update failed: %v", err)
		}
		return f.CurrentState(), f.CurrentCovariance()
	}

	oosmState, oosmCov := runOutOfOrder()
	orderedState, orderedCov := runInOrder()

	if got := math.Abs(oosmState.AtVec(0) - 0.4); got > 0.05 {
		t.Fatalf("OOSM final position off by %v, want <= 0.05", got)
	}

	oosmDet := mat.Det(oosmCov)
	orderedDet := mat.Det(orderedCov)
	if oosmDet > orderedDet*1.10 {
		t.Fatalf("OOSM covariance determinant %v more than 10%% worse than in-order %v", oosmDet, orderedDet)
	}
}

func TestUpdateOOSMRejectsOutOfRangeLag(t *testing.T) {
	f := New(newConstVelConfig(0.2, 2), mat.NewVecDense(2, nil), mat.NewSymDense(2, []float64{1, 0, 0, 1}), 0)
	err := f.UpdateOOSM(mat.NewVecDense(1, []float64{1}), posH(), measNoise(0.1), 3)
	if err != ErrLagOutOfRange {
		t.Fatalf("expected ErrLagOutOfRange, got %v", err)
	}
}

func TestUpdateOOSMRejectsNonFinite(t *testing.T) {
	f := New(newConstVelConfig(0.2, 2), mat.NewVecDense(2, nil), mat.NewSymDense(2, []float64{1, 0, 0, 1}), 0)
	err := f.UpdateOOSM(mat.NewVecDense(1, []float64{math.NaN()}), posH(), measNoise(0.1), 0)
	if err != ErrNonFinite {
		t.Fatalf("expected ErrNonFinite, got %v", err)
	}
}

func TestCovarianceStaysSymmetricAndPSD(t *testing.T) {
	f := New(newConstVelConfig(0.1, 4), mat.NewVecDense(2, nil), mat.NewSymDense(2, []float64{1, 0, 0, 1}), 0)

	for i := 0; i < 20; i++ {
		f.Predict(0.1)
		lag := i % 5
		if lag > 4 {
			lag = 4
		}
		_ = f.UpdateOOSM(mat.NewVecDense(1, []float64{float64(i) * 0.01}), posH(), measNoise(0.05), lag)
	}

	cov := f.CurrentCovariance()
	n := cov.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if math.Abs(cov.At(i, j)-cov.At(j, i)) > 1e-9 {
				t.Fatalf("covariance not symmetric at (%d,%d): %v vs %v", i, j, cov.At(i, j), cov.At(j, i))
			}
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(cov, false); !ok {
		t.Fatalf("eigendecomposition failed")
	}
	for _, v := range eig.Values(nil) {
		if v < -1e-9 {
			t.Fatalf("covariance has negative eigenvalue %v, not PSD", v)
		}
	}
}

func TestPredictToMatchesRepeatedPredict(t *testing.T) {
	f := New(newConstVelConfig(0.1, 5), mat.NewVecDense(2, []float64{0, 2}), mat.NewSymDense(2, []float64{1, 0, 0, 1}), 0)

	state, _, err := f.PredictTo(0.3)
	if err != nil {
		t.Fatalf("predict_to failed: %v", err)
	}
	// Constant velocity 2 m/s for 0.3s should move position to ~0.6m.
	if got := math.Abs(state.AtVec(0) - 0.6); got > 1e-9 {
		t.Fatalf("predict_to position off by %v", got)
	}
	// PredictTo must not mutate the committed filter state.
	if f.CurrentState().AtVec(0) != 0 {
		t.Fatalf("predict_to mutated committed state: %v", f.CurrentState().AtVec(0))
	}
}
