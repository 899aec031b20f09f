package geodesy

import (
	"math"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	cases := []Geodetic{
		{LatDeg: 37.7749, LonDeg: -122.4194, AltM: 10},
		{LatDeg: -33.8688, LonDeg: 151.2093, AltM: 500},
		{LatDeg: 89.5, LonDeg: 179.9, AltM: 0},
		{LatDeg: -89.5, LonDeg: -179.9, AltM: 8848},
		{LatDeg: 0, LonDeg: 0, AltM: 0},
	}

	for _, p := range cases {
		ecef := WGS84ToECEF(p)
		got := ECEFToWGS84(ecef)

		if math.Abs(got.LatDeg-p.LatDeg) > 1e-6 {
			t.Errorf("lat round-trip: got %v want %v (delta %v)", got.LatDeg, p.LatDeg, got.LatDeg-p.LatDeg)
		}
		if math.Abs(got.LonDeg-p.LonDeg) > 1e-6 {
			t.Errorf("lon round-trip: got %v want %v (delta %v)", got.LonDeg, p.LonDeg, got.LonDeg-p.LonDeg)
		}
		if math.Abs(got.AltM-p.AltM) > 1e-3 {
			t.Errorf("alt round-trip: got %v want %v (delta %v)", got.AltM, p.AltM, got.AltM-p.AltM)
		}
	}
}

func TestHeadingRotationIdentityAtZero(t *testing.T) {
	r := HeadingRotation(0)
	if r.At(0, 0) != 1 || r.At(1, 1) != 1 || r.At(2, 2) != 1 {
		t.Fatalf("expected identity-like rotation at 0 deg heading, got %v", r)
	}
}

func TestHeadingRotationEastAt90(t *testing.T) {
	r := HeadingRotation(90)
	// At 90 degrees heading, the local forward (north) axis maps to east and
	// the local east axis maps to south.
	if math.Abs(r.At(0, 1)-1) > 1e-9 || math.Abs(r.At(1, 0)+1) > 1e-9 {
		t.Fatalf("expected forward axis to rotate onto east and east onto south, got matrix %v", r)
	}
}

func TestLocalOffsetToWGS84MovesNorth(t *testing.T) {
	origin := Geodetic{LatDeg: 0, LonDeg: 0, AltM: 0}
	moved := LocalOffsetToWGS84(origin, [3]float64{0, 1000, 0}, 0)
	if moved.LatDeg <= origin.LatDeg {
		t.Fatalf("expected a northward offset to increase latitude, got %v", moved.LatDeg)
	}
	if math.Abs(moved.LonDeg-origin.LonDeg) > 1e-6 {
		t.Fatalf("expected longitude to stay ~unchanged for a pure north offset, got %v", moved.LonDeg)
	}
}

func TestENUOffsetRoundTripsWithLocalOffsetToWGS84(t *testing.T) {
	origin := Geodetic{LatDeg: 37.7749, LonDeg: -122.4194, AltM: 10}
	want := [3]float64{120, -45, 7}

	point := LocalOffsetToWGS84(origin, want, 0)
	got := ENUOffset(origin, point)

	for i, axis := range []string{"east", "north", "up"} {
		if math.Abs(got[i]-want[i]) > 1e-3 {
			t.Fatalf("%s offset: got %v want %v", axis, got[i], want[i])
		}
	}
}

func TestENUOffsetZeroAtOrigin(t *testing.T) {
	origin := Geodetic{LatDeg: 10, LonDeg: 20, AltM: 100}
	got := ENUOffset(origin, origin)
	for i, v := range got {
		if math.Abs(v) > 1e-6 {
			t.Fatalf("offset[%d] = %v, want ~0", i, v)
		}
	}
}

func TestDistance3DSeparatesAltitude(t *testing.T) {
	a := Geodetic{LatDeg: 37.7749, LonDeg: -122.4194, AltM: 0}
	b := Geodetic{LatDeg: 37.7749, LonDeg: -122.4194, AltM: 300}
	if got := Distance3DM(a, b); math.Abs(got-300) > 1 {
		t.Fatalf("expected ~300m vertical separation, got %v", got)
	}
}
