// Package geodesy provides WGS84/ECEF conversions and local tangent-plane
// rotations used across the fusion engines.
package geodesy

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// WGS84 reference ellipsoid constants.
const (
	SemiMajorAxis = 6378137.0          // a, meters
	Flattening    = 1 / 298.257223563  // f
)

var eccentricitySquared = 2*Flattening - Flattening*Flattening

// Geodetic is a WGS84 position in degrees and meters.
type Geodetic struct {
	LatDeg float64
	LonDeg float64
	AltM   float64
}

// ECEF is an Earth-Centered Earth-Fixed position in meters.
type ECEF struct {
	X, Y, Z float64
}

// ecefToFixedPointIterations bounds the ECEF->WGS84 iteration; the loop
// also exits early once the altitude delta drops below altConvergenceM.
const (
	ecefToFixedPointIterations = 8
	altConvergenceM            = 1e-3
)

// WGS84ToECEF converts a geodetic position to ECEF coordinates.
func WGS84ToECEF(p Geodetic) ECEF {
	lat := p.LatDeg * math.Pi / 180
	lon := p.LonDeg * math.Pi / 180
	sinLat, cosLat := math.Sincos(lat)
	sinLon, cosLon := math.Sincos(lon)

	n := SemiMajorAxis / math.Sqrt(1-eccentricitySquared*sinLat*sinLat)

	return ECEF{
		X: (n + p.AltM) * cosLat * cosLon,
		Y: (n + p.AltM) * cosLat * sinLon,
		Z: (n*(1-eccentricitySquared) + p.AltM) * sinLat,
	}
}

// ECEFToWGS84 converts ECEF coordinates to a geodetic position using
// Bowring's fixed-point iteration. It always performs at least 5 iterations
// and terminates early once the altitude estimate stabilizes to within
// altConvergenceM, as required for 1mm round-trip precision.
func ECEFToWGS84(e ECEF) Geodetic {
	lon := math.Atan2(e.Y, e.X)

	p := math.Hypot(e.X, e.Y)
	lat := math.Atan2(e.Z, p*(1-eccentricitySquared))
	alt := 0.0

	for i := 0; i < ecefToFixedPointIterations; i++ {
		sinLat := math.Sin(lat)
		n := SemiMajorAxis / math.Sqrt(1-eccentricitySquared*sinLat*sinLat)
		newAlt := p/math.Cos(lat) - n
		lat = math.Atan2(e.Z, p*(1-eccentricitySquared*n/(n+newAlt)))

		if i >= 4 && math.Abs(newAlt-alt) < altConvergenceM {
			alt = newAlt
			break
		}
		alt = newAlt
	}

	return Geodetic{
		LatDeg: lat * 180 / math.Pi,
		LonDeg: lon * 180 / math.Pi,
		AltM:   alt,
	}
}

// HeadingRotation returns the 3x3 East-North-Up rotation matrix for a
// compass heading in degrees, where 0° is north and 90° is east.
func HeadingRotation(yawDeg float64) *mat.Dense {
	yaw := yawDeg * math.Pi / 180
	s, c := math.Sincos(yaw)

	// Rotate the ENU frame clockwise about the Up axis so that the local
	// forward axis (+Y, North at 0°) points along the heading: forward maps
	// to (sin, cos, 0) and the local right axis (+X) to (cos, -sin, 0).
	return mat.NewDense(3, 3, []float64{
		c, s, 0,
		-s, c, 0,
		0, 0, 1,
	})
}

// LocalOffsetToWGS84 composes HeadingRotation and WGS84ToECEF/ECEFToWGS84
// to convert a sensor-relative local ENU offset into a global position,
// given the sensor's own geodetic origin and heading. This is the function
// collaborators use to turn a camera-relative detection plus a sensor pose
// into a global observation position.
func LocalOffsetToWGS84(origin Geodetic, localENU [3]float64, yawDeg float64) Geodetic {
	rot := HeadingRotation(yawDeg)

	local := mat.NewVecDense(3, localENU[:])
	var rotated mat.VecDense
	rotated.MulVec(rot, local)

	originECEF := WGS84ToECEF(origin)

	// Build the local ENU->ECEF basis at the origin, then add the rotated
	// offset expressed in that basis.
	lat := origin.LatDeg * math.Pi / 180
	lon := origin.LonDeg * math.Pi / 180
	sinLat, cosLat := math.Sincos(lat)
	sinLon, cosLon := math.Sincos(lon)

	east := [3]float64{-sinLon, cosLon, 0}
	north := [3]float64{-sinLat * cosLon, -sinLat * sinLon, cosLat}
	up := [3]float64{cosLat * cosLon, cosLat * sinLon, sinLat}

	e, n, u := rotated.AtVec(0), rotated.AtVec(1), rotated.AtVec(2)

	offsetECEF := ECEF{
		X: e*east[0] + n*north[0] + u*up[0],
		Y: e*east[1] + n*north[1] + u*up[1],
		Z: e*east[2] + n*north[2] + u*up[2],
	}

	return ECEFToWGS84(ECEF{
		X: originECEF.X + offsetECEF.X,
		Y: originECEF.Y + offsetECEF.Y,
		Z: originECEF.Z + offsetECEF.Z,
	})
}

// ENUOffset is the inverse of LocalOffsetToWGS84 with yawDeg=0: it returns
// the East-North-Up offset of point relative to origin, in meters. The
// Tracking engine uses this to express observations in a track's local
// tangent frame, which — for any single physical entity's extent — is flat
// enough that this first-order linearization introduces no meaningful
// error and keeps the Time engine's state space a fixed Cartesian frame.
func ENUOffset(origin, point Geodetic) [3]float64 {
	originECEF := WGS84ToECEF(origin)
	pointECEF := WGS84ToECEF(point)

	dx := pointECEF.X - originECEF.X
	dy := pointECEF.Y - originECEF.Y
	dz := pointECEF.Z - originECEF.Z

	lat := origin.LatDeg * math.Pi / 180
	lon := origin.LonDeg * math.Pi / 180
	sinLat, cosLat := math.Sincos(lat)
	sinLon, cosLon := math.Sincos(lon)

	east := [3]float64{-sinLon, cosLon, 0}
	north := [3]float64{-sinLat * cosLon, -sinLat * sinLon, cosLat}
	up := [3]float64{cosLat * cosLon, cosLat * sinLon, sinLat}

	return [3]float64{
		dx*east[0] + dy*east[1] + dz*east[2],
		dx*north[0] + dy*north[1] + dz*north[2],
		dx*up[0] + dy*up[1] + dz*up[2],
	}
}

// HaversineDistanceM returns the great-circle distance in meters between
// two geodetic points, ignoring altitude. Used by the Space engine's exit
// filter to reject cell/bucket false positives.
func HaversineDistanceM(a, b Geodetic) float64 {
	const earthRadiusM = 6371008.8 // mean radius, used only for the exit filter

	lat1 := a.LatDeg * math.Pi / 180
	lat2 := b.LatDeg * math.Pi / 180
	dLat := (b.LatDeg - a.LatDeg) * math.Pi / 180
	dLon := (b.LonDeg - a.LonDeg) * math.Pi / 180

	sinDLat := math.Sin(dLat / 2)
	sinDLon := math.Sin(dLon / 2)

	h := sinDLat*sinDLat + math.Cos(lat1)*math.Cos(lat2)*sinDLon*sinDLon
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusM * c
}

// Distance3DM returns the straight-line distance in meters between two
// geodetic points accounting for both the geodesic horizontal distance and
// the altitude difference.
func Distance3DM(a, b Geodetic) float64 {
	horiz := HaversineDistanceM(a, b)
	vert := b.AltM - a.AltM
	return math.Hypot(horiz, vert)
}
