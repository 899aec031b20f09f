package spatial

import (
	"math"

	"github.com/asgard/aegis/internal/geodesy"
)

// HexCell identifies a pointy-top hexagonal cell using axial coordinates.
type HexCell struct {
	Q, R int
}

// hexProjection converts a geodetic point into a local planar (meters)
// approximation suitable for hex tessellation. It is not a single global
// equal-area projection (no pack dependency offers H3/S2-grade geocoding —
// see DESIGN.md); it is accurate enough within the latitude band a single
// fleet of agents operates in, and query_radius's geodesic exit filter
// corrects any residual cell-shape distortion.
func hexProjection(p geodesy.Geodetic) (x, y float64) {
	const metersPerDegreeLat = 111320.0
	latRad := p.LatDeg * math.Pi / 180
	metersPerDegreeLon := metersPerDegreeLat * math.Cos(latRad)
	return p.LonDeg * metersPerDegreeLon, p.LatDeg * metersPerDegreeLat
}

// resolutionEdgeM returns the hex cell edge length in meters for a given
// resolution level. Each resolution step halves the edge length, similar
// in spirit to H3's resolution ladder.
func resolutionEdgeM(resolution int) float64 {
	const baseEdgeM = 66.0 // spec.md's "typical cell edge ~= 66m" at resolution 0
	edge := baseEdgeM
	for i := 0; i < resolution; i++ {
		edge /= 2
	}
	return edge
}

// pointToHex maps a geodetic point to the hex cell containing it at the
// given resolution.
func pointToHex(p geodesy.Geodetic, resolution int) HexCell {
	x, y := hexProjection(p)
	size := resolutionEdgeM(resolution)

	qf := (math.Sqrt(3)/3*x - 1.0/3*y) / size
	rf := (2.0 / 3 * y) / size
	return cubeRound(qf, rf)
}

// cubeRound rounds fractional axial coordinates to the nearest hex cell
// using cube-coordinate rounding, the standard technique for avoiding
// seams at cell boundaries.
func cubeRound(qf, rf float64) HexCell {
	xf := qf
	zf := rf
	yf := -xf - zf

	x := math.Round(xf)
	y := math.Round(yf)
	z := math.Round(zf)

	dx := math.Abs(x - xf)
	dy := math.Abs(y - yf)
	dz := math.Abs(z - zf)

	if dx > dy && dx > dz {
		x = -y - z
	} else if dy > dz {
		y = -x - z
	} else {
		z = -x - y
	}

	return HexCell{Q: int(x), R: int(z)}
}

// hexCenter returns the planar (meters) center of a hex cell.
func hexCenter(c HexCell, resolution int) (x, y float64) {
	size := resolutionEdgeM(resolution)
	x = size * (math.Sqrt(3)*float64(c.Q) + math.Sqrt(3)/2*float64(c.R))
	y = size * (3.0 / 2 * float64(c.R))
	return x, y
}

// cubeDistance returns the hex-grid distance (number of cell hops) between
// two cells.
func cubeDistance(a, b HexCell) int {
	ax, az := a.Q, a.R
	ay := -ax - az
	bx, bz := b.Q, b.R
	by := -bx - bz

	dx := absInt(ax - bx)
	dy := absInt(ay - by)
	dz := absInt(az - bz)
	return maxInt(dx, maxInt(dy, dz))
}

// ringCells returns every hex cell within ring hops of the given center,
// inclusive, used to bound the candidate set for a radius query.
func ringCells(center HexCell, rings int) []HexCell {
	cells := []HexCell{center}
	if rings <= 0 {
		return cells
	}
	// Axial directions for a pointy-top hex grid.
	dirs := [6]HexCell{
		{1, 0}, {1, -1}, {0, -1},
		{-1, 0}, {-1, 1}, {0, 1},
	}

	for radius := 1; radius <= rings; radius++ {
		cell := HexCell{Q: center.Q + dirs[4].Q*radius, R: center.R + dirs[4].R*radius}
		for side := 0; side < 6; side++ {
			for step := 0; step < radius; step++ {
				cells = append(cells, cell)
				cell = HexCell{Q: cell.Q + dirs[side].Q, R: cell.R + dirs[side].R}
			}
		}
	}
	return cells
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
