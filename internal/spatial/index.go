// Package spatial implements the Space engine: a hexagonal 2D index
// combined with altitude-partitioned layers, giving O(log N) bounded-radius
// 3D queries without confusing entities separated only by altitude.
package spatial

import (
	"errors"
	"fmt"

	"github.com/asgard/aegis/internal/geodesy"
)

// ErrIndexInconsistency is returned (and, at the call site, repaired) when
// an entity's recorded handle refers to a bucket that no longer holds it.
var ErrIndexInconsistency = errors.New("spatial: index handle inconsistent with stored position")

// Handle identifies where an entity is currently indexed: a hex cell plus
// an altitude bucket within it. Tracks store their own Handle so drift can
// be detected against the Space engine's authoritative state.
type Handle struct {
	Cell   HexCell
	Bucket int64
}

// Config configures the Space engine.
type Config struct {
	// HexResolution selects the cell edge length (see resolutionEdgeM).
	HexResolution int
	// AltitudeBucketM is the height in meters of each vertical partition.
	AltitudeBucketM float64
}

type entityRecord struct {
	position geodesy.Geodetic
	cell     HexCell
	bucket   altitudeBucket
}

// Index is the Space engine: entity_id -> (hex_cell, altitude_bucket), plus
// the reverse per-cell-per-bucket membership needed for radius queries.
type Index struct {
	cfg      Config
	cells    map[HexCell]*altitudeLayer
	entities map[string]*entityRecord
}

// New constructs an empty Space engine.
func New(cfg Config) *Index {
	return &Index{
		cfg:      cfg,
		cells:    make(map[HexCell]*altitudeLayer),
		entities: make(map[string]*entityRecord),
	}
}

// Upsert computes the hex cell and altitude bucket for position; if the
// entity already exists and its new location falls in a different
// (cell, bucket) pair, it is removed from the old one and inserted into
// the new one.
func (idx *Index) Upsert(entityID string, position geodesy.Geodetic) Handle {
	cell := pointToHex(position, idx.cfg.HexResolution)
	bucket := bucketFor(position.AltM, idx.cfg.AltitudeBucketM)

	if existing, ok := idx.entities[entityID]; ok {
		if existing.cell == cell && existing.bucket == bucket {
			existing.position = position
			return Handle{Cell: cell, Bucket: int64(bucket)}
		}
		idx.removeFromCell(existing.cell, existing.bucket, entityID)
	}

	idx.entities[entityID] = &entityRecord{position: position, cell: cell, bucket: bucket}
	idx.insertIntoCell(cell, bucket, entityID)

	return Handle{Cell: cell, Bucket: int64(bucket)}
}

// Remove deletes an entity from the index.
func (idx *Index) Remove(entityID string) {
	rec, ok := idx.entities[entityID]
	if !ok {
		return
	}
	idx.removeFromCell(rec.cell, rec.bucket, entityID)
	delete(idx.entities, entityID)
}

func (idx *Index) insertIntoCell(cell HexCell, bucket altitudeBucket, id string) {
	layer, ok := idx.cells[cell]
	if !ok {
		layer = newAltitudeLayer()
		idx.cells[cell] = layer
	}
	layer.insert(bucket, id)
}

func (idx *Index) removeFromCell(cell HexCell, bucket altitudeBucket, id string) {
	layer, ok := idx.cells[cell]
	if !ok {
		return
	}
	layer.remove(bucket, id)
	if layer.empty() {
		delete(idx.cells, cell)
	}
}

// QueryRadius enumerates the hex cells whose closest point to center is
// within radiusM, filters altitude buckets intersecting
// [center.alt-radiusM, center.alt+radiusM], and returns only entities whose
// true 3D distance to center is <= radiusM. The hex/bucket stage may admit
// false positives; this function guarantees they never reach the caller.
func (idx *Index) QueryRadius(center geodesy.Geodetic, radiusM float64) []string {
	edge := resolutionEdgeM(idx.cfg.HexResolution)
	centerCell := pointToHex(center, idx.cfg.HexResolution)

	rings := int(radiusM/edge) + 2
	candidates := ringCells(centerCell, rings)

	loBucket := bucketFor(center.AltM-radiusM, idx.cfg.AltitudeBucketM)
	hiBucket := bucketFor(center.AltM+radiusM, idx.cfg.AltitudeBucketM)

	seen := make(map[string]struct{})
	var result []string

	for _, cell := range candidates {
		layer, ok := idx.cells[cell]
		if !ok {
			continue
		}
		for _, id := range layer.queryRange(loBucket, hiBucket) {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}

			rec, ok := idx.entities[id]
			if !ok {
				continue // stale reference; cell cleanup lagged, ignore
			}
			if geodesy.Distance3DM(center, rec.position) <= radiusM {
				result = append(result, id)
			}
		}
	}
	return result
}

// Verify checks that entityID's stored handle matches a true recomputation
// of its (cell, bucket) from its last known position. If not, it repairs
// the index by reinserting the entity, returning ErrIndexInconsistency so
// the caller can emit a warning, per spec.md's IndexInconsistency policy:
// "repair (reinsert) + emit warning".
func (idx *Index) Verify(entityID string) error {
	rec, ok := idx.entities[entityID]
	if !ok {
		return nil
	}
	wantCell := pointToHex(rec.position, idx.cfg.HexResolution)
	wantBucket := bucketFor(rec.position.AltM, idx.cfg.AltitudeBucketM)
	if wantCell == rec.cell && wantBucket == rec.bucket {
		return nil
	}

	idx.removeFromCell(rec.cell, rec.bucket, entityID)
	rec.cell = wantCell
	rec.bucket = wantBucket
	idx.insertIntoCell(wantCell, wantBucket, entityID)

	return fmt.Errorf("%w: entity %s reinserted into cell %v bucket %d", ErrIndexInconsistency, entityID, wantCell, wantBucket)
}

// Len returns the number of indexed entities.
func (idx *Index) Len() int {
	return len(idx.entities)
}
