package spatial

import "sort"

// altitudeBucket identifies a vertical partition within a hex cell.
type altitudeBucket int64

// bucketFor returns the altitude bucket containing altM at the configured
// bucket height.
func bucketFor(altM, bucketHeightM float64) altitudeBucket {
	return altitudeBucket(int64(altM / bucketHeightM))
}

// altitudeLayer is the per-cell vertical partition: a sorted slice of
// occupied buckets, binary-searched for O(log N) range queries. This plays
// the role spec.md assigns to "a balanced binary tree over altitude, or a
// sparse octree" — sorted-slice-plus-binary-search is the idiomatic Go
// substitute for a balanced tree when entries are looked up far more often
// than inserted (see DESIGN.md).
type altitudeLayer struct {
	buckets []altitudeBucket        // sorted ascending, unique
	entries map[altitudeBucket]map[string]struct{}
}

func newAltitudeLayer() *altitudeLayer {
	return &altitudeLayer{entries: make(map[altitudeBucket]map[string]struct{})}
}

func (l *altitudeLayer) insert(bucket altitudeBucket, id string) {
	set, ok := l.entries[bucket]
	if !ok {
		set = make(map[string]struct{})
		l.entries[bucket] = set
		l.insertSorted(bucket)
	}
	set[id] = struct{}{}
}

func (l *altitudeLayer) insertSorted(bucket altitudeBucket) {
	i := sort.Search(len(l.buckets), func(i int) bool { return l.buckets[i] >= bucket })
	l.buckets = append(l.buckets, 0)
	copy(l.buckets[i+1:], l.buckets[i:])
	l.buckets[i] = bucket
}

func (l *altitudeLayer) remove(bucket altitudeBucket, id string) {
	set, ok := l.entries[bucket]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(l.entries, bucket)
		i := sort.Search(len(l.buckets), func(i int) bool { return l.buckets[i] >= bucket })
		if i < len(l.buckets) && l.buckets[i] == bucket {
			l.buckets = append(l.buckets[:i], l.buckets[i+1:]...)
		}
	}
}

func (l *altitudeLayer) empty() bool {
	return len(l.buckets) == 0
}

// queryRange returns every entity ID in buckets whose index lies in
// [lo, hi], located via binary search over the sorted bucket slice.
func (l *altitudeLayer) queryRange(lo, hi altitudeBucket) []string {
	start := sort.Search(len(l.buckets), func(i int) bool { return l.buckets[i] >= lo })

	var out []string
	for i := start; i < len(l.buckets) && l.buckets[i] <= hi; i++ {
		for id := range l.entries[l.buckets[i]] {
			out = append(out, id)
		}
	}
	return out
}
