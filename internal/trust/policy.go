package trust

import (
	"strings"
	"time"
)

// Policy is one capability assertion: a principal may act on topics
// matching Topics and regions matching Regions during [NotBefore, NotAfter].
// A trailing "*" in a Topics/Regions entry matches any suffix, e.g.
// "zone_*" matches "zone_A" and "zone_B" — spec.md calls these "permitted
// topic patterns"; everything else is matched as an exact string per
// spec.md §4.4.
type Policy struct {
	Principal string    `cbor:"principal"`
	Topics    []string  `cbor:"topics"`
	Regions   []string  `cbor:"regions"`
	NotBefore time.Time `cbor:"not_before"`
	NotAfter  time.Time `cbor:"not_after"`
}

// permits reports whether this single policy link allows the given
// (topic, region) tuple at time t.
func (p Policy) permits(topic, region string, t time.Time) bool {
	if t.Before(p.NotBefore) || t.After(p.NotAfter) {
		return false
	}
	if !matchesAny(p.Topics, topic) {
		return false
	}
	if !matchesAny(p.Regions, region) {
		return false
	}
	return true
}

// isAttenuationOf reports whether candidate is a strictly-weaker-or-equal
// policy than parent: every topic/region candidate permits, parent must
// also permit, and candidate's validity interval must lie within parent's.
func (candidate Policy) isAttenuationOf(parent Policy) bool {
	for _, t := range candidate.Topics {
		if !matchesAny(parent.Topics, stripWildcard(t)) {
			return false
		}
	}
	for _, r := range candidate.Regions {
		if !matchesAny(parent.Regions, stripWildcard(r)) {
			return false
		}
	}
	if candidate.NotBefore.Before(parent.NotBefore) {
		return false
	}
	if candidate.NotAfter.After(parent.NotAfter) {
		return false
	}
	return true
}

func stripWildcard(pattern string) string {
	return strings.TrimSuffix(pattern, "*")
}

func matchesAny(patterns []string, value string) bool {
	for _, pattern := range patterns {
		if strings.HasSuffix(pattern, "*") {
			if strings.HasPrefix(value, strings.TrimSuffix(pattern, "*")) {
				return true
			}
			continue
		}
		if pattern == value {
			return true
		}
	}
	return false
}
