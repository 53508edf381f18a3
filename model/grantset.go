package model

import "sort"

// GrantSet is an unordered set of grants keyed by value.
type GrantSet map[Grant]struct{}

// NewGrantSet builds a set from grants.
func NewGrantSet(grants ...Grant) GrantSet {
	s := make(GrantSet, len(grants))
	for _, g := range grants {
		s[g] = struct{}{}
	}
	return s
}

func (s GrantSet) Add(g Grant) { s[g] = struct{}{} }

func (s GrantSet) Contains(g Grant) bool {
	_, ok := s[g]
	return ok
}

func (s GrantSet) Len() int { return len(s) }

// Union adds every member of other to s.
func (s GrantSet) Union(other GrantSet) {
	for g := range other {
		s[g] = struct{}{}
	}
}

// Difference returns s \ other as a new set.
func (s GrantSet) Difference(other GrantSet) GrantSet {
	out := make(GrantSet, len(s))
	for g := range s {
		if !other.Contains(g) {
			out[g] = struct{}{}
		}
	}
	return out
}

// Intersect returns s ∩ other as a new set.
func (s GrantSet) Intersect(other GrantSet) GrantSet {
	out := make(GrantSet)
	for g := range s {
		if other.Contains(g) {
			out[g] = struct{}{}
		}
	}
	return out
}

// Clone returns a shallow copy of the set.
func (s GrantSet) Clone() GrantSet {
	out := make(GrantSet, len(s))
	for g := range s {
		out[g] = struct{}{}
	}
	return out
}

// Sorted returns the members ordered by ID, then latitude, then longitude.
func (s GrantSet) Sorted() []Grant {
	out := make([]Grant, 0, len(s))
	for g := range s {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		if out[i].Latitude != out[j].Latitude {
			return out[i].Latitude < out[j].Latitude
		}
		if out[i].Longitude != out[j].Longitude {
			return out[i].Longitude < out[j].Longitude
		}
		return out[i].LowFrequency < out[j].LowFrequency
	})
	return out
}
