package graph

import "strings"

// Set is a string set of user IDs.
type Set map[string]struct{}

// NewSet builds a set from ids, skipping empty values.
func NewSet(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		if id != "" {
			s[id] = struct{}{}
		}
	}
	return s
}

// Has reports membership.
func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id.
func (s Set) Add(id string) {
	if id != "" {
		s[id] = struct{}{}
	}
}

// Union adds every element of other to s.
func (s Set) Union(other Set) {
	for id := range other {
		s[id] = struct{}{}
	}
}

// Slice returns the members in no particular order.
func (s Set) Slice() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}

// Dedupe returns ids without empty or repeated entries, first occurrence wins.
func Dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
