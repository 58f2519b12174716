// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package permission

import (
	"sort"
	"strings"
)

// Set is an immutable collection of permission tags. The zero value is
// the empty set. Mutation methods return new sets.
type Set struct {
	perms map[Permission]struct{}
}

// Empty returns the empty set.
func Empty() Set {
	return Set{}
}

// AllSet returns a set holding every tag in the closed set.
func AllSet() Set {
	return Of(all...)
}

// Of constructs a set from the given tags. Invalid tags are rejected by
// the caller-facing Parse; Of trusts its input.
func Of(perms ...Permission) Set {
	if len(perms) == 0 {
		return Set{}
	}
	m := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		m[p] = struct{}{}
	}
	return Set{perms: m}
}

// Parse builds a set from a comma-separated textual representation.
// Unrecognized tokens are silently discarded; this leniency is
// deliberate so that a stored set survives tag removals.
func Parse(s string) Set {
	if s == "" {
		return Set{}
	}
	var kept []Permission
	for _, tok := range strings.Split(s, ",") {
		p := Permission(strings.TrimSpace(tok))
		if p.Valid() {
			kept = append(kept, p)
		}
	}
	return Of(kept...)
}

// Plus returns a new set additionally holding the given tags.
func (s Set) Plus(perms ...Permission) Set {
	m := make(map[Permission]struct{}, len(s.perms)+len(perms))
	for p := range s.perms {
		m[p] = struct{}{}
	}
	for _, p := range perms {
		m[p] = struct{}{}
	}
	return Set{perms: m}
}

// Minus returns a new set without the given tags.
func (s Set) Minus(perms ...Permission) Set {
	m := make(map[Permission]struct{}, len(s.perms))
	for p := range s.perms {
		m[p] = struct{}{}
	}
	for _, p := range perms {
		delete(m, p)
	}
	if len(m) == 0 {
		return Set{}
	}
	return Set{perms: m}
}

// Holds reports whether p is directly held, without implication.
func (s Set) Holds(p Permission) bool {
	_, ok := s.perms[p]
	return ok
}

// Implies reports whether p is held directly or granted transitively
// through the static implication table.
func (s Set) Implies(p Permission) bool {
	if s.Holds(p) {
		return true
	}
	visited := make(map[Permission]struct{})
	for held := range s.perms {
		if impliesFrom(held, p, visited) {
			return true
		}
	}
	return false
}

// impliesFrom walks the implication graph from origin looking for
// target. The visited set makes the walk terminate even if the static
// table were ever to grow a cycle.
func impliesFrom(origin, target Permission, visited map[Permission]struct{}) bool {
	if _, seen := visited[origin]; seen {
		return false
	}
	visited[origin] = struct{}{}
	for _, next := range implied[origin] {
		if next == target || impliesFrom(next, target, visited) {
			return true
		}
	}
	return false
}

// ImpliesAll reports whether every given tag is implied.
func (s Set) ImpliesAll(perms ...Permission) bool {
	for _, p := range perms {
		if !s.Implies(p) {
			return false
		}
	}
	return true
}

// Closure returns the full set of tags granted directly or by
// implication.
func (s Set) Closure() Set {
	m := make(map[Permission]struct{})
	for held := range s.perms {
		m[held] = struct{}{}
		closureFrom(held, m)
	}
	if len(m) == 0 {
		return Set{}
	}
	return Set{perms: m}
}

func closureFrom(origin Permission, acc map[Permission]struct{}) {
	for _, next := range implied[origin] {
		if _, seen := acc[next]; seen {
			continue
		}
		acc[next] = struct{}{}
		closureFrom(next, acc)
	}
}

// Equal reports whether two sets grant the same capabilities, i.e.
// their closures are equal.
func (s Set) Equal(other Set) bool {
	a := s.Closure().perms
	b := other.Closure().perms
	if len(a) != len(b) {
		return false
	}
	for p := range a {
		if _, ok := b[p]; !ok {
			return false
		}
	}
	return true
}

// Len returns the number of directly held tags.
func (s Set) Len() int {
	return len(s.perms)
}

// List returns the directly held tags in sorted order.
func (s Set) List() []Permission {
	out := make([]Permission, 0, len(s.perms))
	for p := range s.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// String renders the set in the comma-separated form accepted by Parse.
func (s Set) String() string {
	tags := s.List()
	strs := make([]string, len(tags))
	for i, p := range tags {
		strs[i] = string(p)
	}
	return strings.Join(strs, ",")
}
