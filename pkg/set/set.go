package set

import (
	"sort"
)

// Set holds a private set of strings that can be queried in various ways.
//
// A Set is immutable. Duplicates passed to New are collapsed, and iteration
// always follows the sorted order of the elements.
type Set struct {
	set   map[string]struct{}
	slice []string
}

// New generates a set from a slice of strings.
// The slice is copied, so later changes by the caller do not affect the set.
func New(elements ...string) *Set {
	s := &Set{
		set:   make(map[string]struct{}, len(elements)),
		slice: make([]string, 0, len(elements)),
	}
	for _, x := range elements {
		if _, ok := s.set[x]; ok {
			continue
		}
		s.set[x] = struct{}{}
		s.slice = append(s.slice, x)
	}
	sort.Strings(s.slice)
	return s
}

// Contains returns true if all elements are included in the set.
func (s *Set) Contains(elements ...string) bool {
	for _, x := range elements {
		if s == nil {
			return false
		}
		if _, ok := s.set[x]; !ok {
			return false
		}
	}
	return true
}

// Len returns the number of distinct elements.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.slice)
}

// Empty returns true if the set has no elements.
func (s *Set) Empty() bool { return s.Len() == 0 }

// Sorted returns a sorted copy of the elements.
func (s *Set) Sorted() []string {
	if s == nil {
		return []string{}
	}
	out := make([]string, len(s.slice))
	copy(out, s.slice)
	return out
}

// Range calls f on each element in sorted order, stopping early if f returns false.
func (s *Set) Range(f func(i int, x string) bool) {
	if s == nil {
		return
	}
	for i, x := range s.slice {
		if !f(i, x) {
			return
		}
	}
}

// Equal returns true if both sets hold the same elements.
func (s *Set) Equal(other *Set) bool {
	if s.Len() != other.Len() {
		return false
	}
	return s.IsSubsetOf(other)
}

// IsSubsetOf returns true if every element of s is in other.
func (s *Set) IsSubsetOf(other *Set) bool {
	if s == nil {
		return true
	}
	return other.Contains(s.slice...)
}

// Intersect computes s ∩ other in the clear.
// It is used to check protocol outputs and never runs on another party's data.
func (s *Set) Intersect(other *Set) *Set {
	var common []string
	s.Range(func(_ int, x string) bool {
		if other.Contains(x) {
			common = append(common, x)
		}
		return true
	})
	return New(common...)
}

// String implements fmt.Stringer.
func (s *Set) String() string {
	out := "{"
	s.Range(func(i int, x string) bool {
		if i > 0 {
			out += ", "
		}
		out += x
		return true
	})
	return out + "}"
}
