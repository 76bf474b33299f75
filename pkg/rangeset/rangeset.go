// Package rangeset provides a sorted set of disjoint half-open intervals.
//
// A Set canonicalises on every mutation: overlapping or touching ranges are
// merged on Add, and Remove may split a range in two. Two sets with the same
// coverage are always Equal.
package rangeset

import (
	"fmt"
	"sort"
)

// Range is a half-open interval [Start, End) in milliseconds.
type Range struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// NewRange returns a range with its bounds ordered.
func NewRange(a, b int64) Range {
	if a > b {
		a, b = b, a
	}
	return Range{Start: a, End: b}
}

// Len returns the length of the range.
func (r Range) Len() int64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// IsEmpty reports whether the range covers nothing.
func (r Range) IsEmpty() bool {
	return r.End <= r.Start
}

// ContainsValue reports whether v lies in [Start, End).
func (r Range) ContainsValue(v int64) bool {
	return v >= r.Start && v < r.End
}

// Contains reports whether o lies entirely inside r.
func (r Range) Contains(o Range) bool {
	return o.Start >= r.Start && o.End <= r.End
}

// Overlaps reports whether the two ranges share any point.
func (r Range) Overlaps(o Range) bool {
	return r.Start < o.End && o.Start < r.End
}

// Intersect returns the overlap of the two ranges. The result is empty when
// they do not overlap.
func (r Range) Intersect(o Range) Range {
	out := Range{Start: max(r.Start, o.Start), End: min(r.End, o.End)}
	if out.End < out.Start {
		out.End = out.Start
	}
	return out
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End)
}

// Set is a sorted collection of disjoint, non-adjacent, non-empty ranges.
// The zero value is an empty set ready to use. A Set is not safe for
// concurrent use.
type Set struct {
	ranges []Range
}

// New returns a set holding the union of the given ranges.
func New(ranges ...Range) *Set {
	s := &Set{}
	for _, r := range ranges {
		s.Add(r)
	}
	return s
}

// Add unions r into the set. Empty ranges are ignored.
func (s *Set) Add(r Range) {
	if r.IsEmpty() {
		return
	}

	// first range whose end reaches r.Start (touching ranges merge)
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].End >= r.Start })
	j := i
	for j < len(s.ranges) && s.ranges[j].Start <= r.End {
		r.Start = min(r.Start, s.ranges[j].Start)
		r.End = max(r.End, s.ranges[j].End)
		j++
	}

	out := make([]Range, 0, len(s.ranges)-(j-i)+1)
	out = append(out, s.ranges[:i]...)
	out = append(out, r)
	out = append(out, s.ranges[j:]...)
	s.ranges = out
}

// AddSet unions every range of o into the set.
func (s *Set) AddSet(o *Set) {
	if o == nil {
		return
	}
	for _, r := range o.ranges {
		s.Add(r)
	}
}

// Remove subtracts r from the set, splitting ranges where needed.
func (s *Set) Remove(r Range) {
	if r.IsEmpty() || len(s.ranges) == 0 {
		return
	}

	out := make([]Range, 0, len(s.ranges)+1)
	for _, cur := range s.ranges {
		if !cur.Overlaps(r) {
			out = append(out, cur)
			continue
		}
		if cur.Start < r.Start {
			out = append(out, Range{Start: cur.Start, End: r.Start})
		}
		if cur.End > r.End {
			out = append(out, Range{Start: r.End, End: cur.End})
		}
	}
	s.ranges = out
}

// Clear removes every range.
func (s *Set) Clear() {
	s.ranges = nil
}

// Len returns the number of disjoint ranges.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ranges)
}

// IsEmpty reports whether the set has no ranges.
func (s *Set) IsEmpty() bool {
	return s.Len() == 0
}

// Ranges returns a copy of the ranges in ascending order.
func (s *Set) Ranges() []Range {
	if s == nil || len(s.ranges) == 0 {
		return []Range{}
	}
	out := make([]Range, len(s.ranges))
	copy(out, s.ranges)
	return out
}

// At returns the i-th range in ascending order.
func (s *Set) At(i int) Range {
	return s.ranges[i]
}

// Clone returns an independent copy of the set.
func (s *Set) Clone() *Set {
	if s == nil {
		return &Set{}
	}
	return &Set{ranges: s.Ranges()}
}

// Bounds returns the smallest range covering the whole set. ok is false for
// an empty set.
func (s *Set) Bounds() (r Range, ok bool) {
	if s.Len() == 0 {
		return Range{}, false
	}
	return Range{Start: s.ranges[0].Start, End: s.ranges[len(s.ranges)-1].End}, true
}

// Coverage returns the total length covered by the set.
func (s *Set) Coverage() int64 {
	var total int64
	for _, r := range s.Ranges() {
		total += r.Len()
	}
	return total
}

// ContainsValue reports whether v lies inside one of the ranges.
func (s *Set) ContainsValue(v int64) bool {
	return s.IndexOfValue(v) >= 0
}

// IndexOfValue returns the index of the range holding v, or -1.
func (s *Set) IndexOfValue(v int64) int {
	if s.Len() == 0 {
		return -1
	}
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].End > v })
	if i < len(s.ranges) && s.ranges[i].ContainsValue(v) {
		return i
	}
	return -1
}

// Contains reports whether r lies entirely inside a single range of the set.
// An empty range is never contained.
func (s *Set) Contains(r Range) bool {
	if r.IsEmpty() || s.Len() == 0 {
		return false
	}
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].End > r.Start })
	return i < len(s.ranges) && s.ranges[i].Contains(r)
}

// Overlaps reports whether any range of the set shares a point with r.
func (s *Set) Overlaps(r Range) bool {
	if r.IsEmpty() || s.Len() == 0 {
		return false
	}
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].End > r.Start })
	return i < len(s.ranges) && s.ranges[i].Start < r.End
}

// Intersection returns a new set with the points common to s and o.
func (s *Set) Intersection(o *Set) *Set {
	out := &Set{}
	a, b := s.Ranges(), o.Ranges()
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if x := a[i].Intersect(b[j]); !x.IsEmpty() {
			out.ranges = append(out.ranges, x)
		}
		if a[i].End < b[j].End {
			i++
		} else {
			j++
		}
	}
	return out
}

// Equal reports whether both sets cover exactly the same points.
func (s *Set) Equal(o *Set) bool {
	if s.Len() != o.Len() {
		return false
	}
	for i := 0; i < s.Len(); i++ {
		if s.ranges[i] != o.ranges[i] {
			return false
		}
	}
	return true
}

// Smallest returns the shortest range in the set. ok is false when empty.
func (s *Set) Smallest() (r Range, ok bool) {
	for i, cur := range s.Ranges() {
		if i == 0 || cur.Len() < r.Len() {
			r = cur
		}
		ok = true
	}
	return r, ok
}

func (s *Set) String() string {
	return fmt.Sprint(s.Ranges())
}
