package aetree

import (
	"fmt"
	"math"
)

// Range is the closed interval [Start, End] of tokens.
type Range struct {
	Start Token
	End   Token
}

// NewRange returns [start, end], or ErrInvalidRange if start > end or the
// distance between them does not fit an int64.
func NewRange(start, end Token) (Range, error) {
	if start == nil || end == nil {
		return Range{}, fmt.Errorf("%w: nil token", ErrInvalidRange)
	}
	if start.Order(end) > 0 {
		return Range{}, fmt.Errorf("%w: start %v > end %v", ErrInvalidRange, start, end)
	}
	s, e := start.Value(), end.Value()
	if s < 0 && e > math.MaxInt64+s {
		return Range{}, fmt.Errorf("%w: span of [%v,%v] overflows", ErrInvalidRange, start, end)
	}
	return Range{start, end}, nil
}

// NewIntRange is NewRange over IntTokens.
func NewIntRange(start, end int64) (Range, error) {
	return NewRange(IntToken(start), IntToken(end))
}

// Size is End-Start; a unit range has size 0 and cannot be partitioned.
func (r Range) Size() uint64 {
	return uint64(r.End.Value() - r.Start.Value())
}

func (r Range) IsUnit() bool {
	return r.Size() == 0
}

func (r Range) Equal(o Range) bool {
	return r.Start.Order(o.Start) == 0 && r.End.Order(o.End) == 0
}

func (r Range) Contains(t Token) bool {
	return r.Start.Order(t) <= 0 && r.End.Order(t) >= 0
}

// Covers reports whether o lies entirely within r.
func (r Range) Covers(o Range) bool {
	return r.Contains(o.Start) && r.Contains(o.End)
}

func (r Range) String() string {
	return fmt.Sprintf("[%v,%v]", r.Start, r.End)
}

type cover int

const (
	coverNone cover = iota
	coverPartial
	coverFull
)

// coverOf classifies how r holds o: coverFull when they are the same range,
// coverPartial when o is strictly inside r, coverNone otherwise.
func (r Range) coverOf(o Range) cover {
	if r.Equal(o) {
		return coverFull
	}
	if r.Covers(o) {
		return coverPartial
	}
	return coverNone
}

// A Partitioner splits a range into two disjoint halves whose union is the
// range. Both trees being compared must use the same Partitioner.
type Partitioner interface {
	// Partition returns ok=false for a range that cannot be split further.
	Partition(Range) (left, right Range, ok bool)
}

type bisect struct{}

// Bisect splits [s,e] into [s,mid] and [mid+1,e].
var Bisect Partitioner = bisect{}

func (bisect) Partition(r Range) (Range, Range, bool) {
	if r.IsUnit() {
		return Range{}, Range{}, false
	}
	mid := r.Start.Midpoint(r.End)
	return Range{r.Start, mid}, Range{mid.Next(), r.End}, true
}
