package offsets

import (
	"fmt"
	"slices"
	"sort"
	"time"
)

// TopicPartition identifies one shard of a topic.
type TopicPartition struct {
	Topic     string
	Partition int
}

func (tp TopicPartition) String() string {
	return fmt.Sprintf("%s+%d", tp.Topic, tp.Partition)
}

// Range is an inclusive offset range tagged with the modification time of the
// source data it was extracted from.
type Range struct {
	From         int64
	To           int64
	LastModified time.Time
}

// Size returns the number of offsets covered by r.
func (r Range) Size() int64 {
	return r.To - r.From + 1
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d]", r.From, r.To)
}

// OffsetRange is a Range that belongs to a topic-partition.
type OffsetRange struct {
	TopicPartition
	Range
}

func (r OffsetRange) String() string {
	return fmt.Sprintf("%s%s", r.TopicPartition, r.Range)
}

// IntervalSet keeps sorted, non-overlapping and maximally merged ranges.
// Adjacent or overlapping ranges are combined and keep the latest
// LastModified of everything they absorbed. It is not safe for concurrent use.
type IntervalSet struct {
	ranges []Range
}

// NewIntervalSet creates an empty set.
func NewIntervalSet() *IntervalSet {
	return &IntervalSet{ranges: make([]Range, 0)}
}

// Add merges r into the set.
func (s *IntervalSet) Add(r Range) {
	if r.From > r.To {
		return
	}
	// first interval starting strictly after r
	idx := sort.Search(len(s.ranges), func(i int) bool {
		return s.ranges[i].From > r.From
	})

	merged := r
	start := idx
	if idx > 0 && s.ranges[idx-1].To >= r.From-1 {
		prev := s.ranges[idx-1]
		start = idx - 1
		merged.From = prev.From
		merged.To = max(merged.To, prev.To)
		merged.LastModified = latest(merged.LastModified, prev.LastModified)
	}

	end := idx
	for end < len(s.ranges) && s.ranges[end].From <= merged.To+1 {
		next := s.ranges[end]
		merged.To = max(merged.To, next.To)
		merged.LastModified = latest(merged.LastModified, next.LastModified)
		end++
	}

	s.ranges = slices.Replace(s.ranges, start, end, merged)
}

// AddOffset adds a single offset.
func (s *IntervalSet) AddOffset(offset int64, lastModified time.Time) {
	s.Add(Range{From: offset, To: offset, LastModified: lastModified})
}

// Contains reports whether every offset of r is covered by one stored
// interval that is at least as recent as r.
func (s *IntervalSet) Contains(r Range) bool {
	idx := sort.Search(len(s.ranges), func(i int) bool {
		return s.ranges[i].From > r.From
	}) - 1
	if idx < 0 {
		return false
	}
	stored := s.ranges[idx]
	return stored.To >= r.To && !stored.LastModified.Before(r.LastModified)
}

// Remove un-marks the offsets of r, splitting an interval when r is interior
// to it. The timestamp of r is ignored.
func (s *IntervalSet) Remove(r Range) {
	if r.From > r.To {
		return
	}
	// first interval ending at or after r.From
	start := sort.Search(len(s.ranges), func(i int) bool {
		return s.ranges[i].To >= r.From
	})

	var remainder []Range
	end := start
	for end < len(s.ranges) && s.ranges[end].From <= r.To {
		stored := s.ranges[end]
		if stored.From < r.From {
			remainder = append(remainder, Range{From: stored.From, To: r.From - 1, LastModified: stored.LastModified})
		}
		if stored.To > r.To {
			remainder = append(remainder, Range{From: r.To + 1, To: stored.To, LastModified: stored.LastModified})
		}
		end++
	}
	if start == end {
		return
	}
	s.ranges = slices.Replace(s.ranges, start, end, remainder...)
}

// Size is the number of stored intervals.
func (s *IntervalSet) Size() int {
	return len(s.ranges)
}

func (s *IntervalSet) IsEmpty() bool {
	return len(s.ranges) == 0
}

// Ranges returns a copy of the intervals in ascending order.
func (s *IntervalSet) Ranges() []Range {
	return slices.Clone(s.ranges)
}

func (s *IntervalSet) Clone() *IntervalSet {
	return &IntervalSet{ranges: slices.Clone(s.ranges)}
}

func (s *IntervalSet) String() string {
	return fmt.Sprint(s.ranges)
}

func latest(a, b time.Time) time.Time {
	if a.Before(b) {
		return b
	}
	return a
}
