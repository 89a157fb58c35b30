package offsets

import (
	"errors"
	"sort"
	"sync"
)

// ErrReadOnly is returned when mutating a snapshot.
var ErrReadOnly = errors.New("offset range set is read-only")

// intervalPolicy controls how one partition's IntervalSet may be accessed.
type intervalPolicy interface {
	add(r Range) error
	remove(r Range) error
	contains(r Range) bool
	size() int
	ranges() []Range
	snapshot() intervalPolicy
}

// lockedIntervals guards a mutable set with a read/write lock. It is used by
// the worker that owns the topic.
type lockedIntervals struct {
	mu  sync.RWMutex
	set *IntervalSet
}

func (l *lockedIntervals) add(r Range) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.set.Add(r)
	return nil
}

func (l *lockedIntervals) remove(r Range) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.set.Remove(r)
	return nil
}

func (l *lockedIntervals) contains(r Range) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.set.Contains(r)
}

func (l *lockedIntervals) size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.set.Size()
}

func (l *lockedIntervals) ranges() []Range {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.set.Ranges()
}

func (l *lockedIntervals) snapshot() intervalPolicy {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return readOnlyIntervals{set: l.set.Clone()}
}

// readOnlyIntervals is an immutable copy that concurrent helpers read without
// blocking the writer.
type readOnlyIntervals struct {
	set *IntervalSet
}

func (readOnlyIntervals) add(Range) error         { return ErrReadOnly }
func (readOnlyIntervals) remove(Range) error      { return ErrReadOnly }
func (r readOnlyIntervals) contains(q Range) bool { return r.set.Contains(q) }
func (r readOnlyIntervals) size() int             { return r.set.Size() }
func (r readOnlyIntervals) ranges() []Range       { return r.set.Ranges() }
func (r readOnlyIntervals) snapshot() intervalPolicy {
	return r
}

// OffsetRangeSet maps topic-partitions to their processed offsets.
type OffsetRangeSet struct {
	mu         sync.RWMutex
	partitions map[TopicPartition]intervalPolicy
	readOnly   bool
}

// NewOffsetRangeSet creates an empty mutable set.
func NewOffsetRangeSet() *OffsetRangeSet {
	return &OffsetRangeSet{
		partitions: make(map[TopicPartition]intervalPolicy),
	}
}

// Add merges a range into the partition's interval set.
func (s *OffsetRangeSet) Add(r OffsetRange) error {
	p, err := s.writable(r.TopicPartition)
	if err != nil {
		return err
	}
	return p.add(r.Range)
}

// AddAll merges every range of other into s.
func (s *OffsetRangeSet) AddAll(other *OffsetRangeSet) error {
	if s.readOnly {
		return ErrReadOnly
	}
	var firstErr error
	other.Ranges(func(tp TopicPartition, r Range) {
		if err := s.Add(OffsetRange{TopicPartition: tp, Range: r}); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	return firstErr
}

// Remove un-marks a range.
func (s *OffsetRangeSet) Remove(r OffsetRange) error {
	if s.readOnly {
		return ErrReadOnly
	}
	s.mu.RLock()
	p, ok := s.partitions[r.TopicPartition]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return p.remove(r.Range)
}

// Contains reports whether the whole range was processed with data at least
// as recent as r.LastModified.
func (s *OffsetRangeSet) Contains(r OffsetRange) bool {
	s.mu.RLock()
	p, ok := s.partitions[r.TopicPartition]
	s.mu.RUnlock()
	return ok && p.contains(r.Range)
}

// Size is the number of intervals stored for tp.
func (s *OffsetRangeSet) Size(tp TopicPartition) int {
	s.mu.RLock()
	p, ok := s.partitions[tp]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return p.size()
}

func (s *OffsetRangeSet) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.partitions {
		if p.size() > 0 {
			return false
		}
	}
	return true
}

// Partitions returns the known topic-partitions ordered by topic and partition.
func (s *OffsetRangeSet) Partitions() []TopicPartition {
	s.mu.RLock()
	tps := make([]TopicPartition, 0, len(s.partitions))
	for tp := range s.partitions {
		tps = append(tps, tp)
	}
	s.mu.RUnlock()

	sort.Slice(tps, func(i, j int) bool {
		if tps[i].Topic != tps[j].Topic {
			return tps[i].Topic < tps[j].Topic
		}
		return tps[i].Partition < tps[j].Partition
	})
	return tps
}

// Ranges visits every stored interval ordered by topic, partition and offset.
func (s *OffsetRangeSet) Ranges(fn func(tp TopicPartition, r Range)) {
	for _, tp := range s.Partitions() {
		s.mu.RLock()
		p := s.partitions[tp]
		s.mu.RUnlock()
		for _, r := range p.ranges() {
			fn(tp, r)
		}
	}
}

// Snapshot returns an immutable copy of s.
func (s *OffsetRangeSet) Snapshot() *OffsetRangeSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := &OffsetRangeSet{
		partitions: make(map[TopicPartition]intervalPolicy, len(s.partitions)),
		readOnly:   true,
	}
	for tp, p := range s.partitions {
		snap.partitions[tp] = p.snapshot()
	}
	return snap
}

func (s *OffsetRangeSet) ReadOnly() bool {
	return s.readOnly
}

func (s *OffsetRangeSet) writable(tp TopicPartition) (intervalPolicy, error) {
	if s.readOnly {
		return nil, ErrReadOnly
	}
	s.mu.RLock()
	p, ok := s.partitions[tp]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.partitions[tp]; ok {
		return p, nil
	}
	p = &lockedIntervals{set: NewIntervalSet()}
	s.partitions[tp] = p
	return p, nil
}
