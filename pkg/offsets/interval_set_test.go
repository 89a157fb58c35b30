package offsets

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
	t2 = t0.Add(2 * time.Hour)
)

func rng(from, to int64, lastModified time.Time) Range {
	return Range{From: from, To: to, LastModified: lastModified}
}

func TestIntervalSetAddMerges(t *testing.T) {
	s := NewIntervalSet()
	s.Add(rng(0, 1, t0))
	s.Add(rng(3, 4, t0))
	assert.Equal(t, 2, s.Size())

	s.Add(rng(0, 3, t0))
	require.Equal(t, 1, s.Size())
	assert.Equal(t, []Range{rng(0, 4, t0)}, s.Ranges())
}

func TestIntervalSetAdjacentRanges(t *testing.T) {
	s := NewIntervalSet()
	s.Add(rng(5, 9, t0))
	s.Add(rng(0, 4, t1))
	require.Equal(t, 1, s.Size())
	assert.Equal(t, rng(0, 9, t1), s.Ranges()[0])

	s.Add(rng(10, 10, t0))
	assert.Equal(t, []Range{rng(0, 10, t1)}, s.Ranges())
}

func TestIntervalSetAbsorbsCoveredIntervals(t *testing.T) {
	s := NewIntervalSet()
	for _, r := range []Range{rng(2, 3, t0), rng(6, 7, t2), rng(10, 11, t0), rng(20, 21, t0)} {
		s.Add(r)
	}
	require.Equal(t, 4, s.Size())

	s.Add(rng(1, 12, t1))
	assert.Equal(t, []Range{rng(1, 12, t2), rng(20, 21, t0)}, s.Ranges())
}

func TestIntervalSetOutOfOrderSingleOffsets(t *testing.T) {
	s := NewIntervalSet()
	for _, off := range []int64{7, 3, 5, 4, 0, 6, 2, 1} {
		s.AddOffset(off, t0)
	}
	assert.Equal(t, []Range{rng(0, 7, t0)}, s.Ranges())
}

func TestIntervalSetIdempotentAdd(t *testing.T) {
	s := NewIntervalSet()
	s.Add(rng(0, 10, t1))
	s.Add(rng(20, 30, t1))

	r := rng(2, 8, t0)
	require.True(t, s.Contains(r))
	before := s.Ranges()
	s.Add(r)
	assert.Equal(t, before, s.Ranges())
}

func TestIntervalSetContains(t *testing.T) {
	s := NewIntervalSet()
	s.Add(rng(0, 10, t1))
	s.Add(rng(12, 15, t1))

	tests := []struct {
		name  string
		query Range
		want  bool
	}{
		{"inner", rng(2, 5, t1), true},
		{"whole", rng(0, 10, t1), true},
		{"older data", rng(2, 5, t0), true},
		{"newer data", rng(2, 5, t2), false},
		{"spans gap", rng(9, 12, t0), false},
		{"before first", rng(-3, -1, t0), false},
		{"after last", rng(16, 16, t0), false},
		{"in gap", rng(11, 11, t0), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, s.Contains(tc.query))
		})
	}
}

func TestIntervalSetRemove(t *testing.T) {
	t.Run("interior split", func(t *testing.T) {
		s := NewIntervalSet()
		s.Add(rng(0, 10, t1))
		s.Remove(rng(4, 6, t0))
		assert.Equal(t, []Range{rng(0, 3, t1), rng(7, 10, t1)}, s.Ranges())
	})

	t.Run("truncate both ends across intervals", func(t *testing.T) {
		s := NewIntervalSet()
		s.Add(rng(0, 5, t0))
		s.Add(rng(8, 12, t1))
		s.Add(rng(20, 25, t2))
		s.Remove(rng(3, 21, t0))
		assert.Equal(t, []Range{rng(0, 2, t0), rng(22, 25, t2)}, s.Ranges())
	})

	t.Run("whole interval", func(t *testing.T) {
		s := NewIntervalSet()
		s.Add(rng(0, 5, t0))
		s.Remove(rng(0, 5, t0))
		assert.True(t, s.IsEmpty())
	})

	t.Run("miss", func(t *testing.T) {
		s := NewIntervalSet()
		s.Add(rng(0, 5, t0))
		s.Remove(rng(7, 9, t0))
		assert.Equal(t, []Range{rng(0, 5, t0)}, s.Ranges())
	})
}

func TestIntervalSetMergeCountMatchesUnion(t *testing.T) {
	inputs := []Range{
		rng(40, 45, t0), rng(0, 0, t1), rng(2, 4, t0), rng(1, 1, t0),
		rng(30, 35, t2), rng(36, 39, t0), rng(50, 50, t0), rng(3, 8, t0),
	}
	s := NewIntervalSet()
	covered := map[int64]bool{}
	for _, r := range inputs {
		s.Add(r)
		for o := r.From; o <= r.To; o++ {
			covered[o] = true
		}
	}

	runs := 0
	for o := int64(0); o <= 51; o++ {
		if covered[o] && !covered[o-1] {
			runs++
		}
	}
	assert.Equal(t, runs, s.Size())
	assert.Equal(t, []Range{rng(0, 8, t1), rng(30, 45, t2), rng(50, 50, t0)}, s.Ranges())
}
