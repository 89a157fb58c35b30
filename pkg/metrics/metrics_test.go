package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPassStatsConcurrentAdds(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewPassStats(start)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				s.AddRecords(2)
				s.AddFile()
			}
		}()
	}
	wg.Wait()
	s.AddTopic()
	s.AddFailed()
	s.AddSkipped(3)

	sum := s.Summary(start.Add(time.Minute))
	assert.Equal(t, Summary{
		Started:  start,
		Duration: time.Minute,
		Topics:   1,
		Files:    800,
		Records:  1600,
		Skipped:  3,
		Failed:   1,
	}, sum)
}

func TestPassStatsMergeSkipsTopics(t *testing.T) {
	s := NewPassStats(time.Time{})
	s.Merge(Summary{Topics: 5, Files: 2, Records: 10, Skipped: 1, Failed: 1})
	s.Merge(Summary{Files: 1, Records: 3})

	sum := s.Summary(time.Time{})
	assert.Zero(t, sum.Topics)
	assert.EqualValues(t, 3, sum.Files)
	assert.EqualValues(t, 13, sum.Records)
	assert.EqualValues(t, 1, sum.Skipped)
	assert.EqualValues(t, 1, sum.Failed)
}

func TestPrometheusCollector(t *testing.T) {
	p := NewPrometheus()
	p.FileProcessed("t", 10, time.Second)
	p.FileProcessed("t", 5, time.Second)
	p.FileFailed("t")
	p.RecordsSkipped("u", 4)
	p.CacheEvicted(3)
	p.OffsetsPersisted("t", time.Millisecond, nil)
	p.OffsetsPersisted("t", 0, errors.New("boom"))
	p.PassCompleted(Summary{Topics: 2, Records: 15})

	assert.Equal(t, 15.0, testutil.ToFloat64(p.records.WithLabelValues("t")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.files.WithLabelValues("t")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.failedFiles.WithLabelValues("t")))
	assert.Equal(t, 4.0, testutil.ToFloat64(p.skipped.WithLabelValues("u")))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.evictions))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.persistErrors.WithLabelValues("t")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.lastPass.WithLabelValues("topics")))

	out := filepath.Join(t.TempDir(), "restructure.prom")
	require.NoError(t, p.WriteTextfile(out))
	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(b), "restructure_records_total{topic=\"t\"} 15")
}

func TestNoopSatisfiesCollector(t *testing.T) {
	var c Collector = Noop{}
	c.PassCompleted(Summary{})
}
