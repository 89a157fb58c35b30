package metrics

import (
	"sync/atomic"
	"time"
)

// PassStats counts one pass. The driver owns it; workers only add.
type PassStats struct {
	started time.Time

	topics  atomic.Int64
	files   atomic.Int64
	records atomic.Int64
	skipped atomic.Int64
	failed  atomic.Int64
}

// Summary is a snapshot of PassStats.
type Summary struct {
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Topics   int64         `json:"topics"`
	Files    int64         `json:"files"`
	Records  int64         `json:"records"`
	Skipped  int64         `json:"skipped"`
	Failed   int64         `json:"failed"`
}

func NewPassStats(started time.Time) *PassStats {
	return &PassStats{started: started}
}

func (s *PassStats) AddTopic()          { s.topics.Add(1) }
func (s *PassStats) AddFile()           { s.files.Add(1) }
func (s *PassStats) AddRecords(n int64) { s.records.Add(n) }
func (s *PassStats) AddSkipped(n int64) { s.skipped.Add(n) }
func (s *PassStats) AddFailed()         { s.failed.Add(1) }

// Summary reads the counters; now ends the measured duration.
func (s *PassStats) Summary(now time.Time) Summary {
	return Summary{
		Started:  s.started,
		Duration: now.Sub(s.started),
		Topics:   s.topics.Load(),
		Files:    s.files.Load(),
		Records:  s.records.Load(),
		Skipped:  s.skipped.Load(),
		Failed:   s.failed.Load(),
	}
}

// Merge adds the file and record counts of a finished topic.
func (s *PassStats) Merge(topic Summary) {
	s.files.Add(topic.Files)
	s.records.Add(topic.Records)
	s.skipped.Add(topic.Skipped)
	s.failed.Add(topic.Failed)
}
