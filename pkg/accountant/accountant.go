// Package accountant keeps track of the source offsets that have been
// written to the target storage, per topic, and persists them.
package accountant

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/siqueiraa/kaflow-restructure/pkg/metrics"
	"github.com/siqueiraa/kaflow-restructure/pkg/offsets"
)

const (
	DefaultDebounce   = time.Second
	defaultMaxRetries = 5
)

// Persistence loads and stores the offsets of one topic.
type Persistence interface {
	// Read returns an empty set when the topic has no stored offsets.
	Read(ctx context.Context, topic string) (*offsets.OffsetRangeSet, error)
	Write(ctx context.Context, topic string, set *offsets.OffsetRangeSet) error
	// Topics lists every topic with stored offsets, sorted.
	Topics(ctx context.Context) ([]string, error)
}

type Options struct {
	// Debounce delays writes so that bursts of Process calls produce one
	// write. Zero or negative writes synchronously.
	Debounce   time.Duration
	MaxRetries uint64
	Metrics    metrics.Collector
	Logger     logrus.FieldLogger
}

// Accountant holds the processed offsets of one topic. Safe for concurrent
// use.
type Accountant struct {
	topic       string
	set         *offsets.OffsetRangeSet
	persistence Persistence
	debounce    time.Duration
	maxRetries  uint64
	metrics     metrics.Collector
	logger      logrus.FieldLogger

	// ctx is used by debounced writes
	ctx context.Context

	mu     sync.Mutex
	dirty  bool
	timer  *time.Timer
	closed bool

	// serializes writes so the newest snapshot is always written last
	writeMu sync.Mutex
}

// Open loads the stored offsets of topic. A read failure is logged and the
// accountant starts empty: offsets are then reprocessed, never lost.
func Open(ctx context.Context, topic string, p Persistence, opts Options) *Accountant {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	logger := opts.Logger.WithField("topic", topic)

	set, err := p.Read(ctx, topic)
	if err != nil {
		logger.WithError(err).Warn("cannot read processed offsets, starting empty")
		set = offsets.NewOffsetRangeSet()
	}

	return &Accountant{
		topic:       topic,
		set:         set,
		persistence: p,
		debounce:    opts.Debounce,
		maxRetries:  opts.MaxRetries,
		metrics:     opts.Metrics,
		logger:      logger,
		ctx:         context.WithoutCancel(ctx),
	}
}

func (a *Accountant) Topic() string {
	return a.topic
}

// Process merges a ledger and schedules a write.
func (a *Accountant) Process(l *Ledger) {
	if l == nil || l.IsEmpty() {
		return
	}
	if err := a.set.AddAll(l.Offsets()); err != nil {
		a.logger.WithError(err).Error("cannot merge ledger")
		return
	}
	a.schedule()
}

// Remove marks a range as unprocessed again.
func (a *Accountant) Remove(r offsets.OffsetRange) {
	if err := a.set.Remove(r); err != nil {
		a.logger.WithError(err).WithField("range", r.String()).Error("cannot remove range")
		return
	}
	a.schedule()
}

// Contains reports whether every offset of r is processed with a
// modification time not older than r.LastModified.
func (a *Accountant) Contains(r offsets.OffsetRange) bool {
	return a.set.Contains(r)
}

// Offsets returns a read-only snapshot.
func (a *Accountant) Offsets() *offsets.OffsetRangeSet {
	return a.set.Snapshot()
}

func (a *Accountant) schedule() {
	a.mu.Lock()
	a.dirty = true
	if a.debounce <= 0 || a.closed {
		a.mu.Unlock()
		a.persist(a.ctx)
		return
	}
	if a.timer == nil {
		a.timer = time.AfterFunc(a.debounce, func() { a.persist(a.ctx) })
	}
	a.mu.Unlock()
}

// Flush writes pending changes now. Failures are logged.
func (a *Accountant) Flush(ctx context.Context) {
	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.mu.Unlock()
	a.persist(ctx)
}

// Close flushes and stops scheduling. Later changes are written
// synchronously.
func (a *Accountant) Close(ctx context.Context) {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	a.Flush(ctx)
}

func (a *Accountant) persist(ctx context.Context) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	a.mu.Lock()
	if !a.dirty {
		a.mu.Unlock()
		return
	}
	a.dirty = false
	a.timer = nil
	a.mu.Unlock()

	snapshot := a.set.Snapshot()
	start := time.Now()
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), a.maxRetries), ctx)
	err := backoff.Retry(func() error {
		return a.persistence.Write(ctx, a.topic, snapshot)
	}, b)
	a.metrics.OffsetsPersisted(a.topic, time.Since(start), err)

	if err != nil {
		a.logger.WithError(err).Error("cannot write processed offsets")
		a.mu.Lock()
		a.dirty = true
		a.mu.Unlock()
		return
	}
	a.logger.WithField("took", time.Since(start)).Debug("wrote processed offsets")
}
