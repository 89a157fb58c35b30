// Package worker streams the source files of one topic into the output
// file cache.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/siqueiraa/kaflow-restructure/pkg/accountant"
	"github.com/siqueiraa/kaflow-restructure/pkg/avro"
	"github.com/siqueiraa/kaflow-restructure/pkg/cache"
	"github.com/siqueiraa/kaflow-restructure/pkg/lock"
	"github.com/siqueiraa/kaflow-restructure/pkg/metrics"
	"github.com/siqueiraa/kaflow-restructure/pkg/offsets"
	"github.com/siqueiraa/kaflow-restructure/pkg/pathfactory"
	"github.com/siqueiraa/kaflow-restructure/pkg/storage"
)

const (
	DefaultBatchSize   = 500_000
	DefaultMaxAttempts = 100
)

// ErrTooManyAttempts is returned when no attempt suffix gives a file the
// record fits in.
var ErrTooManyAttempts = errors.New("no compatible output file")

// errStopped ends the current file after Close or cancellation.
var errStopped = errors.New("worker stopped")

type Options struct {
	Topic      string
	Source     storage.Storage
	Store      *cache.Store
	Accountant *accountant.Accountant
	Paths      pathfactory.Factory
	// Lock is refreshed at every batch flush; nil skips refreshing.
	Lock lock.Lock
	// BatchSize is the number of offsets between flushes.
	BatchSize   int64
	MaxAttempts int
	Stats       *metrics.PassStats
	Metrics     metrics.Collector
	Logger      logrus.FieldLogger
}

// RestructureWorker processes the files of one topic sequentially. Only Close
// may be called from another goroutine.
type RestructureWorker struct {
	topic       string
	source      storage.Storage
	store       *cache.Store
	accountant  *accountant.Accountant
	paths       pathfactory.Factory
	lock        lock.Lock
	batchSize   int64
	maxAttempts int
	stats       *metrics.PassStats
	metrics     metrics.Collector
	logger      logrus.FieldLogger

	pending int64
	closed  atomic.Bool
}

func New(opts Options) *RestructureWorker {
	if opts.BatchSize < 1 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Stats == nil {
		opts.Stats = metrics.NewPassStats(time.Now())
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &RestructureWorker{
		topic:       opts.Topic,
		source:      opts.Source,
		store:       opts.Store,
		accountant:  opts.Accountant,
		paths:       opts.Paths,
		lock:        opts.Lock,
		batchSize:   opts.BatchSize,
		maxAttempts: opts.MaxAttempts,
		stats:       opts.Stats,
		metrics:     opts.Metrics,
		logger:      opts.Logger.WithField("topic", opts.Topic),
	}
}

// Close stops the worker before its next file or batch. Files already open
// are still committed by Run.
func (w *RestructureWorker) Close() {
	w.closed.Store(true)
}

func (w *RestructureWorker) isClosed(ctx context.Context) bool {
	if ctx.Err() != nil {
		w.closed.Store(true)
	}
	return w.closed.Load()
}

// Run processes files in order and always commits the cache store before
// returning. A failing file is logged and counted; only a lost lock stops
// the run with an error.
func (w *RestructureWorker) Run(ctx context.Context, files []offsets.TopicFile) (err error) {
	defer func() {
		if closeErr := w.store.Close(context.WithoutCancel(ctx)); closeErr != nil {
			w.logger.WithError(closeErr).Error("cannot commit output files")
			if err == nil {
				err = closeErr
			}
		}
	}()

	for i, f := range files {
		if w.isClosed(ctx) {
			w.logger.WithField("remaining", len(files)-i).Info("worker stopped, skipping remaining files")
			return nil
		}
		err := w.processFile(ctx, f)
		switch {
		case err == nil:
			if err := w.store.CommitIdle(ctx); err != nil {
				w.logger.WithError(err).Warn("cannot commit idle output files")
			}
		case errors.Is(err, errStopped):
			return nil
		case errors.Is(err, lock.ErrLockLost):
			return err
		default:
			w.stats.AddFailed()
			w.metrics.FileFailed(w.topic)
			w.logger.WithError(err).WithField("file", f.Path).Error("cannot restructure file")
		}
	}
	return nil
}

func (w *RestructureWorker) processFile(ctx context.Context, f offsets.TopicFile) error {
	start := time.Now()
	logger := w.logger.WithField("file", f.Path)

	in, err := w.source.NewInput(ctx, f.Path)
	if err != nil {
		return err
	}
	defer in.Close()

	r, err := avro.NewReader(in)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Path, err)
	}

	var written, skipped int64
	offset := f.Range.From
	for r.Next() {
		if offset > f.Range.To {
			logger.WithField("offset", offset).Warn("file holds records past its end offset, skipping them")
			break
		}

		tx := accountant.Transaction{
			TopicPartition: f.Range.TopicPartition,
			Offset:         offset,
			LastModified:   f.LastModified,
		}
		if w.accountant.Contains(tx.Range()) {
			skipped++
		} else {
			if err := w.writeRecord(ctx, r.Record(), tx); err != nil {
				return fmt.Errorf("offset %d: %w", offset, err)
			}
			written++
		}
		offset++

		w.pending++
		if w.pending >= w.batchSize {
			if err := w.flushBatch(ctx); err != nil {
				return err
			}
			if w.isClosed(ctx) {
				logger.WithField("offset", offset).Info("worker stopped inside file")
				w.count(written, skipped, start)
				return errStopped
			}
		}
	}
	if err := r.Err(); err != nil {
		return fmt.Errorf("read %s: %w", f.Path, err)
	}
	if offset <= f.Range.To {
		logger.WithFields(logrus.Fields{
			"expected": f.Range.To,
			"last":     offset - 1,
		}).Warn("file ended before its end offset")
	}

	w.count(written, skipped, start)
	w.stats.AddFile()
	logger.WithFields(logrus.Fields{
		"records": written,
		"skipped": skipped,
		"took":    time.Since(start),
	}).Debug("restructured file")
	return nil
}

func (w *RestructureWorker) count(written, skipped int64, start time.Time) {
	w.stats.AddRecords(written)
	w.stats.AddSkipped(skipped)
	w.metrics.FileProcessed(w.topic, written, time.Since(start))
	if skipped > 0 {
		w.metrics.RecordsSkipped(w.topic, skipped)
	}
}

// writeRecord tries successive attempt suffixes until the record fits.
func (w *RestructureWorker) writeRecord(ctx context.Context, record avro.Record, tx accountant.Transaction) error {
	for attempt := 0; attempt < w.maxAttempts; attempt++ {
		org := w.paths.Organize(w.topic, record, attempt)
		res, err := w.store.WriteRecord(ctx, w.topic, org.Path, record, tx)
		if err != nil {
			return err
		}
		if res.IsSuccessful() {
			return nil
		}
		w.logger.WithFields(logrus.Fields{
			"path":    org.Path,
			"attempt": attempt,
		}).Debug("record does not fit output file, trying next suffix")
	}
	return fmt.Errorf("%w after %d attempts", ErrTooManyAttempts, w.maxAttempts)
}

func (w *RestructureWorker) flushBatch(ctx context.Context) error {
	w.pending = 0
	if err := w.store.Flush(ctx); err != nil {
		return fmt.Errorf("flush batch: %w", err)
	}
	if w.lock != nil {
		if err := w.lock.Refresh(ctx); err != nil {
			return fmt.Errorf("refresh lock: %w", err)
		}
	}
	return nil
}
