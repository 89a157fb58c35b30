package restructure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/siqueiraa/kaflow-restructure/pkg/accountant"
	"github.com/siqueiraa/kaflow-restructure/pkg/avro"
	"github.com/siqueiraa/kaflow-restructure/pkg/config"
	"github.com/siqueiraa/kaflow-restructure/pkg/converter"
	"github.com/siqueiraa/kaflow-restructure/pkg/lock"
	"github.com/siqueiraa/kaflow-restructure/pkg/offsets"
	"github.com/siqueiraa/kaflow-restructure/pkg/storage"
	"github.com/siqueiraa/kaflow-restructure/pkg/worker"
)

// CleanResult counts the source files handled by one cleaning run.
type CleanResult struct {
	Deleted int64
	// Reset files were marked processed but their output was missing; they
	// are restructured again by the next pass.
	Reset  int64
	Locked int64
}

// Cleaner deletes source files whose records are all present in the target.
type Cleaner struct {
	cfg         config.AppConfig
	source      storage.Storage
	target      storage.Storage
	locks       lock.Manager
	persistence accountant.Persistence
	layout      Layout
	lister      *Lister
	maxAttempts int
	logger      logrus.FieldLogger
}

func NewCleaner(opts Options) (*Cleaner, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Locks == nil || opts.Persistence == nil {
		return nil, errors.New("cleaning needs a lock manager and offset persistence")
	}
	layout, err := NewLayout(opts.Config)
	if err != nil {
		return nil, err
	}
	maxAttempts := opts.Config.Worker.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = worker.DefaultMaxAttempts
	}
	return &Cleaner{
		cfg:         opts.Config,
		source:      opts.Source,
		target:      opts.Target,
		locks:       opts.Locks,
		persistence: opts.Persistence,
		layout:      layout,
		lister:      NewLister(opts.Source, opts.Config.Worker.ListConcurrency, opts.Config.Topics.Exclude, opts.Logger),
		maxAttempts: maxAttempts,
		logger:      opts.Logger.WithField("component", "cleaner"),
	}, nil
}

// Clean handles every topic with files older than the configured age.
func (c *Cleaner) Clean(ctx context.Context) (CleanResult, error) {
	topics, err := c.lister.ListTopicFiles(ctx, "", c.cfg.Cleaner.Age)
	if err != nil {
		return CleanResult{}, err
	}

	var (
		mu    sync.Mutex
		total CleanResult
	)
	g := new(errgroup.Group)
	g.SetLimit(max(c.cfg.Worker.NumThreads, 1))
	for _, topic := range sortedTopics(topics) {
		files := topics[topic]
		g.Go(func() error {
			res := c.cleanTopic(ctx, topic, files)
			mu.Lock()
			defer mu.Unlock()
			total.Deleted += res.Deleted
			total.Reset += res.Reset
			total.Locked += res.Locked
			return nil
		})
	}
	_ = g.Wait()

	c.logger.WithFields(logrus.Fields{
		"deleted": total.Deleted,
		"reset":   total.Reset,
		"locked":  total.Locked,
	}).Info("cleaning completed")
	return total, ctx.Err()
}

func (c *Cleaner) cleanTopic(ctx context.Context, topic string, files []offsets.TopicFile) CleanResult {
	logger := c.logger.WithField("topic", topic)
	var res CleanResult

	ran, err := lock.TryWithLock(ctx, c.locks, topic, func(ctx context.Context, _ lock.Lock) error {
		acc := accountant.Open(ctx, topic, c.persistence, accountant.Options{
			Debounce: c.cfg.Offsets.Debounce,
			Logger:   c.logger,
		})
		defer acc.Close(context.WithoutCancel(ctx))

		v := &verifier{cleaner: c, topic: topic, rows: make(map[string]converter.Rows)}
		for _, f := range files {
			if ctx.Err() != nil {
				return nil
			}
			if !acc.Contains(f.Range) {
				continue
			}
			extracted, err := v.extracted(ctx, f)
			if err != nil {
				logger.WithError(err).WithField("file", f.Path).Warn("cannot verify source file")
				continue
			}
			if !extracted {
				logger.WithField("file", f.Path).Warn("output of source file is missing, restructuring it again")
				acc.Remove(f.Range)
				res.Reset++
				continue
			}
			if err := c.source.Delete(ctx, f.Path); err != nil && !errors.Is(err, storage.ErrNotFound) {
				logger.WithError(err).WithField("file", f.Path).Error("cannot delete source file")
				continue
			}
			res.Deleted++
		}
		return nil
	})
	if err != nil {
		logger.WithError(err).Error("cannot clean topic")
	}
	if !ran && err == nil {
		logger.Info("topic is locked by another process, skipping")
		res.Locked++
	}
	return res
}

// verifier checks that every record of a file is present in its output,
// caching the rows of each output file read for the topic.
type verifier struct {
	cleaner *Cleaner
	topic   string
	// nil for output files that are missing or unreadable
	rows map[string]converter.Rows
}

func (v *verifier) extracted(ctx context.Context, f offsets.TopicFile) (bool, error) {
	start := time.Now()
	in, err := v.cleaner.source.NewInput(ctx, f.Path)
	if err != nil {
		return false, err
	}
	defer in.Close()

	r, err := avro.NewReader(in)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", f.Path, err)
	}
	offset := f.Range.From
	for r.Next() && offset <= f.Range.To {
		found, err := v.hasOutput(ctx, r.Record())
		if err != nil || !found {
			return false, err
		}
		offset++
	}
	if err := r.Err(); err != nil {
		return false, fmt.Errorf("read %s: %w", f.Path, err)
	}
	v.cleaner.logger.WithFields(logrus.Fields{
		"file": f.Path,
		"took": time.Since(start),
	}).Debug("verified source file")
	return true, nil
}

// hasOutput reports whether the output file of any attempt holds record.
func (v *verifier) hasOutput(ctx context.Context, record avro.Record) (bool, error) {
	for attempt := 0; attempt < v.cleaner.maxAttempts; attempt++ {
		p := v.cleaner.layout.Paths.Organize(v.topic, record, attempt).Path
		rows, err := v.load(ctx, p)
		if err != nil {
			return false, err
		}
		if rows == nil {
			continue
		}
		found, err := rows.Contains(record)
		if err != nil {
			return false, fmt.Errorf("check %s: %w", p, err)
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}

func (v *verifier) load(ctx context.Context, p string) (converter.Rows, error) {
	if rows, ok := v.rows[p]; ok {
		return rows, nil
	}
	status, err := v.cleaner.target.Status(ctx, p)
	if err != nil {
		return nil, err
	}
	if status == nil {
		v.rows[p] = nil
		return nil, nil
	}

	in, err := v.cleaner.target.NewReader(ctx, p)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	rows, err := v.readRows(in)
	if err != nil {
		// content that cannot be parsed holds no records
		v.cleaner.logger.WithError(err).WithField("path", p).Warn("cannot read output file")
		rows = nil
	}
	v.rows[p] = rows
	return rows, nil
}

func (v *verifier) readRows(in io.Reader) (converter.Rows, error) {
	r, err := v.cleaner.layout.Codec.Decompress(in)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var distinct, ignore []string
	if dedup := v.cleaner.cfg.Format.Deduplication; dedup.Enabled {
		distinct, ignore = dedup.DistinctFields, dedup.IgnoreFields
	}
	return v.cleaner.layout.Factory.ReadRows(r, distinct, ignore)
}
