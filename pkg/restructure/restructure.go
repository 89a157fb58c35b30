// Package restructure runs restructuring passes over all topics of a source
// tree and cleans up source files that were fully extracted.
package restructure

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/siqueiraa/kaflow-restructure/pkg/accountant"
	"github.com/siqueiraa/kaflow-restructure/pkg/cache"
	"github.com/siqueiraa/kaflow-restructure/pkg/compression"
	"github.com/siqueiraa/kaflow-restructure/pkg/config"
	"github.com/siqueiraa/kaflow-restructure/pkg/converter"
	"github.com/siqueiraa/kaflow-restructure/pkg/lock"
	"github.com/siqueiraa/kaflow-restructure/pkg/metrics"
	"github.com/siqueiraa/kaflow-restructure/pkg/notify"
	"github.com/siqueiraa/kaflow-restructure/pkg/offsets"
	"github.com/siqueiraa/kaflow-restructure/pkg/pathfactory"
	"github.com/siqueiraa/kaflow-restructure/pkg/schema"
	"github.com/siqueiraa/kaflow-restructure/pkg/storage"
	"github.com/siqueiraa/kaflow-restructure/pkg/worker"
)

type Options struct {
	Config      config.AppConfig
	Source      storage.Storage
	Target      storage.Storage
	Locks       lock.Manager
	Persistence accountant.Persistence
	Notifier    notify.Notifier
	Metrics     metrics.Collector
	Logger      logrus.FieldLogger
	// OnPass runs after every pass, before the next one is scheduled.
	OnPass func(ctx context.Context, s metrics.Summary)
}

// Layout is the output format shared by the restructurer and the cleaner.
type Layout struct {
	Factory converter.Factory
	Codec   compression.Codec
	Paths   pathfactory.Factory
}

// NewLayout resolves the configured format, compression and path factory.
func NewLayout(cfg config.AppConfig) (Layout, error) {
	factory, err := converter.ForFormat(cfg.Format.Type, schema.NewSchemaManager())
	if err != nil {
		return Layout{}, err
	}
	codec, err := compression.ForName(cfg.Format.Compression)
	if err != nil {
		return Layout{}, err
	}
	paths, err := pathfactory.ForName(cfg.Paths.Factory, cfg.Paths.TimeBucket, factory.Extension()+codec.Extension())
	if err != nil {
		return Layout{}, err
	}
	return Layout{Factory: factory, Codec: codec, Paths: paths}, nil
}

// Restructurer runs passes: every topic with unprocessed files is handled
// by one worker while its lock is held.
type Restructurer struct {
	cfg         config.AppConfig
	source      storage.Storage
	target      storage.Storage
	locks       lock.Manager
	persistence accountant.Persistence
	layout      Layout
	lister      *Lister
	directories *cache.Directories
	notifier    notify.Notifier
	metrics     metrics.Collector
	logger      logrus.FieldLogger
	onPass      func(ctx context.Context, s metrics.Summary)
	now         func() time.Time

	mu      sync.Mutex
	workers map[string]*worker.RestructureWorker
	closed  atomic.Bool
}

func New(opts Options) (*Restructurer, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Locks == nil || opts.Persistence == nil {
		return nil, errors.New("restructuring needs a lock manager and offset persistence")
	}
	layout, err := NewLayout(opts.Config)
	if err != nil {
		return nil, err
	}

	return &Restructurer{
		cfg:         opts.Config,
		source:      opts.Source,
		target:      opts.Target,
		locks:       opts.Locks,
		persistence: opts.Persistence,
		layout:      layout,
		lister:      NewLister(opts.Source, opts.Config.Worker.ListConcurrency, opts.Config.Topics.Exclude, opts.Logger),
		directories: cache.NewDirectories(opts.Target),
		notifier:    opts.Notifier,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		onPass:      opts.OnPass,
		now:         time.Now,
		workers:     make(map[string]*worker.RestructureWorker),
	}, nil
}

// Run executes passes until ctx is cancelled, waiting the configured
// interval between them. Without an interval it runs a single pass.
func (r *Restructurer) Run(ctx context.Context) error {
	interval := r.cfg.Service.Interval
	for {
		_, err := r.Process(ctx)
		if interval <= 0 {
			return err
		}
		if err != nil && ctx.Err() == nil {
			r.logger.WithError(err).Error("restructuring pass failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
		if r.closed.Load() {
			return nil
		}
	}
}

// Process runs one pass over all topics. Topics run concurrently up to the
// configured thread count; a failing topic is logged and does not stop the
// others.
func (r *Restructurer) Process(ctx context.Context) (metrics.Summary, error) {
	pass := metrics.NewPassStats(r.now())

	topics, err := r.lister.ListTopicFiles(ctx, "", r.cfg.Worker.MinimumFileAge)
	if err != nil {
		return pass.Summary(r.now()), err
	}
	r.logger.WithField("topics", len(topics)).Info("starting restructuring pass")

	var (
		mu      sync.Mutex
		reports []notify.TopicReport
	)
	g := new(errgroup.Group)
	g.SetLimit(max(r.cfg.Worker.NumThreads, 1))
	for _, topic := range sortedTopics(topics) {
		if r.closed.Load() || ctx.Err() != nil {
			break
		}
		files := topics[topic]
		g.Go(func() error {
			report := r.processTopic(ctx, topic, files, pass)
			mu.Lock()
			reports = append(reports, report)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	summary := pass.Summary(r.now())
	r.metrics.PassCompleted(summary)
	r.logger.WithFields(logrus.Fields{
		"topics":   summary.Topics,
		"files":    summary.Files,
		"records":  summary.Records,
		"skipped":  summary.Skipped,
		"failed":   summary.Failed,
		"duration": summary.Duration,
	}).Info("restructuring pass completed")

	sort.Slice(reports, func(i, j int) bool { return reports[i].Topic < reports[j].Topic })
	if err := r.notifier.Notify(context.WithoutCancel(ctx), notify.Report{Summary: summary, Topics: reports}); err != nil {
		r.logger.WithError(err).Warn("cannot publish pass report")
	}
	if r.onPass != nil {
		r.onPass(ctx, summary)
	}
	return summary, nil
}

func (r *Restructurer) processTopic(ctx context.Context, topic string, files []offsets.TopicFile, pass *metrics.PassStats) notify.TopicReport {
	logger := r.logger.WithField("topic", topic)
	stats := metrics.NewPassStats(r.now())

	ran, err := lock.TryWithLock(ctx, r.locks, topic, func(ctx context.Context, l lock.Lock) error {
		acc := accountant.Open(ctx, topic, r.persistence, accountant.Options{
			Debounce: r.cfg.Offsets.Debounce,
			Metrics:  r.metrics,
			Logger:   r.logger,
		})
		defer acc.Close(context.WithoutCancel(ctx))

		eligible := r.eligible(acc.Offsets(), files)
		if len(eligible) == 0 {
			logger.Debug("no unprocessed files")
			return nil
		}
		logger.WithField("files", len(eligible)).Info("restructuring topic")

		store, err := cache.NewStore(cache.Options{
			Storage:     r.target,
			Factory:     r.layout.Factory,
			Codec:       r.layout.Codec,
			Accountant:  acc,
			Directories: r.directories,
			MaxSize:     r.cfg.Worker.CacheSize,
			IdleTimeout: r.cfg.Worker.CacheIdleTimeout,
			Dedup:       r.cfg.Format.Deduplication,
			TempDir:     r.cfg.Worker.TempDir,
			Metrics:     r.metrics,
			Logger:      r.logger,
		})
		if err != nil {
			return err
		}

		w := worker.New(worker.Options{
			Topic:       topic,
			Source:      r.source,
			Store:       store,
			Accountant:  acc,
			Paths:       r.layout.Paths,
			Lock:        l,
			BatchSize:   r.cfg.Worker.CacheOffsetsSize,
			MaxAttempts: r.cfg.Worker.MaxAttempts,
			Stats:       stats,
			Metrics:     r.metrics,
			Logger:      r.logger,
		})
		r.register(topic, w)
		defer r.unregister(topic)
		return w.Run(ctx, eligible)
	})

	report := notify.TopicReport{Topic: topic}
	if err != nil {
		logger.WithError(err).Error("cannot restructure topic")
	}
	if !ran {
		if err == nil {
			logger.Info("topic is locked by another process, skipping")
			report.Locked = true
		}
		return report
	}

	s := stats.Summary(r.now())
	pass.AddTopic()
	pass.Merge(s)
	report.Files, report.Records, report.Skipped, report.Failed = s.Files, s.Records, s.Skipped, s.Failed
	return report
}

// eligible drops files whose whole range was processed, as seen at the start
// of the pass.
func (r *Restructurer) eligible(snapshot *offsets.OffsetRangeSet, files []offsets.TopicFile) []offsets.TopicFile {
	out := make([]offsets.TopicFile, 0, len(files))
	for _, f := range files {
		if snapshot.Contains(f.Range) {
			continue
		}
		out = append(out, f)
		if limit := r.cfg.Worker.MaxFilesPerTopic; limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (r *Restructurer) register(topic string, w *worker.RestructureWorker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[topic] = w
	if r.closed.Load() {
		w.Close()
	}
}

func (r *Restructurer) unregister(topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, topic)
}

// Close stops scheduling topics and asks running workers to stop after
// their current batch. Open output files are still committed.
func (r *Restructurer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed.Store(true)
	for _, w := range r.workers {
		w.Close()
	}
}
