package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/siqueiraa/kaflow-restructure/pkg/accountant"
	"github.com/siqueiraa/kaflow-restructure/pkg/compression"
	"github.com/siqueiraa/kaflow-restructure/pkg/config"
	"github.com/siqueiraa/kaflow-restructure/pkg/lock"
	"github.com/siqueiraa/kaflow-restructure/pkg/metrics"
	"github.com/siqueiraa/kaflow-restructure/pkg/notify"
	"github.com/siqueiraa/kaflow-restructure/pkg/offsets"
	"github.com/siqueiraa/kaflow-restructure/pkg/restructure"
	"github.com/siqueiraa/kaflow-restructure/pkg/state"
	"github.com/siqueiraa/kaflow-restructure/pkg/storage"
)

// checkpointPath is where the badger state is backed up on the target.
const checkpointPath = "state/badger.bak.zst"

// service holds everything a command shares for the lifetime of the process.
type service struct {
	cfg         config.AppConfig
	logger      *logrus.Logger
	source      storage.Storage
	target      storage.Storage
	state       *state.Store
	locks       lock.Manager
	persistence accountant.Persistence
	metrics     *metrics.Prometheus
	notifier    notify.Notifier
}

func setup(ctx context.Context, path string) (*service, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	svc := &service{cfg: cfg, logger: logger, metrics: metrics.NewPrometheus()}

	if svc.source, err = storage.New(ctx, cfg.Source, cfg.Worker.TempDir, logger); err != nil {
		return nil, fmt.Errorf("source storage: %w", err)
	}
	if svc.target, err = storage.New(ctx, cfg.Target, cfg.Worker.TempDir, logger); err != nil {
		return nil, fmt.Errorf("target storage: %w", err)
	}

	if cfg.Offsets.Backend == "badger" || cfg.Lock.Backend == "badger" {
		if err := svc.openState(ctx); err != nil {
			return nil, err
		}
	}

	if svc.locks, err = lock.New(cfg.Lock.Backend, cfg.Lock.Path, cfg.Lock.TTL, svc.state, logger); err != nil {
		svc.Close(ctx)
		return nil, err
	}
	if svc.persistence, err = accountant.NewPersistence(cfg.Offsets.Backend, svc.target, cfg.Offsets.Path, cfg.Worker.TempDir, svc.state); err != nil {
		svc.Close(ctx)
		return nil, err
	}
	svc.notifier = notify.New(cfg.Notify, logger)

	logger.WithFields(logrus.Fields{
		"source":  cfg.Source.Type + ":" + cfg.Source.Path,
		"target":  cfg.Target.Type + ":" + cfg.Target.Path,
		"format":  cfg.Format.Type,
		"offsets": cfg.Offsets.Backend,
		"locks":   cfg.Lock.Backend,
	}).Info("restructure configured")
	return svc, nil
}

// openState opens the local badger directory and, when it is empty, restores
// the last checkpoint stored on the target.
func (s *service) openState(ctx context.Context) error {
	store, err := state.Open(s.cfg.State.Badger.Path, s.logger)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	s.state = store
	empty, err := store.Empty()
	if err == nil && empty {
		var codec compression.Codec
		if codec, err = compression.ForName("zstd"); err == nil {
			err = store.Restore(ctx, s.target, checkpointPath, codec)
		}
	}
	if err != nil {
		// an unrestored store must not overwrite the checkpoint on close
		store.Close()
		s.state = nil
		return err
	}
	return nil
}

func (s *service) options() restructure.Options {
	return restructure.Options{
		Config:      s.cfg,
		Source:      s.source,
		Target:      s.target,
		Locks:       s.locks,
		Persistence: s.persistence,
		Notifier:    s.notifier,
		Metrics:     s.metrics,
		Logger:      s.logger,
	}
}

func (s *service) clean(ctx context.Context) error {
	c, err := restructure.NewCleaner(s.options())
	if err != nil {
		return err
	}
	_, err = c.Clean(ctx)
	return err
}

// printOffsets writes one line per stored range of every topic.
func (s *service) printOffsets(ctx context.Context, w io.Writer) error {
	topics, err := s.persistence.Topics(ctx)
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOPIC\tPARTITION\tFROM\tTO\tLAST MODIFIED")
	for _, topic := range topics {
		set, err := s.persistence.Read(ctx, topic)
		if err != nil {
			return fmt.Errorf("read offsets of %s: %w", topic, err)
		}
		set.Ranges(func(tp offsets.TopicPartition, r offsets.Range) {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", tp.Topic, tp.Partition, r.From, r.To, r.LastModified.UTC().Format(time.RFC3339))
		})
	}
	return tw.Flush()
}

// afterPass exports metrics and checkpoints the state store. Failures are
// logged; the next pass tries again.
func (s *service) afterPass(ctx context.Context) {
	if path := s.cfg.Metrics.Textfile; path != "" {
		if err := s.metrics.WriteTextfile(path); err != nil {
			s.logger.WithError(err).WithField("path", path).Warn("cannot write metrics textfile")
		}
	}
	s.checkpoint(ctx)
}

func (s *service) checkpoint(ctx context.Context) {
	if s.state == nil {
		return
	}
	codec, err := compression.ForName("zstd")
	if err == nil {
		err = s.state.Checkpoint(ctx, s.target, checkpointPath, codec)
	}
	if err != nil {
		s.logger.WithError(err).Warn("cannot checkpoint state")
	}
}

// Close releases the notifier and the state store, checkpointing it first.
func (s *service) Close(ctx context.Context) {
	if s.notifier != nil {
		if err := s.notifier.Close(); err != nil {
			s.logger.WithError(err).Warn("cannot close notifier")
		}
	}
	if s.state != nil {
		s.checkpoint(ctx)
		if err := s.state.Close(); err != nil {
			s.logger.WithError(err).Warn("cannot close state")
		}
	}
}
