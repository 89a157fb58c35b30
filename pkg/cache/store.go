package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/siqueiraa/kaflow-restructure/pkg/accountant"
	"github.com/siqueiraa/kaflow-restructure/pkg/avro"
	"github.com/siqueiraa/kaflow-restructure/pkg/compression"
	"github.com/siqueiraa/kaflow-restructure/pkg/config"
	"github.com/siqueiraa/kaflow-restructure/pkg/converter"
	"github.com/siqueiraa/kaflow-restructure/pkg/metrics"
	"github.com/siqueiraa/kaflow-restructure/pkg/storage"
	"github.com/siqueiraa/kaflow-restructure/pkg/ttlindex"
)

// WriteResponse tells the caller whether the target file was already open
// and whether the record was written.
type WriteResponse int

const (
	NoCacheAndWrite WriteResponse = iota
	NoCacheAndNoWrite
	CacheAndWrite
	CacheAndNoWrite
)

func (r WriteResponse) IsSuccessful() bool {
	return r == NoCacheAndWrite || r == CacheAndWrite
}

func (r WriteResponse) IsCacheHit() bool {
	return r == CacheAndWrite || r == CacheAndNoWrite
}

func (r WriteResponse) String() string {
	switch r {
	case NoCacheAndWrite:
		return "no-cache-and-write"
	case NoCacheAndNoWrite:
		return "no-cache-and-no-write"
	case CacheAndWrite:
		return "cache-and-write"
	case CacheAndNoWrite:
		return "cache-and-no-write"
	default:
		return "unknown(" + strconv.Itoa(int(r)) + ")"
	}
}

type Options struct {
	Storage    storage.Storage
	Factory    converter.Factory
	Codec      compression.Codec
	Accountant *accountant.Accountant
	// Directories is shared between stores of concurrent workers.
	Directories *Directories
	// MaxSize is the number of files kept open.
	MaxSize int
	// IdleTimeout lets CommitIdle commit files unused for that long; zero
	// keeps files open until eviction or Flush.
	IdleTimeout time.Duration
	Dedup       config.DeduplicationConfig
	// TempDir holds the session directory; empty means the system default.
	TempDir string
	Metrics metrics.Collector
	Logger  logrus.FieldLogger
	Now     func() time.Time
}

// Store is the set of open output files of one worker. It is not safe for
// concurrent use.
type Store struct {
	storage     storage.Storage
	factory     converter.Factory
	codec       compression.Codec
	accountant  *accountant.Accountant
	directories *Directories
	maxSize     int
	idleTimeout time.Duration
	dedup       config.DeduplicationConfig
	extension   string
	tmpDir      string
	metrics     metrics.Collector
	logger      logrus.FieldLogger
	now         func() time.Time

	caches map[string]*FileCache
	index  *ttlindex.Index
	// directories known to hold a schema sidecar
	sidecars map[string]struct{}
}

func NewStore(opts Options) (*Store, error) {
	if opts.MaxSize < 1 {
		return nil, fmt.Errorf("cache size must be at least 1, got %d", opts.MaxSize)
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Directories == nil {
		opts.Directories = NewDirectories(opts.Storage)
	}

	tmpDir, err := os.MkdirTemp(opts.TempDir, "restructure-*")
	if err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	return &Store{
		storage:     opts.Storage,
		factory:     opts.Factory,
		codec:       opts.Codec,
		accountant:  opts.Accountant,
		directories: opts.Directories,
		maxSize:     opts.MaxSize,
		idleTimeout: opts.IdleTimeout,
		dedup:       opts.Dedup,
		extension:   opts.Factory.Extension() + opts.Codec.Extension(),
		tmpDir:      tmpDir,
		metrics:     opts.Metrics,
		logger:      opts.Logger.WithField("topic", opts.Accountant.Topic()),
		now:         opts.Now,
		caches:      make(map[string]*FileCache),
		index:       ttlindex.New(),
		sidecars:    make(map[string]struct{}),
	}, nil
}

// Extension is appended to every output file name.
func (s *Store) Extension() string {
	return s.extension
}

// Len is the number of open files.
func (s *Store) Len() int {
	return len(s.caches)
}

// WriteRecord writes record to the file at path, opening it first if
// needed. A failing write drops the file session, discarding its offsets.
func (s *Store) WriteRecord(ctx context.Context, topic, path string, record avro.Record, tx accountant.Transaction) (WriteResponse, error) {
	c, hit := s.caches[path]
	if !hit {
		s.ensureCapacity(ctx)

		dir := pathDir(path)
		if err := s.directories.Ensure(ctx, dir); err != nil {
			return NoCacheAndNoWrite, err
		}
		if err := s.writeSidecar(ctx, dir, topic, record); err != nil {
			return NoCacheAndNoWrite, err
		}

		var err error
		if c, err = newFileCache(ctx, s, path, record); err != nil {
			return NoCacheAndNoWrite, err
		}
		s.caches[path] = c
	}
	s.index.Touch(path, s.now())

	written, err := c.WriteRecord(record, tx)
	if err != nil {
		c.MarkError()
		s.remove(path)
		if closeErr := c.Close(ctx); closeErr != nil {
			s.logger.WithError(closeErr).WithField("path", path).Warn("close failed output file")
		}
		return NoCacheAndNoWrite, fmt.Errorf("write %s: %w", path, err)
	}

	switch {
	case hit && written:
		return CacheAndWrite, nil
	case hit:
		return CacheAndNoWrite, nil
	case written:
		return NoCacheAndWrite, nil
	default:
		return NoCacheAndNoWrite, nil
	}
}

// ensureCapacity commits the least recently used half of the open files
// when the store is full, then flushes the accountant once.
func (s *Store) ensureCapacity(ctx context.Context) {
	if len(s.caches) < s.maxSize {
		return
	}
	evict := s.index.Oldest(max(len(s.caches)/2, 1))
	for _, p := range evict {
		c := s.caches[p]
		s.remove(p)
		if err := c.Close(ctx); err != nil {
			s.logger.WithError(err).WithField("path", p).Error("cannot commit evicted output file")
		}
	}
	s.metrics.CacheEvicted(len(evict))
	s.accountant.Flush(ctx)
}

func (s *Store) remove(p string) {
	delete(s.caches, p)
	s.index.Remove(p)
}

// CommitIdle commits the files not written to within the idle timeout and
// flushes the accountant when any was committed.
func (s *Store) CommitIdle(ctx context.Context) error {
	if s.idleTimeout <= 0 || len(s.caches) == 0 {
		return nil
	}
	idle := s.index.GetExpired(s.now().Add(-s.idleTimeout))
	if len(idle) == 0 {
		return nil
	}
	var errs []error
	for _, p := range idle {
		c := s.caches[p]
		delete(s.caches, p)
		if err := c.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.logger.WithField("files", len(idle)).Debug("committed idle output files")
	s.accountant.Flush(ctx)
	return errors.Join(errs...)
}

// Flush commits every open file and flushes the accountant.
func (s *Store) Flush(ctx context.Context) error {
	var errs []error
	for _, item := range s.index.Sorted() {
		c := s.caches[item.Key]
		s.remove(item.Key)
		if err := c.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.accountant.Flush(ctx)
	return errors.Join(errs...)
}

// Close flushes and removes the session directory.
func (s *Store) Close(ctx context.Context) error {
	err := s.Flush(ctx)
	if rmErr := os.RemoveAll(s.tmpDir); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}

// writeSidecar stores the topic schema next to the output, once per
// directory.
func (s *Store) writeSidecar(ctx context.Context, dir, topic string, record avro.Record) error {
	if _, ok := s.sidecars[dir]; ok || (record.Schema == nil && len(record.SchemaJSON) == 0) {
		return nil
	}
	p := path.Join(dir, avro.SidecarName(topic))
	status, err := s.storage.Status(ctx, p)
	if err != nil {
		return err
	}
	if status == nil {
		data, err := avro.Sidecar(record)
		if err != nil {
			return err
		}
		tmp, err := os.CreateTemp(s.tmpDir, "schema-*.json")
		if err != nil {
			return err
		}
		defer os.Remove(tmp.Name())
		_, err = tmp.Write(data)
		if cerr := tmp.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		if err := s.storage.Store(ctx, tmp.Name(), p); err != nil {
			return fmt.Errorf("store schema %s: %w", p, err)
		}
	}
	s.sidecars[dir] = struct{}{}
	return nil
}

// moveCorrupted renames p to the first free p.corrupted, p.corrupted-1, ...
func (s *Store) moveCorrupted(ctx context.Context, p string) error {
	for i := 0; i < maxCorruptMoves; i++ {
		candidate := p + ".corrupted"
		if i > 0 {
			candidate += "-" + strconv.Itoa(i)
		}
		status, err := s.storage.Status(ctx, candidate)
		if err != nil {
			return err
		}
		if status != nil {
			continue
		}
		if err := s.storage.Move(ctx, p, candidate); err != nil {
			return fmt.Errorf("move corrupted %s: %w", p, err)
		}
		s.logger.WithField("path", candidate).Warn("moved corrupted output file")
		return nil
	}
	return fmt.Errorf("%w: %s", errTooManyCorrupted, p)
}

func pathDir(p string) string {
	d := path.Dir(p)
	if d == "." {
		return ""
	}
	return d
}
