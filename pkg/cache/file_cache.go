// Package cache keeps a bounded set of output files open while records are
// routed to them, and commits each file together with the offsets it holds.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/siqueiraa/kaflow-restructure/pkg/accountant"
	"github.com/siqueiraa/kaflow-restructure/pkg/avro"
	"github.com/siqueiraa/kaflow-restructure/pkg/converter"
)

const (
	// leading bytes of existing content handed to the converter
	headerPrefixSize = 64 << 10
	maxCorruptMoves  = 100
)

// FileCache is the write session of one output file. Writes go to a local
// temp file that replaces the target on Close.
type FileCache struct {
	store   *Store
	path    string
	tmpPath string

	file       *os.File
	compressor io.WriteCloser
	converter  converter.Converter
	ledger     *accountant.Ledger

	lastUse  time.Time
	hasError bool
	closed   bool
	logger   logrus.FieldLogger
}

func newFileCache(ctx context.Context, s *Store, path string, record avro.Record) (*FileCache, error) {
	c := &FileCache{
		store:   s,
		path:    path,
		ledger:  accountant.NewLedger(),
		lastUse: s.now(),
		logger:  s.logger.WithField("path", path),
	}
	if err := c.openTemp(); err != nil {
		return nil, err
	}

	prefix, err := c.copyExisting(ctx)
	if err != nil {
		c.discard()
		return nil, err
	}

	conv, err := s.factory.New(c.compressor, record, len(prefix) == 0, prefix)
	if err != nil {
		c.discard()
		return nil, fmt.Errorf("start converter for %s: %w", path, err)
	}
	c.converter = conv
	return c, nil
}

func (c *FileCache) openTemp() error {
	f, err := os.CreateTemp(c.store.tmpDir, "cache-*"+c.store.extension)
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", c.path, err)
	}
	w, err := c.store.codec.Compress(f)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return err
	}
	c.file, c.compressor, c.tmpPath = f, w, f.Name()
	return nil
}

// copyExisting appends the decompressed content of the target, if any, to
// the temp file and returns its leading bytes. Unreadable content is moved
// aside and the session starts from an empty file.
func (c *FileCache) copyExisting(ctx context.Context) ([]byte, error) {
	status, err := c.store.storage.Status(ctx, c.path)
	if err != nil {
		return nil, err
	}
	if status == nil || status.Size == 0 {
		return nil, nil
	}

	in, err := c.store.storage.NewReader(ctx, c.path)
	if err != nil {
		return nil, fmt.Errorf("open existing %s: %w", c.path, err)
	}
	defer in.Close()

	prefix := &prefixBuffer{max: headerPrefixSize}
	copyErr := func() error {
		r, err := c.store.codec.Decompress(in)
		if err != nil {
			return err
		}
		defer r.Close()
		_, err = io.Copy(io.MultiWriter(c.compressor, prefix), r)
		return err
	}()
	if copyErr == nil {
		return prefix.buf, nil
	}

	c.logger.WithError(copyErr).Warn("existing output is corrupted, moving it aside")
	c.discard()
	if err := c.store.moveCorrupted(ctx, c.path); err != nil {
		return nil, err
	}
	if err := c.openTemp(); err != nil {
		return nil, err
	}
	return nil, nil
}

// WriteRecord returns false when the record does not fit the file header.
// The transaction is recorded only for written records.
func (c *FileCache) WriteRecord(record avro.Record, tx accountant.Transaction) (bool, error) {
	c.lastUse = c.store.now()
	ok, err := c.converter.WriteRecord(record)
	if err != nil || !ok {
		return false, err
	}
	c.ledger.Add(tx)
	return true, nil
}

// MarkError makes Close drop the session without touching the target or
// the accountant.
func (c *FileCache) MarkError() {
	c.hasError = true
}

func (c *FileCache) Path() string { return c.path }

func (c *FileCache) LastUse() time.Time { return c.lastUse }

// Close commits the session: the temp file replaces the target, then the
// ledger is handed to the accountant. Nothing is committed after an error.
func (c *FileCache) Close(ctx context.Context) error {
	if c.closed {
		return nil
	}
	c.closed = true
	defer func() { os.Remove(c.tmpPath) }()

	err := c.converter.Close()
	if cerr := c.compressor.Close(); err == nil {
		err = cerr
	}
	if ferr := c.file.Close(); err == nil {
		err = ferr
	}
	if err != nil {
		c.hasError = true
		return fmt.Errorf("close %s: %w", c.path, err)
	}
	if c.hasError {
		c.logger.Debug("dropping output session after error")
		return nil
	}

	if c.store.dedup.Enabled {
		if err := c.deduplicate(); err != nil {
			return fmt.Errorf("deduplicate %s: %w", c.path, err)
		}
	}

	if err := c.store.storage.Store(ctx, c.tmpPath, c.path); err != nil {
		return fmt.Errorf("store %s: %w", c.path, err)
	}
	c.store.accountant.Process(c.ledger)
	return nil
}

func (c *FileCache) deduplicate() error {
	src, err := os.Open(c.tmpPath)
	if err != nil {
		return err
	}
	defer src.Close()
	r, err := c.store.codec.Decompress(src)
	if err != nil {
		return err
	}
	defer r.Close()

	dst, err := os.CreateTemp(c.store.tmpDir, "dedup-*"+c.store.extension)
	if err != nil {
		return err
	}
	w, err := c.store.codec.Compress(dst)
	if err == nil {
		err = c.store.factory.Deduplicate(r, w, c.store.dedup.DistinctFields, c.store.dedup.IgnoreFields)
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst.Name())
		return err
	}

	os.Remove(c.tmpPath)
	c.tmpPath = dst.Name()
	return nil
}

// discard drops the temp file of a session that never started.
func (c *FileCache) discard() {
	if c.file == nil {
		return
	}
	c.compressor.Close()
	c.file.Close()
	os.Remove(c.tmpPath)
	c.file, c.compressor = nil, nil
}

// prefixBuffer keeps the first max bytes written to it.
type prefixBuffer struct {
	buf []byte
	max int
}

func (p *prefixBuffer) Write(b []byte) (int, error) {
	if room := p.max - len(p.buf); room > 0 {
		p.buf = append(p.buf, b[:min(room, len(b))]...)
	}
	return len(b), nil
}

var errTooManyCorrupted = errors.New("too many corrupted copies")
