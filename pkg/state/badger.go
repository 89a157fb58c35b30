// Package state keeps restructuring bookkeeping in an embedded Badger
// database: processed offsets per topic and topic locks.
package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/siqueiraa/kaflow-restructure/pkg/compression"
	"github.com/siqueiraa/kaflow-restructure/pkg/storage"
)

const (
	dirMode          = 0o755 // Default directory permissions
	maxPendingWrites = 256
)

// ErrNotFound is returned by Get for a missing or expired key.
var ErrNotFound = errors.New("key not found")

// Store wraps one Badger database.
type Store struct {
	db     *badger.DB
	path   string
	logger logrus.FieldLogger
}

// Open opens the database at path, creating it if needed. An empty path
// opens an in-memory database.
func Open(path string, logger logrus.FieldLogger) (*Store, error) {
	opts := badger.DefaultOptions(path).
		WithLoggingLevel(badger.ERROR)
	if path == "" {
		opts = opts.WithInMemory(true)
	} else if err := os.MkdirAll(path, dirMode); err != nil {
		return nil, fmt.Errorf("failed to create state path: %w", err)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open state at %q: %w", path, err)
	}
	return &Store{
		db:     db,
		path:   path,
		logger: logger.WithField("state", path),
	}, nil
}

// Put stores value under key. A positive ttl lets the key expire.
func (s *Store) Put(key string, value []byte, ttl time.Duration) error {
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

func (s *Store) Get(key string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	return data, err
}

func (s *Store) Delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// ForEach calls fn for every live key starting with prefix, with the prefix
// removed.
func (s *Store) ForEach(prefix string, fn func(key string, value []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			key := string(item.Key())[len(prefix):] // remove prefix
			if err := item.Value(func(v []byte) error {
				return fn(key, v)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// Update runs fn in a read-write transaction. Concurrent transactions that
// touched the same keys fail with badger.ErrConflict.
func (s *Store) Update(fn func(txn *badger.Txn) error) error {
	return s.db.Update(fn)
}

// Checkpoint writes a compressed full backup to path on target.
func (s *Store) Checkpoint(ctx context.Context, target storage.Storage, path string, codec compression.Codec) error {
	tmp, err := os.CreateTemp("", "state-checkpoint-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	w, err := codec.Compress(tmp)
	if err != nil {
		return err
	}
	if _, err := s.db.Backup(w, 0); err != nil {
		w.Close()
		return fmt.Errorf("backup state: %w", err)
	}
	if err := w.Close(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := target.Store(ctx, tmp.Name(), path); err != nil {
		return fmt.Errorf("store checkpoint: %w", err)
	}
	s.logger.WithField("checkpoint", path).Info("state checkpoint stored")
	return nil
}

// Restore loads a checkpoint written by Checkpoint. A missing checkpoint
// is not an error.
func (s *Store) Restore(ctx context.Context, source storage.Storage, path string, codec compression.Codec) error {
	in, err := source.NewReader(ctx, path)
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.WithField("checkpoint", path).Info("no state checkpoint found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("open checkpoint: %w", err)
	}
	defer in.Close()

	r, err := codec.Decompress(in)
	if err != nil {
		return fmt.Errorf("open checkpoint: %w", err)
	}
	defer r.Close()

	if err := s.db.Load(r, maxPendingWrites); err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	s.logger.WithField("checkpoint", path).Info("state checkpoint restored")
	return nil
}

// Empty reports whether the database holds no keys.
func (s *Store) Empty() (bool, error) {
	empty := true
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		it.Rewind()
		empty = !it.Valid()
		return nil
	})
	return empty, err
}

func (s *Store) Close() error {
	return s.db.Close()
}
