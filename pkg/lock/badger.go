package lock

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/siqueiraa/kaflow-restructure/pkg/state"
)

const keyPrefix = "lock:"

var errHeld = errors.New("lock held")

// BadgerManager keeps locks as expiring keys "lock:<name>" in a state
// store. Badger serializes conflicting transactions, so only one of two
// concurrent acquisitions commits.
type BadgerManager struct {
	store  *state.Store
	ttl    time.Duration
	owner  string
	logger logrus.FieldLogger
}

func NewBadgerManager(store *state.Store, ttl time.Duration, owner string, logger logrus.FieldLogger) *BadgerManager {
	return &BadgerManager{
		store:  store,
		ttl:    ttl,
		owner:  owner,
		logger: logger.WithField("locks", "badger"),
	}
}

func (m *BadgerManager) AcquireLock(_ context.Context, name string) (Lock, error) {
	key := []byte(keyPrefix + name)
	err := m.store.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return errHeld
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.SetEntry(badger.NewEntry(key, []byte(m.owner)).WithTTL(m.ttl))
	})
	if errors.Is(err, errHeld) || errors.Is(err, badger.ErrConflict) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &badgerLock{m: m, name: name, key: key}, nil
}

type badgerLock struct {
	m    *BadgerManager
	name string
	key  []byte
}

func (l *badgerLock) Name() string { return l.name }

// owned runs fn inside a transaction in which the lock is known to belong
// to this owner.
func (l *badgerLock) owned(fn func(txn *badger.Txn) error) error {
	return l.m.store.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(l.key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrLockLost
		}
		if err != nil {
			return err
		}
		owner, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if string(owner) != l.m.owner {
			return ErrLockLost
		}
		return fn(txn)
	})
}

func (l *badgerLock) Refresh(context.Context) error {
	return l.owned(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(l.key, []byte(l.m.owner)).WithTTL(l.m.ttl))
	})
}

func (l *badgerLock) Release(context.Context) error {
	return l.owned(func(txn *badger.Txn) error {
		return txn.Delete(l.key)
	})
}
