package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

const (
	dirMode  = 0o755
	fileMode = 0o644
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type marker struct {
	Owner   string    `json:"owner"`
	Expires time.Time `json:"expires"`
}

// FileManager keeps one marker file <dir>/<name>.lock per lock. The
// directory may live on a shared filesystem that supports hard links.
type FileManager struct {
	dir    string
	ttl    time.Duration
	owner  string
	now    func() time.Time
	logger logrus.FieldLogger
}

func NewFileManager(dir string, ttl time.Duration, owner string, logger logrus.FieldLogger) *FileManager {
	return &FileManager{
		dir:    dir,
		ttl:    ttl,
		owner:  owner,
		now:    time.Now,
		logger: logger.WithField("locks", dir),
	}
}

func (m *FileManager) path(name string) string {
	return filepath.Join(m.dir, filepath.Base(name)+".lock")
}

func (m *FileManager) AcquireLock(_ context.Context, name string) (Lock, error) {
	if err := os.MkdirAll(m.dir, dirMode); err != nil {
		return nil, err
	}
	p := m.path(name)

	created, err := m.create(p)
	if err != nil {
		return nil, err
	}
	if created {
		return &fileLock{m: m, name: name, path: p}, nil
	}

	current, raw, err := readMarker(p)
	if errors.Is(err, os.ErrNotExist) {
		// released between create and read
		return m.retry(name, p)
	}
	if err != nil && raw == nil {
		return nil, err
	}
	if err == nil && m.now().Before(current.Expires) {
		return nil, nil
	}

	// expired or unreadable: move it aside and verify we moved what we read
	stale := fmt.Sprintf("%s.%s.stale", p, m.owner)
	if err := os.Rename(p, stale); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return m.retry(name, p)
		}
		return nil, err
	}
	_, movedRaw, _ := readMarker(stale)
	if string(movedRaw) != string(raw) {
		// another process replaced the marker in between; give it back
		if _, statErr := os.Stat(p); errors.Is(statErr, os.ErrNotExist) {
			_ = os.Rename(stale, p)
		}
		return nil, nil
	}
	_ = os.Remove(stale)
	m.logger.WithField("lock", name).Info("replaced expired lock")
	return m.retry(name, p)
}

func (m *FileManager) retry(name, p string) (Lock, error) {
	created, err := m.create(p)
	if err != nil || !created {
		return nil, err
	}
	return &fileLock{m: m, name: name, path: p}, nil
}

// create writes a complete marker to a private file and links it into
// place, which fails if a marker already exists.
func (m *FileManager) create(p string) (bool, error) {
	data, err := json.Marshal(marker{Owner: m.owner, Expires: m.now().Add(m.ttl)})
	if err != nil {
		return false, err
	}
	tmp := p + "." + m.owner + ".tmp"
	if err := os.WriteFile(tmp, data, fileMode); err != nil {
		return false, err
	}
	defer os.Remove(tmp)

	err = os.Link(tmp, p)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func readMarker(p string) (marker, []byte, error) {
	raw, err := os.ReadFile(p)
	if err != nil {
		return marker{}, nil, err
	}
	var mk marker
	if err := json.Unmarshal(raw, &mk); err != nil {
		return marker{}, raw, fmt.Errorf("parse lock %s: %w", p, err)
	}
	return mk, raw, nil
}

type fileLock struct {
	m    *FileManager
	name string
	path string
}

func (l *fileLock) Name() string { return l.name }

func (l *fileLock) owned() error {
	mk, _, err := readMarker(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return ErrLockLost
	}
	if err != nil {
		return err
	}
	if mk.Owner != l.m.owner {
		return ErrLockLost
	}
	return nil
}

func (l *fileLock) Refresh(context.Context) error {
	if err := l.owned(); err != nil {
		return err
	}
	data, err := json.Marshal(marker{Owner: l.m.owner, Expires: l.m.now().Add(l.m.ttl)})
	if err != nil {
		return err
	}
	tmp := l.path + "." + l.m.owner + ".tmp"
	if err := os.WriteFile(tmp, data, fileMode); err != nil {
		return err
	}
	return os.Rename(tmp, l.path)
}

// Release moves the marker to a private name before checking its owner, so a
// marker taken over after expiry is never removed. A foreign marker is put
// back.
func (l *fileLock) Release(context.Context) error {
	released := l.path + "." + l.m.owner + ".release"
	if err := os.Rename(l.path, released); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrLockLost
		}
		return err
	}
	mk, _, err := readMarker(released)
	if err == nil && mk.Owner == l.m.owner {
		return os.Remove(released)
	}
	if restoreErr := os.Link(released, l.path); restoreErr != nil && !errors.Is(restoreErr, os.ErrExist) {
		return restoreErr
	}
	_ = os.Remove(released)
	if err != nil {
		return err
	}
	return ErrLockLost
}
