package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
)

const (
	dirMode  = 0o755
	fileMode = 0o644
)

// Local stores files under a root directory.
type Local struct {
	root string
}

func NewLocal(root string) *Local {
	return &Local{root: root}
}

func (l *Local) resolve(p string) string {
	if l.root == "" || filepath.IsAbs(p) {
		return filepath.FromSlash(p)
	}
	return filepath.Join(l.root, filepath.FromSlash(p))
}

func (l *Local) List(_ context.Context, dir string) ([]FileStatus, error) {
	entries, err := os.ReadDir(l.resolve(dir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("list %s: %w", dir, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	statuses := make([]FileStatus, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		statuses = append(statuses, FileStatus{
			Path:         path.Join(dir, e.Name()),
			IsDir:        e.IsDir(),
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
	}
	return statuses, nil
}

func (l *Local) Status(_ context.Context, p string) (*FileStatus, error) {
	info, err := os.Stat(l.resolve(p))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", p, err)
	}
	return &FileStatus{Path: p, IsDir: info.IsDir(), Size: info.Size(), LastModified: info.ModTime()}, nil
}

func (l *Local) NewInput(_ context.Context, p string) (io.ReadSeekCloser, error) {
	f, err := os.Open(l.resolve(p))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("open %s: %w", p, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	return f, nil
}

func (l *Local) NewReader(ctx context.Context, p string) (io.ReadCloser, error) {
	return l.NewInput(ctx, p)
}

// Store moves localPath into place, falling back to a copy followed by an
// atomic rename when the two paths are on different devices.
func (l *Local) Store(_ context.Context, localPath, p string) error {
	dest := l.resolve(p)
	if err := os.MkdirAll(filepath.Dir(dest), dirMode); err != nil {
		return fmt.Errorf("create parent of %s: %w", p, err)
	}
	if err := os.Rename(localPath, dest); err == nil {
		return nil
	}

	tmp := dest + ".tmp"
	if err := copyFile(localPath, tmp); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("store %s: %w", p, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("store %s: %w", p, err)
	}
	return nil
}

func (l *Local) Move(_ context.Context, oldPath, newPath string) error {
	dest := l.resolve(newPath)
	if err := os.MkdirAll(filepath.Dir(dest), dirMode); err != nil {
		return fmt.Errorf("create parent of %s: %w", newPath, err)
	}
	if err := os.Rename(l.resolve(oldPath), dest); err != nil {
		return fmt.Errorf("move %s to %s: %w", oldPath, newPath, err)
	}
	return nil
}

func (l *Local) Delete(_ context.Context, p string) error {
	err := os.Remove(l.resolve(p))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", p, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", p, err)
	}
	return nil
}

func (l *Local) CreateDirectories(_ context.Context, dir string) error {
	if err := os.MkdirAll(l.resolve(dir), dirMode); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fileMode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
