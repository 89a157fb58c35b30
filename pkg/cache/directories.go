package cache

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/siqueiraa/kaflow-restructure/pkg/storage"
)

// Directories creates target directories once, even when several workers
// ask for the same one at the same time.
type Directories struct {
	storage storage.Storage
	group   singleflight.Group
	created sync.Map // map[string]struct{}
}

func NewDirectories(s storage.Storage) *Directories {
	return &Directories{storage: s}
}

func (d *Directories) Ensure(ctx context.Context, dir string) error {
	if dir == "" {
		return nil
	}
	if _, ok := d.created.Load(dir); ok {
		return nil
	}
	_, err, _ := d.group.Do(dir, func() (any, error) {
		if err := d.storage.CreateDirectories(ctx, dir); err != nil {
			return nil, err
		}
		d.created.Store(dir, struct{}{})
		return nil, nil
	})
	return err
}
