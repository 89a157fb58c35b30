package ttlindex

import (
	"sort"
	"sync"
	"time"
)

// Item associates a key (an output path) with the time it was last used.
type Item struct {
	Key string
	TS  time.Time
}

// Index tracks last-use timestamps and hands out keys oldest first. Ties on
// the timestamp are broken by key so the order is deterministic.
type Index struct {
	mu    sync.RWMutex
	items map[string]time.Time
}

// New creates a new empty index.
func New() *Index {
	return &Index{
		items: make(map[string]time.Time),
	}
}

// Touch inserts key or updates its timestamp.
func (i *Index) Touch(key string, ts time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.items[key] = ts
}

// Remove deletes key from the index.
func (i *Index) Remove(key string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.items, key)
}

func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.items)
}

// Sorted returns all items ordered by (TS ascending, Key ascending).
func (i *Index) Sorted() []Item {
	i.mu.RLock()
	items := make([]Item, 0, len(i.items))
	for k, ts := range i.items {
		items = append(items, Item{Key: k, TS: ts})
	}
	i.mu.RUnlock()

	sort.Slice(items, func(a, b int) bool {
		if !items[a].TS.Equal(items[b].TS) {
			return items[a].TS.Before(items[b].TS)
		}
		return items[a].Key < items[b].Key
	})
	return items
}

// Oldest returns up to n keys in eviction order without removing them.
func (i *Index) Oldest(n int) []string {
	items := i.Sorted()
	if n > len(items) {
		n = len(items)
	}
	keys := make([]string, 0, max(n, 0))
	for _, item := range items[:max(n, 0)] {
		keys = append(keys, item.Key)
	}
	return keys
}

// GetExpired removes and returns the keys last used at or before expiration,
// oldest first.
func (i *Index) GetExpired(expiration time.Time) []string {
	items := i.Sorted()
	idx := sort.Search(len(items), func(j int) bool {
		return items[j].TS.After(expiration)
	})

	expired := make([]string, idx)
	i.mu.Lock()
	for j := 0; j < idx; j++ {
		expired[j] = items[j].Key
		delete(i.items, items[j].Key)
	}
	i.mu.Unlock()
	return expired
}
