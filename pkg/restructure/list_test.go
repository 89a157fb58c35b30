package restructure

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siqueiraa/kaflow-restructure/pkg/storage"
)

func touch(t *testing.T, root, p string, modified time.Time) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(p))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(full, modified, modified))
}

func TestListTopicFiles(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-2 * time.Hour)

	touch(t, root, "a/partition=1/a+1+0000000005+0000000009.avro", old)
	touch(t, root, "a/partition=1/a+1+0000000000+0000000004.avro", old)
	touch(t, root, "a/partition=0/a+0+0000000000+0000000000.avro", old)
	touch(t, root, "a/partition=0/a+0+0000000001+0000000001.avro", now)
	touch(t, root, "a/partition=0/notes.txt", old)
	touch(t, root, "a/partition=0/broken.avro", old)
	touch(t, root, "a/+tmp/a+0+0000000002+0000000002.avro", old)
	touch(t, root, "b+c/partition=3/b+c+3+0000000010+0000000010.avro", old)
	touch(t, root, "skip/partition=0/skip+0+0000000000+0000000000.avro", old)
	touch(t, root, "misplaced/skip+1+0000000000+0000000000.avro", old)

	logger := logrus.New()
	l := NewLister(storage.NewLocal(root), 2, []string{"skip"}, logger)
	l.now = func() time.Time { return now }

	topics, err := l.ListTopicFiles(context.Background(), "", time.Hour)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b+c"}, sortedTopics(topics))

	var paths []string
	for _, f := range topics["a"] {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{
		"a/partition=0/a+0+0000000000+0000000000.avro",
		"a/partition=1/a+1+0000000000+0000000004.avro",
		"a/partition=1/a+1+0000000005+0000000009.avro",
	}, paths)
	assert.True(t, topics["a"][0].LastModified.Equal(old))

	require.Len(t, topics["b+c"], 1)
	assert.Equal(t, 3, topics["b+c"][0].Range.Partition)
}

func TestListTopicFilesMissingRoot(t *testing.T) {
	l := NewLister(storage.NewLocal(filepath.Join(t.TempDir(), "missing")), 1, nil, logrus.New())
	_, err := l.ListTopicFiles(context.Background(), "", 0)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
