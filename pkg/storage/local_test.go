package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siqueiraa/kaflow-restructure/pkg/config"
)

func TestLocalStorage(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	l := NewLocal(root)

	require.NoError(t, l.CreateDirectories(ctx, "a/b"))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "f.txt"), []byte("hello"), 0o600))

	t.Run("list", func(t *testing.T) {
		entries, err := l.List(ctx, "a")
		require.NoError(t, err)
		sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
		require.Len(t, entries, 2)
		assert.Equal(t, "a/b", entries[0].Path)
		assert.True(t, entries[0].IsDir)
		assert.Equal(t, "a/f.txt", entries[1].Path)
		assert.Equal(t, int64(5), entries[1].Size)

		_, err = l.List(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("status", func(t *testing.T) {
		st, err := l.Status(ctx, "a/f.txt")
		require.NoError(t, err)
		require.NotNil(t, st)
		assert.Equal(t, int64(5), st.Size)

		st, err = l.Status(ctx, "a/none.txt")
		require.NoError(t, err)
		assert.Nil(t, st)
	})

	t.Run("input is seekable", func(t *testing.T) {
		in, err := l.NewInput(ctx, "a/f.txt")
		require.NoError(t, err)
		defer in.Close()
		_, err = in.Seek(1, io.SeekStart)
		require.NoError(t, err)
		b, err := io.ReadAll(in)
		require.NoError(t, err)
		assert.Equal(t, "ello", string(b))
	})

	t.Run("store replaces target", func(t *testing.T) {
		tmp := filepath.Join(t.TempDir(), "upload")
		require.NoError(t, os.WriteFile(tmp, []byte("new"), 0o600))
		require.NoError(t, l.Store(ctx, tmp, "c/d/out.txt"))

		r, err := l.NewReader(ctx, "c/d/out.txt")
		require.NoError(t, err)
		defer r.Close()
		b, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, "new", string(b))
	})

	t.Run("move and delete", func(t *testing.T) {
		require.NoError(t, l.Move(ctx, "a/f.txt", "moved/f.txt"))
		st, err := l.Status(ctx, "a/f.txt")
		require.NoError(t, err)
		assert.Nil(t, st)

		require.NoError(t, l.Delete(ctx, "moved/f.txt"))
		assert.ErrorIs(t, l.Delete(ctx, "moved/f.txt"), ErrNotFound)
	})
}

func TestNewRejectsUnknownType(t *testing.T) {
	_, err := New(context.Background(), config.StorageConfig{Type: "hdfs"}, t.TempDir(), logrus.New())
	assert.ErrorContains(t, err, "unknown storage type")

	s, err := New(context.Background(), config.StorageConfig{Type: "local", Path: t.TempDir()}, t.TempDir(), logrus.New())
	require.NoError(t, err)
	assert.IsType(t, &Local{}, s)
}
