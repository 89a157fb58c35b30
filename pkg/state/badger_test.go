package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siqueiraa/kaflow-restructure/pkg/compression"
	"github.com/siqueiraa/kaflow-restructure/pkg/offsets"
	"github.com/siqueiraa/kaflow-restructure/pkg/storage"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open("", logrus.New())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStorePutGetDelete(t *testing.T) {
	s := openMemory(t)

	require.NoError(t, s.Put("a:1", []byte("one"), 0))
	require.NoError(t, s.Put("a:2", []byte("two"), 0))
	require.NoError(t, s.Put("b:1", []byte("other"), 0))

	v, err := s.Get("a:1")
	require.NoError(t, err)
	assert.Equal(t, "one", string(v))

	seen := map[string]string{}
	require.NoError(t, s.ForEach("a:", func(k string, v []byte) error {
		seen[k] = string(v)
		return nil
	}))
	assert.Equal(t, map[string]string{"1": "one", "2": "two"}, seen)

	require.NoError(t, s.Delete("a:1"))
	_, err = s.Get("a:1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreTTL(t *testing.T) {
	s := openMemory(t)
	require.NoError(t, s.Put("k", []byte("v"), time.Second))

	_, err := s.Get("k")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := s.Get("k")
		return errors.Is(err, ErrNotFound)
	}, 5*time.Second, 100*time.Millisecond)
}

func TestOffsetsRoundTrip(t *testing.T) {
	o := NewOffsets(openMemory(t))
	ctx := context.Background()

	empty, err := o.Read(ctx, "t")
	require.NoError(t, err)
	assert.True(t, empty.IsEmpty())

	ts := time.Date(2024, 2, 3, 4, 5, 6, 7, time.UTC)
	set := offsets.NewOffsetRangeSet()
	for _, r := range []offsets.OffsetRange{
		{TopicPartition: offsets.TopicPartition{Topic: "t", Partition: 1}, Range: offsets.Range{From: 0, To: 8, LastModified: ts}},
		{TopicPartition: offsets.TopicPartition{Topic: "t", Partition: 1}, Range: offsets.Range{From: 20, To: 25, LastModified: ts}},
		{TopicPartition: offsets.TopicPartition{Topic: "t", Partition: 0}, Range: offsets.Range{From: 0, To: 0, LastModified: ts}},
	} {
		require.NoError(t, set.Add(r))
	}
	require.NoError(t, o.Write(ctx, "t", set))

	got, err := o.Read(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, []offsets.TopicPartition{{Topic: "t", Partition: 0}, {Topic: "t", Partition: 1}}, got.Partitions())
	assert.Equal(t, 2, got.Size(offsets.TopicPartition{Topic: "t", Partition: 1}))
	assert.True(t, got.Contains(offsets.OffsetRange{
		TopicPartition: offsets.TopicPartition{Topic: "t", Partition: 1},
		Range:          offsets.Range{From: 3, To: 8, LastModified: ts},
	}))

	topics, err := o.Topics(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t"}, topics)
}

func TestCheckpointRestore(t *testing.T) {
	ctx := context.Background()
	target := storage.NewLocal(t.TempDir())
	codec, err := compression.ForName("zstd")
	require.NoError(t, err)

	src := openMemory(t)
	require.NoError(t, src.Put("offsets:t", []byte(`{"topic":"t"}`), 0))
	require.NoError(t, src.Checkpoint(ctx, target, "state/checkpoint.zst", codec))

	dst, err := Open(t.TempDir(), logrus.New())
	require.NoError(t, err)
	defer dst.Close()

	empty, err := dst.Empty()
	require.NoError(t, err)
	assert.True(t, empty)

	require.NoError(t, dst.Restore(ctx, target, "state/checkpoint.zst", codec))
	v, err := dst.Get("offsets:t")
	require.NoError(t, err)
	assert.Equal(t, `{"topic":"t"}`, string(v))

	// missing checkpoint is fine
	require.NoError(t, dst.Restore(ctx, target, "state/none.zst", codec))
}
