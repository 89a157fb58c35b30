package faker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siqueiraa/kaflow-restructure/pkg/avro"
	"github.com/siqueiraa/kaflow-restructure/pkg/offsets"
	"github.com/siqueiraa/kaflow-restructure/pkg/storage"
)

func TestGeneratorIsDeterministic(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	a := NewGenerator(3, start, time.Minute).Records(5)
	b := NewGenerator(3, start, time.Minute).Records(5)
	assert.Equal(t, a, b)

	value := a[1]["value"].(map[string]any)
	assert.InDelta(t, float64(start.Add(time.Minute).Unix()), value["time"], 1e-6)
}

func TestWriteTopicFile(t *testing.T) {
	root := t.TempDir()
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	records := []map[string]any{
		Observation("p1", "u1", "battery", start, 0.25),
		Observation("", "u2", "battery", start.Add(time.Second), 0.5),
	}

	p, err := WriteTopicFile(context.Background(), storage.NewLocal(root), "topics", "battery", 2, 40, ObservationSchema, records)
	require.NoError(t, err)
	assert.Equal(t, "topics/battery/partition=2/battery+2+0000000040+0000000041.avro", p)

	f, err := offsets.ParseTopicFile(p, start)
	require.NoError(t, err)
	assert.Equal(t, offsets.Range{From: 40, To: 41, LastModified: start}, f.Range.Range)

	in, err := os.Open(filepath.Join(root, filepath.FromSlash(p)))
	require.NoError(t, err)
	defer in.Close()
	r, err := avro.NewReader(in)
	require.NoError(t, err)

	var users, projects []string
	for r.Next() {
		u, _ := r.Record().String("key", "userId")
		users = append(users, u)
		pr, _ := r.Record().String("key", "projectId")
		projects = append(projects, pr)
	}
	require.NoError(t, r.Err())
	assert.Equal(t, []string{"u1", "u2"}, users)
	assert.Equal(t, []string{"p1", ""}, projects)
}

func TestWriteTopicFileRejectsEmptyBatch(t *testing.T) {
	_, err := WriteTopicFile(context.Background(), storage.NewLocal(t.TempDir()), "", "t", 0, 0, ObservationSchema, nil)
	assert.Error(t, err)
}
