// Package faker writes synthetic topic dump files, for local runs and tests.
package faker

import (
	"context"
	"fmt"
	"math/rand" // Using weak random for test data generation only
	"os"
	"path"
	"time"

	"github.com/siqueiraa/kaflow-restructure/pkg/avro"
	"github.com/siqueiraa/kaflow-restructure/pkg/offsets"
	"github.com/siqueiraa/kaflow-restructure/pkg/storage"
)

const (
	maxUsers    = 50 // Maximum number of test users to generate
	maxProjects = 3
	maxLevel    = 1.0
)

// ObservationSchema is the value layout of generated records: a key naming
// the project, user and source, and a timestamped battery reading.
const ObservationSchema = `{
  "type": "record",
  "name": "Observation",
  "namespace": "org.example",
  "fields": [
    {"name": "key", "type": {
      "type": "record",
      "name": "ObservationKey",
      "fields": [
        {"name": "projectId", "type": ["null", "string"], "default": null},
        {"name": "userId", "type": "string"},
        {"name": "sourceId", "type": "string"}
      ]
    }},
    {"name": "value", "type": {
      "type": "record",
      "name": "BatteryLevel",
      "fields": [
        {"name": "time", "type": "double"},
        {"name": "timeReceived", "type": "double"},
        {"name": "level", "type": "float"},
        {"name": "status", "type": ["null", "string"], "default": null}
      ]
    }}
  ]
}`

// Observation builds one record of ObservationSchema. An empty project is
// written as null.
func Observation(project, user, source string, t time.Time, level float32) map[string]any {
	var projectID any
	if project != "" {
		projectID = map[string]any{"string": project}
	}
	seconds := float64(t.UnixNano()) / float64(time.Second)
	return map[string]any{
		"key": map[string]any{
			"projectId": projectID,
			"userId":    user,
			"sourceId":  source,
		},
		"value": map[string]any{
			"time":         seconds,
			"timeReceived": seconds,
			"level":        level,
			"status":       nil,
		},
	}
}

// Generator produces random observations with increasing timestamps.
type Generator struct {
	rnd  *rand.Rand
	next time.Time
	step time.Duration
}

func NewGenerator(seed int64, start time.Time, step time.Duration) *Generator {
	return &Generator{
		rnd:  rand.New(rand.NewSource(seed)), //nolint:gosec // Using weak random for test data generation only
		next: start,
		step: step,
	}
}

func (g *Generator) Record() map[string]any {
	t := g.next
	g.next = g.next.Add(g.step)
	return Observation(
		fmt.Sprintf("p%d", g.rnd.Intn(maxProjects)+1),
		fmt.Sprintf("u%d", g.rnd.Intn(maxUsers)+1),
		"battery",
		t,
		float32(g.rnd.Float64()*maxLevel),
	)
}

func (g *Generator) Records(n int64) []map[string]any {
	out := make([]map[string]any, 0, n)
	for i := int64(0); i < n; i++ {
		out = append(out, g.Record())
	}
	return out
}

// TopicFileDir is the directory a connector writes partition files to.
func TopicFileDir(topic string, partition int) string {
	return path.Join(topic, fmt.Sprintf("partition=%d", partition))
}

// WriteTopicFile stores records as the topic file of topic and partition
// starting at offset from, under root on s. It returns the stored path.
func WriteTopicFile(ctx context.Context, s storage.Storage, root, topic string, partition int, from int64, schema string, records []map[string]any) (string, error) {
	if len(records) == 0 {
		return "", fmt.Errorf("no records for %s+%d+%d", topic, partition, from)
	}
	r := offsets.OffsetRange{
		TopicPartition: offsets.TopicPartition{Topic: topic, Partition: partition},
		Range:          offsets.Range{From: from, To: from + int64(len(records)) - 1},
	}
	p := path.Join(root, TopicFileDir(topic, partition), offsets.FileName(r))

	tmp, err := os.CreateTemp("", "fake-*.avro")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	w, err := avro.NewWriter(tmp, schema, "deflate")
	if err != nil {
		tmp.Close()
		return "", err
	}
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			tmp.Close()
			return "", err
		}
	}
	err = w.Close()
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", err
	}

	if err := s.Store(ctx, tmp.Name(), p); err != nil {
		return "", fmt.Errorf("store %s: %w", p, err)
	}
	return p, nil
}
