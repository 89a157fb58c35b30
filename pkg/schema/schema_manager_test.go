package schema

import (
	"math/big"
	"testing"
	"time"

	havro "github.com/hamba/avro/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const observationSchema = `{
  "type": "record", "name": "Observation", "namespace": "org.example",
  "fields": [
    {"name": "key", "type": {"type": "record", "name": "ObservationKey", "fields": [
      {"name": "projectId", "type": ["null", "string"], "default": null},
      {"name": "userId", "type": "string"},
      {"name": "sourceId", "type": "string"}
    ]}},
    {"name": "value", "type": {"type": "record", "name": "Acceleration", "fields": [
      {"name": "time", "type": "double"},
      {"name": "x", "type": "float"},
      {"name": "tags", "type": {"type": "array", "items": "string"}},
      {"name": "position", "type": ["null", {"type": "record", "name": "Position", "fields": [
        {"name": "lat", "type": "double"},
        {"name": "lon", "type": "double"}
      ]}], "default": null}
    ]}}
  ]
}`

func parse(t *testing.T, s string) havro.Schema {
	t.Helper()
	schema, err := havro.Parse(s)
	require.NoError(t, err)
	return schema
}

func TestFromAvro(t *testing.T) {
	ts := FromAvro(parse(t, observationSchema))

	assert.Equal(t, []string{
		"key.projectId", "key.userId", "key.sourceId",
		"value.time", "value.x", "value.tags", "value.position.lat", "value.position.lon",
	}, ts.FieldOrder)
	assert.Equal(t, "string", ts.Types["key.projectId"])
	assert.Equal(t, "double", ts.Types["value.time"])
	assert.Equal(t, "float", ts.Types["value.x"])
	assert.Equal(t, "json", ts.Types["value.tags"])
	assert.Equal(t, "double", ts.Types["value.position.lon"])
}

func TestFlatten(t *testing.T) {
	schema := parse(t, observationSchema)

	record := map[string]any{
		"key": map[string]any{"projectId": "p", "userId": "u", "sourceId": "s"},
		"value": map[string]any{
			"time":     1.5,
			"x":        float32(0.25),
			"tags":     []any{"a", "b"},
			"position": nil,
		},
	}
	assert.Equal(t,
		[]string{"p", "u", "s", "1.5", "0.25", `["a","b"]`, "", ""},
		Flatten(schema, record))

	record["value"].(map[string]any)["position"] = map[string]any{"lat": 52.0, "lon": 4.5}
	assert.Equal(t, []string{"52", "4.5"}, Flatten(schema, record)[6:])

	assert.Len(t, Flatten(schema, nil), len(FromAvro(schema).FieldOrder))
}

func TestManagerCachesByFingerprint(t *testing.T) {
	sm := NewSchemaManager()
	a := sm.Layout(parse(t, observationSchema))
	b := sm.Layout(parse(t, observationSchema))
	assert.Equal(t, a, b)
	assert.Equal(t, 1, sm.Len())

	other := sm.Layout(parse(t, `{"type":"record","name":"R","fields":[{"name":"a","type":"int"}]}`))
	assert.Equal(t, 2, sm.Len())
	assert.True(t, sm.IsSchemaDifferent(a, other))
	assert.False(t, sm.IsSchemaDifferent(a, b))
}

func TestRecursiveSchemaTerminates(t *testing.T) {
	schema := parse(t, `{"type":"record","name":"Node","fields":[
		{"name":"id","type":"int"},
		{"name":"next","type":["null","Node"],"default":null}
	]}`)

	ts := FromAvro(schema)
	require.NotEmpty(t, ts.FieldOrder)
	assert.Equal(t, "id", ts.FieldOrder[0])
	assert.Equal(t, "next.id", ts.FieldOrder[1])
	assert.Equal(t, "json", ts.Types[ts.FieldOrder[len(ts.FieldOrder)-1]])
}

func TestFormatValue(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string", "x", "x"},
		{"bool", true, "true"},
		{"int", 42, "42"},
		{"long", int64(-7), "-7"},
		{"double", 0.1, "0.1"},
		{"bytes", []byte("hi"), "aGk="},
		{"timestamp", ts, "2024-01-02T03:04:05Z"},
		{"decimal", big.NewRat(5, 2), "2.5000000000"},
		{"integral decimal", big.NewRat(4, 2), "2"},
		{"map", map[string]any{"a": 1}, `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatValue(tt.in))
		})
	}
}
