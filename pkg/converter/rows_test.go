package converter

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siqueiraa/kaflow-restructure/pkg/avro"
)

func writeAll(t *testing.T, f Factory, records ...avro.Record) string {
	t.Helper()
	var buf bytes.Buffer
	c, err := f.New(&buf, records[0], true, nil)
	require.NoError(t, err)
	for _, rec := range records {
		ok, err := c.WriteRecord(rec)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, c.Close())
	return buf.String()
}

func TestCSVRowsContains(t *testing.T) {
	f, err := ForFormat("csv", nil)
	require.NoError(t, err)
	x := record(t, abSchema, map[string]any{"a": "x", "b": map[string]any{"c": 1}})
	y := record(t, abSchema, map[string]any{"a": "y", "b": map[string]any{"c": 2}})
	content := writeAll(t, f, x, y)

	rows, err := f.ReadRows(strings.NewReader(content), nil, nil)
	require.NoError(t, err)
	for _, rec := range []avro.Record{x, y} {
		found, err := rows.Contains(rec)
		require.NoError(t, err)
		assert.True(t, found)
	}

	missing := record(t, abSchema, map[string]any{"a": "x", "b": map[string]any{"c": 3}})
	found, err := rows.Contains(missing)
	require.NoError(t, err)
	assert.False(t, found)

	// same values under another header
	other := record(t, abdSchema, map[string]any{"a": "x", "d": 1})
	found, err = rows.Contains(other)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCSVRowsComparesDistinctFields(t *testing.T) {
	f, err := ForFormat("csv", nil)
	require.NoError(t, err)
	older := record(t, abSchema, map[string]any{"a": "x", "b": map[string]any{"c": 1}})
	newer := record(t, abSchema, map[string]any{"a": "x", "b": map[string]any{"c": 2}})

	// the deduplicated file only kept newer
	rows, err := f.ReadRows(strings.NewReader(writeAll(t, f, newer)), []string{"a"}, nil)
	require.NoError(t, err)
	found, err := rows.Contains(older)
	require.NoError(t, err)
	assert.True(t, found)

	rows, err = f.ReadRows(strings.NewReader(writeAll(t, f, newer)), nil, nil)
	require.NoError(t, err)
	found, err = rows.Contains(older)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCSVRowsEmptyAndInvalid(t *testing.T) {
	f, err := ForFormat("csv", nil)
	require.NoError(t, err)
	rows, err := f.ReadRows(strings.NewReader(""), nil, nil)
	require.NoError(t, err)
	found, err := rows.Contains(record(t, abdSchema, map[string]any{"a": "x", "d": 1}))
	require.NoError(t, err)
	assert.False(t, found)

	_, err = f.ReadRows(strings.NewReader("a,d\n\"x,1\n"), nil, nil)
	assert.Error(t, err)
}

func TestJSONRowsContains(t *testing.T) {
	f, err := ForFormat("json", nil)
	require.NoError(t, err)
	x := record(t, abSchema, map[string]any{"a": "x", "b": map[string]any{"c": 1}})
	y := record(t, abSchema, map[string]any{"a": "y", "b": map[string]any{"c": 2}})
	content := writeAll(t, f, x, y)

	rows, err := f.ReadRows(strings.NewReader(content+"\n"), nil, nil)
	require.NoError(t, err)
	found, err := rows.Contains(y)
	require.NoError(t, err)
	assert.True(t, found)

	found, err = rows.Contains(record(t, abSchema, map[string]any{"a": "y", "b": map[string]any{"c": 3}}))
	require.NoError(t, err)
	assert.False(t, found)

	// b.c is ignored when comparing
	rows, err = f.ReadRows(strings.NewReader(content), nil, []string{"b.c"})
	require.NoError(t, err)
	found, err = rows.Contains(record(t, abSchema, map[string]any{"a": "y", "b": map[string]any{"c": 3}}))
	require.NoError(t, err)
	assert.True(t, found)

	_, err = f.ReadRows(strings.NewReader("{not json\n"), []string{"a"}, nil)
	assert.Error(t, err)
}
