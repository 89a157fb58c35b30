package converter

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/siqueiraa/kaflow-restructure/pkg/avro"
	"github.com/siqueiraa/kaflow-restructure/pkg/schema"
)

// keySet indexes row keys by their hash.
type keySet map[uint64][][]string

func (s keySet) add(key []string) {
	h := hashKey(key)
	for _, k := range s[h] {
		if slices.Equal(k, key) {
			return
		}
	}
	s[h] = append(s[h], key)
}

func (s keySet) has(key []string) bool {
	for _, k := range s[hashKey(key)] {
		if slices.Equal(k, key) {
			return true
		}
	}
	return false
}

func (f *CSVFactory) ReadRows(src io.Reader, distinctFields, ignoreFields []string) (Rows, error) {
	r := csv.NewReader(bufio.NewReader(src))
	rows := &csvRows{schemas: f.schemas, keys: make(keySet)}

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return rows, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	rows.header = header
	rows.columns = keyColumns(header, distinctFields, ignoreFields)

	for n := 1; ; n++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", n, err)
		}
		rows.keys.add(selectColumns(row, rows.columns))
	}
	return rows, nil
}

type csvRows struct {
	schemas *schema.Manager
	header  []string
	columns []int
	keys    keySet
}

// Contains flattens record under the file header. A record with other
// columns cannot be in the file.
func (r *csvRows) Contains(record avro.Record) (bool, error) {
	if r.header == nil || !slices.Equal(r.schemas.Layout(record.Schema).FieldOrder, r.header) {
		return false, nil
	}
	row := schema.Flatten(record.Schema, record.Data)
	return r.keys.has(selectColumns(row, r.columns)), nil
}

func (f *JSONFactory) ReadRows(src io.Reader, distinctFields, ignoreFields []string) (Rows, error) {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	rows := &jsonRows{distinct: distinctFields, ignore: ignoreFields, keys: make(keySet)}
	for n := 1; scanner.Scan(); n++ {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		key, err := jsonKey(line, distinctFields, ignoreFields)
		if err != nil {
			return nil, fmt.Errorf("json line %d: %w", n, err)
		}
		rows.keys.add(key)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read json lines: %w", err)
	}
	return rows, nil
}

type jsonRows struct {
	distinct []string
	ignore   []string
	keys     keySet
}

// Contains marshals record the way the converter writes it.
func (r *jsonRows) Contains(record avro.Record) (bool, error) {
	line, err := json.Marshal(record.Data)
	if err != nil {
		return false, fmt.Errorf("marshal record: %w", err)
	}
	key, err := jsonKey(line, r.distinct, r.ignore)
	if err != nil {
		return false, err
	}
	return r.keys.has(key), nil
}
