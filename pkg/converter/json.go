package converter

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/siqueiraa/kaflow-restructure/pkg/avro"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxLineSize = 16 << 20

// JSONFactory writes one JSON object per line. Records keep their nesting,
// so no record ever conflicts with an existing file.
type JSONFactory struct{}

func (f *JSONFactory) Format() string    { return "json" }
func (f *JSONFactory) Extension() string { return ".json" }

func (f *JSONFactory) New(w io.Writer, _ avro.Record, _ bool, _ []byte) (Converter, error) {
	bw := bufio.NewWriter(w)
	return &jsonConverter{
		writer: bw,
		stream: json.BorrowStream(bw),
	}, nil
}

type jsonConverter struct {
	writer *bufio.Writer
	stream *jsoniter.Stream
}

func (c *jsonConverter) WriteRecord(record avro.Record) (bool, error) {
	c.stream.WriteVal(record.Data)
	c.stream.WriteRaw("\n")
	if c.stream.Error != nil {
		return false, fmt.Errorf("write json record: %w", c.stream.Error)
	}
	if err := c.stream.Flush(); err != nil {
		return false, fmt.Errorf("write json record: %w", err)
	}
	return true, nil
}

func (c *jsonConverter) Close() error {
	if c.stream == nil {
		return nil
	}
	json.ReturnStream(c.stream)
	c.stream = nil
	return c.writer.Flush()
}

func (f *JSONFactory) Deduplicate(src io.Reader, dst io.Writer, distinctFields, ignoreFields []string) error {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var lines [][]byte
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		lines = append(lines, bytes.Clone(line))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read json lines: %w", err)
	}

	keys := make([][]string, len(lines))
	for i, line := range lines {
		key, err := jsonKey(line, distinctFields, ignoreFields)
		if err != nil {
			return fmt.Errorf("json line %d: %w", i+1, err)
		}
		keys[i] = key
	}
	keep := lastOccurrences(len(lines), func(i int) []string { return keys[i] })

	w := bufio.NewWriter(dst)
	for i, line := range lines {
		if !keep[i] {
			continue
		}
		if _, err := w.Write(line); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.Flush()
}

func jsonKey(line []byte, distinctFields, ignoreFields []string) ([]string, error) {
	if len(distinctFields) == 0 && len(ignoreFields) == 0 {
		return []string{string(line)}, nil
	}

	var doc map[string]any
	if err := json.Unmarshal(line, &doc); err != nil {
		return nil, err
	}

	if len(distinctFields) > 0 {
		key := make([]string, len(distinctFields))
		for i, field := range distinctFields {
			v, _ := lookup(doc, field)
			b, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			key[i] = string(b)
		}
		return key, nil
	}

	for _, field := range ignoreFields {
		remove(doc, field)
	}
	// map keys are sorted on marshal
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return []string{string(b)}, nil
}

// lookup resolves a dot separated path through nested objects.
func lookup(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func remove(doc map[string]any, path string) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, parts[len(parts)-1])
}
