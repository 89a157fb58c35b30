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

// CSVFactory writes flattened records with a header row.
type CSVFactory struct {
	schemas *schema.Manager
}

func (f *CSVFactory) Format() string    { return "csv" }
func (f *CSVFactory) Extension() string { return ".csv" }

func (f *CSVFactory) New(w io.Writer, record avro.Record, writeHeader bool, existing []byte) (Converter, error) {
	c := &csvConverter{
		schemas: f.schemas,
		writer:  csv.NewWriter(w),
	}

	if len(existing) > 0 {
		header, err := readHeader(existing)
		if err != nil {
			return nil, err
		}
		c.header = header
	}
	if c.header == nil {
		c.header = f.schemas.Layout(record.Schema).FieldOrder
		if writeHeader {
			if err := c.writer.Write(c.header); err != nil {
				return nil, fmt.Errorf("write csv header: %w", err)
			}
		}
	}
	return c, nil
}

// readHeader parses the first line of existing content. A header longer
// than the available prefix is reported as an error.
func readHeader(existing []byte) ([]string, error) {
	end := bytes.IndexByte(existing, '\n')
	if end < 0 {
		return nil, errors.New("csv header exceeds available prefix")
	}
	r := csv.NewReader(bytes.NewReader(existing[:end+1]))
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	return header, nil
}

type csvConverter struct {
	schemas *schema.Manager
	writer  *csv.Writer
	header  []string

	// fingerprint of the last schema found to match header
	matched  [32]byte
	hasMatch bool
}

func (c *csvConverter) WriteRecord(record avro.Record) (bool, error) {
	fp := record.Schema.Fingerprint()
	if !c.hasMatch || fp != c.matched {
		if !slices.Equal(c.schemas.Layout(record.Schema).FieldOrder, c.header) {
			return false, nil
		}
		c.matched, c.hasMatch = fp, true
	}

	if err := c.writer.Write(schema.Flatten(record.Schema, record.Data)); err != nil {
		return false, fmt.Errorf("write csv row: %w", err)
	}
	return true, nil
}

func (c *csvConverter) Close() error {
	c.writer.Flush()
	return c.writer.Error()
}

func (f *CSVFactory) Deduplicate(src io.Reader, dst io.Writer, distinctFields, ignoreFields []string) error {
	r := csv.NewReader(bufio.NewReader(src))
	r.ReuseRecord = false

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read csv header: %w", err)
	}

	var rows [][]string
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read csv row %d: %w", len(rows)+1, err)
		}
		rows = append(rows, row)
	}

	columns := keyColumns(header, distinctFields, ignoreFields)
	keep := lastOccurrences(len(rows), func(i int) []string {
		return selectColumns(rows[i], columns)
	})

	w := csv.NewWriter(dst)
	if err := w.Write(header); err != nil {
		return err
	}
	for i, row := range rows {
		if keep[i] {
			if err := w.Write(row); err != nil {
				return err
			}
		}
	}
	w.Flush()
	return w.Error()
}

// keyColumns returns the indices of header that identify a row, or nil to
// compare whole rows.
func keyColumns(header, distinctFields, ignoreFields []string) []int {
	if len(distinctFields) > 0 {
		var cols []int
		for i, name := range header {
			if slices.Contains(distinctFields, name) {
				cols = append(cols, i)
			}
		}
		if len(cols) > 0 {
			return cols
		}
		return nil
	}
	if len(ignoreFields) == 0 {
		return nil
	}
	var cols []int
	for i, name := range header {
		if !slices.Contains(ignoreFields, name) {
			cols = append(cols, i)
		}
	}
	return cols
}

func selectColumns(row []string, columns []int) []string {
	if columns == nil {
		return row
	}
	key := make([]string, len(columns))
	for i, c := range columns {
		if c < len(row) {
			key[i] = row[c]
		}
	}
	return key
}
