// Package converter writes decoded records as CSV or JSON lines and removes
// duplicate rows from finished output files.
package converter

import (
	"errors"
	"fmt"
	"io"

	"github.com/siqueiraa/kaflow-restructure/pkg/avro"
	"github.com/siqueiraa/kaflow-restructure/pkg/schema"
)

// ErrUnknownFormat is returned by ForFormat for an unregistered format.
var ErrUnknownFormat = errors.New("unknown output format")

// Converter writes records of one output file.
type Converter interface {
	// WriteRecord returns false without writing anything when the record
	// does not fit the header already established for the file.
	WriteRecord(record avro.Record) (bool, error)
	// Close flushes buffered output. It does not close the underlying writer.
	Close() error
}

// Factory creates converters for one output format.
type Factory interface {
	Format() string
	// Extension is the file extension including the leading dot.
	Extension() string
	// New starts a converter writing to w. existing holds the leading bytes
	// of content already present in the file, used to recover its header;
	// writeHeader is false when that content is non-empty.
	New(w io.Writer, record avro.Record, writeHeader bool, existing []byte) (Converter, error)
	// Deduplicate copies src to dst, keeping only the last occurrence of
	// every row. Rows are compared on distinctFields when given, otherwise
	// on every field not named in ignoreFields.
	Deduplicate(src io.Reader, dst io.Writer, distinctFields, ignoreFields []string) error
	// ReadRows loads the rows of src for membership checks, identifying
	// rows the same way Deduplicate does.
	ReadRows(src io.Reader, distinctFields, ignoreFields []string) (Rows, error)
}

// Rows is the content of one output file.
type Rows interface {
	// Contains reports whether record is present in the file.
	Contains(record avro.Record) (bool, error)
}

// ForFormat returns the factory registered for name.
func ForFormat(name string, schemas *schema.Manager) (Factory, error) {
	if schemas == nil {
		schemas = schema.NewSchemaManager()
	}
	switch name {
	case "", "csv":
		return &CSVFactory{schemas: schemas}, nil
	case "json":
		return &JSONFactory{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
}
