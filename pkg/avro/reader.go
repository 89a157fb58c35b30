package avro

import (
	"errors"
	"fmt"
	"io"

	havro "github.com/hamba/avro/v2"
	"github.com/hamba/avro/v2/ocf"
)

const schemaMetaKey = "avro.schema"

// ErrNotRecord is returned for container files whose schema is not a record.
var ErrNotRecord = errors.New("container schema is not a record")

// Reader iterates the records of one container file.
//
//	r, err := avro.NewReader(in)
//	for r.Next() {
//		rec := r.Record()
//	}
//	err = r.Err()
type Reader struct {
	dec        *ocf.Decoder
	schema     *havro.RecordSchema
	schemaJSON []byte
	rec        Record
	err        error
}

// NewReader reads the container header from r.
func NewReader(r io.Reader) (*Reader, error) {
	dec, err := ocf.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("read container header: %w", err)
	}
	text := dec.Metadata()[schemaMetaKey]
	schema, err := ParseSchema(text)
	if err != nil {
		return nil, err
	}
	return &Reader{dec: dec, schema: schema, schemaJSON: text}, nil
}

// ParseSchema parses a record schema with a private name cache, so two files
// declaring the same record name with different fields do not interfere.
func ParseSchema(text []byte) (*havro.RecordSchema, error) {
	schema, err := havro.ParseBytesWithCache(text, "", &havro.SchemaCache{})
	if err != nil {
		return nil, fmt.Errorf("parse container schema: %w", err)
	}
	rs, ok := schema.(*havro.RecordSchema)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRecord, schema.Type())
	}
	return rs, nil
}

func (r *Reader) Schema() *havro.RecordSchema {
	return r.schema
}

// Next decodes the next record. It returns false at the end of the file or
// on the first error, which Err then reports.
func (r *Reader) Next() bool {
	if r.err != nil {
		return false
	}
	if !r.dec.HasNext() {
		r.err = r.dec.Error()
		return false
	}

	var data map[string]any
	if err := r.dec.Decode(&data); err != nil {
		r.err = fmt.Errorf("decode record: %w", err)
		return false
	}
	if data == nil {
		data = map[string]any{}
	}
	normalizeRecord(r.schema, data, 0)
	r.rec = Record{Schema: r.schema, SchemaJSON: r.schemaJSON, Data: data}
	return true
}

func (r *Reader) Record() Record {
	return r.rec
}

func (r *Reader) Err() error {
	return r.err
}
