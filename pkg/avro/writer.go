package avro

import (
	"fmt"
	"io"

	"github.com/hamba/avro/v2/ocf"
)

// Writer appends records to a new container file.
type Writer struct {
	enc *ocf.Encoder
}

// NewWriter writes the container header for schema to w. Codec is one of
// "null", "deflate", "snappy" or "zstandard"; empty means "null". The header
// keeps docs, defaults and aliases of schema.
func NewWriter(w io.Writer, schema string, codec string) (*Writer, error) {
	opts := []ocf.EncoderFunc{ocf.WithSchemaMarshaler(ocf.FullSchemaMarshaler)}
	if codec != "" {
		opts = append(opts, ocf.WithCodec(ocf.CodecName(codec)))
	}
	enc, err := ocf.NewEncoder(schema, w, opts...)
	if err != nil {
		return nil, fmt.Errorf("create container encoder: %w", err)
	}
	return &Writer{enc: enc}, nil
}

func (w *Writer) Write(record any) error {
	if err := w.enc.Encode(record); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return nil
}

// Close flushes the final block. It does not close the underlying writer.
func (w *Writer) Close() error {
	return w.enc.Close()
}
