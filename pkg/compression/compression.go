// Package compression wraps the codecs used for output files.
package compression

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Codec compresses and decompresses file contents.
type Codec interface {
	// Compress wraps w; closing the returned writer flushes the codec but does
	// not close w.
	Compress(w io.Writer) (io.WriteCloser, error)
	// Decompress wraps r; closing the returned reader does not close r.
	Decompress(r io.Reader) (io.ReadCloser, error)
	// Extension is appended to output file names, e.g. ".gz".
	Extension() string
	Name() string
}

// ForName returns the codec registered under name.
func ForName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "none", "identity":
		return identity{}, nil
	case "gzip", "gz":
		return gzipCodec{}, nil
	case "zstd", "zst":
		return zstdCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", name)
	}
}

type identity struct{}

func (identity) Compress(w io.Writer) (io.WriteCloser, error) {
	return &bufferedWriter{Writer: bufio.NewWriter(w)}, nil
}

func (identity) Decompress(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

func (identity) Extension() string { return "" }
func (identity) Name() string      { return "none" }

type bufferedWriter struct {
	*bufio.Writer
}

func (b *bufferedWriter) Close() error {
	return b.Flush()
}

type gzipCodec struct{}

func (gzipCodec) Compress(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriter(w), nil
}

func (gzipCodec) Decompress(r io.Reader) (io.ReadCloser, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	return gz, nil
}

func (gzipCodec) Extension() string { return ".gz" }
func (gzipCodec) Name() string      { return "gzip" }

type zstdCodec struct{}

func (zstdCodec) Compress(w io.Writer) (io.WriteCloser, error) {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return nil, fmt.Errorf("create zstd writer: %w", err)
	}
	return enc, nil
}

func (zstdCodec) Decompress(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open zstd stream: %w", err)
	}
	return dec.IOReadCloser(), nil
}

func (zstdCodec) Extension() string { return ".zst" }
func (zstdCodec) Name() string      { return "zstd" }
