// Package codecs implements the compression codecs applied to blob content.
package codecs

import (
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
)

// Compression enumerates the codecs a blob may be compressed under.
type Compression int

const (
	None Compression = iota
	Gzip
	Snappy
	Zstandard
)

// Validate returns an error if the Compression is not a known codec.
func (c Compression) Validate() error {
	if c < None || c > Zstandard {
		return fmt.Errorf("invalid Compression (%d)", c)
	}
	return nil
}

// Extension returns the content-path extension of the Compression.
func (c Compression) Extension() string {
	switch c {
	case None:
		return ""
	case Gzip:
		return ".gz"
	case Snappy:
		return ".sz"
	case Zstandard:
		return ".zst"
	default:
		panic("invalid Compression")
	}
}

func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case Gzip:
		return "gzip"
	case Snappy:
		return "snappy"
	case Zstandard:
		return "zstd"
	default:
		return fmt.Sprintf("Compression(%d)", c)
	}
}

// UnmarshalFlag maps a flag value ("none", "gzip", "snappy", "zstd") to
// its Compression.
func (c *Compression) UnmarshalFlag(value string) error {
	switch value {
	case "none":
		*c = None
	case "gzip":
		*c = Gzip
	case "snappy":
		*c = Snappy
	case "zstd":
		*c = Zstandard
	default:
		return fmt.Errorf("unrecognized compression codec %q", value)
	}
	return nil
}

// Decompressor is a ReadCloser where Close closes and releases Decompressor
// state, but does not Close or affect the underlying Reader.
type Decompressor io.ReadCloser

// Compressor is a WriteCloser where Close closes and releases Compressor
// state, potentially flushing final content to the underlying Writer,
// but does not Close or otherwise affect the underlying Writer.
type Compressor io.WriteCloser

// NewCodecReader returns a Decompressor of the Reader encoded with Compression.
func NewCodecReader(r io.Reader, codec Compression) (Decompressor, error) {
	switch codec {
	case None:
		return io.NopCloser(r), nil
	case Gzip:
		return gzip.NewReader(r)
	case Snappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	case Zstandard:
		return zstdNewReader(r)
	default:
		return nil, fmt.Errorf("unsupported codec %s", codec)
	}
}

// NewCodecWriter returns a Compressor wrapping the Writer encoding with Compression.
func NewCodecWriter(w io.Writer, codec Compression) (Compressor, error) {
	switch codec {
	case None:
		return nopWriteCloser{w}, nil
	case Gzip:
		return gzip.NewWriter(w), nil
	case Snappy:
		return snappy.NewBufferedWriter(w), nil
	case Zstandard:
		return zstdNewWriter(w)
	default:
		return nil, fmt.Errorf("unsupported codec %s", codec)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

var (
	zstdNewReader = func(io.Reader) (io.ReadCloser, error) {
		return nil, fmt.Errorf("ZSTANDARD was not enabled at compile time")
	}
	zstdNewWriter = func(io.Writer) (io.WriteCloser, error) {
		return nil, fmt.Errorf("ZSTANDARD was not enabled at compile time")
	}
)
