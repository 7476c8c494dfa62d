// Package compression compresses export documents before upload.
package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Supported algorithms
const (
	AlgorithmGzip = "gzip"
	AlgorithmNone = "none"
)

// Config holds compression configuration
type Config struct {
	// Algorithm is gzip or none
	Algorithm string
	// Level is the gzip level (1-9), 0 picks the default
	Level int
	// MinSize is the smallest payload worth compressing (bytes)
	MinSize int64
}

// CompressedData is a payload together with how it was encoded
type CompressedData struct {
	Data           []byte
	Algorithm      string
	OriginalSize   int64
	CompressedSize int64
}

// Ratio is compressed size over original size
func (d *CompressedData) Ratio() float64 {
	if d.OriginalSize == 0 {
		return 1
	}
	return float64(d.CompressedSize) / float64(d.OriginalSize)
}

// Compressor encodes and decodes payloads
type Compressor interface {
	Compress(data []byte) (*CompressedData, error)
	Decompress(data *CompressedData) ([]byte, error)
	// Extension is the suffix appended to object keys, empty for none
	Extension() string
	// ContentType is the content type of compressed objects
	ContentType() string
}

// New returns the compressor for cfg.Algorithm
func New(cfg Config) (Compressor, error) {
	switch cfg.Algorithm {
	case AlgorithmGzip:
		level := cfg.Level
		if level == 0 {
			level = gzip.DefaultCompression
		}
		if level != gzip.DefaultCompression && (level < gzip.BestSpeed || level > gzip.BestCompression) {
			return nil, fmt.Errorf("invalid gzip level %d", cfg.Level)
		}
		return &gzipCompressor{level: level, minSize: cfg.MinSize}, nil
	case AlgorithmNone, "":
		return noopCompressor{}, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm %q", cfg.Algorithm)
	}
}

type gzipCompressor struct {
	level   int
	minSize int64
}

// Compress gzips data unless it is too small or already gzipped
func (c *gzipCompressor) Compress(data []byte) (*CompressedData, error) {
	size := int64(len(data))
	if size == 0 || size < c.minSize || IsGzip(data) {
		return uncompressed(data), nil
	}

	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish compression: %w", err)
	}

	return &CompressedData{
		Data:           buf.Bytes(),
		Algorithm:      AlgorithmGzip,
		OriginalSize:   size,
		CompressedSize: int64(buf.Len()),
	}, nil
}

// Decompress reverses Compress
func (c *gzipCompressor) Decompress(data *CompressedData) ([]byte, error) {
	if data.Algorithm != AlgorithmGzip {
		return data.Data, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(data.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress: %w", err)
	}
	return out, nil
}

func (c *gzipCompressor) Extension() string   { return ".gz" }
func (c *gzipCompressor) ContentType() string { return "application/gzip" }

type noopCompressor struct{}

func (noopCompressor) Compress(data []byte) (*CompressedData, error) {
	return uncompressed(data), nil
}

func (noopCompressor) Decompress(data *CompressedData) ([]byte, error) {
	return data.Data, nil
}

func (noopCompressor) Extension() string   { return "" }
func (noopCompressor) ContentType() string { return "" }

func uncompressed(data []byte) *CompressedData {
	return &CompressedData{
		Data:           data,
		Algorithm:      AlgorithmNone,
		OriginalSize:   int64(len(data)),
		CompressedSize: int64(len(data)),
	}
}

// IsGzip reports whether data starts with the gzip magic bytes
func IsGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}
