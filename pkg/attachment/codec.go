package attachment

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	gojson "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
)

// CompressedSuffix marks files that are zstd compressed.
const CompressedSuffix = ".zst"

// Marshal encodes a validated record as indented JSON.
func Marshal(r *Record) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return gojson.MarshalIndent(r, "", "  ")
}

// Unmarshal decodes and validates a record.
func Unmarshal(data []byte) (*Record, error) {
	var r Record
	if err := gojson.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("attachment: decode: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Write encodes r to w, zstd compressed when compress is set.
func Write(w io.Writer, r *Record, compress bool) error {
	data, err := Marshal(r)
	if err != nil {
		return err
	}
	if !compress {
		_, err = w.Write(data)
		return err
	}
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("attachment: zstd writer: %w", err)
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return fmt.Errorf("attachment: compress: %w", err)
	}
	return enc.Close()
}

// Read decodes a record from rd, which is zstd compressed when compressed is set.
func Read(rd io.Reader, compressed bool) (*Record, error) {
	if compressed {
		dec, err := zstd.NewReader(rd)
		if err != nil {
			return nil, fmt.Errorf("attachment: zstd reader: %w", err)
		}
		defer dec.Close()
		rd = dec
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rd); err != nil {
		return nil, fmt.Errorf("attachment: read: %w", err)
	}
	return Unmarshal(buf.Bytes())
}

// IsCompressedPath reports whether path names a compressed record.
func IsCompressedPath(path string) bool {
	return strings.HasSuffix(path, CompressedSuffix)
}

// Save writes r to path. Paths ending in CompressedSuffix are compressed.
func Save(path string, r *Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("attachment: create %s: %w", path, err)
	}
	if err := Write(f, r, IsCompressedPath(path)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load reads the record at path.
func Load(path string) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("attachment: open %s: %w", path, err)
	}
	defer f.Close()
	return Read(f, IsCompressedPath(path))
}
