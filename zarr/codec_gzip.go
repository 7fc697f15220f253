package zarr

import (
	"bytes"
	"fmt"
	"io"

	kgzip "github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// GZipCodec wraps klauspost/compress's gzip implementation (spec §4.2
// GZip), grounded on the teacher's go.mod dependency on
// github.com/klauspost/compress; it is a drop-in, faster replacement for
// stdlib compress/gzip with an identical wire format.
type GZipCodec struct {
	Level int
}

func (c *GZipCodec) Name() string { return "gzip" }

func (c *GZipCodec) Clone() Codec { cp := *c; return &cp }

func (c *GZipCodec) Encode(input []byte, _ ArrayMeta) ([]byte, error) {
	var buf bytes.Buffer
	level := c.Level
	if level == 0 {
		level = kgzip.DefaultCompression
	}
	w, err := kgzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(input); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *GZipCodec) Decode(input []byte, _ ArrayMeta) ([]byte, error) {
	r, err := kgzip.NewReader(bytes.NewReader(input))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return out, nil
}

// ZstdCodec wraps klauspost/compress/zstd (spec §4.2 GZip/Zstd), the same
// package the teacher's zarr/dataset.go already imports for the "zstd"
// compressor id.
type ZstdCodec struct {
	Level int
}

func (c *ZstdCodec) Name() string { return "zstd" }

func (c *ZstdCodec) Clone() Codec { cp := *c; return &cp }

func (c *ZstdCodec) Encode(input []byte, _ ArrayMeta) ([]byte, error) {
	level := zstd.EncoderLevelFromZstd(c.Level)
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(input, nil), nil
}

func (c *ZstdCodec) Decode(input []byte, _ ArrayMeta) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	out, err := dec.DecodeAll(input, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return out, nil
}
