package zarr

import (
	"context"
	"fmt"
)

// ArrayMeta carries the array-level context a codec needs to encode or
// decode one chunk (spec §4.2): the chunk's own shape in elements and the
// array's dtype. Shape is the *chunk* shape (inner or outer depending on
// chain position), not the whole array's shape.
type ArrayMeta struct {
	ChunkShape []uint64
	DType      DType
}

// ElementCount returns the product of ChunkShape.
func (m ArrayMeta) ElementCount() uint64 {
	n := uint64(1)
	for _, s := range m.ChunkShape {
		n *= s
	}
	return n
}

// Codec is one stage of a codec chain (spec §3.1 CodecDescriptor, §4.2).
// A chain is applied innermost-first on write, outermost-first on read;
// see CodecChain.
type Codec interface {
	// Name identifies the codec for serialization (e.g. "gzip", "blosc").
	Name() string
	Encode(input []byte, meta ArrayMeta) ([]byte, error)
	Decode(input []byte, meta ArrayMeta) ([]byte, error)
	// Clone returns an independent copy suitable for use by a different
	// goroutine (spec §4.7, §9: codec chains must be cheaply cloneable
	// for prefetch workers). Stateless codecs may return themselves.
	Clone() Codec
}

// PartialDecoder is implemented by codecs that can extract a sub-chunk
// without materializing the whole outer chunk (spec §4.2
// decode_partial); currently only ShardingCodec.
type PartialDecoder interface {
	SupportsPartialDecode() bool
	DecodePartial(ctx context.Context, bs *ByteStore, blobPath string, innerIndex int, outerMeta ArrayMeta) (data []byte, empty bool, err error)
}

// InnerBlockSizer is implemented by codecs that publish a narrower
// "inner" chunk geometry than their input (spec §4.2
// inner_most_block_size); only ShardingCodec implements this.
type InnerBlockSizer interface {
	InnerMostBlockSize(outer []uint64) []uint64
}

// CodecChain is an ordered sequence of codecs. Index 0 is innermost
// (applied first on Encode, last on Decode), matching both the Zarr v3
// codec array ordering (array->bytes codec first, then bytes->bytes
// codecs) and the Zarr v2 convention of applying filters before the
// compressor on write.
type CodecChain struct {
	Codecs []Codec
}

// Encode runs the full forward pipeline: raw host-layout bytes in,
// on-disk bytes out.
func (c CodecChain) Encode(raw []byte, meta ArrayMeta) ([]byte, error) {
	cur := raw
	for _, codec := range c.Codecs {
		var err error
		cur, err = codec.Encode(cur, meta)
		if err != nil {
			return nil, fmt.Errorf("%w: encode stage %q: %v", ErrFormat, codec.Name(), err)
		}
	}
	return cur, nil
}

// Decode runs the full reverse pipeline: on-disk bytes in, raw
// host-layout bytes out.
func (c CodecChain) Decode(encoded []byte, meta ArrayMeta) ([]byte, error) {
	cur := encoded
	for i := len(c.Codecs) - 1; i >= 0; i-- {
		var err error
		cur, err = c.Codecs[i].Decode(cur, meta)
		if err != nil {
			return nil, fmt.Errorf("%w: decode stage %q: %v", ErrFormat, c.Codecs[i].Name(), err)
		}
	}
	return cur, nil
}

// SupportsPartialDecode reports whether the chain's last stage (the one
// closest to the on-disk bytes, i.e. the outermost on write / first
// reached on read) can do a windowed decode — in practice, only when it
// is a sharding codec (spec §4.2: "any codec chain whose last stage
// does").
func (c CodecChain) SupportsPartialDecode() bool {
	if len(c.Codecs) == 0 {
		return false
	}
	last := c.Codecs[len(c.Codecs)-1]
	if pd, ok := last.(PartialDecoder); ok {
		return pd.SupportsPartialDecode()
	}
	return false
}

// Clone deep-copies the chain so a prefetch worker can use it
// concurrently with the owning array's foreground chain (spec §4.7, §9).
func (c CodecChain) Clone() CodecChain {
	out := CodecChain{Codecs: make([]Codec, len(c.Codecs))}
	for i, codec := range c.Codecs {
		out.Codecs[i] = codec.Clone()
	}
	return out
}

// IsNoOp reports an empty chain (raw, uncompressed storage).
func (c CodecChain) IsNoOp() bool {
	return len(c.Codecs) == 0
}
