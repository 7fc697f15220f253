package zarr

import (
	"fmt"

	blosc "github.com/mrjoshuak/go-blosc"
)

// Blosc shuffle modes, matching the c-blosc constants the go-blosc
// binding exposes.
const (
	BloscShuffleNone    = 0
	BloscShuffleByte    = 1
	BloscShuffleBit     = 2
	BloscShuffleDefault = BloscShuffleByte
)

// BloscCodec wraps github.com/mrjoshuak/go-blosc (spec §4.2 Blosc),
// the same package the teacher's reader.go imports for the "blosc"
// compressor id — there it only calls blosc.Decompress; this extends
// that to a full encode/decode codec carrying the descriptor's
// {cname,clevel,shuffle,typesize,blocksize} configuration.
type BloscCodec struct {
	CName     string // "lz4", "lz4hc", "zlib", "zstd", "blosclz" (blosc's default)
	CLevel    int    // 0..9
	Shuffle   int    // BloscShuffle*
	TypeSize  int    // defaults to the array dtype's non-complex element size
	BlockSize int    // 0 lets the library choose
}

func (c *BloscCodec) Name() string { return "blosc" }

func (c *BloscCodec) Clone() Codec { cp := *c; return &cp }

// effectiveTypeSize applies spec §4.2's default: "typesize defaults to
// the non-complex element size of the array dtype".
func (c *BloscCodec) effectiveTypeSize(dt DType) int {
	if c.TypeSize > 0 {
		return c.TypeSize
	}
	switch dt.Kind {
	case KindComplex64:
		return 4
	case KindComplex128:
		return 8
	default:
		sz := dt.ElementSize()
		if sz <= 0 {
			sz = 1
		}
		return sz
	}
}

func (c *BloscCodec) Encode(input []byte, meta ArrayMeta) ([]byte, error) {
	cname := c.CName
	if cname == "" {
		cname = "blosclz"
	}
	out, err := blosc.Compress(c.CLevel, c.Shuffle, c.effectiveTypeSize(meta.DType), input, cname)
	if err != nil {
		return nil, fmt.Errorf("blosc compress: %w", err)
	}
	return out, nil
}

func (c *BloscCodec) Decode(input []byte, _ ArrayMeta) ([]byte, error) {
	out, err := blosc.Decompress(input)
	if err != nil {
		return nil, fmt.Errorf("blosc decompress: %w", err)
	}
	return out, nil
}
