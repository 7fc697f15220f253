package zarr

import (
	"encoding/json"
	"fmt"
)

// zarrayV2 is the on-disk .zarray document (spec §6.1), generalizing the
// teacher's Metadata struct with filters, dimension_separator, and a
// compound/structured dtype representation it never needed.
type zarrayV2 struct {
	ZarrFormat  int               `json:"zarr_format"`
	Shape       []uint64          `json:"shape"`
	Chunks      []uint64          `json:"chunks"`
	DType       json.RawMessage   `json:"dtype"`
	Compressor  *compressorConfig `json:"compressor"`
	Filters     []filterConfig    `json:"filters,omitempty"`
	FillValue   json.RawMessage   `json:"fill_value"`
	Order       string            `json:"order"`
	Separator   string            `json:"dimension_separator,omitempty"`
}

// zgroupV2 is the on-disk .zgroup document.
type zgroupV2 struct {
	ZarrFormat int `json:"zarr_format"`
}

// compressorConfig mirrors the teacher's CompressorConfig, extended with
// the remaining Blosc descriptor fields and a generic id+params fallback
// for zstd/gzip which only need {id, level}.
type compressorConfig struct {
	ID        string `json:"id"`
	CName     string `json:"cname,omitempty"`
	CLevel    int    `json:"clevel,omitempty"`
	Shuffle   int    `json:"shuffle,omitempty"`
	BlockSize int    `json:"blocksize,omitempty"`
	Level     int    `json:"level,omitempty"`
}

// filterConfig describes one v2 filter entry (shuffle, delta, quantize,
// fixedscaleoffset), applied in array order before the compressor on
// write (spec §4.2: filters are the v2 name for the codec chain stages
// ahead of the final compressor).
type filterConfig struct {
	ID          string          `json:"id"`
	ElementSize int             `json:"elementsize,omitempty"`
	DType       json.RawMessage `json:"dtype,omitempty"`
	AsType      json.RawMessage `json:"astype,omitempty"`
	Scale       float64         `json:"scale,omitempty"`
	Offset      float64         `json:"offset,omitempty"`
}

func loadZarrayV2(data []byte) (*zarrayV2, error) {
	var meta zarrayV2
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: .zarray: %v", ErrFormat, err)
	}
	if meta.ZarrFormat != 2 {
		return nil, fmt.Errorf("%w: .zarray zarr_format %d, want 2", ErrFormat, meta.ZarrFormat)
	}
	if len(meta.Shape) != len(meta.Chunks) {
		return nil, fmt.Errorf("%w: .zarray shape/chunks rank mismatch", ErrFormat)
	}
	return &meta, nil
}

// buildCodecChainV2 assembles a CodecChain from a .zarray's filters (in
// declared order, applied first) followed by the compressor (applied
// last), matching spec §4.2's ordering convention where index 0 is
// innermost / applied first on encode.
func buildCodecChainV2(meta *zarrayV2, dt DType, order string) (CodecChain, error) {
	var codecs []Codec

	for _, f := range meta.Filters {
		c, err := buildFilterV2(f, dt)
		if err != nil {
			return CodecChain{}, err
		}
		codecs = append(codecs, c)
	}

	if order == "F" {
		perm := make([]int, len(meta.Shape))
		for i := range perm {
			perm[i] = len(perm) - 1 - i
		}
		codecs = append(codecs, NewTransposeCodec(perm, dt.ElementSize()))
	}

	if dt.BigEndian {
		codecs = append(codecs, &BytesCodec{BigEndian: true})
	}

	if meta.Compressor != nil {
		c, err := buildCompressorV2(meta.Compressor)
		if err != nil {
			return CodecChain{}, err
		}
		codecs = append(codecs, c)
	}

	return CodecChain{Codecs: codecs}, nil
}

func buildFilterV2(f filterConfig, arrayDType DType) (Codec, error) {
	switch f.ID {
	case "shuffle":
		elt := f.ElementSize
		if elt == 0 {
			elt = arrayDType.ElementSize()
		}
		return &ShuffleCodec{ElementSize: elt}, nil
	case "delta":
		dt := arrayDType
		if len(f.DType) > 0 {
			var raw any
			if err := json.Unmarshal(f.DType, &raw); err == nil {
				if parsed, err := ParseDTypeV2(raw); err == nil {
					dt = parsed
				}
			}
		}
		return &DeltaCodec{DType: dt}, nil
	case "quantize":
		asType := arrayDType
		if len(f.AsType) > 0 {
			var raw any
			if err := json.Unmarshal(f.AsType, &raw); err == nil {
				if parsed, err := ParseDTypeV2(raw); err == nil {
					asType = parsed
				}
			}
		}
		return &QuantizeCodec{ASType: asType, DType: arrayDType}, nil
	case "fixedscaleoffset":
		asType := arrayDType
		if len(f.AsType) > 0 {
			var raw any
			if err := json.Unmarshal(f.AsType, &raw); err == nil {
				if parsed, err := ParseDTypeV2(raw); err == nil {
					asType = parsed
				}
			}
		}
		return &FixedScaleOffsetCodec{Scale: f.Scale, Offset: f.Offset, AType: asType, DType: arrayDType}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported v2 filter id %q", ErrUnsupported, f.ID)
	}
}

func buildCompressorV2(c *compressorConfig) (Codec, error) {
	switch c.ID {
	case "blosc":
		return &BloscCodec{CName: c.CName, CLevel: c.CLevel, Shuffle: c.Shuffle, BlockSize: c.BlockSize}, nil
	case "gzip", "zlib":
		return &GZipCodec{Level: c.Level}, nil
	case "zstd":
		return &ZstdCodec{Level: c.Level}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported v2 compressor id %q", ErrUnsupported, c.ID)
	}
}
