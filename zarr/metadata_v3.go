package zarr

import (
	"encoding/json"
	"fmt"
)

// zarrJSONV3 is the on-disk zarr.json document for both groups and arrays
// (spec §6.1); node_type discriminates. Array-only fields are omitted
// when empty so a group's zarr.json stays minimal.
type zarrJSONV3 struct {
	ZarrFormat       int                 `json:"zarr_format"`
	NodeType         string              `json:"node_type"`
	Attributes       json.RawMessage     `json:"attributes,omitempty"`
	Shape            []uint64            `json:"shape,omitempty"`
	DataType         string              `json:"data_type,omitempty"`
	ChunkGrid        *chunkGridV3        `json:"chunk_grid,omitempty"`
	ChunkKeyEncoding *chunkKeyEncodingV3 `json:"chunk_key_encoding,omitempty"`
	FillValue        json.RawMessage     `json:"fill_value,omitempty"`
	Codecs           []codecConfigV3     `json:"codecs,omitempty"`
	DimensionNames   []*string           `json:"dimension_names,omitempty"`

	// ConsolidatedMetadata is only meaningful on the root node's zarr.json
	// (spec §6.1): a snapshot of every other node's own metadata document,
	// let a reader skip directory listing entirely.
	ConsolidatedMetadata *consolidatedMetadataV3 `json:"consolidated_metadata,omitempty"`
}

// consolidatedMetadataV3 is the v3 analogue of v2's external .zmetadata
// (spec §6.1).
type consolidatedMetadataV3 struct {
	Kind           string                     `json:"kind"`
	MustUnderstand bool                       `json:"must_understand"`
	Metadata       map[string]json.RawMessage `json:"metadata"`
}

type chunkGridV3 struct {
	Name          string             `json:"name"`
	Configuration chunkGridConfigV3  `json:"configuration"`
}

type chunkGridConfigV3 struct {
	ChunkShape []uint64 `json:"chunk_shape"`
}

type chunkKeyEncodingV3 struct {
	Name          string                   `json:"name"`
	Configuration chunkKeyEncodingConfigV3 `json:"configuration"`
}

type chunkKeyEncodingConfigV3 struct {
	Separator string `json:"separator,omitempty"`
}

// codecConfigV3 is one entry of the v3 "codecs" array. Configuration is
// kept raw and re-parsed per codec name, since each codec's configuration
// shape differs (spec §3.1 CodecDescriptor tagged variant).
type codecConfigV3 struct {
	Name          string          `json:"name"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
}

func loadZarrJSONV3(data []byte) (*zarrJSONV3, error) {
	var doc zarrJSONV3
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: zarr.json: %v", ErrFormat, err)
	}
	if doc.ZarrFormat != 3 {
		return nil, fmt.Errorf("%w: zarr.json zarr_format %d, want 3", ErrFormat, doc.ZarrFormat)
	}
	return &doc, nil
}

// buildCodecChainV3 parses the "codecs" array into a CodecChain in
// declaration order (spec §4.2: v3's codecs array is already innermost
// [array->bytes] first, bytes->bytes transforms after, matching
// CodecChain's index-0-is-innermost convention directly).
func buildCodecChainV3(entries []codecConfigV3, dt DType, outerChunkShape, innerChunkShape []uint64) (CodecChain, error) {
	codecs := make([]Codec, 0, len(entries))
	for _, e := range entries {
		c, err := buildCodecV3(e, dt, outerChunkShape, innerChunkShape)
		if err != nil {
			return CodecChain{}, err
		}
		codecs = append(codecs, c)
	}
	return CodecChain{Codecs: codecs}, nil
}

func buildCodecV3(e codecConfigV3, dt DType, outerChunkShape, innerChunkShape []uint64) (Codec, error) {
	switch e.Name {
	case "bytes":
		var cfg struct {
			Endian string `json:"endian"`
		}
		if len(e.Configuration) > 0 {
			if err := json.Unmarshal(e.Configuration, &cfg); err != nil {
				return nil, fmt.Errorf("%w: bytes codec configuration: %v", ErrFormat, err)
			}
		}
		return &BytesCodec{BigEndian: cfg.Endian == "big"}, nil
	case "transpose":
		var cfg struct {
			Order []int `json:"order"`
		}
		if err := json.Unmarshal(e.Configuration, &cfg); err != nil {
			return nil, fmt.Errorf("%w: transpose codec configuration: %v", ErrFormat, err)
		}
		return NewTransposeCodec(cfg.Order, dt.ElementSize()), nil
	case "gzip":
		var cfg struct {
			Level int `json:"level"`
		}
		if len(e.Configuration) > 0 {
			if err := json.Unmarshal(e.Configuration, &cfg); err != nil {
				return nil, fmt.Errorf("%w: gzip codec configuration: %v", ErrFormat, err)
			}
		}
		return &GZipCodec{Level: cfg.Level}, nil
	case "zstd":
		var cfg struct {
			Level int `json:"level"`
		}
		if len(e.Configuration) > 0 {
			if err := json.Unmarshal(e.Configuration, &cfg); err != nil {
				return nil, fmt.Errorf("%w: zstd codec configuration: %v", ErrFormat, err)
			}
		}
		return &ZstdCodec{Level: cfg.Level}, nil
	case "blosc":
		var cfg struct {
			CName     string `json:"cname"`
			CLevel    int    `json:"clevel"`
			Shuffle   int    `json:"shuffle"`
			TypeSize  int    `json:"typesize"`
			BlockSize int    `json:"blocksize"`
		}
		if len(e.Configuration) > 0 {
			if err := json.Unmarshal(e.Configuration, &cfg); err != nil {
				return nil, fmt.Errorf("%w: blosc codec configuration: %v", ErrFormat, err)
			}
		}
		return &BloscCodec{CName: cfg.CName, CLevel: cfg.CLevel, Shuffle: cfg.Shuffle, TypeSize: cfg.TypeSize, BlockSize: cfg.BlockSize}, nil
	case "shuffle":
		var cfg struct {
			ElementSize int `json:"elementsize"`
		}
		if err := json.Unmarshal(e.Configuration, &cfg); err != nil {
			return nil, fmt.Errorf("%w: shuffle codec configuration: %v", ErrFormat, err)
		}
		return &ShuffleCodec{ElementSize: cfg.ElementSize}, nil
	case "tiff":
		return &TIFFCodec{}, nil
	case "sharding_indexed":
		return buildShardingCodecV3(e, dt, innerChunkShape)
	default:
		return nil, fmt.Errorf("%w: unsupported v3 codec %q", ErrUnsupported, e.Name)
	}
}

func buildShardingCodecV3(e codecConfigV3, dt DType, innerChunkShape []uint64) (Codec, error) {
	var cfg struct {
		ChunkShape     []uint64        `json:"chunk_shape"`
		Codecs         []codecConfigV3 `json:"codecs"`
		IndexCodecs    []codecConfigV3 `json:"index_codecs"`
		IndexLocation  string          `json:"index_location"`
	}
	if err := json.Unmarshal(e.Configuration, &cfg); err != nil {
		return nil, fmt.Errorf("%w: sharding_indexed codec configuration: %v", ErrFormat, err)
	}
	inner := cfg.ChunkShape
	if len(inner) == 0 {
		inner = innerChunkShape
	}
	innerCodecs, err := buildCodecChainV3(cfg.Codecs, dt, inner, inner)
	if err != nil {
		return nil, err
	}
	indexCodecs, err := buildCodecChainV3(cfg.IndexCodecs, DType{Kind: KindUint64, Size: 8}, nil, nil)
	if err != nil {
		return nil, err
	}
	loc := cfg.IndexLocation
	if loc == "" {
		loc = "end"
	}
	return &ShardingCodec{
		InnerChunkShape: inner,
		InnerCodecs:     innerCodecs,
		IndexCodecs:     indexCodecs,
		IndexLocation:   loc,
	}, nil
}
