package zarr

import (
	"context"
	"encoding/json"
	"fmt"
)

// openArrayV3 opens an existing Zarr v3 array from its zarr.json (spec
// §4.8 open_array, §6.1).
func openArrayV3(ctx context.Context, store *Store, group *Group, name, nodePath string, bs *ByteStore) (*Array, error) {
	done, err := store.ctx.beginLoad(nodePath)
	if err != nil {
		return nil, err
	}
	defer done()

	raw, err := bs.Read(ctx, "zarr.json")
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: array %q not found", ErrNotFound, nodePath)
		}
		return nil, err
	}
	doc, err := loadZarrJSONV3(raw)
	if err != nil {
		return nil, err
	}
	if doc.NodeType != "array" {
		return nil, fmt.Errorf("%w: %q is a %s, not an array", ErrFormat, nodePath, doc.NodeType)
	}

	dt, err := ParseDTypeV3(doc.DataType)
	if err != nil {
		return nil, err
	}
	if doc.ChunkGrid == nil || doc.ChunkGrid.Name != "regular" {
		return nil, fmt.Errorf("%w: only the regular chunk_grid is supported", ErrUnsupported)
	}
	outerChunkShape := doc.ChunkGrid.Configuration.ChunkShape

	sep := "/"
	if doc.ChunkKeyEncoding != nil && doc.ChunkKeyEncoding.Configuration.Separator != "" {
		sep = doc.ChunkKeyEncoding.Configuration.Separator
	}
	v3Default := true
	if doc.ChunkKeyEncoding != nil && doc.ChunkKeyEncoding.Name == "v2" {
		v3Default = false
	}

	innerChunkShape := outerChunkShape
	sharded := false
	if shard, ok := lastShardingCodecConfig(doc.Codecs); ok {
		innerChunkShape = shard.ChunkShape
		sharded = true
	}

	codecChain, err := buildCodecChainV3(doc.Codecs, dt, outerChunkShape, innerChunkShape)
	if err != nil {
		return nil, err
	}

	var rawFill any
	if len(doc.FillValue) > 0 {
		if err := json.Unmarshal(doc.FillValue, &rawFill); err != nil {
			return nil, fmt.Errorf("%w: zarr.json fill_value: %v", ErrFormat, err)
		}
	}
	fillValue, err := ParseFillValueV3(rawFill, dt)
	if err != nil {
		return nil, err
	}

	attrs, err := attrBagFromRaw(doc.Attributes)
	if err != nil {
		return nil, err
	}

	dims := dimensionsFromNamesV3(doc.Shape, doc.DimensionNames)

	a := &Array{
		store:           store,
		group:           group,
		name:            name,
		path:            nodePath,
		version:         3,
		shape:           doc.Shape,
		outerChunkShape: outerChunkShape,
		innerChunkShape: innerChunkShape,
		dtype:           dt,
		fillValue:       fillValue,
		order:           "C",
		chunkKeyEnc:     ChunkKeyEncoding{Separator: sep, V3Default: v3Default},
		dims:            dims,
		attrs:           attrs,
		codecChain:      codecChain,
		sharded:         sharded,
		bs:              bs,
		cache:           newChunkCache(),
		logger:          store.ctx.logger,
	}
	return a, nil
}

// createArrayV3 bootstraps a new Zarr v3 array: writes zarr.json and
// returns the live handle (spec §4.8 create_array). Sharding is declared
// by spec.Codecs already ending in a *ShardingCodec, as supplied by the
// caller of Group.CreateArray, which passes the codecs through unchanged.
func createArrayV3(ctx context.Context, store *Store, group *Group, name, nodePath string, bs *ByteStore, spec ArraySpec) (*Array, error) {
	sharded := false
	if _, ok := lastShardingCodec(CodecChain{Codecs: spec.Codecs}); ok {
		sharded = true
	}
	if !sharded && !shapeEqual(spec.InnerChunkShape, spec.OuterChunkShape) {
		return nil, fmt.Errorf("%w: inner chunk shape requires a sharding_indexed codec", ErrInvalidArgument)
	}
	if err := checkChunkByteSize(chunkByteSize(spec.InnerChunkShape, spec.DType)); err != nil {
		return nil, err
	}

	sep := spec.DimSeparator
	if sep == "" {
		sep = "/"
	}

	dims := implicitDimensions(spec.Shape)
	for i, n := range spec.DimensionNames {
		if i < len(dims) && n != "" {
			dims[i] = NewDimension(n, spec.Shape[i], "", "")
		}
	}

	a := &Array{
		store:           store,
		group:           group,
		name:            name,
		path:            nodePath,
		version:         3,
		shape:           append([]uint64(nil), spec.Shape...),
		outerChunkShape: append([]uint64(nil), spec.OuterChunkShape...),
		innerChunkShape: append([]uint64(nil), spec.InnerChunkShape...),
		dtype:           spec.DType,
		fillValue:       spec.FillValue,
		order:           "C",
		chunkKeyEnc:     ChunkKeyEncoding{Separator: sep, V3Default: true},
		dims:            dims,
		attrs:           NewAttributeBag(),
		codecChain:      CodecChain{Codecs: spec.Codecs},
		sharded:         sharded,
		bs:              bs,
		cache:           newChunkCache(),
		logger:          store.ctx.logger,
	}

	if err := a.writeZarrJSONV3(ctx); err != nil {
		return nil, err
	}
	store.ctx.markConsolidatedDirty()
	return a, nil
}

// writeZarrJSONV3 serializes and writes this array's current zarr.json
// document, built afresh from the array's in-memory state; the existing
// file is not read first. v3 keeps attributes and structural metadata in
// a single file (spec §4.8, §6.1).
func (a *Array) writeZarrJSONV3(ctx context.Context) error {
	doc, err := a.buildZarrJSONV3Doc()
	if err != nil {
		return err
	}
	if err := a.bs.WriteAtomic(ctx, "zarr.json", doc); err != nil {
		return err
	}
	a.store.ctx.markConsolidatedDirty()
	return nil
}

func (a *Array) buildZarrJSONV3Doc() (json.RawMessage, error) {
	dtStr, err := a.dtype.V3String()
	if err != nil {
		return nil, err
	}

	var fillJSON json.RawMessage
	if a.fillValue != nil {
		v, err := decodeFillValueJSON(a.fillValue, a.dtype)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		fillJSON = data
	} else {
		fillJSON = json.RawMessage("null")
	}

	attrsJSON, err := a.attrs.MarshalJSON()
	if err != nil {
		return nil, err
	}

	codecs, err := serializeCodecsV3(a.codecChain.Codecs)
	if err != nil {
		return nil, err
	}

	var dimNames []*string
	for _, d := range a.dims {
		n := d.Name()
		dimNames = append(dimNames, &n)
	}

	doc := zarrJSONV3{
		ZarrFormat: 3,
		NodeType:   "array",
		Attributes: attrsJSON,
		Shape:      a.shape,
		DataType:   dtStr,
		ChunkGrid: &chunkGridV3{
			Name:          "regular",
			Configuration: chunkGridConfigV3{ChunkShape: a.outerChunkShape},
		},
		ChunkKeyEncoding: &chunkKeyEncodingV3{
			Name:          chunkKeyEncodingNameV3(a.chunkKeyEnc),
			Configuration: chunkKeyEncodingConfigV3{Separator: a.chunkKeyEnc.Separator},
		},
		FillValue:      fillJSON,
		Codecs:         codecs,
		DimensionNames: dimNames,
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return data, nil
}

// serializeCodecsV3 is the reverse of buildCodecChainV3/buildCodecV3: it
// reconstructs the zarr.json "codecs" array from the live CodecChain,
// including a nested sharding_indexed configuration when the chain ends
// in a *ShardingCodec.
func serializeCodecsV3(codecs []Codec) ([]codecConfigV3, error) {
	out := make([]codecConfigV3, 0, len(codecs))
	for _, c := range codecs {
		entry, err := serializeCodecV3(c)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func serializeCodecV3(c Codec) (codecConfigV3, error) {
	switch v := c.(type) {
	case *BytesCodec:
		endian := "little"
		if v.BigEndian {
			endian = "big"
		}
		return codecConfigJSON("bytes", struct {
			Endian string `json:"endian"`
		}{endian})
	case *TransposeCodec:
		perm := v.Permutation
		if perm == nil {
			perm = identityPermutation(v.ElementSize)
		}
		return codecConfigJSON("transpose", struct {
			Order []int `json:"order"`
		}{perm})
	case *ShuffleCodec:
		return codecConfigJSON("shuffle", struct {
			ElementSize int `json:"elementsize"`
		}{v.ElementSize})
	case *GZipCodec:
		return codecConfigJSON("gzip", struct {
			Level int `json:"level"`
		}{v.Level})
	case *ZstdCodec:
		return codecConfigJSON("zstd", struct {
			Level int `json:"level"`
		}{v.Level})
	case *BloscCodec:
		return codecConfigJSON("blosc", struct {
			CName     string `json:"cname"`
			CLevel    int    `json:"clevel"`
			Shuffle   int    `json:"shuffle"`
			TypeSize  int    `json:"typesize"`
			BlockSize int    `json:"blocksize"`
		}{v.CName, v.CLevel, v.Shuffle, v.TypeSize, v.BlockSize})
	case *TIFFCodec:
		return codecConfigV3{Name: "tiff"}, nil
	case *ShardingCodec:
		innerCodecs, err := serializeCodecsV3(v.InnerCodecs.Codecs)
		if err != nil {
			return codecConfigV3{}, err
		}
		indexCodecs, err := serializeCodecsV3(v.IndexCodecs.Codecs)
		if err != nil {
			return codecConfigV3{}, err
		}
		return codecConfigJSON("sharding_indexed", struct {
			ChunkShape    []uint64        `json:"chunk_shape"`
			Codecs        []codecConfigV3 `json:"codecs"`
			IndexCodecs   []codecConfigV3 `json:"index_codecs"`
			IndexLocation string          `json:"index_location"`
		}{v.InnerChunkShape, innerCodecs, indexCodecs, v.IndexLocation})
	default:
		return codecConfigV3{}, fmt.Errorf("%w: cannot serialize codec %q to v3", ErrUnsupported, c.Name())
	}
}

func codecConfigJSON(name string, cfg any) (codecConfigV3, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return codecConfigV3{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return codecConfigV3{Name: name, Configuration: data}, nil
}

func chunkKeyEncodingNameV3(e ChunkKeyEncoding) string {
	if e.V3Default {
		return "default"
	}
	return "v2"
}

func identityPermutation(n int) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	return perm
}

// lastShardingCodecConfig inspects a still-raw v3 codecs array for a
// trailing sharding_indexed entry, returning its inner chunk_shape before
// the chain is even built (openArrayV3 needs the inner shape to build the
// chain itself).
func lastShardingCodecConfig(entries []codecConfigV3) (*struct {
	ChunkShape []uint64 `json:"chunk_shape"`
}, bool) {
	if len(entries) == 0 {
		return nil, false
	}
	last := entries[len(entries)-1]
	if last.Name != "sharding_indexed" {
		return nil, false
	}
	var cfg struct {
		ChunkShape []uint64 `json:"chunk_shape"`
	}
	if err := json.Unmarshal(last.Configuration, &cfg); err != nil {
		return nil, false
	}
	return &cfg, true
}

// dimensionsFromNamesV3 builds the dimension set from zarr.json's
// optional dimension_names array, falling back to implicit dimN naming
// per-axis for any null entry (spec §6.1: "dimension_names may contain
// null for unnamed axes").
func dimensionsFromNamesV3(shape []uint64, names []*string) []*Dimension {
	dims := make([]*Dimension, len(shape))
	for i, size := range shape {
		if i < len(names) && names[i] != nil && *names[i] != "" {
			dims[i] = NewDimension(*names[i], size, "", "")
			continue
		}
		dims[i] = NewDimension(fmt.Sprintf("dim%d", i), size, "", "")
	}
	return dims
}
