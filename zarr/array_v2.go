package zarr

import (
	"context"
	"encoding/json"
	"fmt"
)

// openArrayV2 opens an existing Zarr v2 array from its .zarray/.zattrs
// pair (spec §4.8 open_array, §6.1).
func openArrayV2(ctx context.Context, store *Store, group *Group, name, nodePath string, bs *ByteStore) (*Array, error) {
	done, err := store.ctx.beginLoad(nodePath)
	if err != nil {
		return nil, err
	}
	defer done()

	raw, err := bs.Read(ctx, ".zarray")
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: array %q not found", ErrNotFound, nodePath)
		}
		return nil, err
	}
	meta, err := loadZarrayV2(raw)
	if err != nil {
		return nil, err
	}

	var rawDType any
	if err := json.Unmarshal(meta.DType, &rawDType); err != nil {
		return nil, fmt.Errorf("%w: .zarray dtype: %v", ErrFormat, err)
	}
	dt, err := ParseDTypeV2(rawDType)
	if err != nil {
		return nil, err
	}

	order := meta.Order
	if order == "" {
		order = "C"
	}

	codecChain, err := buildCodecChainV2(meta, dt, order)
	if err != nil {
		return nil, err
	}

	var rawFill any
	if len(meta.FillValue) > 0 {
		if err := json.Unmarshal(meta.FillValue, &rawFill); err != nil {
			return nil, fmt.Errorf("%w: .zarray fill_value: %v", ErrFormat, err)
		}
	}
	fillValue, err := ParseFillValueV2(rawFill, dt)
	if err != nil {
		return nil, err
	}

	sep := meta.Separator
	if sep == "" {
		sep = "."
	}

	attrs, err := loadAttrsV2(ctx, bs)
	if err != nil {
		return nil, err
	}

	a := &Array{
		store:           store,
		group:           group,
		name:            name,
		path:            nodePath,
		version:         2,
		shape:           meta.Shape,
		outerChunkShape: meta.Chunks,
		innerChunkShape: meta.Chunks,
		dtype:           dt,
		fillValue:       fillValue,
		order:           order,
		chunkKeyEnc:     ChunkKeyEncoding{Separator: sep},
		dims:            implicitDimensions(meta.Shape),
		attrs:           attrs,
		codecChain:      codecChain,
		sharded:         false,
		bs:              bs,
		cache:           newChunkCache(),
		logger:          store.ctx.logger,
	}
	return a, nil
}

// createArrayV2 bootstraps a new Zarr v2 array: writes .zarray/.zattrs
// and returns the live handle (spec §4.8 create_array). v2 has no
// sharding codec, so spec.InnerChunkShape must equal spec.OuterChunkShape.
func createArrayV2(ctx context.Context, store *Store, group *Group, name, nodePath string, bs *ByteStore, spec ArraySpec) (*Array, error) {
	if !shapeEqual(spec.InnerChunkShape, spec.OuterChunkShape) {
		return nil, fmt.Errorf("%w: zarr v2 arrays do not support sharding (inner/outer chunk shape must match)", ErrUnsupported)
	}
	if err := checkChunkByteSize(chunkByteSize(spec.OuterChunkShape, spec.DType)); err != nil {
		return nil, err
	}

	order := spec.Order
	if order == "" {
		order = "C"
	}
	sep := spec.DimSeparator
	if sep == "" {
		sep = "."
	}

	a := &Array{
		store:           store,
		group:           group,
		name:            name,
		path:            nodePath,
		version:         2,
		shape:           append([]uint64(nil), spec.Shape...),
		outerChunkShape: append([]uint64(nil), spec.OuterChunkShape...),
		innerChunkShape: append([]uint64(nil), spec.OuterChunkShape...),
		dtype:           spec.DType,
		fillValue:       spec.FillValue,
		order:           order,
		chunkKeyEnc:     ChunkKeyEncoding{Separator: sep},
		dims:            implicitDimensions(spec.Shape),
		attrs:           NewAttributeBag(),
		codecChain:      CodecChain{Codecs: spec.Codecs},
		sharded:         false,
		bs:              bs,
		cache:           newChunkCache(),
		logger:          store.ctx.logger,
	}

	if err := a.writeZarrayV2(ctx); err != nil {
		return nil, err
	}
	if err := writeAttrsV2(ctx, bs, a.attrs); err != nil {
		return nil, err
	}
	store.ctx.markConsolidatedDirty()
	return a, nil
}

// writeZarrayV2 serializes and writes this array's current .zarray
// document (spec §4.8: create_array and resize both end by rewriting the
// definition document).
func (a *Array) writeZarrayV2(ctx context.Context) error {
	doc, err := a.buildZarrayV2Doc()
	if err != nil {
		return err
	}
	if err := a.bs.WriteAtomic(ctx, ".zarray", doc); err != nil {
		return err
	}
	a.store.ctx.markConsolidatedDirty()
	return nil
}

func (a *Array) buildZarrayV2Doc() (json.RawMessage, error) {
	dtStr, err := a.dtype.V2String()
	if err != nil {
		return nil, err
	}
	dtJSON, err := json.Marshal(dtStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
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

	compressor, filters := serializeCodecsV2(a.codecChain.Codecs)

	meta := zarrayV2{
		ZarrFormat: 2,
		Shape:      a.shape,
		Chunks:     a.outerChunkShape,
		DType:      dtJSON,
		Compressor: compressor,
		Filters:    filters,
		FillValue:  fillJSON,
		Order:      a.order,
		Separator:  a.chunkKeyEnc.Separator,
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return data, nil
}

// serializeCodecsV2 is the reverse of buildCodecChainV2/buildFilterV2/
// buildCompressorV2: it reconstructs the .zarray "filters"/"compressor"
// members from the live CodecChain. TransposeCodec and BytesCodec are
// skipped here since they are re-derived from "order" and the dtype's own
// endian marker on load, not persisted as separate filter entries.
func serializeCodecsV2(codecs []Codec) (*compressorConfig, []filterConfig) {
	var filters []filterConfig
	var compressor *compressorConfig
	for _, c := range codecs {
		switch v := c.(type) {
		case *ShuffleCodec:
			filters = append(filters, filterConfig{ID: "shuffle", ElementSize: v.ElementSize})
		case *DeltaCodec:
			filters = append(filters, filterConfig{ID: "delta"})
		case *QuantizeCodec:
			filters = append(filters, filterConfig{ID: "quantize"})
		case *FixedScaleOffsetCodec:
			filters = append(filters, filterConfig{ID: "fixedscaleoffset", Scale: v.Scale, Offset: v.Offset})
		case *BloscCodec:
			compressor = &compressorConfig{ID: "blosc", CName: v.CName, CLevel: v.CLevel, Shuffle: v.Shuffle, BlockSize: v.BlockSize}
		case *GZipCodec:
			compressor = &compressorConfig{ID: "gzip", Level: v.Level}
		case *ZstdCodec:
			compressor = &compressorConfig{ID: "zstd", Level: v.Level}
		}
	}
	return compressor, filters
}

// implicitDimensions builds the default dimN dimension set for a newly
// created or opened array that carries no XArray _ARRAY_DIMENSIONS
// attribute (spec §3.1 Dimension: "auto-named dimN").
func implicitDimensions(shape []uint64) []*Dimension {
	dims := make([]*Dimension, len(shape))
	for i, size := range shape {
		dims[i] = NewDimension(fmt.Sprintf("dim%d", i), size, "", "")
	}
	return dims
}

func shapeEqual(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func chunkByteSize(chunkShape []uint64, dt DType) uint64 {
	n := uint64(1)
	for _, s := range chunkShape {
		n *= s
	}
	return n * uint64(dt.ElementSize())
}
