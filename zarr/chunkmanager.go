package zarr

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// loadGroup dedupes concurrent loads of the same chunk coordinate across
// goroutines (spec §4.7: prefetch workers and the foreground reader can
// race on the same chunk; singleflight.Group collapses that into one
// byte-store round trip and codec decode).
var loadGroup singleflight.Group

// loadChunk implements spec §4.3 load_chunk for one inner-chunk
// coordinate: cache lookup, then tile-presence short-circuit, then byte
// store + codec chain (partial-decode when sharded).
func (a *Array) loadChunk(ctx context.Context, innerCoord []uint64) ([]byte, bool, error) {
	if buf, empty, hit := a.cache.lookup(innerCoord); hit {
		return buf, empty, nil
	}

	if a.tilePresence != nil {
		if err := a.ensureTilePresence(ctx); err != nil {
			return nil, false, err
		}
		if present, known := a.tilePresence.lookup(innerCoord); known && !present {
			return nil, true, nil
		}
	}

	key := a.path + "#" + coordKey(innerCoord)
	v, err, _ := loadGroup.Do(key, func() (any, error) {
		buf, empty, err := a.loadChunkUncached(ctx, innerCoord)
		if err != nil {
			return nil, err
		}
		return &loadResult{buf: buf, empty: empty}, nil
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(*loadResult)

	if !a.sharded {
		if flushCoord, flushBuf, needFlush := a.cache.setCurrent(innerCoord, res.buf, res.empty, false); needFlush {
			if err := a.flushChunk(ctx, flushCoord, flushBuf); err != nil {
				return nil, false, err
			}
		}
	}
	return res.buf, res.empty, nil
}

type loadResult struct {
	buf   []byte
	empty bool
}

func (a *Array) loadChunkUncached(ctx context.Context, innerCoord []uint64) ([]byte, bool, error) {
	if !a.sharded {
		blobPath := a.chunkBlobPath(innerCoord)
		raw, err := a.bs.Read(ctx, blobPath)
		if err != nil {
			if isNotFound(err) {
				return nil, true, nil
			}
			return nil, false, err
		}
		meta := ArrayMeta{ChunkShape: a.innerChunkShape, DType: a.dtype}
		decoded, err := a.codecChain.Decode(raw, meta)
		if err != nil {
			return nil, false, err
		}
		return decoded, false, nil
	}

	sc, ok := lastShardingCodec(a.codecChain)
	if !ok {
		return nil, false, fmt.Errorf("%w: sharded array missing sharding codec", ErrFormat)
	}
	outerCoord, innerIndex := a.outerCoordForInner(innerCoord)
	blobPath := a.chunkBlobPath(outerCoord)
	outerMeta := ArrayMeta{ChunkShape: a.outerChunkShape, DType: a.dtype}

	if a.codecChain.SupportsPartialDecode() {
		data, empty, err := sc.DecodePartial(ctx, a.bs, blobPath, innerIndex, outerMeta)
		if err != nil {
			if isNotFound(err) {
				return nil, true, nil
			}
			return nil, false, err
		}
		if empty {
			return nil, true, nil
		}
		return a.applyNonLastCodecs(data)
	}

	raw, err := a.bs.Read(ctx, blobPath)
	if err != nil {
		if isNotFound(err) {
			return nil, true, nil
		}
		return nil, false, err
	}
	decoded, err := a.codecChain.Decode(raw, outerMeta)
	if err != nil {
		return nil, false, err
	}
	block, _ := gatherInnerBlock(decoded, a.outerChunkShape, rowMajorStrides(a.outerChunkShape), a.innerChunkShape, unravelIndex(innerIndex, sc.innerGridShape(a.outerChunkShape)), a.dtype.ElementSize())
	return block, false, nil
}

// applyNonLastCodecs runs any bytes->bytes codecs that sit *outside* the
// sharding stage (the sharding codec is always last in the chain per
// metadata_v3's construction, so none currently exist in practice, but
// the hook is here so a future outer codec composes correctly).
func (a *Array) applyNonLastCodecs(data []byte) ([]byte, bool, error) {
	return data, false, nil
}

// flushChunk implements spec §4.3 flush_dirty for one chunk: delete the
// blob if the buffer equals fill_value, otherwise encode and write.
func (a *Array) flushChunk(ctx context.Context, innerCoord []uint64, buf []byte) error {
	if fillEqual(buf, a.fillValue, a.dtype.ElementSize()) {
		if !a.sharded {
			blobPath := a.chunkBlobPath(innerCoord)
			return a.bs.Unlink(ctx, blobPath)
		}
		return a.flushShardedChunk(ctx, innerCoord, buf)
	}

	if !a.sharded {
		meta := ArrayMeta{ChunkShape: a.innerChunkShape, DType: a.dtype}
		encoded, err := a.codecChain.Encode(buf, meta)
		if err != nil {
			return err
		}
		blobPath := a.chunkBlobPath(innerCoord)
		return a.bs.WriteAtomic(ctx, blobPath, encoded)
	}
	return a.flushShardedChunk(ctx, innerCoord, buf)
}

// flushShardedChunk resolves the Open Question on sharded writes (spec
// §9): rather than rejecting the write or re-sharding, it performs the
// shard's own synchronous read-modify-write via RewriteShard.
func (a *Array) flushShardedChunk(ctx context.Context, innerCoord []uint64, buf []byte) error {
	sc, ok := lastShardingCodec(a.codecChain)
	if !ok {
		return fmt.Errorf("%w: sharded array missing sharding codec", ErrFormat)
	}
	outerCoord, innerIndex := a.outerCoordForInner(innerCoord)
	blobPath := a.chunkBlobPath(outerCoord)
	outerMeta := ArrayMeta{ChunkShape: a.outerChunkShape, DType: a.dtype}
	return sc.RewriteShard(ctx, a.bs, blobPath, innerIndex, buf, outerMeta, a.fillValue)
}

// fillEqual reports whether buf is entirely fill_value (or zero, when no
// fill_value is declared), per spec §4.3 flush_dirty step 1.
func fillEqual(buf []byte, fv FillValue, elemSize int) bool {
	if fv == nil || fv.IsZero() {
		return isZeroFilled(buf)
	}
	if len(fv) != elemSize {
		return false
	}
	for off := 0; off+elemSize <= len(buf); off += elemSize {
		for i := 0; i < elemSize; i++ {
			if buf[off+i] != fv[i] {
				return false
			}
		}
	}
	return true
}
