package zarr

import (
	"context"
	"fmt"
)

// Write copies a strided n-D window from in into the array (spec §4.5
// write). Chunks fully covered by the window are initialized in place
// without a preceding load; partially covered chunks are read-modify-
// write. Writes accumulate in the chunk cache's single dirty slot and
// are flushed lazily as later writes touch other chunks (spec §4.4); a
// sharded array's inner chunks instead flush synchronously through
// ShardingCodec.RewriteShard, since the one-dirty-slot model doesn't fit
// a shard's own read-modify-write discipline (documented deviation from
// the non-sharded deferral, not a spec requirement).
func (a *Array) Write(ctx context.Context, origin []int64, count []uint64, step []int64, bufDType DType, bufStride []int64, in []byte) error {
	if a.readOnly {
		return fmt.Errorf("%w: array %q is read-only", ErrReadOnly, a.path)
	}
	if err := a.validateWindow(origin, count, step); err != nil {
		return err
	}
	posOrigin, posStep, flipped := normalizePositiveStep(origin, count, step)

	inElemSize := bufDType.ElementSize()
	sameDType := bufDType.Kind == a.dtype.Kind && bufDType.Size == a.dtype.Size

	rank := a.Rank()
	if rank == 0 {
		return a.writeScalar(ctx, bufDType, in, sameDType)
	}

	innerChunk := a.innerChunkShape
	minChunk := make([]uint64, rank)
	maxChunk := make([]uint64, rank)
	for i := 0; i < rank; i++ {
		last := posOrigin[i] + int64(count[i]-1)*posStep[i]
		minChunk[i] = uint64(posOrigin[i]) / innerChunk[i]
		maxChunk[i] = uint64(last) / innerChunk[i]
	}

	var walk func(dim int, coord []uint64) error
	walk = func(dim int, coord []uint64) error {
		if dim == rank {
			return a.writeOneChunk(ctx, coord, posOrigin, count, posStep, flipped, bufDType, bufStride, in, sameDType, inElemSize)
		}
		for c := minChunk[dim]; c <= maxChunk[dim]; c++ {
			coord[dim] = c
			if err := walk(dim+1, coord); err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrInterrupted, err)
			}
		}
		return nil
	}
	return walk(0, make([]uint64, rank))
}

func (a *Array) writeScalar(ctx context.Context, bufDType DType, in []byte, sameDType bool) error {
	elemSize := a.dtype.ElementSize()
	buf := make([]byte, elemSize)
	if sameDType {
		copy(buf, in[:elemSize])
	} else {
		if err := convertElement(in[:bufDType.ElementSize()], bufDType, buf, a.dtype); err != nil {
			return err
		}
	}
	return a.flushChunk(ctx, nil, buf)
}

// chunkFullyCovered reports whether every in-shape sample of the chunk at
// innerCoord is included in the window (step==1 on every axis and the
// window's extent brackets the chunk's clipped extent), letting Write
// skip the load-before-write fast path (spec §4.5).
func (a *Array) chunkFullyCovered(innerCoord []uint64, origin []int64, count []uint64, step []int64) bool {
	rank := a.Rank()
	shape := a.Shape()
	for i := 0; i < rank; i++ {
		if step[i] != 1 {
			return false
		}
		chunkStart := int64(innerCoord[i] * a.innerChunkShape[i])
		chunkEnd := chunkStart + int64(a.innerChunkShape[i])
		if uint64(chunkEnd) > shape[i] {
			chunkEnd = int64(shape[i])
		}
		winEnd := origin[i] + int64(count[i])
		if origin[i] > chunkStart || winEnd < chunkEnd {
			return false
		}
	}
	return true
}

func (a *Array) writeOneChunk(ctx context.Context, innerCoord []uint64, origin []int64, count []uint64, step []int64, flipped []bool, bufDType DType, bufStride []int64, in []byte, sameDType bool, inElemSize int) error {
	rank := a.Rank()
	elemSize := a.dtype.ElementSize()

	var buf []byte
	if a.chunkFullyCovered(innerCoord, origin, count, step) {
		buf = make([]byte, a.innerChunkByteSize())
	} else {
		existing, empty, err := a.loadChunk(ctx, innerCoord)
		if err != nil {
			return err
		}
		buf = make([]byte, a.innerChunkByteSize())
		if !empty {
			copy(buf, existing)
		} else {
			fillChunkBuffer(buf, elemSize, a.fillValue, a.dtype)
		}
	}

	chunkStart := make([]int64, rank)
	chunkEnd := make([]int64, rank)
	shape := a.Shape()
	for i := 0; i < rank; i++ {
		chunkStart[i] = int64(innerCoord[i] * a.innerChunkShape[i])
		end := chunkStart[i] + int64(a.innerChunkShape[i])
		if uint64(end) > shape[i] {
			end = int64(shape[i])
		}
		chunkEnd[i] = end
	}
	chunkStrides := rowMajorStrides(a.innerChunkShape)

	idx := make([]int64, rank)
	var iterate func(dim int)
	var iterErr error
	iterate = func(dim int) {
		if iterErr != nil {
			return
		}
		if dim == rank {
			dstElemIdx := uint64(0)
			srcIdx := make([]int64, rank)
			for i := 0; i < rank; i++ {
				delta := idx[i] - origin[i]
				if delta%step[i] != 0 {
					return
				}
				n := delta / step[i]
				if n < 0 || uint64(n) >= count[i] {
					return
				}
				if flipped[i] {
					srcIdx[i] = int64(count[i]) - 1 - n
				} else {
					srcIdx[i] = n
				}
				localCoord := uint64(idx[i] - chunkStart[i])
				dstElemIdx += localCoord * chunkStrides[i]
			}

			srcByteOff := int64(0)
			for i := 0; i < rank; i++ {
				srcByteOff += srcIdx[i] * bufStride[i]
			}
			srcByteOff *= int64(inElemSize)

			dstByteOff := int64(dstElemIdx) * int64(elemSize)
			dstBytes := buf[dstByteOff : dstByteOff+int64(elemSize)]
			if sameDType {
				copy(dstBytes, in[srcByteOff:srcByteOff+int64(inElemSize)])
			} else {
				if err := convertElement(in[srcByteOff:srcByteOff+int64(inElemSize)], bufDType, dstBytes, a.dtype); err != nil {
					iterErr = err
				}
			}
			return
		}

		first := origin[dim]
		if first < chunkStart[dim] {
			delta := chunkStart[dim] - origin[dim]
			rem := delta % step[dim]
			if rem != 0 {
				first = origin[dim] + delta + (step[dim] - rem)
			} else {
				first = origin[dim] + delta
			}
		}
		for v := first; v < chunkEnd[dim] && v <= origin[dim]+int64(count[dim]-1)*step[dim]; v += step[dim] {
			idx[dim] = v
			iterate(dim + 1)
			if iterErr != nil {
				return
			}
		}
	}
	iterate(0)
	if iterErr != nil {
		return iterErr
	}

	return a.stageOrFlushChunk(ctx, innerCoord, buf)
}

// fillChunkBuffer fills every element slot of buf with the array's
// fill_value (spec §4.5 write: "missing chunks are initialized to fill
// before the partial overwrite").
func fillChunkBuffer(buf []byte, elemSize int, fv FillValue, dt DType) {
	if fv == nil {
		return
	}
	for off := 0; off+elemSize <= len(buf); off += elemSize {
		writeFillElement(buf[off:off+elemSize], fv, dt, dt)
	}
}

// stageOrFlushChunk installs buf as the array's current dirty chunk,
// flushing any previously dirty chunk that targeted a different
// coordinate first (spec §4.4), except on sharded arrays where every
// write flushes immediately through the shard rewrite path.
func (a *Array) stageOrFlushChunk(ctx context.Context, innerCoord []uint64, buf []byte) error {
	if a.sharded {
		return a.flushChunk(ctx, innerCoord, buf)
	}
	flushCoord, flushBuf, needFlush := a.cache.setCurrent(innerCoord, buf, false, true)
	if needFlush {
		if err := a.flushChunk(ctx, flushCoord, flushBuf); err != nil {
			return err
		}
	}
	a.mu.Lock()
	a.modified = true
	a.mu.Unlock()
	return nil
}

// Flush writes back the current dirty chunk, if any (spec §4.3
// flush_dirty). Safe to call with nothing dirty.
func (a *Array) Flush(ctx context.Context) error {
	coord, buf, ok := a.cache.takeDirty()
	if !ok {
		return nil
	}
	return a.flushChunk(ctx, coord, buf)
}

// Resize grows the array's shape (spec §4.5 resize): shrinking is
// rejected. The array's own Dimension objects are resized to match;
// other arrays that share those dimensions keep their shape, so resizing
// them consistently is left to the caller.
func (a *Array) Resize(ctx context.Context, newShape []uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(newShape) != len(a.shape) {
		return fmt.Errorf("%w: resize rank mismatch", ErrInvalidArgument)
	}
	for i, s := range newShape {
		if s < a.shape[i] {
			return fmt.Errorf("%w: resize: new size %d < current size %d at dimension %d", ErrUnsupported, s, a.shape[i], i)
		}
	}
	a.shape = append([]uint64(nil), newShape...)
	for i, d := range a.dims {
		if d != nil && d.Size() != newShape[i] {
			d.resize(newShape[i])
		}
	}
	a.modified = true
	return nil
}

// RawChunkInfo reports the storage location of one outer chunk (spec
// §4.5 raw_chunk_info). For sharded arrays it returns ErrUnsupported;
// RawInnerChunkInfo reports an inner chunk's offset/length within its
// shard instead.
func (a *Array) RawChunkInfo(ctx context.Context, outerCoord []uint64) (RawChunkInfo, error) {
	blobPath := a.chunkBlobPath(outerCoord)
	if !a.sharded {
		size, err := a.bs.Size(ctx, blobPath)
		if err != nil {
			if isNotFoundErr(err) {
				return RawChunkInfo{InlineBytes: a.fillValue}, nil
			}
			return RawChunkInfo{}, err
		}
		return RawChunkInfo{Filename: blobPath, Offset: 0, Length: size}, nil
	}

	return RawChunkInfo{}, fmt.Errorf("%w: RawChunkInfo for a sharded array's outer coordinate needs an inner-chunk index too; use RawInnerChunkInfo", ErrUnsupported)
}

// RawInnerChunkInfo reports a sharded array's inner chunk location within
// its enclosing shard blob (spec §4.5: "for sharded arrays, the
// offset/length are read from the shard index and the filename is the
// shard blob").
func (a *Array) RawInnerChunkInfo(ctx context.Context, innerCoord []uint64) (RawChunkInfo, error) {
	if !a.sharded {
		return a.RawChunkInfo(ctx, innerCoord)
	}
	sc, ok := lastShardingCodec(a.codecChain)
	if !ok {
		return RawChunkInfo{}, fmt.Errorf("%w: sharded array missing sharding codec", ErrFormat)
	}
	outerCoord, innerIndex := a.outerCoordForInner(innerCoord)
	blobPath := a.chunkBlobPath(outerCoord)
	n := sc.innerCount(a.outerChunkShape)

	shardBytes, err := a.bs.Read(ctx, blobPath)
	if err != nil {
		if isNotFoundErr(err) {
			return RawChunkInfo{InlineBytes: a.fillValue}, nil
		}
		return RawChunkInfo{}, err
	}
	idx, payloadStart, err := sc.readIndex(shardBytes, n)
	if err != nil {
		return RawChunkInfo{}, err
	}
	if !idx.present(innerIndex) {
		return RawChunkInfo{InlineBytes: a.fillValue}, nil
	}
	return RawChunkInfo{
		Filename: blobPath,
		Offset:   int64(payloadStart + idx.offsets[innerIndex]),
		Length:   int64(idx.lengths[innerIndex]),
	}, nil
}

func lastShardingCodec(chain CodecChain) (*ShardingCodec, bool) {
	if len(chain.Codecs) == 0 {
		return nil, false
	}
	sc, ok := chain.Codecs[len(chain.Codecs)-1].(*ShardingCodec)
	return sc, ok
}

func isNotFoundErr(err error) bool { return isNotFound(err) }
