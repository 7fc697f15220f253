package zarr

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
)

// RawChunkInfo describes where one outer chunk's bytes live on disk (spec
// §4.5 raw_chunk_info), used by callers that want direct chunk access
// rather than going through Read/Write.
type RawChunkInfo struct {
	Filename string
	Offset   int64
	Length   int64
	// InlineBytes is set instead of Filename/Offset/Length when the chunk
	// equals fill_value and has no backing blob.
	InlineBytes []byte
}

// Array is the engine's array handle (spec §3.1 Array). A single type
// carries both v2 and v3 state, tagged by Version, per the redesign note
// in spec §9 ("tagged variant ArrayKind rather than an inheritance
// hierarchy") — generalizing the teacher's version-specific Dataset/
// Reader split into one type with version-dependent metadata I/O
// delegated to metadata_v2.go/metadata_v3.go.
type Array struct {
	mu sync.Mutex

	store *Store
	group *Group
	name  string
	path  string // full path from store root, e.g. "/foo/bar"

	version int // 2 or 3

	shape           []uint64
	outerChunkShape []uint64
	innerChunkShape []uint64
	dtype           DType
	fillValue       FillValue
	order           string // "C" or "F", v2 only (v3 encodes via transpose codec)
	chunkKeyEnc     ChunkKeyEncoding

	dims []*Dimension

	attrs   *AttributeBag
	special SpecialAttributes

	codecChain CodecChain
	sharded    bool

	bs    *ByteStore // rooted at this array's own directory
	cache *chunkCache

	readOnly bool
	modified bool // definition needs re-serialization (spec §4.8 state machine)
	deleted  bool

	tilePresence *tilePresenceCache

	logger *Logger
}

// Shape returns the array's current declared shape.
func (a *Array) Shape() []uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uint64(nil), a.shape...)
}

func (a *Array) Rank() int { return len(a.shape) }

func (a *Array) DType() DType { return a.dtype }

func (a *Array) Name() string { return a.name }

func (a *Array) Path() string { return a.path }

func (a *Array) FillValue() FillValue { return a.fillValue }

func (a *Array) Attributes() *AttributeBag { return a.attrs }

func (a *Array) Dimensions() []*Dimension {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*Dimension(nil), a.dims...)
}

// persistMetadataIfModified rewrites this array's on-disk definition
// document when its shape/attributes have changed since the last flush
// (spec §4.8 state machine: create_array/resize mark an array modified
// until its metadata is rewritten).
func (a *Array) persistMetadataIfModified(ctx context.Context) error {
	a.mu.Lock()
	modified := a.modified
	a.modified = false
	a.mu.Unlock()
	if !modified && !a.attrs.IsModified() {
		return nil
	}
	var err error
	if a.version == 2 {
		err = a.writeZarrayV2(ctx)
	} else {
		err = a.writeZarrJSONV3(ctx)
	}
	if err != nil {
		a.mu.Lock()
		a.modified = true
		a.mu.Unlock()
		return err
	}
	a.attrs.UnsetModified()
	return nil
}

// metadataDoc renders this array's current on-disk definition document
// (.zarray for v2, zarr.json for v3) for consolidated-metadata rewriting
// (SPEC_FULL.md §C), without touching the modified flag.
func (a *Array) metadataDoc() (json.RawMessage, error) {
	if a.version == 2 {
		return a.buildZarrayV2Doc()
	}
	return a.buildZarrJSONV3Doc()
}

func (a *Array) innerChunkByteSize() uint64 {
	n := uint64(1)
	for _, s := range a.innerChunkShape {
		n *= s
	}
	return n * uint64(a.dtype.ElementSize())
}

// outerGridShape returns the chunk grid over outer chunks.
func (a *Array) outerGridShape() []uint64 {
	return GridShape(a.shape, a.outerChunkShape)
}

// innerGridShape returns the full chunk grid over inner chunks (equal to
// the outer grid when the array is not sharded, or outer-grid ×
// inner-per-outer when it is).
func (a *Array) innerGridShape() []uint64 {
	if !a.sharded {
		return a.outerGridShape()
	}
	grid := make([]uint64, len(a.shape))
	for i := range a.shape {
		grid[i] = ceilDivU64(a.shape[i], a.innerChunkShape[i])
	}
	return grid
}

// outerCoordForInner maps an inner-chunk coordinate to its enclosing
// outer (shard) coordinate and the inner chunk's linear index within
// that shard (spec §4.3 step 1: "for sharded arrays, compute outer coord
// from inner coord").
func (a *Array) outerCoordForInner(innerCoord []uint64) (outerCoord []uint64, innerIndex int) {
	rank := len(innerCoord)
	outerCoord = make([]uint64, rank)
	innerPerOuter := make([]uint64, rank)
	localIdx := make([]uint64, rank)
	for i := 0; i < rank; i++ {
		innerPerOuter[i] = a.outerChunkShape[i] / a.innerChunkShape[i]
		outerCoord[i] = innerCoord[i] / innerPerOuter[i]
		localIdx[i] = innerCoord[i] % innerPerOuter[i]
	}
	strides := rowMajorStrides(innerPerOuter)
	idx := uint64(0)
	for i := 0; i < rank; i++ {
		idx += localIdx[i] * strides[i]
	}
	return outerCoord, int(idx)
}

// chunkBlobPath renders the storage key for an outer chunk coordinate.
func (a *Array) chunkBlobPath(outerCoord []uint64) string {
	return a.chunkKeyEnc.ChunkKey(outerCoord)
}

// validateWindow checks a read/write window's bounds (spec §4.5 inputs).
func (a *Array) validateWindow(origin []int64, count []uint64, step []int64) error {
	if len(origin) != a.Rank() || len(count) != a.Rank() || len(step) != a.Rank() {
		return fmt.Errorf("%w: origin/count/step rank must equal array rank %d", ErrInvalidArgument, a.Rank())
	}
	shape := a.Shape()
	for i := range origin {
		if origin[i] < 0 {
			return fmt.Errorf("%w: origin[%d] negative", ErrInvalidArgument, i)
		}
		if count[i] < 1 {
			return fmt.Errorf("%w: count[%d] must be >= 1", ErrInvalidArgument, i)
		}
		if step[i] == 0 {
			return fmt.Errorf("%w: step[%d] must be nonzero", ErrInvalidArgument, i)
		}
		last := origin[i] + int64(count[i]-1)*step[i]
		if last < 0 || uint64(last) >= shape[i] {
			return fmt.Errorf("%w: window exceeds shape at dimension %d", ErrInvalidArgument, i)
		}
	}
	return nil
}

// normalizePositiveStep rewrites a possibly-negative-step window into an
// equivalent positive-step one by relocating origin to the window's
// lowest coordinate per axis and flipping the caller buffer's logical
// traversal order (spec §4.5: "if any step[i] < 0, transform to
// equivalent request with positive step, adjusting origin"). The caller
// buffer itself is not touched here; instead the returned flip flags
// drive buffer-side offset/stride arithmetic in readOneChunk and
// writeOneChunk.
func normalizePositiveStep(origin []int64, count []uint64, step []int64) (newOrigin []int64, newStep []int64, flipped []bool) {
	rank := len(origin)
	newOrigin = make([]int64, rank)
	newStep = make([]int64, rank)
	flipped = make([]bool, rank)
	for i := 0; i < rank; i++ {
		if step[i] < 0 {
			newOrigin[i] = origin[i] + int64(count[i]-1)*step[i]
			newStep[i] = -step[i]
			flipped[i] = true
		} else {
			newOrigin[i] = origin[i]
			newStep[i] = step[i]
		}
	}
	return
}

// Read copies a strided n-D window into out (spec §4.5). out is laid out
// with bufStride (in elements of bufDType) per axis; bufDType may differ
// from the array's dtype, in which case elements are converted via a
// float64 intermediate (widening/narrowing numeric conversion, matching
// the Quantize/FixedScaleOffset codecs' own conversion style).
func (a *Array) Read(ctx context.Context, origin []int64, count []uint64, step []int64, bufDType DType, bufStride []int64, out []byte) error {
	if err := a.validateWindow(origin, count, step); err != nil {
		return err
	}
	posOrigin, posStep, flipped := normalizePositiveStep(origin, count, step)

	outElemSize := bufDType.ElementSize()
	sameDType := bufDType.Kind == a.dtype.Kind && bufDType.Size == a.dtype.Size

	rank := a.Rank()
	if rank == 0 {
		buf, empty, err := a.loadChunk(ctx, nil)
		if err != nil {
			return err
		}
		return a.copyScalar(buf, empty, bufDType, out)
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
			return a.readOneChunk(ctx, coord, posOrigin, count, posStep, flipped, bufDType, bufStride, out, sameDType, outElemSize)
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

func (a *Array) readOneChunk(ctx context.Context, innerCoord []uint64, origin []int64, count []uint64, step []int64, flipped []bool, bufDType DType, bufStride []int64, out []byte, sameDType bool, outElemSize int) error {
	rank := a.Rank()
	buf, empty, err := a.loadChunk(ctx, innerCoord)
	if err != nil {
		return err
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
	elemSize := a.dtype.ElementSize()

	idx := make([]int64, rank)
	var iterate func(dim int)
	var iterErr error
	iterate = func(dim int) {
		if iterErr != nil {
			return
		}
		if dim == rank {
			// Map index along the window back to its window-relative
			// sample number n[i] for each axis, bail if out of window.
			outerOff := uint64(0)
			srcElemIdx := uint64(0)
			dstIdx := make([]int64, rank)
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
					dstIdx[i] = int64(count[i]) - 1 - n
				} else {
					dstIdx[i] = n
				}
				localCoord := uint64(idx[i] - chunkStart[i])
				outerOff += localCoord * chunkStrides[i]
			}
			srcElemIdx = outerOff

			dstByteOff := int64(0)
			for i := 0; i < rank; i++ {
				dstByteOff += dstIdx[i] * bufStride[i]
			}
			dstByteOff *= int64(outElemSize)

			if empty {
				writeFillElement(out[dstByteOff:dstByteOff+int64(outElemSize)], a.fillValue, a.dtype, bufDType)
				return
			}
			srcByteOff := int64(srcElemIdx) * int64(elemSize)
			srcBytes := buf[srcByteOff : srcByteOff+int64(elemSize)]
			if sameDType {
				copy(out[dstByteOff:dstByteOff+int64(outElemSize)], srcBytes)
			} else {
				if err := convertElement(srcBytes, a.dtype, out[dstByteOff:dstByteOff+int64(outElemSize)], bufDType); err != nil {
					iterErr = err
				}
			}
			return
		}

		// Iterate only over the samples of this window that land in
		// [chunkStart[dim], chunkEnd[dim]) along this axis.
		first := origin[dim]
		if first < chunkStart[dim] {
			// advance to the first in-chunk sample
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
	return iterErr
}

func (a *Array) copyScalar(buf []byte, empty bool, bufDType DType, out []byte) error {
	elemSize := a.dtype.ElementSize()
	outElemSize := bufDType.ElementSize()
	if empty {
		writeFillElement(out[:outElemSize], a.fillValue, a.dtype, bufDType)
		return nil
	}
	if bufDType.Kind == a.dtype.Kind && bufDType.Size == a.dtype.Size {
		copy(out[:outElemSize], buf[:elemSize])
		return nil
	}
	return convertElement(buf[:elemSize], a.dtype, out[:outElemSize], bufDType)
}

// writeFillElement writes fv (or zero) converted from srcDType (the
// array's own dtype, the encoding fv is stored in) to dstDType into dst.
func writeFillElement(dst []byte, fv FillValue, srcDType, dstDType DType) {
	if fv == nil {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	if srcDType.Kind == dstDType.Kind && srcDType.Size == dstDType.Size {
		copy(dst, fv)
		return
	}
	// fv is encoded in the array's own dtype width; reinterpret through
	// a float64 intermediate the same way a differing buffer dtype would.
	if err := convertElement(fv, srcDType, dst, dstDType); err != nil {
		for i := range dst {
			dst[i] = 0
		}
	}
}

// convertElement performs the widening/narrowing numeric conversion used
// when bufDType != array dtype (spec §4.5 "dtype conversion from
// array-dtype to buffer_dtype"). Non-numeric dtypes (compound, string)
// require an exact dtype match and error otherwise.
func convertElement(src []byte, srcDType DType, dst []byte, dstDType DType) error {
	if !srcDType.IsNumeric() || !dstDType.IsNumeric() {
		return fmt.Errorf("%w: dtype conversion requires matching non-numeric dtypes", ErrUnsupported)
	}
	v, err := readAsFloat(src, srcDType, srcDType.byteOrder())
	if err != nil {
		return err
	}
	writeFloatAsDType(dst, v, dstDType)
	return nil
}

func writeFloatAsDType(dst []byte, v float64, dt DType) {
	order := dt.byteOrder()
	switch dt.Kind {
	case KindFloat32:
		order.PutUint32(dst, math.Float32bits(float32(v)))
	case KindFloat64:
		order.PutUint64(dst, math.Float64bits(v))
	case KindInt8:
		dst[0] = byte(int8(v))
	case KindInt16:
		order.PutUint16(dst, uint16(int16(v)))
	case KindInt32:
		order.PutUint32(dst, uint32(int32(v)))
	case KindInt64:
		order.PutUint64(dst, uint64(int64(v)))
	case KindUint8:
		dst[0] = byte(uint8(v))
	case KindUint16:
		order.PutUint16(dst, uint16(v))
	case KindUint32:
		order.PutUint32(dst, uint32(v))
	case KindUint64:
		order.PutUint64(dst, uint64(v))
	case KindBool:
		if v != 0 {
			dst[0] = 1
		} else {
			dst[0] = 0
		}
	}
}
