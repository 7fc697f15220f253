package zarr

import "fmt"

// BytesCodec implements the v3 "bytes" array->bytes codec and the v2
// endian-swap implied by the dtype's `<`/`>` marker (spec §4.2
// Bytes/endian). On encode it swaps native host order to the declared
// on-disk order; on decode the inverse. No-op when the element size is 1
// or the declared order already matches the host's (this implementation
// always targets a little-endian host buffer, so BigEndian true means a
// swap is needed in both directions).
type BytesCodec struct {
	BigEndian bool
}

func (c *BytesCodec) Name() string { return "bytes" }

func (c *BytesCodec) Clone() Codec { cp := *c; return &cp }

func (c *BytesCodec) Encode(input []byte, meta ArrayMeta) ([]byte, error) {
	return c.swap(input, meta)
}

func (c *BytesCodec) Decode(input []byte, meta ArrayMeta) ([]byte, error) {
	return c.swap(input, meta)
}

func (c *BytesCodec) swap(input []byte, meta ArrayMeta) ([]byte, error) {
	if !c.BigEndian {
		return input, nil
	}
	elt := meta.DType.ElementSize()
	if elt <= 1 {
		return input, nil
	}
	out := make([]byte, len(input))
	copy(out, input)
	if meta.DType.Kind == KindComplex64 || meta.DType.Kind == KindComplex128 {
		byteSwapComplex(out, elt/2)
	} else {
		byteSwap(out, elt)
	}
	return out, nil
}

// TransposeCodec permutes chunk axes (spec §4.2 Transpose). Permutation
// lists the source axis index for each destination axis; the v2 "F"
// order is expressed as the permutation that reverses all axes (see
// buildCodecChainV2). A no-op permutation
// (identity, detected in NewTransposeCodec) is represented with a nil
// Permutation so Encode/Decode become pass-throughs.
type TransposeCodec struct {
	Permutation []int
	ElementSize int
}

// NewTransposeCodec builds a TransposeCodec, collapsing an identity
// permutation to a no-op (spec §4.2 "No-op permutations are detected and
// skipped").
func NewTransposeCodec(permutation []int, elementSize int) *TransposeCodec {
	identity := true
	for i, p := range permutation {
		if p != i {
			identity = false
			break
		}
	}
	if identity {
		return &TransposeCodec{ElementSize: elementSize}
	}
	return &TransposeCodec{Permutation: permutation, ElementSize: elementSize}
}

func (c *TransposeCodec) Name() string { return "transpose" }

func (c *TransposeCodec) Clone() Codec { cp := *c; return &cp }

func (c *TransposeCodec) Encode(input []byte, meta ArrayMeta) ([]byte, error) {
	if len(c.Permutation) == 0 {
		return input, nil
	}
	return transposeBuffer(input, meta.ChunkShape, c.Permutation, c.ElementSize, false)
}

func (c *TransposeCodec) Decode(input []byte, meta ArrayMeta) ([]byte, error) {
	if len(c.Permutation) == 0 {
		return input, nil
	}
	return transposeBuffer(input, meta.ChunkShape, c.Permutation, c.ElementSize, true)
}

// transposeBuffer permutes an n-D buffer of elementSize-wide elements.
// shape is the *logical* (un-permuted, i.e. host-order) chunk shape.
// When inverse is true, input is assumed permuted and the output is
// restored to host order.
func transposeBuffer(input []byte, shape []uint64, permutation []int, elementSize int, inverse bool) ([]byte, error) {
	rank := len(shape)
	if len(permutation) != rank {
		return nil, fmt.Errorf("%w: transpose permutation length %d != rank %d", ErrFormat, len(permutation), rank)
	}

	srcStrides := rowMajorStrides(shape)

	permShape := make([]uint64, rank)
	for i, p := range permutation {
		permShape[i] = shape[p]
	}
	dstStrides := rowMajorStrides(permShape)

	total := uint64(1)
	for _, s := range shape {
		total *= s
	}
	if uint64(len(input)) != total*uint64(elementSize) {
		return nil, fmt.Errorf("%w: transpose input size mismatch", ErrFormat)
	}

	out := make([]byte, len(input))
	idx := make([]uint64, rank)
	for n := uint64(0); n < total; n++ {
		// idx holds coordinates in the *source* (host) order.
		srcOff := uint64(0)
		for i := 0; i < rank; i++ {
			srcOff += idx[i] * srcStrides[i]
		}
		dstOff := uint64(0)
		for i, p := range permutation {
			dstOff += idx[p] * dstStrides[i]
		}
		var s, d uint64
		if inverse {
			s, d = dstOff, srcOff
		} else {
			s, d = srcOff, dstOff
		}
		copy(out[d*uint64(elementSize):(d+1)*uint64(elementSize)], input[s*uint64(elementSize):(s+1)*uint64(elementSize)])

		// Odometer increment over the host-order shape.
		for i := rank - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < shape[i] {
				break
			}
			idx[i] = 0
		}
	}
	return out, nil
}

func rowMajorStrides(shape []uint64) []uint64 {
	n := len(shape)
	strides := make([]uint64, n)
	stride := uint64(1)
	for i := n - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}
