package zarr

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ShuffleCodec implements the byte-shuffle filter (spec §4.2 Shuffle):
// given elementsize in {1,2,4,8}, it rearranges N elements so that byte j
// of every element becomes contiguous, improving downstream compressor
// ratios on typed numeric data.
type ShuffleCodec struct {
	ElementSize int
}

func (c *ShuffleCodec) Name() string { return "shuffle" }

func (c *ShuffleCodec) Clone() Codec { cp := *c; return &cp }

func (c *ShuffleCodec) Encode(input []byte, _ ArrayMeta) ([]byte, error) {
	return shuffleBytes(input, c.ElementSize)
}

func (c *ShuffleCodec) Decode(input []byte, _ ArrayMeta) ([]byte, error) {
	return unshuffleBytes(input, c.ElementSize)
}

func shuffleBytes(input []byte, elementSize int) ([]byte, error) {
	switch elementSize {
	case 1, 2, 4, 8:
	default:
		return nil, fmt.Errorf("%w: shuffle elementsize must be 1, 2, 4, or 8, got %d", ErrInvalidArgument, elementSize)
	}
	if len(input)%elementSize != 0 {
		return nil, fmt.Errorf("%w: shuffle input size %d not a multiple of elementsize %d", ErrFormat, len(input), elementSize)
	}
	if elementSize == 1 {
		out := make([]byte, len(input))
		copy(out, input)
		return out, nil
	}
	n := len(input) / elementSize
	out := make([]byte, len(input))
	for elt := 0; elt < n; elt++ {
		for b := 0; b < elementSize; b++ {
			out[b*n+elt] = input[elt*elementSize+b]
		}
	}
	return out, nil
}

func unshuffleBytes(input []byte, elementSize int) ([]byte, error) {
	switch elementSize {
	case 1, 2, 4, 8:
	default:
		return nil, fmt.Errorf("%w: shuffle elementsize must be 1, 2, 4, or 8, got %d", ErrInvalidArgument, elementSize)
	}
	if len(input)%elementSize != 0 {
		return nil, fmt.Errorf("%w: unshuffle input size %d not a multiple of elementsize %d", ErrFormat, len(input), elementSize)
	}
	if elementSize == 1 {
		out := make([]byte, len(input))
		copy(out, input)
		return out, nil
	}
	n := len(input) / elementSize
	out := make([]byte, len(input))
	for elt := 0; elt < n; elt++ {
		for b := 0; b < elementSize; b++ {
			out[elt*elementSize+b] = input[b*n+elt]
		}
	}
	return out, nil
}

// DeltaCodec reconstructs/produces cumulative sums over a declared
// element dtype (spec §4.2 Delta). Encode stores first-differences;
// Decode reconstructs the running sum. Operates on integer and float
// dtypes only (a compound element dtype has no defined delta).
type DeltaCodec struct {
	DType DType
}

func (c *DeltaCodec) Name() string { return "delta" }

func (c *DeltaCodec) Clone() Codec { cp := *c; return &cp }

func (c *DeltaCodec) Encode(input []byte, _ ArrayMeta) ([]byte, error) {
	return deltaTransform(input, c.DType, true)
}

func (c *DeltaCodec) Decode(input []byte, _ ArrayMeta) ([]byte, error) {
	return deltaTransform(input, c.DType, false)
}

func deltaTransform(input []byte, dt DType, forwardDiff bool) ([]byte, error) {
	size := dt.ElementSize()
	if size <= 0 || len(input)%size != 0 {
		return nil, fmt.Errorf("%w: delta input size %d not a multiple of element size %d", ErrFormat, len(input), size)
	}
	order := dt.byteOrder()
	n := len(input) / size
	out := make([]byte, len(input))
	copy(out, input)

	readInt := func(buf []byte) int64 {
		switch size {
		case 1:
			return int64(int8(buf[0]))
		case 2:
			return int64(int16(order.Uint16(buf)))
		case 4:
			return int64(int32(order.Uint32(buf)))
		case 8:
			return int64(order.Uint64(buf))
		}
		return 0
	}
	writeInt := func(buf []byte, v int64) {
		switch size {
		case 1:
			buf[0] = byte(v)
		case 2:
			order.PutUint16(buf, uint16(v))
		case 4:
			order.PutUint32(buf, uint32(v))
		case 8:
			order.PutUint64(buf, uint64(v))
		}
	}

	isFloat := dt.Kind == KindFloat32 || dt.Kind == KindFloat64
	readFloat := func(buf []byte) float64 {
		if size == 4 {
			return float64(math.Float32frombits(order.Uint32(buf)))
		}
		return math.Float64frombits(order.Uint64(buf))
	}
	writeFloat := func(buf []byte, v float64) {
		if size == 4 {
			order.PutUint32(buf, math.Float32bits(float32(v)))
		} else {
			order.PutUint64(buf, math.Float64bits(v))
		}
	}

	if forwardDiff {
		if isFloat {
			prev := 0.0
			for i := 0; i < n; i++ {
				cur := readFloat(input[i*size:])
				writeFloat(out[i*size:], cur-prev)
				prev = cur
			}
		} else {
			var prev int64
			for i := 0; i < n; i++ {
				cur := readInt(input[i*size:])
				writeInt(out[i*size:], cur-prev)
				prev = cur
			}
		}
		return out, nil
	}

	if isFloat {
		sum := 0.0
		for i := 0; i < n; i++ {
			sum += readFloat(input[i*size:])
			writeFloat(out[i*size:], sum)
		}
	} else {
		var sum int64
		for i := 0; i < n; i++ {
			sum += readInt(input[i*size:])
			writeInt(out[i*size:], sum)
		}
	}
	return out, nil
}

// QuantizeCodec is decode-only (spec §4.2 Quantize): it reinterprets
// ASTYPE-typed input as DTYPE-typed floating-point output via a
// widening/narrowing copy, used to undo a lossy quantization filter
// applied at write time by some other producer.
type QuantizeCodec struct {
	ASType DType // on-disk element type
	DType  DType // decoded (host) element type, float32 or float64
}

func (c *QuantizeCodec) Name() string { return "quantize" }

func (c *QuantizeCodec) Clone() Codec { cp := *c; return &cp }

func (c *QuantizeCodec) Encode(input []byte, _ ArrayMeta) ([]byte, error) {
	return nil, fmt.Errorf("%w: quantize codec is decode-only", ErrUnsupported)
}

func (c *QuantizeCodec) Decode(input []byte, meta ArrayMeta) ([]byte, error) {
	n := int(meta.ElementCount())
	inSize := c.ASType.ElementSize()
	if len(input) != n*inSize {
		return nil, fmt.Errorf("%w: quantize input size mismatch", ErrFormat)
	}
	order := c.ASType.byteOrder()
	outSize := c.DType.ElementSize()
	out := make([]byte, n*outSize)
	outOrder := c.DType.byteOrder()

	for i := 0; i < n; i++ {
		v, err := readAsFloat(input[i*inSize:(i+1)*inSize], c.ASType, order)
		if err != nil {
			return nil, err
		}
		if outSize == 4 {
			outOrder.PutUint32(out[i*4:], math.Float32bits(float32(v)))
		} else {
			outOrder.PutUint64(out[i*8:], math.Float64bits(v))
		}
	}
	return out, nil
}

func readAsFloat(buf []byte, dt DType, order binary.ByteOrder) (float64, error) {
	switch dt.Kind {
	case KindFloat32:
		return float64(math.Float32frombits(order.Uint32(buf))), nil
	case KindFloat64:
		return math.Float64frombits(order.Uint64(buf)), nil
	case KindInt8:
		return float64(int8(buf[0])), nil
	case KindInt16:
		return float64(int16(order.Uint16(buf))), nil
	case KindInt32:
		return float64(int32(order.Uint32(buf))), nil
	case KindInt64:
		return float64(int64(order.Uint64(buf))), nil
	case KindUint8:
		return float64(buf[0]), nil
	case KindUint16:
		return float64(order.Uint16(buf)), nil
	case KindUint32:
		return float64(order.Uint32(buf)), nil
	case KindUint64:
		return float64(order.Uint64(buf)), nil
	default:
		return 0, fmt.Errorf("%w: unsupported source type %s for astype conversion", ErrUnsupported, dt)
	}
}

// FixedScaleOffsetCodec is decode-only (spec §4.2 FixedScaleOffset):
// `out = in/scale + offset`, where in is an unsigned integer and out is
// float32 or float64.
type FixedScaleOffsetCodec struct {
	Scale  float64
	Offset float64
	AType  DType // unsigned integer on-disk type
	DType  DType // float32 or float64 decoded type
}

func (c *FixedScaleOffsetCodec) Name() string { return "fixedscaleoffset" }

func (c *FixedScaleOffsetCodec) Clone() Codec { cp := *c; return &cp }

func (c *FixedScaleOffsetCodec) Encode(input []byte, _ ArrayMeta) ([]byte, error) {
	return nil, fmt.Errorf("%w: fixedscaleoffset codec is decode-only", ErrUnsupported)
}

func (c *FixedScaleOffsetCodec) Decode(input []byte, meta ArrayMeta) ([]byte, error) {
	n := int(meta.ElementCount())
	inSize := c.AType.ElementSize()
	if len(input) != n*inSize {
		return nil, fmt.Errorf("%w: fixedscaleoffset input size mismatch", ErrFormat)
	}
	order := c.AType.byteOrder()
	outSize := c.DType.ElementSize()
	out := make([]byte, n*outSize)
	outOrder := c.DType.byteOrder()

	for i := 0; i < n; i++ {
		raw, err := readAsFloat(input[i*inSize:(i+1)*inSize], c.AType, order)
		if err != nil {
			return nil, err
		}
		v := raw/c.Scale + c.Offset
		if outSize == 4 {
			outOrder.PutUint32(out[i*4:], math.Float32bits(float32(v)))
		} else {
			outOrder.PutUint64(out[i*8:], math.Float64bits(v))
		}
	}
	return out, nil
}
