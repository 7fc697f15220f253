package zarr

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FillValue is the native-layout encoding of an array's declared fill
// value (spec §3.1 Array.fill_value), or nil if none was declared (all
// reads of absent chunks then return the zero value, spec §8 "Fill
// invariance").
type FillValue []byte

// ParseFillValueV2 decodes the JSON .zarray "fill_value" member (spec
// §6.1). It accepts null, a number, a bool, the strings "NaN"/"Infinity"/
// "-Infinity", or for complex dtypes a two-element [real, imag] array.
func ParseFillValueV2(raw any, dt DType) (FillValue, error) {
	if raw == nil {
		return nil, nil
	}
	if dt.Kind == KindCompound {
		// The source format does not define a portable encoding for
		// compound fill values; treat as "no fill" rather than guess.
		return nil, nil
	}
	return encodeFillScalar(raw, dt)
}

// ParseFillValueV3 decodes the Zarr v3 "fill_value" member: a hex string
// ("0x..."), taken as the element's raw bytes in storage order, or any of
// the v2 forms (spec §6.1). No other string encoding, such as a binary
// string, is recognized.
func ParseFillValueV3(raw any, dt DType) (FillValue, error) {
	if raw == nil {
		return nil, nil
	}
	if s, ok := raw.(string); ok && strings.HasPrefix(s, "0x") {
		b, err := hex.DecodeString(s[2:])
		if err != nil {
			return nil, fmt.Errorf("%w: invalid hex fill_value %q", ErrFormat, s)
		}
		if len(b) != dt.ElementSize() {
			return nil, fmt.Errorf("%w: hex fill_value length mismatch for %s", ErrFormat, dt)
		}
		return FillValue(b), nil
	}
	return encodeFillScalar(raw, dt)
}

func encodeFillScalar(raw any, dt DType) (FillValue, error) {
	order := dt.byeOrderCompat()
	buf := make([]byte, dt.ElementSize())

	switch dt.Kind {
	case KindBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: fill_value must be bool for %s", ErrFormat, dt)
		}
		if b {
			buf[0] = 1
		}
		return buf, nil

	case KindInt8, KindInt16, KindInt32, KindInt64:
		v, err := fillInt(raw)
		if err != nil {
			return nil, err
		}
		putInt(order, buf, v, dt.Size)
		return buf, nil

	case KindUint8, KindUint16, KindUint32, KindUint64:
		v, err := fillInt(raw)
		if err != nil {
			return nil, err
		}
		putUint(order, buf, uint64(v), dt.Size)
		return buf, nil

	case KindFloat16:
		f, err := fillFloat(raw)
		if err != nil {
			return nil, err
		}
		order.PutUint16(buf, float32ToFloat16(float32(f)))
		return buf, nil

	case KindFloat32:
		f, err := fillFloat(raw)
		if err != nil {
			return nil, err
		}
		order.PutUint32(buf, math.Float32bits(float32(f)))
		return buf, nil

	case KindFloat64:
		f, err := fillFloat(raw)
		if err != nil {
			return nil, err
		}
		order.PutUint64(buf, math.Float64bits(f))
		return buf, nil

	case KindComplex64, KindComplex128:
		// Open Question (spec §9): when one component is NaN and the
		// other finite, we make no attempt to special-case it — each
		// component is parsed and encoded independently and
		// deterministically, which already covers that case correctly.
		pair, ok := raw.([]any)
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("%w: complex fill_value must be a 2-element array", ErrFormat)
		}
		re, err := fillFloat(pair[0])
		if err != nil {
			return nil, err
		}
		im, err := fillFloat(pair[1])
		if err != nil {
			return nil, err
		}
		half := dt.Size / 2
		if half == 4 {
			order.PutUint32(buf[:4], math.Float32bits(float32(re)))
			order.PutUint32(buf[4:8], math.Float32bits(float32(im)))
		} else {
			order.PutUint64(buf[:8], math.Float64bits(re))
			order.PutUint64(buf[8:16], math.Float64bits(im))
		}
		return buf, nil

	case KindStringASCII, KindStringUnicode:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%w: string fill_value must be a string", ErrFormat)
		}
		copy(buf, []byte(s))
		return buf, nil
	}
	return nil, fmt.Errorf("%w: unsupported fill_value dtype %s", ErrUnsupported, dt)
}

func fillInt(raw any) (int64, error) {
	switch v := raw.(type) {
	case float64:
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: invalid integer fill_value %q", ErrFormat, v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: fill_value is not numeric", ErrFormat)
}

func fillFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case string:
		switch v {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: invalid float fill_value %q", ErrFormat, v)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%w: fill_value is not numeric", ErrFormat)
}

func putInt(order binary.ByteOrder, buf []byte, v int64, size int) {
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

func putUint(order binary.ByteOrder, buf []byte, v uint64, size int) {
	switch size {
	case 1:
		buf[0] = byte(v)
	case 2:
		order.PutUint16(buf, uint16(v))
	case 4:
		order.PutUint32(buf, uint32(v))
	case 8:
		order.PutUint64(buf, v)
	}
}

func (d DType) byeOrderCompat() binary.ByteOrder {
	return d.byteOrder()
}

// float32ToFloat16 narrows a float32 to an IEEE half-precision bit
// pattern; used only for encoding declared float16 fill values, which are
// rare but legal (spec §3.1 dtype enumeration).
func float32ToFloat16(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16((bits >> 16) & 0x8000)
	exp := int32((bits>>23)&0xff) - 127 + 15
	frac := bits & 0x7fffff

	switch {
	case (bits>>23)&0xff == 0xff:
		// Inf or NaN.
		fracBits := uint16(0)
		if frac != 0 {
			fracBits = 0x200
		}
		return sign | 0x7c00 | fracBits
	case exp >= 0x1f:
		return sign | 0x7c00
	case exp <= 0:
		// Flush subnormals/underflow to zero; acceptable for fill values.
		return sign
	default:
		return sign | uint16(exp<<10) | uint16(frac>>13)
	}
}

// IsZero reports whether a FillValue is the all-zero bit pattern, used by
// the dirty-chunk delete-if-entirely-fill fast path (spec §4.3).
func (f FillValue) IsZero() bool {
	for _, b := range f {
		if b != 0 {
			return false
		}
	}
	return true
}

// decodeFillValueJSON is the reverse of encodeFillScalar: it renders a
// native-layout FillValue back into the JSON scalar/array shape .zarray
// and zarr.json expect (spec §6.1), for persisting a live Array's
// fill_value back to its metadata document.
func decodeFillValueJSON(f FillValue, dt DType) (any, error) {
	order := dt.byeOrderCompat()

	switch dt.Kind {
	case KindBool:
		return f[0] != 0, nil

	case KindInt8, KindInt16, KindInt32, KindInt64:
		return getInt(order, f, dt.Size), nil

	case KindUint8, KindUint16, KindUint32, KindUint64:
		return getUint(order, f, dt.Size), nil

	case KindFloat16:
		return floatJSON(float64(float16ToFloat32(order.Uint16(f)))), nil

	case KindFloat32:
		return floatJSON(float64(math.Float32frombits(order.Uint32(f)))), nil

	case KindFloat64:
		return floatJSON(math.Float64frombits(order.Uint64(f))), nil

	case KindComplex64, KindComplex128:
		half := dt.Size / 2
		var re, im float64
		if half == 4 {
			re = float64(math.Float32frombits(order.Uint32(f[:4])))
			im = float64(math.Float32frombits(order.Uint32(f[4:8])))
		} else {
			re = math.Float64frombits(order.Uint64(f[:8]))
			im = math.Float64frombits(order.Uint64(f[8:16]))
		}
		return []any{floatJSON(re), floatJSON(im)}, nil

	case KindStringASCII, KindStringUnicode:
		s := string(f)
		return strings.TrimRight(s, "\x00"), nil
	}
	return nil, fmt.Errorf("%w: unsupported fill_value dtype %s", ErrUnsupported, dt)
}

func getInt(order binary.ByteOrder, buf []byte, size int) int64 {
	switch size {
	case 1:
		return int64(int8(buf[0]))
	case 2:
		return int64(int16(order.Uint16(buf)))
	case 4:
		return int64(int32(order.Uint32(buf)))
	default:
		return int64(order.Uint64(buf))
	}
}

func getUint(order binary.ByteOrder, buf []byte, size int) uint64 {
	switch size {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(order.Uint16(buf))
	case 4:
		return uint64(order.Uint32(buf))
	default:
		return order.Uint64(buf)
	}
}

// floatJSON renders a float as the JSON-compatible form .zarray/zarr.json
// use for fill_value: the special string tokens for non-finite values,
// a plain float64 otherwise.
func floatJSON(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	default:
		return f
	}
}

// float16ToFloat32 is defined in dtype.go and reused here for decoding.
