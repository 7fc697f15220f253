package zarr

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies the scalar family of a DType (spec §3.1 Array.dtype).
type Kind uint8

const (
	KindBool Kind = iota
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindUint8
	KindUint16
	KindUint32
	KindUint64
	KindFloat16
	KindFloat32
	KindFloat64
	KindComplex64
	KindComplex128
	KindStringASCII
	KindStringUnicode
	KindCompound
)

// CompoundField is one named member of a v2 compound dtype.
type CompoundField struct {
	Name string
	Type DType
}

// DType describes a scalar or compound element type (spec §3.1).
type DType struct {
	Kind Kind
	// Size is the byte size of one element. For KindStringASCII and
	// KindStringUnicode it is the declared fixed length in bytes (UCS-4
	// strings store 4 bytes per code point). For KindCompound it is left
	// 0; ElementSize sums the member sizes instead (no padding).
	Size int
	// BigEndian records the on-disk byte order; false means little-endian
	// or order-independent (size-1 kinds, bool).
	BigEndian bool
	// Fields holds compound members in declaration order; nil for scalars.
	Fields []CompoundField
}

// ElementSize returns the total encoded byte size of one element.
func (d DType) ElementSize() int {
	if d.Kind == KindCompound {
		total := 0
		for _, f := range d.Fields {
			total += f.Type.ElementSize()
		}
		return total
	}
	return d.Size
}

// IsNumeric reports whether the dtype is a plain numeric scalar (checked
// before converting element values between two different dtypes).
func (d DType) IsNumeric() bool {
	switch d.Kind {
	case KindBool, KindInt8, KindInt16, KindInt32, KindInt64,
		KindUint8, KindUint16, KindUint32, KindUint64,
		KindFloat16, KindFloat32, KindFloat64, KindComplex64, KindComplex128:
		return true
	}
	return false
}

// ParseDTypeV2 parses a numpy-style dtype string such as "<f4", "|b1",
// ">i8", or a compound array-of-[name,subtype] as found in Zarr v2
// .zarray metadata (spec §6.1). Compound dtypes are a v2-only feature.
func ParseDTypeV2(raw any) (DType, error) {
	switch v := raw.(type) {
	case string:
		return parseScalarDTypeV2(v)
	case []any:
		fields := make([]CompoundField, 0, len(v))
		for _, elt := range v {
			pair, ok := elt.([]any)
			if !ok || len(pair) != 2 {
				return DType{}, fmt.Errorf("%w: malformed compound dtype member", ErrFormat)
			}
			name, ok := pair[0].(string)
			if !ok {
				return DType{}, fmt.Errorf("%w: compound dtype member name must be a string", ErrFormat)
			}
			sub, err := ParseDTypeV2(pair[1])
			if err != nil {
				return DType{}, err
			}
			fields = append(fields, CompoundField{Name: name, Type: sub})
		}
		return DType{Kind: KindCompound, Fields: fields}, nil
	default:
		return DType{}, fmt.Errorf("%w: unrecognized dtype representation %T", ErrFormat, raw)
	}
}

func parseScalarDTypeV2(s string) (DType, error) {
	if len(s) < 3 {
		return DType{}, fmt.Errorf("%w: invalid dtype %q", ErrFormat, s)
	}
	endian := s[0]
	if endian != '<' && endian != '>' && endian != '|' {
		return DType{}, fmt.Errorf("%w: invalid endian marker in dtype %q", ErrFormat, s)
	}
	kind := s[1]
	size, err := strconv.Atoi(s[2:])
	if err != nil || size <= 0 {
		return DType{}, fmt.Errorf("%w: invalid size in dtype %q", ErrFormat, s)
	}
	bigEndian := endian == '>'

	switch kind {
	case 'b':
		return DType{Kind: KindBool, Size: 1}, nil
	case 'i':
		k, err := sizedIntKind(size, true)
		if err != nil {
			return DType{}, err
		}
		return DType{Kind: k, Size: size, BigEndian: bigEndian}, nil
	case 'u':
		k, err := sizedIntKind(size, false)
		if err != nil {
			return DType{}, err
		}
		return DType{Kind: k, Size: size, BigEndian: bigEndian}, nil
	case 'f':
		switch size {
		case 2:
			return DType{Kind: KindFloat16, Size: 2, BigEndian: bigEndian}, nil
		case 4:
			return DType{Kind: KindFloat32, Size: 4, BigEndian: bigEndian}, nil
		case 8:
			return DType{Kind: KindFloat64, Size: 8, BigEndian: bigEndian}, nil
		}
		return DType{}, fmt.Errorf("%w: unsupported float size %d", ErrFormat, size)
	case 'c':
		switch size {
		case 8:
			return DType{Kind: KindComplex64, Size: 8, BigEndian: bigEndian}, nil
		case 16:
			return DType{Kind: KindComplex128, Size: 16, BigEndian: bigEndian}, nil
		}
		return DType{}, fmt.Errorf("%w: unsupported complex size %d", ErrFormat, size)
	case 'S':
		return DType{Kind: KindStringASCII, Size: size}, nil
	case 'U':
		return DType{Kind: KindStringUnicode, Size: size * 4}, nil
	default:
		return DType{}, fmt.Errorf("%w: unsupported dtype kind %q in %q", ErrFormat, string(kind), s)
	}
}

func sizedIntKind(size int, signed bool) (Kind, error) {
	switch size {
	case 1:
		if signed {
			return KindInt8, nil
		}
		return KindUint8, nil
	case 2:
		if signed {
			return KindInt16, nil
		}
		return KindUint16, nil
	case 4:
		if signed {
			return KindInt32, nil
		}
		return KindUint32, nil
	case 8:
		if signed {
			return KindInt64, nil
		}
		return KindUint64, nil
	}
	return 0, fmt.Errorf("%w: unsupported integer size %d", ErrFormat, size)
}

// V2String renders the dtype back to numpy dtype-string form for
// serialization into .zarray (the inverse of ParseDTypeV2 for scalars).
func (d DType) V2String() (string, error) {
	endian := "<"
	if d.BigEndian {
		endian = ">"
	}
	switch d.Kind {
	case KindBool:
		return "|b1", nil
	case KindInt8:
		return "|i1", nil
	case KindUint8:
		return "|u1", nil
	case KindInt16, KindInt32, KindInt64, KindUint16, KindUint32, KindUint64,
		KindFloat16, KindFloat32, KindFloat64, KindComplex64, KindComplex128:
		kindChar := map[Kind]byte{
			KindInt16: 'i', KindInt32: 'i', KindInt64: 'i',
			KindUint16: 'u', KindUint32: 'u', KindUint64: 'u',
			KindFloat16: 'f', KindFloat32: 'f', KindFloat64: 'f',
			KindComplex64: 'c', KindComplex128: 'c',
		}[d.Kind]
		return fmt.Sprintf("%s%c%d", endian, kindChar, d.Size), nil
	case KindStringASCII:
		return fmt.Sprintf("|S%d", d.Size), nil
	case KindStringUnicode:
		return fmt.Sprintf("%sU%d", endian, d.Size/4), nil
	default:
		return "", fmt.Errorf("%w: compound dtype has no scalar v2 string form", ErrUnsupported)
	}
}

// v3DTypeNames maps the Zarr v3 JSON data_type strings to Kind (spec §6.1).
// v3 has no compound or fixed-length string dtype (spec §7 ErrUnsupported).
var v3DTypeNames = map[string]DType{
	"bool":       {Kind: KindBool, Size: 1},
	"int8":       {Kind: KindInt8, Size: 1},
	"int16":      {Kind: KindInt16, Size: 2},
	"int32":      {Kind: KindInt32, Size: 4},
	"int64":      {Kind: KindInt64, Size: 8},
	"uint8":      {Kind: KindUint8, Size: 1},
	"uint16":     {Kind: KindUint16, Size: 2},
	"uint32":     {Kind: KindUint32, Size: 4},
	"uint64":     {Kind: KindUint64, Size: 8},
	"float16":    {Kind: KindFloat16, Size: 2},
	"float32":    {Kind: KindFloat32, Size: 4},
	"float64":    {Kind: KindFloat64, Size: 8},
	"complex64":  {Kind: KindComplex64, Size: 8},
	"complex128": {Kind: KindComplex128, Size: 16},
}

// ParseDTypeV3 parses a Zarr v3 data_type name. v3 dtypes are always
// little-endian on disk; endianness is instead carried by the "bytes"
// codec in the codec chain (spec §4.2 Bytes/endian).
func ParseDTypeV3(name string) (DType, error) {
	dt, ok := v3DTypeNames[name]
	if !ok {
		return DType{}, fmt.Errorf("%w: unsupported v3 data_type %q", ErrFormat, name)
	}
	return dt, nil
}

// V3String is the inverse of ParseDTypeV3.
func (d DType) V3String() (string, error) {
	for name, dt := range v3DTypeNames {
		if dt.Kind == d.Kind {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: dtype has no v3 representation", ErrUnsupported)
}

// byteSwap reverses the byte order of every elementSize-wide element in
// buf, in place. elementSize must be one of {2,4,8,16} (spec §4.2 Bytes
// codec). The whole element is reversed; complex values, whose two halves
// are swapped separately, go through byteSwapComplex instead.
func byteSwap(buf []byte, elementSize int) {
	if elementSize <= 1 {
		return
	}
	for off := 0; off+elementSize <= len(buf); off += elementSize {
		elt := buf[off : off+elementSize]
		for i, j := 0, len(elt)-1; i < j; i, j = i+1, j-1 {
			elt[i], elt[j] = elt[j], elt[i]
		}
	}
}

// byteSwapComplex swaps each half of a complex number independently,
// rather than reversing the whole element (which would swap the real and
// imaginary components' byte positions incorrectly).
func byteSwapComplex(buf []byte, halfSize int) {
	for off := 0; off+2*halfSize <= len(buf); off += 2 * halfSize {
		byteSwap(buf[off:off+halfSize], halfSize)
		byteSwap(buf[off+halfSize:off+2*halfSize], halfSize)
	}
}

// float16ToFloat32 widens an IEEE half-precision value (as its bit
// pattern) to a float32, used when the host has no native float16 type.
func float16ToFloat32(bits uint16) float32 {
	sign := uint32(bits>>15) & 0x1
	exp := uint32(bits>>10) & 0x1f
	frac := uint32(bits) & 0x3ff

	var outBits uint32
	switch exp {
	case 0:
		if frac == 0 {
			outBits = sign << 31
		} else {
			// Subnormal half -> normalize into float32.
			e := -1
			for frac&0x400 == 0 {
				frac <<= 1
				e--
			}
			frac &= 0x3ff
			exp32 := uint32(int32(127-15+1) + int32(e))
			outBits = (sign << 31) | (exp32 << 23) | (frac << 13)
		}
	case 0x1f:
		outBits = (sign << 31) | (0xff << 23) | (frac << 13)
	default:
		exp32 := exp - 15 + 127
		outBits = (sign << 31) | (exp32 << 23) | (frac << 13)
	}
	return math.Float32frombits(outBits)
}

// byteOrder selects the binary.ByteOrder for a DType's declared on-disk
// order.
func (d DType) byteOrder() binary.ByteOrder {
	if d.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// String renders an ASCII-safe description of the dtype, used
// only in error messages.
func (d DType) String() string {
	if d.Kind == KindCompound {
		parts := make([]string, len(d.Fields))
		for i, f := range d.Fields {
			parts[i] = f.Name + ":" + f.Type.String()
		}
		return "{" + strings.Join(parts, ",") + "}"
	}
	if s, err := d.V2String(); err == nil {
		return s
	}
	return "dtype?"
}
