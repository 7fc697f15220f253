package zarr

import (
	"math"
	"testing"
)

func TestFillValue_RoundTrip(t *testing.T) {
	f32, _ := ParseDTypeV2("<f4")
	f64, _ := ParseDTypeV2("<f8")
	i32, _ := ParseDTypeV2("<i4")
	u8, _ := ParseDTypeV2("|u1")
	boolDT, _ := ParseDTypeV2("|b1")
	str, _ := ParseDTypeV2("|S4")

	cases := []struct {
		name string
		dt   DType
		raw  any
		want any
	}{
		{"float32", f32, 3.5, 3.5},
		{"float64 nan", f64, "NaN", "NaN"},
		{"float64 inf", f64, "Infinity", "Infinity"},
		{"float64 neg inf", f64, "-Infinity", "-Infinity"},
		{"int32", i32, float64(-7), int64(-7)},
		{"uint8", u8, float64(200), uint64(200)},
		{"bool true", boolDT, true, true},
		{"bool false", boolDT, false, false},
		{"string", str, "ab", "ab"},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			fv, err := ParseFillValueV2(tt.raw, tt.dt)
			if err != nil {
				t.Fatalf("ParseFillValueV2: %v", err)
			}
			got, err := decodeFillValueJSON(fv, tt.dt)
			if err != nil {
				t.Fatalf("decodeFillValueJSON: %v", err)
			}
			if got != tt.want {
				t.Errorf("round trip %v -> %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestFillValue_Complex(t *testing.T) {
	c64, _ := ParseDTypeV2("<c8")
	fv, err := ParseFillValueV2([]any{float64(1.5), float64(-2.5)}, c64)
	if err != nil {
		t.Fatalf("ParseFillValueV2 complex: %v", err)
	}
	got, err := decodeFillValueJSON(fv, c64)
	if err != nil {
		t.Fatalf("decodeFillValueJSON complex: %v", err)
	}
	pair, ok := got.([]any)
	if !ok || len(pair) != 2 {
		t.Fatalf("expected 2-element slice, got %v", got)
	}
	if pair[0] != 1.5 || pair[1] != -2.5 {
		t.Errorf("got %v, want [1.5 -2.5]", pair)
	}
}

func TestFillValue_Float16(t *testing.T) {
	f16, _ := ParseDTypeV2("<f2")
	fv, err := ParseFillValueV2(float64(1.0), f16)
	if err != nil {
		t.Fatalf("ParseFillValueV2 float16: %v", err)
	}
	got, err := decodeFillValueJSON(fv, f16)
	if err != nil {
		t.Fatalf("decodeFillValueJSON float16: %v", err)
	}
	f, ok := got.(float64)
	if !ok {
		t.Fatalf("expected float64, got %T", got)
	}
	if math.Abs(f-1.0) > 1e-3 {
		t.Errorf("got %v, want ~1.0", f)
	}
}

func TestFillValue_IsZero(t *testing.T) {
	if !FillValue([]byte{0, 0, 0, 0}).IsZero() {
		t.Error("expected all-zero buffer to report IsZero true")
	}
	if FillValue([]byte{0, 1, 0, 0}).IsZero() {
		t.Error("expected non-zero buffer to report IsZero false")
	}
}

func TestParseFillValueV3_Hex(t *testing.T) {
	u4, _ := ParseDTypeV2("<u4")
	fv, err := ParseFillValueV3("0x01000000", u4)
	if err != nil {
		t.Fatalf("ParseFillValueV3 hex: %v", err)
	}
	if len(fv) != 4 {
		t.Fatalf("expected 4 bytes, got %d", len(fv))
	}
	if fv[0] != 0x01 {
		t.Errorf("expected first byte 0x01, got %#x", fv[0])
	}
}
