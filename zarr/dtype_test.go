package zarr

import "testing"

func TestParseDTypeV2_RoundTrip(t *testing.T) {
	cases := []string{"<f4", ">f8", "|b1", "|i1", "|u1", "<i2", ">i8", "<u4", "|S10", "<U5", "<c8", ">c16"}
	for _, s := range cases {
		t.Run(s, func(t *testing.T) {
			dt, err := ParseDTypeV2(s)
			if err != nil {
				t.Fatalf("ParseDTypeV2(%q): %v", s, err)
			}
			got, err := dt.V2String()
			if err != nil {
				t.Fatalf("V2String: %v", err)
			}
			if got != s {
				t.Errorf("round trip %q -> %q, want %q", s, got, s)
			}
		})
	}
}

func TestParseDTypeV2_Compound(t *testing.T) {
	raw := []any{
		[]any{"r", "|u1"},
		[]any{"g", "|u1"},
		[]any{"b", "|u1"},
	}
	dt, err := ParseDTypeV2(raw)
	if err != nil {
		t.Fatalf("ParseDTypeV2 compound: %v", err)
	}
	if dt.Kind != KindCompound {
		t.Fatalf("expected KindCompound, got %v", dt.Kind)
	}
	if len(dt.Fields) != 3 {
		t.Fatalf("expected 3 fields, got %d", len(dt.Fields))
	}
	if dt.ElementSize() != 3 {
		t.Errorf("expected ElementSize 3, got %d", dt.ElementSize())
	}
	if _, err := dt.V2String(); err == nil {
		t.Errorf("expected compound dtype to reject V2String, got none")
	}
}

func TestParseDTypeV3_RoundTrip(t *testing.T) {
	for name := range v3DTypeNames {
		t.Run(name, func(t *testing.T) {
			dt, err := ParseDTypeV3(name)
			if err != nil {
				t.Fatalf("ParseDTypeV3(%q): %v", name, err)
			}
			got, err := dt.V3String()
			if err != nil {
				t.Fatalf("V3String: %v", err)
			}
			if got != name {
				t.Errorf("round trip %q -> %q", name, got)
			}
		})
	}
}

func TestParseDTypeV2_Errors(t *testing.T) {
	cases := []string{"", "<f", "Zf4", "<f3", "<c4"}
	for _, s := range cases {
		if _, err := ParseDTypeV2(s); err == nil {
			t.Errorf("ParseDTypeV2(%q): expected error, got none", s)
		}
	}
}
