package zarr

import "testing"

func TestAttributeBag_SetGetDelete(t *testing.T) {
	bag := NewAttributeBag()
	if bag.IsModified() {
		t.Fatal("new bag should not be modified")
	}

	bag.Set("units", "meters")
	if !bag.IsModified() {
		t.Fatal("expected Set to mark modified")
	}
	v, ok := bag.Get("units")
	if !ok || v != "meters" {
		t.Fatalf("Get(units) = %v, %v", v, ok)
	}

	bag.UnsetModified()
	if bag.IsModified() {
		t.Fatal("expected UnsetModified to clear flag")
	}

	if !bag.Delete("units") {
		t.Fatal("expected Delete to report existing key removed")
	}
	if bag.Delete("units") {
		t.Fatal("expected second Delete to report false")
	}
	if !bag.IsModified() {
		t.Fatal("expected Delete to mark modified")
	}
}

func TestAttributeBag_NamesSorted(t *testing.T) {
	bag := NewAttributeBag()
	bag.Set("zeta", 1)
	bag.Set("alpha", 2)
	bag.Set("mid", 3)

	got := bag.Names()
	want := []string{"alpha", "mid", "zeta"}
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParseSpecialAttributes_XArrayDimensions(t *testing.T) {
	bag := LoadAttributeBag(map[string]any{
		"_ARRAY_DIMENSIONS": []any{"y", "x"},
		"units":             "K",
		"custom":            "kept",
	})

	special := ParseSpecialAttributes(bag)
	if len(special.XArrayDimensionNames) != 2 || special.XArrayDimensionNames[0] != "y" || special.XArrayDimensionNames[1] != "x" {
		t.Errorf("XArrayDimensionNames = %v", special.XArrayDimensionNames)
	}
	if !special.HasUnits || special.Units != "K" {
		t.Errorf("Units = %q, HasUnits = %v", special.Units, special.HasUnits)
	}
	if _, ok := bag.Get("_ARRAY_DIMENSIONS"); ok {
		t.Error("expected _ARRAY_DIMENSIONS to be removed from bag")
	}
	if _, ok := bag.Get("units"); ok {
		t.Error("expected units to be removed from bag")
	}
	if _, ok := bag.Get("custom"); !ok {
		t.Error("expected custom user attribute to survive extraction")
	}
}

func TestDeriveDimensionTypeDirection(t *testing.T) {
	cases := []struct {
		axis, positive, wantType, wantDir string
	}{
		{"X", "", DimTypeHorizontalX, DimDirectionEast},
		{"Y", "", DimTypeHorizontalY, DimDirectionNorth},
		{"Z", "up", DimTypeVertical, DimDirectionUp},
		{"Z", "down", DimTypeVertical, DimDirectionDown},
		{"T", "", DimTypeTemporal, ""},
		{"Q", "", "", ""},
	}
	for _, tt := range cases {
		gotType, gotDir := DeriveDimensionTypeDirection(tt.axis, tt.positive)
		if gotType != tt.wantType || gotDir != tt.wantDir {
			t.Errorf("DeriveDimensionTypeDirection(%q, %q) = (%q, %q), want (%q, %q)",
				tt.axis, tt.positive, gotType, gotDir, tt.wantType, tt.wantDir)
		}
	}
}
