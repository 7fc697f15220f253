package zarr

import (
	"context"
	"testing"

	_ "gocloud.dev/blob/memblob"
)

func TestDimension_LocalState(t *testing.T) {
	d := NewDimension("dim0", 4, "", "")
	if d.IsXArrayBound() {
		t.Fatal("new dimension should start Local")
	}
	if d.Name() != "dim0" || d.Size() != 4 {
		t.Fatalf("Name()=%q Size()=%d", d.Name(), d.Size())
	}
	if err := d.Rename("x"); err == nil {
		t.Fatal("expected Rename to fail on a Local dimension")
	}
}

func TestDimension_BindAndRename(t *testing.T) {
	ctx := context.Background()
	store, err := Create(ctx, "mem://zarr-dimension-test", 3, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer store.Close(ctx)

	dt, _ := ParseDTypeV3("float64")
	coordArr, err := store.Root().CreateArray(ctx, "x", ArraySpec{
		Shape:           []uint64{4},
		OuterChunkShape: []uint64{4},
		InnerChunkShape: []uint64{4},
		DType:           dt,
		Codecs:          []Codec{&BytesCodec{}},
	})
	if err != nil {
		t.Fatalf("CreateArray: %v", err)
	}

	d := NewDimension("dim0", 4, "", "")
	if err := d.BindIndexingArray(coordArr); err != nil {
		t.Fatalf("BindIndexingArray: %v", err)
	}
	if !d.IsXArrayBound() {
		t.Fatal("expected dimension to become XArrayBound")
	}
	if d.IndexingArray() != coordArr {
		t.Fatal("expected IndexingArray to return the bound array")
	}
	if err := d.Rename("x"); err != nil {
		t.Fatalf("Rename on bound dimension: %v", err)
	}
	if d.Name() != "x" {
		t.Fatalf("Name() = %q, want x", d.Name())
	}
}

func TestDimension_BindRejectsMismatchedSize(t *testing.T) {
	ctx := context.Background()
	store, err := Create(ctx, "mem://zarr-dimension-test-mismatch", 3, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer store.Close(ctx)

	dt, _ := ParseDTypeV3("float64")
	coordArr, err := store.Root().CreateArray(ctx, "y", ArraySpec{
		Shape:           []uint64{3},
		OuterChunkShape: []uint64{3},
		InnerChunkShape: []uint64{3},
		DType:           dt,
		Codecs:          []Codec{&BytesCodec{}},
	})
	if err != nil {
		t.Fatalf("CreateArray: %v", err)
	}

	d := NewDimension("dim0", 4, "", "")
	if err := d.BindIndexingArray(coordArr); err == nil {
		t.Fatal("expected BindIndexingArray to reject a size mismatch")
	}
}
