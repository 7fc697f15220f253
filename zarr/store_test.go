package zarr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	_ "gocloud.dev/blob/memblob"
)

// rowMajorStridesI64 mirrors rowMajorStrides but in the int64 element-count
// form Array.Read/Write's bufStride parameter expects.
func rowMajorStridesI64(shape []uint64) []int64 {
	strides := make([]int64, len(shape))
	acc := int64(1)
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= int64(shape[i])
	}
	return strides
}

func TestStore_CreateWriteReadCloseReopen_V3(t *testing.T) {
	ctx := context.Background()
	url := "mem://zarr-store-test-v3"

	store, err := Create(ctx, url, 3, nil)
	require.NoError(t, err)

	dt, err := ParseDTypeV3("int32")
	require.NoError(t, err)

	shape := []uint64{2, 2}
	spec := ArraySpec{
		Shape:           shape,
		OuterChunkShape: shape,
		InnerChunkShape: shape,
		DType:           dt,
		Codecs:          []Codec{&BytesCodec{}},
	}

	arr, err := store.Root().CreateArray(ctx, "temperature", spec)
	require.NoError(t, err)

	in := make([]byte, 4*4)
	vals := []int32{10, 20, 30, 40}
	for i, v := range vals {
		putInt(arr.dtype.byteOrder(), in[i*4:(i+1)*4], int64(v), 4)
	}
	strides := rowMajorStridesI64(shape)

	require.NoError(t, arr.Write(ctx, []int64{0, 0}, []uint64{2, 2}, []int64{1, 1}, dt, strides, in))

	out := make([]byte, 4*4)
	require.NoError(t, arr.Read(ctx, []int64{0, 0}, []uint64{2, 2}, []int64{1, 1}, dt, strides, out))
	for i, want := range vals {
		got := getInt(arr.dtype.byteOrder(), out[i*4:(i+1)*4], 4)
		require.Equal(t, want, int32(got), "element %d", i)
	}

	require.NoError(t, store.Close(ctx))

	reopened, err := Open(ctx, url, nil)
	require.NoError(t, err)
	defer reopened.Close(ctx)

	reArr, err := reopened.Root().OpenArray(ctx, "temperature")
	require.NoError(t, err)
	require.Equal(t, 2, reArr.Rank())
	require.Equal(t, shape, reArr.Shape())

	out2 := make([]byte, 4*4)
	require.NoError(t, reArr.Read(ctx, []int64{0, 0}, []uint64{2, 2}, []int64{1, 1}, dt, strides, out2))
	for i, want := range vals {
		got := getInt(reArr.dtype.byteOrder(), out2[i*4:(i+1)*4], 4)
		require.Equal(t, want, int32(got), "reopened element %d", i)
	}
}

func TestStore_CreateGroupAndArray_V2(t *testing.T) {
	ctx := context.Background()
	url := "mem://zarr-store-test-v2"

	store, err := Create(ctx, url, 2, nil)
	require.NoError(t, err)
	defer store.Close(ctx)

	child, err := store.Root().CreateGroup(ctx, "measurements")
	require.NoError(t, err)

	dt, err := ParseDTypeV2("<f4")
	require.NoError(t, err)

	spec := ArraySpec{
		Shape:           []uint64{4},
		OuterChunkShape: []uint64{2},
		InnerChunkShape: []uint64{2},
		DType:           dt,
		Order:           "C",
		DimSeparator:    ".",
	}
	arr, err := child.CreateArray(ctx, "temp", spec)
	require.NoError(t, err)
	require.Equal(t, "/measurements/temp", arr.Path())

	names, err := child.ArrayKeys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"temp"}, names)
}

func TestGroup_RenameArray_MovesDataAndUpdatesNameTable(t *testing.T) {
	ctx := context.Background()
	url := "mem://zarr-store-test-rename"

	store, err := Create(ctx, url, 2, nil)
	require.NoError(t, err)
	defer store.Close(ctx)

	dt, err := ParseDTypeV2("<i4")
	require.NoError(t, err)
	spec := ArraySpec{
		Shape:           []uint64{2},
		OuterChunkShape: []uint64{2},
		InnerChunkShape: []uint64{2},
		DType:           dt,
		Order:           "C",
		DimSeparator:    ".",
	}
	arr, err := store.Root().CreateArray(ctx, "old_name", spec)
	require.NoError(t, err)

	in := make([]byte, 8)
	putInt(arr.dtype.byteOrder(), in[0:4], 7, 4)
	putInt(arr.dtype.byteOrder(), in[4:8], 9, 4)
	require.NoError(t, arr.Write(ctx, []int64{0}, []uint64{2}, []int64{1}, dt, []int64{1}, in))
	require.NoError(t, arr.Flush(ctx))

	require.NoError(t, store.Root().RenameArray(ctx, "old_name", "new_name"))

	_, err = store.Root().OpenArray(ctx, "old_name")
	require.Error(t, err)

	moved, err := store.Root().OpenArray(ctx, "new_name")
	require.NoError(t, err)
	require.Equal(t, "/new_name", moved.Path())

	out := make([]byte, 8)
	require.NoError(t, moved.Read(ctx, []int64{0}, []uint64{2}, []int64{1}, dt, []int64{1}, out))
	require.Equal(t, int64(7), getInt(moved.dtype.byteOrder(), out[0:4], 4))
	require.Equal(t, int64(9), getInt(moved.dtype.byteOrder(), out[4:8], 4))

	names, err := store.Root().ArrayKeys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"new_name"}, names)
}
