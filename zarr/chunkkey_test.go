package zarr

import "testing"

func TestChunkKeyEncoding_ChunkKey(t *testing.T) {
	tests := []struct {
		name     string
		enc      ChunkKeyEncoding
		coord    []uint64
		expected string
	}{
		{"v2 dot separator", ChunkKeyEncoding{Separator: "."}, []uint64{1, 4}, "1.4"},
		{"v2 default separator", ChunkKeyEncoding{}, []uint64{0, 0, 0}, "0.0.0"},
		{"v2 slash separator", ChunkKeyEncoding{Separator: "/"}, []uint64{1, 2}, "1/2"},
		{"v2 scalar", ChunkKeyEncoding{Separator: "."}, nil, "0"},
		{"v3 default", ChunkKeyEncoding{V3Default: true}, []uint64{1, 4}, "c/1/4"},
		{"v3 default scalar", ChunkKeyEncoding{V3Default: true}, nil, "c"},
		{"v3 dot-separated default", ChunkKeyEncoding{V3Default: true, Separator: "."}, []uint64{1, 2}, "c.1.2"},
		{"v3 v2-compatible", ChunkKeyEncoding{V3Default: false, Separator: "/"}, []uint64{1, 2}, "1/2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.enc.ChunkKey(tt.coord)
			if got != tt.expected {
				t.Errorf("ChunkKey(%v) = %q, want %q", tt.coord, got, tt.expected)
			}
		})
	}
}

func TestGridShape(t *testing.T) {
	tests := []struct {
		shape, chunks, want []uint64
	}{
		{[]uint64{4, 4}, []uint64{2, 2}, []uint64{2, 2}},
		{[]uint64{5, 4}, []uint64{2, 2}, []uint64{3, 2}},
		{[]uint64{1}, []uint64{10}, []uint64{1}},
		{[]uint64{0}, []uint64{4}, []uint64{0}},
	}

	for _, tt := range tests {
		got := GridShape(tt.shape, tt.chunks)
		if len(got) != len(tt.want) {
			t.Fatalf("GridShape(%v, %v) = %v, want %v", tt.shape, tt.chunks, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("GridShape(%v, %v)[%d] = %d, want %d", tt.shape, tt.chunks, i, got[i], tt.want[i])
			}
		}
	}
}
