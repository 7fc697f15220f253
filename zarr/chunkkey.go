package zarr

import (
	"strconv"
	"strings"
)

// ChunkKeyEncoding selects how an outer chunk coordinate renders to a
// storage key (spec §6.1 chunk_key_encoding).
type ChunkKeyEncoding struct {
	// V3Default, when true, prefixes the key with "c" the way Zarr v3's
	// "default" encoding does; false reproduces the v2/"v2"-compatible
	// encoding (spec §3.2: "c<sep>c0<sep>c1..." vs plain "c0<sep>c1...").
	V3Default bool
	Separator string // "." or "/"
}

// ChunkKey renders coord to its on-disk key (spec §3.2, generalizing the
// teacher's ChunkKey from int indices/fixed "." separator to uint64
// coordinates and both v2 and v3 key-encoding conventions). A 0-d array
// (empty coord) is always keyed "0", or "c" for the v3 default encoding.
func (e ChunkKeyEncoding) ChunkKey(coord []uint64) string {
	sep := e.Separator
	if sep == "" {
		sep = "."
		if e.V3Default {
			sep = "/"
		}
	}

	if len(coord) == 0 {
		if e.V3Default {
			return "c"
		}
		return "0"
	}

	var sb strings.Builder
	if e.V3Default {
		sb.WriteString("c")
		sb.WriteString(sep)
	}
	for i, c := range coord {
		if i > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(strconv.FormatUint(c, 10))
	}
	return sb.String()
}

// GridShape computes the chunk grid dimensions for shape/chunks (spec
// §3.1: "number of inner chunks per axis is ceil(shape[i] /
// inner_chunk[i])"), generalizing the teacher's int-based GridShape to
// uint64 and to any chunk geometry (outer or inner).
func GridShape(shape, chunks []uint64) []uint64 {
	grid := make([]uint64, len(shape))
	for i := range shape {
		grid[i] = ceilDivU64(shape[i], chunks[i])
	}
	return grid
}
