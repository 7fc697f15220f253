package zarr

import (
	"context"
	"fmt"
	"sync"
)

// Filling-status values reported by tilePresenceCache.FillingStatus (spec
// §4.6). They are held in memory only and are not written to the store.
const (
	FillingNoTilePresent     = "no_tile_present"
	FillingAllTilesPresent   = "all_tiles_present"
	FillingSomeTilesMissing  = "some_tiles_missing"
)

// tilePresenceCache is the optional presence map from spec §4.6: one
// boolean per inner chunk, populated by a single directory scan instead
// of a stat() per chunk. It lives in memory only (no sidecar array is
// written) and is populated lazily, on first use, only when
// CACHE_TILE_PRESENCE is set.
type tilePresenceCache struct {
	mu        sync.Mutex
	gridShape []uint64
	present   map[string]bool // inner-coord key -> present; absent key = unknown
	scanned   bool
	status    string
}

func newTilePresenceCache(gridShape []uint64) *tilePresenceCache {
	return &tilePresenceCache{
		gridShape: gridShape,
		present:   make(map[string]bool),
	}
}

// lookup reports whether coord is known to be present/absent. known is
// false until a scan (or an explicit mark) has recorded that coordinate.
func (c *tilePresenceCache) lookup(coord []uint64) (present bool, known bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.present[coordKey(coord)]; ok {
		return p, true
	}
	// After a full scan, anything not recorded present is known absent
	// without a further lookup (spec §4.6: "lookups are O(1)").
	return false, c.scanned
}

func (c *tilePresenceCache) mark(coord []uint64, present bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.present[coordKey(coord)] = present
	c.recomputeStatusLocked()
}

func (c *tilePresenceCache) recomputeStatusLocked() {
	total := uint64(1)
	for _, g := range c.gridShape {
		total *= g
	}
	present := 0
	for _, p := range c.present {
		if p {
			present++
		}
	}
	switch {
	case present == 0:
		c.status = FillingNoTilePresent
	case uint64(present) >= total && total > 0:
		c.status = FillingAllTilesPresent
	default:
		c.status = FillingSomeTilesMissing
	}
}

// FillingStatus reports the aggregate presence state (spec §4.6: "no_tile_present" /
// "all_tiles_present" / "some_tiles_missing").
func (c *tilePresenceCache) FillingStatus() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == "" {
		return FillingNoTilePresent
	}
	return c.status
}

// ensureTilePresence lazily scans the array's chunk directory once,
// building the presence map from spec §4.6 ("populated by scanning the
// data directory once; lookups are O(1) and replace per-chunk stat()
// calls"). Only called when CACHE_TILE_PRESENCE was requested at open.
func (a *Array) ensureTilePresence(ctx context.Context) error {
	if a.tilePresence == nil || a.tilePresence.scanned {
		return nil
	}
	tp := a.tilePresence
	tp.mu.Lock()
	if tp.scanned {
		tp.mu.Unlock()
		return nil
	}
	tp.mu.Unlock()

	gridShape := a.outerGridShape()
	total := uint64(1)
	for _, g := range gridShape {
		total *= g
	}
	// A chunk grid whose key encoding nests directories (separator "/")
	// can't be resolved from one flat listing, and a grid of more than
	// maxEagerScan (65536) chunks is not listed eagerly either. In both
	// cases leave the cache unpopulated; every lookup then falls through
	// to a direct stat.
	const maxEagerScan = 1 << 16
	if a.chunkKeyEnc.Separator == "/" || total > maxEagerScan {
		return nil
	}

	names, truncated, err := a.bs.ListDir(ctx, "", 0)
	if err != nil {
		return fmt.Errorf("%w: scanning tile presence for %q: %v", ErrIO, a.path, err)
	}
	if truncated {
		return nil
	}

	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}

	tp.mu.Lock()
	defer tp.mu.Unlock()
	var walk func(dim int, coord []uint64)
	walk = func(dim int, coord []uint64) {
		if dim == len(gridShape) {
			key := a.chunkBlobPath(coord)
			tp.present[coordKey(coord)] = seen[key]
			return
		}
		for c := uint64(0); c < gridShape[dim]; c++ {
			coord[dim] = c
			walk(dim+1, coord)
		}
	}
	if total > 0 {
		walk(0, make([]uint64, len(gridShape)))
	}
	tp.scanned = true
	tp.recomputeStatusLocked()
	return nil
}
