package zarr

import "sync"

// cacheEntry is one decoded inner chunk (spec §3.1 ChunkCacheEntry):
// either an empty marker (chunk absent on disk, reads as fill_value) or a
// decoded buffer of exactly the inner-chunk byte size.
type cacheEntry struct {
	buf   []byte
	empty bool
}

// chunkCache is the per-array two-tier cache from spec §4.4: a single
// hot "current chunk" slot used by the strided read/write fast path, plus
// a map populated only by advise_read. Both tiers are guarded by the same
// mutex the array itself uses for all cache mutation (spec §5: "the
// chunk cache is protected by a per-array mutex").
type chunkCache struct {
	mu sync.Mutex

	// current chunk slot
	curCoordSet bool
	curCoord    []uint64
	curBuf      []byte
	curEmpty    bool
	curDirty    bool

	// populated by advise_read; consulted before the slot on the hot path
	byKey map[string]*cacheEntry
}

func newChunkCache() *chunkCache {
	return &chunkCache{
		byKey: make(map[string]*cacheEntry),
	}
}

// coordKey renders a chunk coordinate vector to a map key. Coordinates
// are small, so a simple decimal join avoids pulling in a hashing
// dependency for what is, in effect, a tuple key.
func coordKey(coord []uint64) string {
	if len(coord) == 0 {
		return "0"
	}
	b := make([]byte, 0, len(coord)*4)
	for i, c := range coord {
		if i > 0 {
			b = append(b, ',')
		}
		b = appendUint(b, c)
	}
	return string(b)
}

func appendUint(b []byte, v uint64) []byte {
	if v == 0 {
		return append(b, '0')
	}
	var tmp [20]byte
	i := len(tmp)
	for v > 0 {
		i--
		tmp[i] = byte('0' + v%10)
		v /= 10
	}
	return append(b, tmp[i:]...)
}

// lookup checks the prefetch map first, then the current slot (spec
// §4.4: "the hot path checks the map first, then the slot").
func (c *chunkCache) lookup(coord []uint64) (buf []byte, empty bool, hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := coordKey(coord)
	if e, ok := c.byKey[key]; ok {
		return e.buf, e.empty, true
	}
	if c.curCoordSet && coordEqual(c.curCoord, coord) {
		return c.curBuf, c.curEmpty, true
	}
	return nil, false, false
}

// storePrefetched inserts a worker-decoded chunk into the map tier,
// under the per-array mutex (spec §4.7).
func (c *chunkCache) storePrefetched(coord []uint64, buf []byte, empty bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKey[coordKey(coord)] = &cacheEntry{buf: buf, empty: empty}
}

// setCurrent installs (coord, buf) as the hot slot, returning the
// previously-dirty slot's (coord, buf) if a flush is needed first (spec
// §4.4: "a write that targets a different chunk than the current slot
// first flushes the slot").
func (c *chunkCache) setCurrent(coord []uint64, buf []byte, empty, dirty bool) (flushCoord []uint64, flushBuf []byte, needFlush bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.curCoordSet && c.curDirty && !coordEqual(c.curCoord, coord) {
		flushCoord = append([]uint64(nil), c.curCoord...)
		flushBuf = c.curBuf
		needFlush = true
	}
	c.curCoordSet = true
	c.curCoord = append([]uint64(nil), coord...)
	c.curBuf = buf
	c.curEmpty = empty
	c.curDirty = dirty
	return
}

func (c *chunkCache) markCurrentDirty() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.curDirty = true
}

// takeDirty returns and clears the current slot if dirty, for flush().
func (c *chunkCache) takeDirty() (coord []uint64, buf []byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.curCoordSet || !c.curDirty {
		return nil, nil, false
	}
	coord = append([]uint64(nil), c.curCoord...)
	buf = c.curBuf
	c.curDirty = false
	return coord, buf, true
}

func (c *chunkCache) clearPrefetched() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKey = make(map[string]*cacheEntry)
}

func coordEqual(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
