package zarr

import (
	"context"
	"sync"
)

// ThreadPool bounds concurrency for prefetch/advise_read workers (spec §5
// "the global thread pool is process-wide, created on first use, sized
// on demand; it is destroyed explicitly at shutdown"). Per spec §9's
// redesign note ("replace process-global mutable state ... with
// explicit constructs created at engine init and passed through a
// StoreContext value"), the pool itself is an explicit value; the single
// package-level instance below only reproduces the "first use, sized on
// demand, explicit shutdown" lifecycle the spec describes, not a hidden
// global engines are forced to share.
type ThreadPool struct {
	sem chan struct{}
}

// NewThreadPool creates a pool that admits at most size concurrent
// Acquire holders. size < 1 is treated as 1 (a pool of zero workers
// could never make progress).
func NewThreadPool(size int) *ThreadPool {
	if size < 1 {
		size = 1
	}
	return &ThreadPool{sem: make(chan struct{}, size)}
}

// Size reports the pool's configured concurrency.
func (p *ThreadPool) Size() int { return cap(p.sem) }

// Acquire blocks until a worker slot is free or ctx is done.
func (p *ThreadPool) Acquire(ctx context.Context) error {
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a worker slot to the pool.
func (p *ThreadPool) Release() {
	select {
	case <-p.sem:
	default:
	}
}

var (
	globalPoolMu   sync.Mutex
	globalPoolInst *ThreadPool
)

// GlobalThreadPool returns the process-wide prefetch worker pool,
// creating it sized to requestedSize on first call (spec §5: "created on
// first use, sized on demand"). Later callers requesting a different
// size keep sharing the pool created by the first caller; a store that
// needs a dedicated concurrency budget should construct its own
// ThreadPool via NewThreadPool instead.
func GlobalThreadPool(requestedSize int) *ThreadPool {
	globalPoolMu.Lock()
	defer globalPoolMu.Unlock()
	if globalPoolInst == nil {
		globalPoolInst = NewThreadPool(requestedSize)
	}
	return globalPoolInst
}

// ShutdownGlobalThreadPool destroys the process-wide pool (spec §5: "it
// is destroyed explicitly at shutdown"); a later GlobalThreadPool call
// creates a fresh one.
func ShutdownGlobalThreadPool() {
	globalPoolMu.Lock()
	defer globalPoolMu.Unlock()
	globalPoolInst = nil
}
