package zarr

import "errors"

// Error taxonomy for the store engine (spec §7). Callers use errors.Is
// against these sentinels; wrapped errors carry the offending path or name
// via fmt.Errorf("...: %w", ...).
var (
	// ErrNotFound covers missing groups/arrays/blobs that are not simply
	// "chunk absent" (that case never surfaces as an error — it becomes a
	// fill-value read, see Array.loadChunk).
	ErrNotFound = errors.New("zarr: not found")

	// ErrFormat covers unparseable metadata, unknown dtypes, unsupported
	// codecs, and shape/chunk mismatches.
	ErrFormat = errors.New("zarr: format error")

	// ErrUnsupported covers sharded-write (where disabled), compound dtype
	// under v3, storage transformers, and shrinking resize.
	ErrUnsupported = errors.New("zarr: unsupported")

	// ErrIO covers byte-store failures and partial reads.
	ErrIO = errors.New("zarr: io error")

	// ErrOutOfMemory covers chunk allocations beyond the configured guard
	// and prefetch requests that would overflow the cache budget.
	ErrOutOfMemory = errors.New("zarr: out of memory")

	// ErrInterrupted is returned when a progress callback aborts a bulk
	// operation.
	ErrInterrupted = errors.New("zarr: interrupted")

	// ErrInvalidArgument covers bad names, out-of-range indices, and rank
	// mismatches.
	ErrInvalidArgument = errors.New("zarr: invalid argument")

	// ErrReadOnly is returned by mutating operations on an array or store
	// opened without the updatable flag.
	ErrReadOnly = errors.New("zarr: read-only")

	// ErrClosed is returned by a Group's open, create and rename methods
	// once that group has been deleted from its parent (spec §4.8 state
	// machine). Array handles and a closed Store do not report it.
	ErrClosed = errors.New("zarr: closed")

	// ErrCycle is returned when opening an array would recurse back into
	// an array that is already in the process of being opened (spec §9
	// "shared ownership" / ZarrSharedResource's in-progress-load set).
	ErrCycle = errors.New("zarr: cyclic open detected")
)
