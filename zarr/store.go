package zarr

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// OpenOptions is the parsed form of spec §6.2's enumerated open/create
// option set. Fields default to the zero value when the caller's
// map[string]string omits the key; StringFormat/Compress/Filter default
// to "" (meaning "let the metadata decide"), CacheSize/NumThreads default
// to 0 (meaning "unbounded"/"one").
type OpenOptions struct {
	StringFormat      string // "ASCII" | "UNICODE"
	Compress          string // "NONE" | "GZIP" | "BLOSC" | "ZSTD" | ...
	Filter            string // "NONE" | "SHUFFLE" | "DELTA" | "FIXEDSCALEOFFSET" | "QUANTIZE"
	BlockSize         []uint64
	DimSeparator      string // "." | "/"
	ChunkMemoryLayout string // "C" | "F"
	CacheTilePresence bool
	CacheSize         int64
	NumThreads        int
	Endian            string // "little" | "big"
	// Extra carries any <codec>_<param> key the enumerated fields above
	// don't cover, passed through verbatim to the codec builders.
	Extra map[string]string
}

// parseOpenOptions converts the flat string map spec §6.2 describes into
// an OpenOptions, logging (not failing on) anything it doesn't recognize
// (spec §6.2: "unrecognized options are ignored with a warning").
func parseOpenOptions(raw map[string]string, logger *Logger) OpenOptions {
	opts := OpenOptions{Extra: map[string]string{}}
	for k, v := range raw {
		switch k {
		case "STRING_FORMAT":
			opts.StringFormat = v
		case "COMPRESS":
			opts.Compress = v
		case "FILTER":
			opts.Filter = v
		case "BLOCKSIZE":
			opts.BlockSize = parseBlockSize(v)
		case "DIM_SEPARATOR":
			opts.DimSeparator = v
		case "CHUNK_MEMORY_LAYOUT":
			opts.ChunkMemoryLayout = v
		case "CACHE_TILE_PRESENCE":
			opts.CacheTilePresence = parseBoolOption(v)
		case "CACHE_SIZE":
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				opts.CacheSize = n
			} else {
				logger.Warn("zarr: ignoring CACHE_SIZE, not an integer", zap.String("value", v))
			}
		case "NUM_THREADS":
			if n, err := strconv.Atoi(v); err == nil {
				opts.NumThreads = n
			} else {
				logger.Warn("zarr: ignoring NUM_THREADS, not an integer", zap.String("value", v))
			}
		case "@ENDIAN":
			opts.Endian = v
		default:
			if strings.Contains(k, "_") {
				opts.Extra[k] = v
				continue
			}
			logger.Warn("zarr: ignoring unrecognized open option", zap.String("key", k))
		}
	}
	return opts
}

func parseBoolOption(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func parseBlockSize(v string) []uint64 {
	parts := strings.Split(v, ",")
	out := make([]uint64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

// Environment variable gates from spec §6.3. GDAL_OGCAPI_TILEMATRIXSET_LIMITS
// governs the OGC API collaborator, explicitly out of scope (spec §1), so
// it is never read here.
const (
	envAllowBigTileSize      = "ZARR_ALLOW_BIG_TILE_SIZE"
	envUseOptimizedCodePaths = "GDAL_ZARR_USE_OPTIMIZED_CODE_PATHS"

	// defaultMaxChunkBytes is the 1 GiB chunk-allocation guard spec §7
	// names under ErrOutOfMemory, liftable via envAllowBigTileSize.
	defaultMaxChunkBytes = int64(1) << 30
)

func allowBigTileSize() bool {
	v, ok := os.LookupEnv(envAllowBigTileSize)
	return ok && parseBoolOption(v)
}

// useOptimizedCodePaths reports spec §6.3's fast-copy-path toggle. It
// defaults to true (GDAL's own default), matching the teacher's assumption
// that the bulk strided-copy path is always preferred unless disabled.
func useOptimizedCodePaths() bool {
	v, ok := os.LookupEnv(envUseOptimizedCodePaths)
	if !ok {
		return true
	}
	return parseBoolOption(v)
}

// checkChunkByteSize enforces spec §7 ErrOutOfMemory guard on chunk
// allocations, liftable per-process via ZARR_ALLOW_BIG_TILE_SIZE.
func checkChunkByteSize(n uint64) error {
	if allowBigTileSize() {
		return nil
	}
	if n > uint64(defaultMaxChunkBytes) {
		return fmt.Errorf("%w: chunk allocation of %d bytes exceeds the 1 GiB guard (set %s=1 to allow)", ErrOutOfMemory, n, envAllowBigTileSize)
	}
	return nil
}

// StoreContext is the shared resource every Group and Array opened from
// one Store carries a pointer to (spec's "Shared resource" module,
// SPEC_FULL.md §C): the logger, the prefetch thread pool, the
// in-progress-load cycle-detection set, and consolidated-metadata state,
// none of which belong to any single node. Per spec §9's redesign note
// ("replace process-global mutable state... with explicit constructs
// created at engine init and passed through a StoreContext value"), this
// is constructed once per Open/Create call, not shared across stores.
type StoreContext struct {
	mu sync.Mutex

	logger *Logger
	pool   *ThreadPool

	// loading is ZarrSharedResource.m_oSetArrayInLoading (SPEC_FULL.md §C):
	// an array path present here is mid-open; a reentrant open of the same
	// path is a cycle (spec §9 "shared ownership").
	loading map[string]bool

	rootURL string
	version int

	// consolidated maps a store-root-relative metadata key to its raw
	// document: for v2, keys like "foo/bar/.zarray"/"foo/bar/.zattrs"/
	// "foo/bar/.zgroup" straight out of .zmetadata's "metadata" object;
	// for v3, keys like "foo/bar/zarr.json", one full document per node,
	// out of the root zarr.json's consolidated_metadata.metadata object.
	consolidated      map[string]json.RawMessage
	consolidatedDirty bool
}

// beginLoad registers path as in-progress, returning ErrCycle if it is
// already being loaded (spec §9 cycle detection). The returned func must
// be deferred to remove the registration once the open completes.
func (sc *StoreContext) beginLoad(path string) (func(), error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.loading[path] {
		return nil, fmt.Errorf("%w: %q is already being opened", ErrCycle, path)
	}
	sc.loading[path] = true
	return func() {
		sc.mu.Lock()
		delete(sc.loading, path)
		sc.mu.Unlock()
	}, nil
}

func (sc *StoreContext) markConsolidatedDirty() {
	sc.mu.Lock()
	sc.consolidatedDirty = true
	sc.mu.Unlock()
}

// Store is the top-level handle returned by Open/Create (spec §3.1
// Store). It owns the root ByteStore and the root Group; every Group and
// Array reachable from it shares one StoreContext.
type Store struct {
	ctx  *StoreContext
	bs   *ByteStore
	root *Group

	version  int
	opts     OpenOptions
	readOnly bool

	mu     sync.Mutex
	closed bool
}

// RootKey identifies this store for caches keyed by (store, array) pairs
// (spec §5 coordinate-regularity cache), the root URL being the one
// identifier stable across the life of the Store.
func (s *Store) RootKey() string { return s.ctx.rootURL }

func (a *Array) storeRootKey() string { return a.store.RootKey() }

// Root returns the store's root group.
func (s *Store) Root() *Group { return s.root }

// Logger returns the store's logger (never nil).
func (s *Store) Logger() *Logger { return s.ctx.logger }

// ThreadPool returns the store's prefetch worker pool (never nil).
func (s *Store) ThreadPool() *ThreadPool { return s.ctx.pool }

// Open opens an existing store rooted at rawURL (any gocloud.dev/blob
// URL), auto-detecting zarr_format by probing for zarr.json (v3) then
// .zgroup/.zarray (v2) at the root, per spec §4.1 Store.open and §6.1.
func Open(ctx context.Context, rawURL string, rawOpts map[string]string) (*Store, error) {
	bs, err := OpenByteStore(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	logger := NewNopLogger()
	opts := parseOpenOptions(rawOpts, logger)

	version, err := detectVersion(ctx, bs)
	if err != nil {
		bs.Close()
		return nil, err
	}

	sctx := &StoreContext{
		logger:  logger,
		pool:    GlobalThreadPool(opts.NumThreads),
		loading: make(map[string]bool),
		rootURL: rawURL,
		version: version,
	}

	consolidated, err := loadConsolidated(ctx, bs, version)
	if err != nil {
		bs.Close()
		return nil, err
	}
	sctx.consolidated = consolidated

	var attrs *AttributeBag
	if version == 2 {
		attrs, err = loadAttrsV2(ctx, bs)
	} else {
		raw, rerr := bs.Read(ctx, "zarr.json")
		if rerr != nil {
			err = rerr
		} else {
			var doc zarrJSONV3
			if err = jsonUnmarshalFormat(raw, &doc); err == nil {
				attrs, err = attrBagFromRaw(doc.Attributes)
			}
		}
	}
	if err != nil {
		bs.Close()
		return nil, err
	}

	root := newGroup(nil, nil, "", "/", version, bs, attrs)
	s := &Store{ctx: sctx, bs: bs, root: root, version: version, opts: opts}
	root.store = s

	logger.Debug("zarr: store opened", zap.String("url", rawURL), zap.Int("zarr_format", version))
	return s, nil
}

// Create bootstraps a brand-new store at rawURL with a fresh root group
// (spec §4.1 Store.create), writing the root's .zgroup (v2) or zarr.json
// (v3) marker immediately.
func Create(ctx context.Context, rawURL string, version int, rawOpts map[string]string) (*Store, error) {
	if version != 2 && version != 3 {
		return nil, fmt.Errorf("%w: unsupported zarr_format %d", ErrInvalidArgument, version)
	}
	bs, err := OpenByteStore(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	logger := NewNopLogger()
	opts := parseOpenOptions(rawOpts, logger)

	attrs := NewAttributeBag()
	if version == 2 {
		if err := bs.Write(ctx, ".zgroup", []byte(`{"zarr_format":2}`)); err != nil {
			bs.Close()
			return nil, err
		}
		if err := writeAttrsV2(ctx, bs, attrs); err != nil {
			bs.Close()
			return nil, err
		}
	} else {
		doc := zarrJSONV3{ZarrFormat: 3, NodeType: "group", Attributes: json.RawMessage("{}")}
		data, merr := json.Marshal(doc)
		if merr != nil {
			bs.Close()
			return nil, fmt.Errorf("%w: %v", ErrFormat, merr)
		}
		if err := bs.WriteAtomic(ctx, "zarr.json", data); err != nil {
			bs.Close()
			return nil, err
		}
	}

	sctx := &StoreContext{
		logger:       logger,
		pool:         GlobalThreadPool(opts.NumThreads),
		loading:      make(map[string]bool),
		rootURL:      rawURL,
		version:      version,
		consolidated: map[string]json.RawMessage{},
	}

	root := newGroup(nil, nil, "", "/", version, bs, attrs)
	s := &Store{ctx: sctx, bs: bs, root: root, version: version, opts: opts}
	root.store = s

	logger.Debug("zarr: store created", zap.String("url", rawURL), zap.Int("zarr_format", version))
	return s, nil
}

func jsonUnmarshalFormat(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return nil
}

// detectVersion probes the store root for zarr.json (v3) then .zarray/
// .zgroup (v2), per spec §6.1's format enumeration.
func detectVersion(ctx context.Context, bs *ByteStore) (int, error) {
	if ok, err := bs.Exists(ctx, "zarr.json"); err != nil {
		return 0, err
	} else if ok {
		return 3, nil
	}
	if ok, err := bs.Exists(ctx, ".zgroup"); err != nil {
		return 0, err
	} else if ok {
		return 2, nil
	}
	if ok, err := bs.Exists(ctx, ".zarray"); err != nil {
		return 0, err
	} else if ok {
		return 2, nil
	}
	return 0, fmt.Errorf("%w: no zarr.json, .zgroup, or .zarray found at store root", ErrNotFound)
}

// loadConsolidated reads the store-wide consolidated metadata document if
// present (spec §6.1): .zmetadata for v2, consolidated_metadata embedded
// in the root zarr.json for v3. Its absence is not an error — callers
// fall back to directory listing (spec §8 scenario 5 only applies when
// consolidated metadata was requested and present).
func loadConsolidated(ctx context.Context, bs *ByteStore, version int) (map[string]json.RawMessage, error) {
	if version == 2 {
		raw, err := bs.Read(ctx, ".zmetadata")
		if err != nil {
			if isNotFound(err) {
				return map[string]json.RawMessage{}, nil
			}
			return nil, err
		}
		var doc struct {
			Metadata map[string]json.RawMessage `json:"metadata"`
		}
		if err := jsonUnmarshalFormat(raw, &doc); err != nil {
			return nil, err
		}
		if doc.Metadata == nil {
			doc.Metadata = map[string]json.RawMessage{}
		}
		return doc.Metadata, nil
	}

	raw, err := bs.Read(ctx, "zarr.json")
	if err != nil {
		return nil, err
	}
	var doc zarrJSONV3
	if err := jsonUnmarshalFormat(raw, &doc); err != nil {
		return nil, err
	}
	if doc.ConsolidatedMetadata == nil || doc.ConsolidatedMetadata.Metadata == nil {
		return map[string]json.RawMessage{}, nil
	}
	return doc.ConsolidatedMetadata.Metadata, nil
}

// consolidatedChildArrayNames reports the immediate child array names of
// groupPath from consolidated metadata, when present (spec §4.8
// array_keys, §8 scenario 5: "avoid directory listing when consolidated
// metadata is present").
func (s *Store) consolidatedChildArrayNames(groupPath string) ([]string, bool) {
	return s.consolidatedChildNames(groupPath, "array")
}

// consolidatedChildGroupNames is the group-listing counterpart.
func (s *Store) consolidatedChildGroupNames(groupPath string) ([]string, bool) {
	return s.consolidatedChildNames(groupPath, "group")
}

func (s *Store) consolidatedChildNames(groupPath, kind string) ([]string, bool) {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	if len(s.ctx.consolidated) == 0 {
		return nil, false
	}
	dir := strings.Trim(groupPath, "/")

	seen := make(map[string]bool)
	var out []string
	for key, raw := range s.ctx.consolidated {
		var nodePath string
		var isKind bool
		if s.version == 2 {
			suffix := ".zarray"
			if kind == "group" {
				suffix = ".zgroup"
			}
			if !strings.HasSuffix(key, "/"+suffix) && key != suffix {
				continue
			}
			nodePath = strings.TrimSuffix(strings.TrimSuffix(key, suffix), "/")
			isKind = true
		} else {
			if !strings.HasSuffix(key, "/zarr.json") && key != "zarr.json" {
				continue
			}
			nodePath = strings.TrimSuffix(strings.TrimSuffix(key, "zarr.json"), "/")
			var doc struct {
				NodeType string `json:"node_type"`
			}
			if err := json.Unmarshal(raw, &doc); err != nil {
				continue
			}
			isKind = doc.NodeType == kind
		}
		if !isKind {
			continue
		}
		parent := path.Dir(nodePath)
		if parent == "." {
			parent = ""
		}
		if parent != dir {
			continue
		}
		name := path.Base(nodePath)
		if name == "." || name == "/" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out, true
}

// Close flushes every dirty array, rewrites consolidated metadata once if
// anything in the tree changed, and releases the root byte store (spec
// §4.1 Store.close; SPEC_FULL.md §C: "the rewrite walks the whole group
// tree once, not per-mutation").
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.root.flushTree(ctx); err != nil {
		return err
	}

	s.ctx.mu.Lock()
	dirty := s.ctx.consolidatedDirty
	s.ctx.mu.Unlock()
	if dirty {
		if err := s.rewriteConsolidated(ctx); err != nil {
			return err
		}
	}

	s.ctx.logger.Debug("zarr: store closed", zap.String("url", s.ctx.rootURL))
	return s.bs.Close()
}

// rewriteConsolidated regenerates the whole-tree consolidated metadata
// document from the current in-memory group/array tree and writes it
// back (v2: .zmetadata; v3: the root zarr.json's consolidated_metadata
// member), per SPEC_FULL.md §C's single-rewrite-on-close policy.
func (s *Store) rewriteConsolidated(ctx context.Context) error {
	docs := make(map[string]json.RawMessage)
	if err := s.root.collectConsolidated(ctx, "", docs); err != nil {
		return err
	}

	if s.version == 2 {
		out := struct {
			ZarrConsolidatedFormat int                        `json:"zarr_consolidated_format"`
			Metadata               map[string]json.RawMessage `json:"metadata"`
		}{ZarrConsolidatedFormat: 1, Metadata: docs}
		data, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrFormat, err)
		}
		return s.bs.WriteAtomic(ctx, ".zmetadata", data)
	}

	raw, err := s.bs.Read(ctx, "zarr.json")
	if err != nil {
		return err
	}
	var doc zarrJSONV3
	if err := jsonUnmarshalFormat(raw, &doc); err != nil {
		return err
	}
	doc.ConsolidatedMetadata = &consolidatedMetadataV3{Kind: "inline", Metadata: docs}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return s.bs.WriteAtomic(ctx, "zarr.json", data)
}
