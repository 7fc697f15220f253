package zarr

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"
)

// validateObjectName enforces spec §3.1 Group invariants: "names are
// non-empty, contain no /, \, :, and do not start with .z" (the .z
// prefix is reserved for Zarr's own metadata files/markers).
func validateObjectName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: object name must not be empty", ErrInvalidArgument)
	}
	if strings.ContainsAny(name, "/\\:") {
		return fmt.Errorf("%w: object name %q contains a reserved character", ErrInvalidArgument, name)
	}
	if strings.HasPrefix(name, ".z") {
		return fmt.Errorf("%w: object name %q collides with Zarr metadata file naming", ErrInvalidArgument, name)
	}
	return nil
}

// ArraySpec describes a new array's geometry and encoding, the
// create_array parameters from spec §4.8.
type ArraySpec struct {
	Shape           []uint64
	OuterChunkShape []uint64
	InnerChunkShape []uint64 // defaults to OuterChunkShape (no sharding)
	DType           DType
	FillValue       FillValue
	Order           string // "C" or "F", v2 only
	DimSeparator    string // "." or "/"
	DimensionNames  []string
	Codecs          []Codec // full chain, including a trailing ShardingCodec when sharded
}

// Group is a named tree node (spec §3.1 Group). The root group has
// path "/"; children hold a strong reference back to their parent only
// while open (spec §9: "parent holds strong references to children;
// arrays hold a weak reference to parent to break the cycle" — in Go,
// where cycles don't block GC, the practical equivalent this engine
// needs is a parent back-pointer for rename/attribute propagation, kept
// here as a plain pointer since the store, not the garbage collector,
// owns the tree's lifetime).
type Group struct {
	mu sync.RWMutex

	store   *Store
	parent  *Group
	name    string
	path    string
	version int
	bs      *ByteStore

	childGroups map[string]*Group
	childArrays map[string]*Array
	dims        map[string]*Dimension

	attrs   *AttributeBag
	special SpecialAttributes

	modified bool
	deleted  bool
}

func newGroup(store *Store, parent *Group, name, nodePath string, version int, bs *ByteStore, attrs *AttributeBag) *Group {
	return &Group{
		store:       store,
		parent:      parent,
		name:        name,
		path:        nodePath,
		version:     version,
		bs:          bs,
		childGroups: make(map[string]*Group),
		childArrays: make(map[string]*Array),
		dims:        make(map[string]*Dimension),
		attrs:       attrs,
	}
}

func (g *Group) Path() string { return g.path }
func (g *Group) Name() string { return g.name }

func (g *Group) Attributes() *AttributeBag { return g.attrs }

func (g *Group) checkUsable() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.deleted {
		return fmt.Errorf("%w: group %q has been deleted", ErrClosed, g.path)
	}
	return nil
}

// OpenGroup opens or returns a cached handle to a child group (spec §4.8
// open_group: "v2 looks for .zgroup; v3 looks for zarr.json with the
// appropriate node_type; v3 supports implicit groups").
func (g *Group) OpenGroup(ctx context.Context, name string) (*Group, error) {
	if err := g.checkUsable(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if child, ok := g.childGroups[name]; ok {
		return child, nil
	}

	childPath := path.Join(g.path, name)
	childBS := g.bs.WithPrefix(name)

	if g.version == 2 {
		if _, err := g.bs.Size(ctx, path.Join(name, ".zgroup")); err != nil {
			if isNotFound(err) {
				return nil, fmt.Errorf("%w: group %q not found", ErrNotFound, childPath)
			}
			return nil, err
		}
		attrs, err := loadAttrsV2(ctx, childBS)
		if err != nil {
			return nil, err
		}
		child := newGroup(g.store, g, name, childPath, 2, childBS, attrs)
		g.childGroups[name] = child
		return child, nil
	}

	// v3: an explicit zarr.json with node_type="group", or an implicit
	// group (any directory lacking its own zarr.json).
	raw, err := g.bs.Read(ctx, path.Join(name, "zarr.json"))
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	var attrs *AttributeBag
	if err == nil {
		doc, err := loadZarrJSONV3(raw)
		if err != nil {
			return nil, err
		}
		if doc.NodeType != "group" {
			return nil, fmt.Errorf("%w: %q is a %s, not a group", ErrFormat, childPath, doc.NodeType)
		}
		attrs, err = attrBagFromRaw(doc.Attributes)
		if err != nil {
			return nil, err
		}
	} else {
		attrs = NewAttributeBag()
	}
	child := newGroup(g.store, g, name, childPath, 3, childBS, attrs)
	g.childGroups[name] = child
	return child, nil
}

// CreateGroup bootstraps a new child group on disk and in the registry
// (spec §4.8 create_group).
func (g *Group) CreateGroup(ctx context.Context, name string) (*Group, error) {
	if err := g.checkUsable(); err != nil {
		return nil, err
	}
	if err := validateObjectName(name); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.childGroups[name]; exists {
		return nil, fmt.Errorf("%w: %q already exists", ErrInvalidArgument, name)
	}
	if _, exists := g.childArrays[name]; exists {
		return nil, fmt.Errorf("%w: %q already exists as an array", ErrInvalidArgument, name)
	}

	childPath := path.Join(g.path, name)
	childBS := g.bs.WithPrefix(name)
	attrs := NewAttributeBag()

	if g.version == 2 {
		if err := childBS.Write(ctx, ".zgroup", []byte(`{"zarr_format":2}`)); err != nil {
			return nil, err
		}
		if err := writeAttrsV2(ctx, childBS, attrs); err != nil {
			return nil, err
		}
	} else {
		doc := zarrJSONV3{ZarrFormat: 3, NodeType: "group", Attributes: json.RawMessage("{}")}
		data, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		if err := childBS.WriteAtomic(ctx, "zarr.json", data); err != nil {
			return nil, err
		}
	}

	child := newGroup(g.store, g, name, childPath, g.version, childBS, attrs)
	g.childGroups[name] = child
	g.store.ctx.markConsolidatedDirty()
	return child, nil
}

// OpenArray opens or returns a cached handle to a child array.
func (g *Group) OpenArray(ctx context.Context, name string) (*Array, error) {
	if err := g.checkUsable(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if child, ok := g.childArrays[name]; ok {
		return child, nil
	}

	childPath := path.Join(g.path, name)
	childBS := g.bs.WithPrefix(name)

	var arr *Array
	var err error
	if g.version == 2 {
		arr, err = openArrayV2(ctx, g.store, g, name, childPath, childBS)
	} else {
		arr, err = openArrayV3(ctx, g.store, g, name, childPath, childBS)
	}
	if err != nil {
		return nil, err
	}
	if err := g.bindSpecialAttributes(arr); err != nil {
		return nil, err
	}
	g.childArrays[name] = arr
	return arr, nil
}

// CreateArray bootstraps a new child array on disk (spec §4.8
// create_array).
func (g *Group) CreateArray(ctx context.Context, name string, spec ArraySpec) (*Array, error) {
	if err := g.checkUsable(); err != nil {
		return nil, err
	}
	if err := validateObjectName(name); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.childArrays[name]; exists {
		return nil, fmt.Errorf("%w: %q already exists", ErrInvalidArgument, name)
	}
	if _, exists := g.childGroups[name]; exists {
		return nil, fmt.Errorf("%w: %q already exists as a group", ErrInvalidArgument, name)
	}
	if len(spec.InnerChunkShape) == 0 {
		spec.InnerChunkShape = spec.OuterChunkShape
	}

	childPath := path.Join(g.path, name)
	childBS := g.bs.WithPrefix(name)

	var arr *Array
	var err error
	if g.version == 2 {
		arr, err = createArrayV2(ctx, g.store, g, name, childPath, childBS, spec)
	} else {
		arr, err = createArrayV3(ctx, g.store, g, name, childPath, childBS, spec)
	}
	if err != nil {
		return nil, err
	}

	dims, err := g.resolveDimensions(spec.DimensionNames, spec.Shape)
	if err != nil {
		return nil, err
	}
	arr.dims = dims
	if len(dims) == 1 && dims[0].Name() == name {
		_ = dims[0].BindIndexingArray(arr)
	}

	g.childArrays[name] = arr
	return arr, nil
}

// resolveDimensions looks up or creates local dimensions for each axis
// name, naming unnamed axes "dim<i>" (spec §4.8 create_dimension, §3.1
// Dimension invariant). CreateArray then binds a rank-1 array as the
// indexing variable of the dimension that shares its name.
func (g *Group) resolveDimensions(names []string, shape []uint64) ([]*Dimension, error) {
	dims := make([]*Dimension, len(shape))
	for i, size := range shape {
		name := fmt.Sprintf("dim%d", i)
		if i < len(names) && names[i] != "" {
			name = names[i]
		}
		d, ok := g.dims[name]
		if !ok {
			d = NewDimension(name, size, "", "")
			d.group = g
			g.dims[name] = d
		}
		dims[i] = d
	}
	return dims, nil
}

// CreateDimension creates (or returns) a local dimension and, if an
// array of the same name/rank-1/matching-size already exists as a
// sibling, binds it as the indexing variable (spec §4.8
// create_dimension).
func (g *Group) CreateDimension(ctx context.Context, name, dimType, direction string, size uint64) (*Dimension, error) {
	if err := validateObjectName(name); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if d, ok := g.dims[name]; ok {
		return d, nil
	}
	d := NewDimension(name, size, dimType, direction)
	d.group = g
	g.dims[name] = d

	if arr, ok := g.childArrays[name]; ok {
		if len(arr.Shape()) == 1 && arr.Shape()[0] == size {
			_ = d.BindIndexingArray(arr)
		}
	}
	return d, nil
}

// bindSpecialAttributes runs spec §4.9 special-attribute parsing on
// array open, attaching derived dimension names/types and consuming the
// recognized keys from the array's attribute bag.
func (g *Group) bindSpecialAttributes(arr *Array) error {
	special := ParseSpecialAttributes(arr.attrs)
	arr.special = special

	for i, dimName := range special.XArrayDimensionNames {
		if i >= len(arr.dims) {
			break
		}
		if dimName == "" {
			continue
		}
		d, ok := g.dims[dimName]
		if !ok {
			d = NewDimension(dimName, arr.Shape()[i], "", "")
			d.group = g
			g.dims[dimName] = d
		}
		arr.dims[i] = d
		if d.Name() == arr.name && len(arr.Shape()) == 1 {
			_ = d.BindIndexingArray(arr)
		}
	}

	if special.Axis != "" || special.Positive != "" {
		dt, dir := DeriveDimensionTypeDirection(special.Axis, special.Positive)
		for _, d := range arr.dims {
			if d.Name() == arr.name {
				d.mu.Lock()
				if dt != "" {
					d.dimType = dt
				}
				if dir != "" {
					d.direction = dir
				}
				d.mu.Unlock()
			}
		}
	}
	return nil
}

// DeleteArray drops an array from the group's registry and marks its
// in-memory handle deleted (spec §4.8 delete_array). The array's
// directory is left on disk, and the Array's own methods do not check
// the deleted mark.
func (g *Group) DeleteArray(ctx context.Context, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	arr, ok := g.childArrays[name]
	if !ok {
		return fmt.Errorf("%w: array %q not found", ErrNotFound, name)
	}
	arr.mu.Lock()
	arr.deleted = true
	arr.mu.Unlock()
	delete(g.childArrays, name)
	g.store.ctx.markConsolidatedDirty()
	return nil
}

// DeleteGroup removes a child group's in-memory handle (spec §4.8
// delete_group).
func (g *Group) DeleteGroup(ctx context.Context, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	child, ok := g.childGroups[name]
	if !ok {
		return fmt.Errorf("%w: group %q not found", ErrNotFound, name)
	}
	child.mu.Lock()
	child.deleted = true
	child.mu.Unlock()
	delete(g.childGroups, name)
	g.store.ctx.markConsolidatedDirty()
	return nil
}

// DeleteAttribute removes an attribute from the group's bag (spec §4.8
// delete_attribute).
func (g *Group) DeleteAttribute(name string) {
	g.attrs.Delete(name)
	g.mu.Lock()
	g.modified = true
	g.mu.Unlock()
	g.store.ctx.markConsolidatedDirty()
}

// RenameArray renames a child array, moving its on-disk directory,
// updating the group's name table, and — when the array is also bound
// as a dimension's own indexing variable — renaming that dimension to
// follow it (spec §4.8 "Renaming": "array renames update the parent
// group's name table and the on-disk directory name"; "dimension names
// carry through arrays that list them").
func (g *Group) RenameArray(ctx context.Context, oldName, newName string) error {
	if err := g.checkUsable(); err != nil {
		return err
	}
	if err := validateObjectName(newName); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	arr, ok := g.childArrays[oldName]
	if !ok {
		return fmt.Errorf("%w: array %q not found", ErrNotFound, oldName)
	}
	if oldName == newName {
		return nil
	}
	if _, exists := g.childArrays[newName]; exists {
		return fmt.Errorf("%w: %q already exists", ErrInvalidArgument, newName)
	}
	if _, exists := g.childGroups[newName]; exists {
		return fmt.Errorf("%w: %q already exists as a group", ErrInvalidArgument, newName)
	}

	oldFullPrefix := g.bs.key(oldName)
	newFullPrefix := g.bs.key(newName)
	if err := g.bs.RenameDir(ctx, oldName, newName); err != nil {
		return err
	}

	arr.mu.Lock()
	arr.name = newName
	arr.path = path.Join(g.path, newName)
	arr.bs = rebaseByteStore(arr.bs, oldFullPrefix, newFullPrefix)
	arr.mu.Unlock()

	delete(g.childArrays, oldName)
	g.childArrays[newName] = arr

	if d, ok := g.dims[oldName]; ok && d.IndexingArray() == arr {
		if err := d.Rename(newName); err == nil {
			delete(g.dims, oldName)
			g.dims[newName] = d
		}
	}

	g.store.ctx.markConsolidatedDirty()
	return nil
}

// RenameGroup renames a child group, moving its on-disk directory and
// every descendant array's/group's ByteStore handle to the new path
// (spec §4.8 "Renaming").
func (g *Group) RenameGroup(ctx context.Context, oldName, newName string) error {
	if err := g.checkUsable(); err != nil {
		return err
	}
	if err := validateObjectName(newName); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	child, ok := g.childGroups[oldName]
	if !ok {
		return fmt.Errorf("%w: group %q not found", ErrNotFound, oldName)
	}
	if oldName == newName {
		return nil
	}
	if _, exists := g.childGroups[newName]; exists {
		return fmt.Errorf("%w: %q already exists", ErrInvalidArgument, newName)
	}
	if _, exists := g.childArrays[newName]; exists {
		return fmt.Errorf("%w: %q already exists as an array", ErrInvalidArgument, newName)
	}

	oldFullPrefix := g.bs.key(oldName)
	newFullPrefix := g.bs.key(newName)
	if err := g.bs.RenameDir(ctx, oldName, newName); err != nil {
		return err
	}

	child.rebaseSubtree(oldFullPrefix, newFullPrefix, newName, path.Join(g.path, newName))

	delete(g.childGroups, oldName)
	g.childGroups[newName] = child

	g.store.ctx.markConsolidatedDirty()
	return nil
}

// rebaseSubtree updates g and every descendant array/group after an
// ancestor directory rename: each node's own name/path/bs, plus every
// array's path (a group rename never changes an array's own name,
// only the prefix it is addressed under).
func (g *Group) rebaseSubtree(oldPrefix, newPrefix, newName, newPath string) {
	g.mu.Lock()
	g.name = newName
	g.path = newPath
	g.bs = rebaseByteStore(g.bs, oldPrefix, newPrefix)
	arrays := make([]*Array, 0, len(g.childArrays))
	for _, a := range g.childArrays {
		arrays = append(arrays, a)
	}
	children := make([]*Group, 0, len(g.childGroups))
	for _, c := range g.childGroups {
		children = append(children, c)
	}
	g.mu.Unlock()

	for _, a := range arrays {
		a.mu.Lock()
		a.path = path.Join(newPath, a.name)
		a.bs = rebaseByteStore(a.bs, oldPrefix, newPrefix)
		a.mu.Unlock()
	}
	for _, c := range children {
		c.rebaseSubtree(oldPrefix, newPrefix, c.name, path.Join(newPath, c.name))
	}
}

// ArrayKeys lists immediate child array names (spec §4.1 list_dir,
// §4.8). Consolidated metadata, when present on the owning Store, is
// consulted first so no directory listing round trip is needed (spec §8
// scenario 5).
func (g *Group) ArrayKeys(ctx context.Context) ([]string, error) {
	if names, ok := g.store.consolidatedChildArrayNames(g.path); ok {
		return names, nil
	}
	return g.listChildrenByMarker(ctx, g.isArrayMarker)
}

// GroupKeys lists immediate child group names.
func (g *Group) GroupKeys(ctx context.Context) ([]string, error) {
	if names, ok := g.store.consolidatedChildGroupNames(g.path); ok {
		return names, nil
	}
	return g.listChildrenByMarker(ctx, g.isGroupMarker)
}

func (g *Group) listChildrenByMarker(ctx context.Context, match func(ctx context.Context, childName string) (bool, error)) ([]string, error) {
	names, _, err := g.bs.ListDir(ctx, "", 0)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, n := range names {
		ok, err := match(ctx, n)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, n)
		}
	}
	return out, nil
}

func (g *Group) isArrayMarker(ctx context.Context, childName string) (bool, error) {
	if g.version == 2 {
		return g.bs.Exists(ctx, path.Join(childName, ".zarray"))
	}
	return g.isV3NodeType(ctx, childName, "array")
}

func (g *Group) isGroupMarker(ctx context.Context, childName string) (bool, error) {
	if g.version == 2 {
		return g.bs.Exists(ctx, path.Join(childName, ".zgroup"))
	}
	has, err := g.isV3NodeType(ctx, childName, "group")
	if err != nil || has {
		return has, err
	}
	// v3 implicit group: a directory with no zarr.json at all.
	hasJSON, err := g.bs.Exists(ctx, path.Join(childName, "zarr.json"))
	if err != nil {
		return false, err
	}
	return !hasJSON, nil
}

func (g *Group) isV3NodeType(ctx context.Context, childName, nodeType string) (bool, error) {
	raw, err := g.bs.Read(ctx, path.Join(childName, "zarr.json"))
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	doc, err := loadZarrJSONV3(raw)
	if err != nil {
		return false, err
	}
	return doc.NodeType == nodeType, nil
}

func loadAttrsV2(ctx context.Context, bs *ByteStore) (*AttributeBag, error) {
	raw, err := bs.Read(ctx, ".zattrs")
	if err != nil {
		if isNotFound(err) {
			return NewAttributeBag(), nil
		}
		return nil, err
	}
	return attrBagFromRaw(raw)
}

func writeAttrsV2(ctx context.Context, bs *ByteStore, attrs *AttributeBag) error {
	data, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return bs.WriteAtomic(ctx, ".zattrs", data)
}

// flushTree recursively flushes every dirty array beneath g and persists
// any modified group/array metadata, used once by Store.Close (spec §4.1
// Store.close).
func (g *Group) flushTree(ctx context.Context) error {
	g.mu.Lock()
	arrays := make([]*Array, 0, len(g.childArrays))
	for _, a := range g.childArrays {
		arrays = append(arrays, a)
	}
	children := make([]*Group, 0, len(g.childGroups))
	for _, c := range g.childGroups {
		children = append(children, c)
	}
	modified := g.modified
	g.modified = false
	g.mu.Unlock()

	if modified || g.attrs.IsModified() {
		if err := g.persistAttributes(ctx); err != nil {
			return err
		}
	}
	for _, a := range arrays {
		if err := a.Flush(ctx); err != nil {
			return err
		}
		if err := a.persistMetadataIfModified(ctx); err != nil {
			return err
		}
	}
	for _, c := range children {
		if err := c.flushTree(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (g *Group) persistAttributes(ctx context.Context) error {
	if g.version == 2 {
		if err := writeAttrsV2(ctx, g.bs, g.attrs); err != nil {
			return err
		}
		g.attrs.UnsetModified()
		return nil
	}
	raw, err := g.bs.Read(ctx, "zarr.json")
	if err != nil {
		return err
	}
	var doc zarrJSONV3
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: zarr.json: %v", ErrFormat, err)
	}
	data, err := json.Marshal(g.attrs)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	doc.Attributes = data
	out, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if err := g.bs.WriteAtomic(ctx, "zarr.json", out); err != nil {
		return err
	}
	g.attrs.UnsetModified()
	return nil
}

// collectConsolidated gathers g's own metadata document plus every
// descendant's, keyed by path relative to the store root, for a
// whole-tree consolidated metadata rewrite (SPEC_FULL.md §C).
func (g *Group) collectConsolidated(ctx context.Context, relPath string, out map[string]json.RawMessage) error {
	groupDoc := func(key string) error {
		if g.version == 2 {
			out[path.Join(relPath, ".zgroup")] = json.RawMessage(`{"zarr_format":2}`)
			if data, err := json.Marshal(g.attrs); err == nil {
				out[path.Join(relPath, ".zattrs")] = data
			}
			return nil
		}
		doc := zarrJSONV3{ZarrFormat: 3, NodeType: "group"}
		data, err := json.Marshal(g.attrs)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrFormat, err)
		}
		doc.Attributes = data
		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrFormat, err)
		}
		out[key] = raw
		return nil
	}
	key := "zarr.json"
	if relPath != "" {
		key = path.Join(relPath, "zarr.json")
	}
	if err := groupDoc(key); err != nil {
		return err
	}

	g.mu.Lock()
	arrays := make(map[string]*Array, len(g.childArrays))
	for name, a := range g.childArrays {
		arrays[name] = a
	}
	children := make(map[string]*Group, len(g.childGroups))
	for name, c := range g.childGroups {
		children[name] = c
	}
	g.mu.Unlock()

	for name, a := range arrays {
		childRel := name
		if relPath != "" {
			childRel = path.Join(relPath, name)
		}
		doc, err := a.metadataDoc()
		if err != nil {
			return err
		}
		if g.version == 2 {
			out[path.Join(childRel, ".zarray")] = doc
			if data, err := json.Marshal(a.attrs); err == nil {
				out[path.Join(childRel, ".zattrs")] = data
			}
		} else {
			out[path.Join(childRel, "zarr.json")] = doc
		}
	}
	for name, c := range children {
		childRel := name
		if relPath != "" {
			childRel = path.Join(relPath, name)
		}
		if err := c.collectConsolidated(ctx, childRel, out); err != nil {
			return err
		}
	}
	return nil
}

func attrBagFromRaw(raw json.RawMessage) (*AttributeBag, error) {
	if len(raw) == 0 {
		return NewAttributeBag(), nil
	}
	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("%w: attributes: %v", ErrFormat, err)
	}
	return LoadAttributeBag(values), nil
}
