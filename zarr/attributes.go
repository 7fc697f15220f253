package zarr

import (
	"encoding/json"
	"sort"
	"sync"
)

// AttributeBag is a dynamic JSON-valued map (spec §9 "Dynamic JSON
// attribute bag"). Values are whatever encoding/json produced when
// unmarshaling into `any` (nil, bool, float64, string, []any, map[string]any)
// so arbitrary user attributes round-trip losslessly.
type AttributeBag struct {
	mu       sync.RWMutex
	values   map[string]any
	modified bool
}

// NewAttributeBag builds an empty bag.
func NewAttributeBag() *AttributeBag {
	return &AttributeBag{values: map[string]any{}}
}

// LoadAttributeBag parses a JSON object (as already decoded into
// map[string]any, e.g. from a .zattrs/.zarray "attributes" member).
func LoadAttributeBag(raw map[string]any) *AttributeBag {
	if raw == nil {
		raw = map[string]any{}
	}
	return &AttributeBag{values: raw}
}

// Get returns the raw value and whether it was present.
func (b *AttributeBag) Get(name string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[name]
	return v, ok
}

// Set stores or overwrites an attribute and marks the bag modified.
func (b *AttributeBag) Set(name string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[name] = value
	b.modified = true
}

// Delete removes an attribute; reports whether it existed.
func (b *AttributeBag) Delete(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.values[name]; !ok {
		return false
	}
	delete(b.values, name)
	b.modified = true
	return true
}

// Names returns attribute names in sorted order (stable serialization).
func (b *AttributeBag) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.values))
	for k := range b.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// IsModified reports whether any attribute has been set or deleted since
// load or the last UnsetModified call.
func (b *AttributeBag) IsModified() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.modified
}

// UnsetModified clears the modified flag, typically right after a
// successful flush to disk.
func (b *AttributeBag) UnsetModified() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.modified = false
}

// Snapshot returns a shallow copy of the underlying map, safe to marshal
// without holding the bag's lock.
func (b *AttributeBag) Snapshot() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]any, len(b.values))
	for k, v := range b.values {
		out[k] = v
	}
	return out
}

// MarshalJSON renders the bag as a plain JSON object.
func (b *AttributeBag) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Snapshot())
}

// SpecialAttributes holds the recognized-and-consumed attributes found by
// ParseSpecialAttributes (spec §4.9). Once extracted, these keys are
// removed from the bag so downstream readers of GetAttributes see only
// user attributes, matching the source driver's behavior.
type SpecialAttributes struct {
	// XArrayDimensionNames holds the v2 `_ARRAY_DIMENSIONS` convention:
	// one name per rank, bound to (or creating) a dimension in the
	// enclosing group.
	XArrayDimensionNames []string

	// GridMapping / CRS fields (two competing geo conventions).
	GridMappingVariable string
	CRSWKT              string
	ProjCode            string
	ProjWKT2            string
	ProjJSON            any
	ProjEPSG            int
	HasProjEPSG         bool

	// CF metadata.
	Units         string
	HasUnits      bool
	AddOffset     float64
	HasAddOffset  bool
	ScaleFactor   float64
	HasScale      bool
	Axis          string
	StandardName  string
	Positive      string // "up" or "down"

	ActualRangeMin float64
	ActualRangeMax float64
	HasActualRange bool
}

// ParseSpecialAttributes scans bag for the tags enumerated in spec §4.9
// and removes recognized ones from the bag, returning them structured.
// Called on array open, after the attribute bag itself has been loaded.
func ParseSpecialAttributes(bag *AttributeBag) SpecialAttributes {
	var out SpecialAttributes

	if v, ok := bag.Get("_ARRAY_DIMENSIONS"); ok {
		if arr, ok := v.([]any); ok {
			for _, n := range arr {
				if s, ok := n.(string); ok {
					out.XArrayDimensionNames = append(out.XArrayDimensionNames, s)
				}
			}
			bag.Delete("_ARRAY_DIMENSIONS")
		}
	}

	if v, ok := bag.Get("grid_mapping"); ok {
		if s, ok := v.(string); ok {
			out.GridMappingVariable = s
			bag.Delete("grid_mapping")
		}
	}
	if v, ok := bag.Get("_CRS"); ok {
		if m, ok := v.(map[string]any); ok {
			if wkt, ok := m["wkt"].(string); ok {
				out.CRSWKT = wkt
			}
		} else if s, ok := v.(string); ok {
			out.CRSWKT = s
		}
		bag.Delete("_CRS")
	}
	for _, key := range []string{"proj:code", "proj:epsg"} {
		if v, ok := bag.Get(key); ok {
			switch t := v.(type) {
			case string:
				out.ProjCode = t
			case float64:
				out.ProjEPSG = int(t)
				out.HasProjEPSG = true
			}
			bag.Delete(key)
		}
	}
	if v, ok := bag.Get("proj:wkt2"); ok {
		if s, ok := v.(string); ok {
			out.ProjWKT2 = s
		}
		bag.Delete("proj:wkt2")
	}
	if v, ok := bag.Get("proj:projjson"); ok {
		out.ProjJSON = v
		bag.Delete("proj:projjson")
	}
	for _, key := range allSpatialKeys(bag) {
		// spatial:* keys are consumed wholesale as a namespace; the exact
		// sub-schema is collaborator-defined and out of the engine's
		// scope, so only presence/removal is tracked here.
		bag.Delete(key)
	}

	if v, ok := bag.Get("units"); ok {
		if s, ok := v.(string); ok {
			out.Units = s
			out.HasUnits = true
			bag.Delete("units")
		}
	}
	if v, ok := bag.Get("add_offset"); ok {
		if f, ok := v.(float64); ok {
			out.AddOffset = f
			out.HasAddOffset = true
			bag.Delete("add_offset")
		}
	}
	if v, ok := bag.Get("scale_factor"); ok {
		if f, ok := v.(float64); ok {
			out.ScaleFactor = f
			out.HasScale = true
			bag.Delete("scale_factor")
		}
	}
	if v, ok := bag.Get("axis"); ok {
		if s, ok := v.(string); ok {
			out.Axis = s
			bag.Delete("axis")
		}
	}
	if v, ok := bag.Get("standard_name"); ok {
		if s, ok := v.(string); ok {
			out.StandardName = s
			bag.Delete("standard_name")
		}
	}
	if v, ok := bag.Get("positive"); ok {
		if s, ok := v.(string); ok {
			out.Positive = s
			bag.Delete("positive")
		}
	}

	if v, ok := bag.Get("actual_range"); ok {
		if arr, ok := v.([]any); ok && len(arr) == 2 {
			min, ok1 := arr[0].(float64)
			max, ok2 := arr[1].(float64)
			if ok1 && ok2 {
				out.ActualRangeMin, out.ActualRangeMax = min, max
				out.HasActualRange = true
			}
		}
		bag.Delete("actual_range")
	}

	return out
}

func allSpatialKeys(bag *AttributeBag) []string {
	var keys []string
	for _, name := range bag.Names() {
		if len(name) > 8 && name[:8] == "spatial:" {
			keys = append(keys, name)
		}
	}
	return keys
}

// WriteActualRange writes statistics back to the bag (spec §4.9 "written
// back when statistics are set").
func WriteActualRange(bag *AttributeBag, min, max float64) {
	bag.Set("actual_range", []any{min, max})
}

// DimensionType/DimensionDirection constants (spec §3.1 Dimension).
const (
	DimTypeHorizontalX = "HORIZONTAL_X"
	DimTypeHorizontalY = "HORIZONTAL_Y"
	DimTypeVertical    = "VERTICAL"
	DimTypeTemporal    = "TEMPORAL"

	DimDirectionEast  = "EAST"
	DimDirectionNorth = "NORTH"
	DimDirectionUp    = "UP"
	DimDirectionDown  = "DOWN"
)

// DeriveDimensionTypeDirection maps CF `axis`/`positive` attributes to the
// spec's DimType/DimDirection vocabulary (spec §4.9 CF metadata mapping).
func DeriveDimensionTypeDirection(axis, positive string) (dimType, direction string) {
	switch axis {
	case "X":
		return DimTypeHorizontalX, DimDirectionEast
	case "Y":
		return DimTypeHorizontalY, DimDirectionNorth
	case "Z":
		if positive == "down" {
			return DimTypeVertical, DimDirectionDown
		}
		return DimTypeVertical, DimDirectionUp
	case "T":
		return DimTypeTemporal, ""
	default:
		return "", ""
	}
}
