// Package graphdec decodes payloads that encode an object graph as a flat
// array of interned cells plus "shapes" (field-name → cell-index maps), the
// convention used by releasebot-style __data.json endpoints.
//
// A cell is a scalar, a list of integer indices, or a shape. Shared
// sub-objects appear once in the cell array and are referenced by index
// from multiple shapes.
package graphdec

import "encoding/json"

// maxDepth bounds shape recursion. Observed payloads nest a handful of
// levels; the cap exists to survive malformed self-referential input.
const maxDepth = 50

// Resolve reconstructs the nested object described by shape against the
// flat cell array.
//
// Each shape value is an index into cells. When the value is an integer
// within array bounds it is treated as an offset from base; otherwise the
// value itself is used as an absolute index. Both interpretations occur in
// real payloads and must be preserved. Out-of-range or non-integer indices
// resolve the field to nil.
func Resolve(cells []any, shape map[string]any, base int) map[string]any {
	return resolve(cells, shape, base, 0)
}

func resolve(cells []any, shape map[string]any, base, depth int) map[string]any {
	result := make(map[string]any, len(shape))
	if depth >= maxDepth {
		for key := range shape {
			result[key] = nil
		}
		return result
	}

	for key, raw := range shape {
		idx, ok := cellIndex(raw)
		if !ok {
			result[key] = nil
			continue
		}
		if idx < len(cells) {
			idx += base
		}
		if idx < 0 || idx >= len(cells) {
			result[key] = nil
			continue
		}

		val := cells[idx]
		if sub, isShape := asShape(val); isShape {
			result[key] = resolve(cells, sub, 0, depth+1)
		} else {
			result[key] = val
		}
	}
	return result
}

// asShape reports whether a cell is a shape: a map whose every value is an
// integer index.
func asShape(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for _, fv := range m {
		if _, ok := cellIndex(fv); !ok {
			return nil, false
		}
	}
	return m, true
}

// cellIndex coerces a decoded JSON number to an integer index. json.Decoder
// yields float64 by default and json.Number when configured; plain ints
// show up from hand-built test payloads.
func cellIndex(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

// Index coerces a single shape value to an integer cell index.
func Index(v any) (int, bool) { return cellIndex(v) }

// IndexList coerces a cell holding a list of indices into []int, skipping
// non-integer entries.
func IndexList(v any) ([]int, bool) {
	list, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]int, 0, len(list))
	for _, e := range list {
		if i, ok := cellIndex(e); ok {
			out = append(out, i)
		}
	}
	return out, true
}

// FindRecordList scans a decoded __data.json payload for the first data
// node whose cell array starts with a shape containing key. It returns the
// cell array and the top-level shape; absence yields ok=false.
func FindRecordList(payload map[string]any, key string) (cells []any, shape map[string]any, ok bool) {
	nodes, _ := payload["nodes"].([]any)
	for _, raw := range nodes {
		node, isMap := raw.(map[string]any)
		if !isMap || node["type"] != "data" {
			continue
		}
		data, isList := node["data"].([]any)
		if !isList || len(data) < 2 {
			continue
		}
		top, isShape := asShape(data[0])
		if !isShape {
			continue
		}
		if _, has := top[key]; has {
			return data, top, true
		}
	}
	return nil, nil, false
}
