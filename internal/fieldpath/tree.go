// internal/fieldpath/tree.go
package fieldpath

import (
	"reflect"

	"github.com/solatis/formkeeper/internal/types"
)

/*
 * Reads and copy-on-write writes against the form-data tree.
 *
 * The tree is map[string]any for mappings and []any for sequences, the
 * shape encoding/json and yaml.v3 decode into. Set never mutates its input:
 * every container on the written path is shallow-copied, so snapshots
 * handed to validators and event handlers stay stable.
 */

// Get returns the value at path and whether it exists.
// The empty path addresses the root.
func Get(tree any, path string) (any, bool) {
	cur := tree
	for _, seg := range Parse(path) {
		switch v := cur.(type) {
		case map[string]any:
			if seg.Wildcard {
				return nil, false
			}
			next, ok := v[segmentKey(seg)]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			if !seg.IsIndex || seg.Index < 0 || seg.Index >= len(v) {
				return nil, false
			}
			cur = v[seg.Index]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Set returns a copy of tree with value written at path. Missing
// containers are created: a sequence when the next segment is an index,
// a mapping otherwise. A negative index appends; an index past the end
// pads the sequence with nil.
func Set(tree map[string]any, path string, value any) (map[string]any, error) {
	segs := Parse(path)
	if len(segs) == 0 {
		return nil, types.ErrEmptyPath
	}
	if len(segs) > types.MaxPathDepth {
		return nil, types.ErrPathTooDeep
	}
	for _, seg := range segs {
		if seg.Wildcard {
			return nil, types.ErrWildcardInPath
		}
	}
	if tree == nil {
		tree = map[string]any{}
	}
	out, err := setIn(tree, segs, value)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func setIn(cur any, segs []types.PathSegment, value any) (any, error) {
	if len(segs) == 0 {
		return value, nil
	}
	seg := segs[0]

	switch v := cur.(type) {
	case []any:
		if !seg.IsIndex {
			return nil, types.ErrPathConflict
		}
		cp := make([]any, len(v))
		copy(cp, v)
		idx := seg.Index
		if idx < 0 {
			idx = len(cp)
		}
		for len(cp) <= idx {
			cp = append(cp, nil)
		}
		child, err := setIn(cp[idx], segs[1:], value)
		if err != nil {
			return nil, err
		}
		cp[idx] = child
		return cp, nil

	case map[string]any:
		cp := make(map[string]any, len(v)+1)
		for k, val := range v {
			cp[k] = val
		}
		key := segmentKey(seg)
		child, err := setIn(cp[key], segs[1:], value)
		if err != nil {
			return nil, err
		}
		cp[key] = child
		return cp, nil

	default:
		// Absent or scalar: replace with a fresh container.
		if seg.IsIndex {
			return setIn([]any{}, segs, value)
		}
		return setIn(map[string]any{}, segs, value)
	}
}

// Delete returns a copy of tree with the slot at path removed. Sequence
// elements are spliced out. Missing paths leave the tree unchanged.
func Delete(tree map[string]any, path string) map[string]any {
	segs := Parse(path)
	if len(segs) == 0 || tree == nil {
		return tree
	}
	out, ok := deleteIn(tree, segs)
	if !ok {
		return tree
	}
	return out.(map[string]any)
}

func deleteIn(cur any, segs []types.PathSegment) (any, bool) {
	seg := segs[0]
	last := len(segs) == 1
	switch v := cur.(type) {
	case map[string]any:
		key := segmentKey(seg)
		child, ok := v[key]
		if !ok {
			return nil, false
		}
		cp := make(map[string]any, len(v))
		for k, val := range v {
			cp[k] = val
		}
		if last {
			delete(cp, key)
			return cp, true
		}
		next, ok := deleteIn(child, segs[1:])
		if !ok {
			return nil, false
		}
		cp[key] = next
		return cp, true
	case []any:
		if !seg.IsIndex || seg.Index < 0 || seg.Index >= len(v) {
			return nil, false
		}
		if last {
			cp := make([]any, 0, len(v)-1)
			cp = append(cp, v[:seg.Index]...)
			return append(cp, v[seg.Index+1:]...), true
		}
		next, ok := deleteIn(v[seg.Index], segs[1:])
		if !ok {
			return nil, false
		}
		cp := make([]any, len(v))
		copy(cp, v)
		cp[seg.Index] = next
		return cp, true
	}
	return nil, false
}

// Clone deep-copies a value. Typed maps and slices (map[string]string,
// []string, ...) are normalized to map[string]any and []any so the rest of
// the package only sees the two container shapes.
func Clone(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		cp := make(map[string]any, len(t))
		for k, val := range t {
			cp[k] = Clone(val)
		}
		return cp
	case []any:
		cp := make([]any, len(t))
		for i, val := range t {
			cp[i] = Clone(val)
		}
		return cp
	case string, bool, int, int64, float64:
		return t
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		cp := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			cp[iter.Key().String()] = Clone(iter.Value().Interface())
		}
		return cp
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return []any{}
		}
		cp := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			cp[i] = Clone(rv.Index(i).Interface())
		}
		return cp
	}
	return v
}

// CloneMap is Clone for a top-level mapping; nil yields an empty map.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return Clone(m).(map[string]any)
}

// Equal reports deep equality of two tree values after normalization.
func Equal(a, b any) bool {
	return reflect.DeepEqual(normalizeNumber(Clone(a)), normalizeNumber(Clone(b)))
}

// normalizeNumber folds integer kinds to float64 so 1 and 1.0 compare equal.
func normalizeNumber(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeNumber(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = normalizeNumber(val)
		}
		return t
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	}
	return v
}
