// internal/fieldpath/resolve.go
package fieldpath

import (
	"sort"

	"github.com/solatis/formkeeper/internal/types"
)

/*
 * Wildcard-aware resolution against the form-data tree.
 *
 * Resolve follows a segment chain and returns the first match under ANY
 * semantics. Wildcards on mappings iterate keys in sorted order so results
 * are deterministic. MaxPathDepth and MaxNestedWildcards are enforced up
 * front. Expression helpers use this to read a pattern like
 * "experience.*.company" without expanding the whole tree.
 */

// ResolveResult contains the resolved value and the concrete path taken.
type ResolveResult struct {
	Value        any                 // resolved value (nil if not found)
	ResolvedPath []types.PathSegment // path with wildcards replaced by actual indices
	Found        bool
}

// Path returns the resolved path in canonical dot form.
func (r ResolveResult) Path() string {
	return Format(r.ResolvedPath)
}

// Resolve traverses tree following path.
// Returns ErrPathTooDeep if path exceeds MaxPathDepth.
// Returns ErrTooManyWildcards if path contains > MaxNestedWildcards wildcards.
// Returns ErrFieldNotFound if path does not exist in tree.
func Resolve(path []types.PathSegment, tree any) (ResolveResult, error) {
	if len(path) > types.MaxPathDepth {
		return ResolveResult{}, types.ErrPathTooDeep
	}
	if countWildcards(path) > types.MaxNestedWildcards {
		return ResolveResult{}, types.ErrTooManyWildcards
	}
	return resolveRecursive(path, tree, nil)
}

// ResolveString is Resolve for a path string.
func ResolveString(path string, tree any) (ResolveResult, error) {
	return Resolve(Parse(path), tree)
}

func resolveRecursive(path []types.PathSegment, current any, resolvedSoFar []types.PathSegment) (ResolveResult, error) {
	if len(path) == 0 {
		return ResolveResult{Value: current, ResolvedPath: resolvedSoFar, Found: true}, nil
	}

	seg := path[0]
	remaining := path[1:]

	switch v := current.(type) {
	case map[string]any:
		if seg.Wildcard {
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, key := range keys {
				resolved := appendSeg(resolvedSoFar, types.PathSegment{Key: key})
				if result, err := resolveRecursive(remaining, v[key], resolved); err == nil && result.Found {
					return result, nil
				}
			}
			return ResolveResult{}, types.ErrFieldNotFound
		}
		val, ok := v[segmentKey(seg)]
		if !ok {
			return ResolveResult{}, types.ErrFieldNotFound
		}
		return resolveRecursive(remaining, val, appendSeg(resolvedSoFar, seg))

	case []any:
		if seg.Wildcard {
			for i, elem := range v {
				resolved := appendSeg(resolvedSoFar, types.PathSegment{Index: i, IsIndex: true})
				if result, err := resolveRecursive(remaining, elem, resolved); err == nil && result.Found {
					return result, nil
				}
			}
			return ResolveResult{}, types.ErrFieldNotFound
		}
		if !seg.IsIndex || seg.Index < 0 || seg.Index >= len(v) {
			return ResolveResult{}, types.ErrFieldNotFound
		}
		return resolveRecursive(remaining, v[seg.Index], appendSeg(resolvedSoFar, seg))

	default:
		// Scalar or null with path remaining.
		return ResolveResult{}, types.ErrFieldNotFound
	}
}

// appendSeg copies before appending so sibling branches never share backing arrays.
func appendSeg(path []types.PathSegment, seg types.PathSegment) []types.PathSegment {
	out := make([]types.PathSegment, len(path), len(path)+1)
	copy(out, path)
	return append(out, seg)
}
