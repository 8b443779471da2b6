// internal/fieldpath/match.go
package fieldpath

import (
	"strconv"

	"github.com/solatis/formkeeper/internal/types"
)

// Match reports whether a concrete path matches a wildcard pattern and
// returns the index captured by each "*" in order. Wildcards only match
// index segments.
func Match(pattern, path string) ([]string, bool) {
	ps := Parse(pattern)
	cs := Parse(path)
	if len(ps) != len(cs) {
		return nil, false
	}
	var captures []string
	for i, p := range ps {
		c := cs[i]
		switch {
		case p.Wildcard:
			if !c.IsIndex || c.Index < 0 {
				return nil, false
			}
			captures = append(captures, strconv.Itoa(c.Index))
		case p.IsIndex:
			if !c.IsIndex || c.Index != p.Index {
				return nil, false
			}
		default:
			if c.IsIndex || c.Wildcard || c.Key != p.Key {
				return nil, false
			}
		}
	}
	return captures, true
}

// Substitute replaces the wildcards of pattern with captures in order.
// It reports false when there are fewer captures than wildcards; leftover
// wildcards are kept in the result.
func Substitute(pattern string, captures []string) (string, bool) {
	segs := Parse(pattern)
	n := 0
	complete := true
	for i, seg := range segs {
		if !seg.Wildcard {
			continue
		}
		if n >= len(captures) {
			complete = false
			continue
		}
		segs[i] = segment(captures[n])
		n++
	}
	return Format(segs), complete
}

// Expand lists the concrete paths a pattern addresses in tree. Non-wildcard
// segments are kept whether or not the slot exists, so required-field rules
// still see missing leaves. A wildcard fans out over the sequence present
// at that position; when there is none the pattern yields nothing.
func Expand(pattern string, tree any) []string {
	segs := Parse(pattern)
	if len(segs) > types.MaxPathDepth || countWildcards(segs) > types.MaxNestedWildcards {
		return nil
	}
	var out []string
	expand(segs, tree, nil, &out)
	return out
}

func expand(segs []types.PathSegment, cur any, prefix []types.PathSegment, out *[]string) {
	if len(segs) == 0 {
		*out = append(*out, Format(prefix))
		return
	}
	seg := segs[0]
	if seg.Wildcard {
		seq, ok := cur.([]any)
		if !ok {
			return
		}
		for i, elem := range seq {
			next := append(append([]types.PathSegment(nil), prefix...), types.PathSegment{Index: i, IsIndex: true})
			expand(segs[1:], elem, next, out)
		}
		return
	}
	next := append(append([]types.PathSegment(nil), prefix...), seg)
	var child any
	switch v := cur.(type) {
	case map[string]any:
		child = v[segmentKey(seg)]
	case []any:
		if seg.IsIndex && seg.Index >= 0 && seg.Index < len(v) {
			child = v[seg.Index]
		}
	}
	expand(segs[1:], child, next, out)
}

func countWildcards(segs []types.PathSegment) int {
	n := 0
	for _, seg := range segs {
		if seg.Wildcard {
			n++
		}
	}
	return n
}
