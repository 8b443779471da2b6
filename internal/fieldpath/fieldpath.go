// internal/fieldpath/fieldpath.go
package fieldpath

import (
	"strconv"
	"strings"

	"github.com/solatis/formkeeper/internal/types"
)

/*
 * Path parsing and string-level helpers.
 *
 * A path addresses a slot in the nested form-data tree. Dot notation
 * (experience.0.start) and bracket notation (experience[0].start) parse to
 * the same segment list and normalize to the same canonical dot string.
 *
 * Key functions:
 *   - Parse: path string -> []types.PathSegment
 *   - Normalize: canonical dot form, idempotent
 *   - IsChild / Parent / Last / Join: string helpers on canonical paths
 *
 * Index segments are canonical non-negative integers ("0", "12") or a
 * negative integer meaning "append". "007" stays a key so map keys round
 * trip unchanged. "*" is a wildcard and only valid in rule patterns.
 * Keys containing a dot are not addressable: a['x.y'] is a.x.y.
 */

// Parse splits a path into segments. Bracket notation is rewritten to dot
// notation, quoted bracket keys are unquoted and empty segments collapse.
func Parse(path string) []types.PathSegment {
	raw := split(path)
	segs := make([]types.PathSegment, 0, len(raw))
	for _, r := range raw {
		segs = append(segs, segment(r))
	}
	return segs
}

// Normalize returns the canonical dot form of path.
func Normalize(path string) string {
	return Format(Parse(path))
}

// Format renders segments as a canonical dot path.
func Format(segs []types.PathSegment) string {
	var b strings.Builder
	for i, seg := range segs {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(segmentString(seg))
	}
	return b.String()
}

// IsChild reports whether child is strictly below parent.
// The empty parent is the root, so every non-empty path is its child.
func IsChild(parent, child string) bool {
	p := Normalize(parent)
	c := Normalize(child)
	if p == "" {
		return c != ""
	}
	return strings.HasPrefix(c, p+".")
}

// Related reports whether a and b address the same slot or one contains the other.
func Related(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	return na == nb || IsChild(na, nb) || IsChild(nb, na)
}

// Parent returns the path of the enclosing container, or "" at the top level.
func Parent(path string) string {
	p := Normalize(path)
	if i := strings.LastIndexByte(p, '.'); i >= 0 {
		return p[:i]
	}
	return ""
}

// Last returns the final segment of path.
func Last(path string) string {
	p := Normalize(path)
	if i := strings.LastIndexByte(p, '.'); i >= 0 {
		return p[i+1:]
	}
	return p
}

// Join concatenates path parts, collapsing repeated separators and
// stripping leading ones.
func Join(parts ...string) string {
	return Normalize(strings.Join(parts, "."))
}

// HasWildcard reports whether path contains a "*" segment.
func HasWildcard(path string) bool {
	for _, seg := range Parse(path) {
		if seg.Wildcard {
			return true
		}
	}
	return false
}

// split tokenizes on '.', '[' and ']' and drops empty tokens.
func split(path string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch c {
		case '.':
			flush()
		case '[':
			flush()
			end := strings.IndexByte(path[i+1:], ']')
			if end < 0 {
				// Unterminated bracket: the rest is the key.
				end = len(path) - i - 1
			}
			// Dots separate segments inside quotes too, so a bracket key
			// parses the same as its canonical dot form.
			for _, part := range strings.Split(unquote(path[i+1:i+1+end]), ".") {
				cur.WriteString(part)
				flush()
			}
			i += end + 1
		case ']':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return out
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func segment(raw string) types.PathSegment {
	if raw == "*" {
		return types.PathSegment{Wildcard: true}
	}
	if n, ok := canonicalIndex(raw); ok {
		return types.PathSegment{Index: n, IsIndex: true}
	}
	return types.PathSegment{Key: raw}
}

// canonicalIndex accepts "0", "12", "-1" but not "007", "+1" or "1e3".
func canonicalIndex(raw string) (int, bool) {
	digits := raw
	if strings.HasPrefix(digits, "-") {
		digits = digits[1:]
	}
	if digits == "" || (len(digits) > 1 && digits[0] == '0') {
		return 0, false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

func segmentString(seg types.PathSegment) string {
	switch {
	case seg.Wildcard:
		return "*"
	case seg.IsIndex:
		return strconv.Itoa(seg.Index)
	default:
		return seg.Key
	}
}

// segmentKey is the map key a segment addresses.
func segmentKey(seg types.PathSegment) string {
	return segmentString(seg)
}
