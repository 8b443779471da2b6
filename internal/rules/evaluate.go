// internal/rules/evaluate.go
package rules

import (
	"github.com/solatis/formkeeper/internal/fieldpath"
)

/*
 * Rule evaluation.
 *
 * Checks the fields of a RuleSet against a form-data tree. Check runs the
 * fields whose pattern matches one concrete path; CheckAll expands every
 * pattern over the tree and checks each concrete path it addresses.
 *
 * Per field:
 *   1. nullable: a nil or missing value skips every rule
 *   2. Empty values (nil, blank strings, empty containers) skip every rule
 *      except the implicit ones (required, required_if, filled, ...)
 *   3. Rules run in declaration order; bail stops at the first failure
 *
 * Field references are resolved relative to the concrete path: the indices
 * captured by the pattern's wildcards are substituted into the reference,
 * so "items.*.end" checked at "items.2.end" reads "items.2.start".
 */

// Failure is one failed rule at a concrete path.
type Failure struct {
	Path    string
	Rule    string
	Message string
}

// evalCtx carries the per-path state a rule check reads.
type evalCtx struct {
	path     string
	value    any
	present  bool
	data     map[string]any
	captures []string
	numeric  bool
}

// other resolves argument i as a field reference at the concrete path.
func (c *evalCtx) other(r *CompiledRule, i int) (string, any, bool) {
	ref, _ := fieldpath.Substitute(r.Args[i].FieldRef, c.captures)
	v, ok := fieldpath.Get(c.data, ref)
	return ref, v, ok
}

// operand returns the parsed literal of argument i or the value of the
// field it references. Empty references report false.
func (c *evalCtx) operand(r *CompiledRule, i int) (any, bool) {
	if r.Args[i].IsRef() {
		_, v, _ := c.other(r, i)
		return v, !isEmpty(v)
	}
	return r.values[i], true
}

func (c *evalCtx) operands(r *CompiledRule) []any {
	out := make([]any, 0, len(r.Args))
	for i := range r.Args {
		if v, ok := c.operand(r, i); ok {
			out = append(out, v)
		}
	}
	return out
}

// Check runs every field whose pattern matches path.
func (s *RuleSet) Check(path string, data map[string]any) []Failure {
	path = fieldpath.Normalize(path)
	var out []Failure
	for i := range s.fields {
		cf := &s.fields[i]
		captures, ok := fieldpath.Match(cf.Pattern, path)
		if !ok {
			continue
		}
		out = append(out, s.checkField(cf, path, captures, data)...)
	}
	return out
}

// CheckAll runs every field over the concrete paths it addresses in data.
// Only failing paths appear in the result.
func (s *RuleSet) CheckAll(data map[string]any) map[string][]Failure {
	out := make(map[string][]Failure)
	for i := range s.fields {
		cf := &s.fields[i]
		for _, p := range fieldpath.Expand(cf.Pattern, data) {
			captures, _ := fieldpath.Match(cf.Pattern, p)
			if failures := s.checkField(cf, p, captures, data); len(failures) > 0 {
				out[p] = append(out[p], failures...)
			}
		}
	}
	return out
}

func (s *RuleSet) checkField(cf *CompiledField, path string, captures []string, data map[string]any) []Failure {
	value, present := fieldpath.Get(data, path)
	if cf.Nullable && value == nil {
		return nil
	}

	c := &evalCtx{
		path:     path,
		value:    value,
		present:  present,
		data:     data,
		captures: captures,
		numeric:  cf.Numeric,
	}
	empty := isEmpty(value)

	var out []Failure
	for i := range cf.Rules {
		r := &cf.Rules[i]
		if empty && !r.def.implicit {
			continue
		}
		if r.def.check(c, r) {
			continue
		}
		out = append(out, Failure{
			Path:    path,
			Rule:    r.Name,
			Message: s.message(cf, c, r),
		})
		if cf.Bail {
			break
		}
	}
	return out
}
