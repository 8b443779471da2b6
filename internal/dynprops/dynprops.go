// Package dynprops evaluates schema-declared props and visibility
// conditions against live form state.
//
// Values that are not strings, or strings without a template, pass through
// unchanged. Every call takes a fresh snapshot of the source, so the
// functions can run on every state change without side effects.
package dynprops

import (
	"sort"
	"strings"

	"github.com/solatis/formkeeper/internal/expression"
	"github.com/solatis/formkeeper/internal/fieldpath"
	"github.com/solatis/formkeeper/internal/schema"
)

// Source is the form state expressions read. *form.Form implements it.
type Source interface {
	Data() map[string]any
	Errors() map[string][]string
}

// Evaluator binds a source, external context and configuration.
type Evaluator struct {
	Source  Source
	Context map[string]any
	Config  expression.Config

	// Expr runs the expressions; nil uses expression.Default().
	Expr *expression.Evaluator
}

func (e *Evaluator) expr() *expression.Evaluator {
	if e.Expr != nil {
		return e.Expr
	}
	return expression.Default()
}

func (e *Evaluator) snapshot() expression.Context {
	ctx := expression.Context{Context: e.Context}
	if e.Source != nil {
		ctx.Form = e.Source.Data()
		ctx.Errors = e.Source.Errors()
	}
	if ctx.Form == nil {
		ctx.Form = map[string]any{}
	}
	return ctx
}

// Evaluate resolves one value. Maps and lists are resolved element-wise
// into new containers.
func (e *Evaluator) Evaluate(value any) any {
	return e.evaluate(value, e.snapshot())
}

// EvaluateProps resolves every value of props into a new map. Nested maps
// and lists are recursed; props itself is never modified.
func (e *Evaluator) EvaluateProps(props map[string]any) map[string]any {
	if props == nil {
		return map[string]any{}
	}
	return e.evaluate(props, e.snapshot()).(map[string]any)
}

func (e *Evaluator) evaluate(value any, ctx expression.Context) any {
	switch v := value.(type) {
	case string:
		return e.expr().EvaluateTemplateString(v, ctx, e.Config)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = e.evaluate(val, ctx)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = e.evaluate(val, ctx)
		}
		return out
	}
	return value
}

// Visible evaluates a visibility condition. nil and "" are visible.
func (e *Evaluator) Visible(condition any) bool {
	if s, ok := condition.(string); ok && strings.TrimSpace(s) == "" {
		return true
	}
	return e.expr().EvaluateCondition(condition, e.snapshot(), e.Config)
}

// VisibleFields reports visibility per path pattern of def. A node inside a
// hidden node is hidden whatever its own condition says.
func (e *Evaluator) VisibleFields(def *schema.Definition) map[string]bool {
	ctx := e.snapshot()
	out := make(map[string]bool)
	var hidden []string

	schema.Walk(def.Fields, func(path string, n *schema.Node) {
		for _, h := range hidden {
			if fieldpath.IsChild(h, path) {
				out[path] = false
				return
			}
		}
		visible := strings.TrimSpace(n.Visible) == "" || e.expr().EvaluateCondition(n.Visible, ctx, e.Config)
		out[path] = visible
		if !visible {
			hidden = append(hidden, path)
		}
	})
	return out
}

// References lists the form paths value reads. A reference to the whole
// form is reported as "".
func (e *Evaluator) References(value any) []string {
	seen := make(map[string]bool)
	collectRefs(value, e.Config, seen)
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func collectRefs(value any, cfg expression.Config, seen map[string]bool) {
	switch v := value.(type) {
	case string:
		for _, p := range expression.References(v, cfg) {
			seen[p] = true
		}
	case map[string]any:
		for _, val := range v {
			collectRefs(val, cfg, seen)
		}
	case []any:
		for _, val := range v {
			collectRefs(val, cfg, seen)
		}
	}
}
