// internal/dynprops/computed.go
package dynprops

import (
	"sync"

	"github.com/solatis/formkeeper/internal/fieldpath"
	"github.com/solatis/formkeeper/internal/form"
)

// Computed is a value derived from a form that recomputes when a path it
// reads changes or the form resets. Recomputation happens inside the
// form's event dispatch, so Value is current when SetValue returns.
type Computed struct {
	eval  *Evaluator
	expr  any
	refs  []string
	whole bool // reads the whole form

	mu       sync.Mutex
	value    any
	handlers []func(old, cur any)
	subs     []*form.Subscription
	closed   bool
}

// NewComputed binds value to f. The evaluator's Source is replaced by f.
func NewComputed(f *form.Form, e Evaluator, value any) *Computed {
	e.Source = f
	c := &Computed{eval: &e, expr: value}
	for _, ref := range e.References(value) {
		if ref == "" {
			c.whole = true
			continue
		}
		c.refs = append(c.refs, ref)
	}
	c.value = c.eval.Evaluate(value)

	if c.whole || len(c.refs) > 0 {
		c.subs = append(c.subs,
			f.On(form.FieldChanged, func(ev form.Event) {
				if c.reads(ev.Path) {
					c.Refresh()
				}
			}),
			f.On(form.FormReset, func(form.Event) { c.Refresh() }),
		)
	}
	return c
}

func (c *Computed) reads(path string) bool {
	if c.whole {
		return true
	}
	for _, ref := range c.refs {
		if fieldpath.Related(ref, path) {
			return true
		}
	}
	return false
}

// Value returns the last computed value.
func (c *Computed) Value() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Refresh recomputes and notifies handlers when the value changed.
func (c *Computed) Refresh() {
	cur := c.eval.Evaluate(c.expr)

	c.mu.Lock()
	if c.closed || fieldpath.Equal(cur, c.value) {
		c.mu.Unlock()
		return
	}
	old := c.value
	c.value = cur
	handlers := append([]func(old, cur any){}, c.handlers...)
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(old, cur)
	}
}

// OnChange registers fn to run after each change of the value.
func (c *Computed) OnChange(fn func(old, cur any)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, fn)
}

// Close unsubscribes from the form. The value stays readable.
func (c *Computed) Close() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.closed = true
	c.mu.Unlock()
	for _, s := range subs {
		s.Dispose()
	}
}
