// internal/schema/extract.go
package schema

import (
	"encoding/hex"

	"github.com/solatis/formkeeper/internal/fieldpath"
	"github.com/solatis/formkeeper/internal/rules"
)

// Extraction is the flattened view of a node tree.
type Extraction struct {
	Rules    map[string]string // path pattern -> rule string
	Messages rules.Messages    // "path:rule" -> message
	Labels   map[string]string // path pattern -> label
}

// Extract flattens nodes into rule, message and label maps keyed by path
// pattern. Repeatable nodes add a "*" segment for their rows and sections
// are skipped with their subtree.
func Extract(fields []*Node) Extraction {
	ex := Extraction{
		Rules:    make(map[string]string),
		Messages: make(rules.Messages),
		Labels:   make(map[string]string),
	}
	Walk(fields, func(path string, n *Node) {
		if n.Rules != "" {
			ex.Rules[path] = n.Rules
		}
		for rule, msg := range n.Messages {
			ex.Messages[path+":"+rule] = msg
		}
		if n.Label != "" {
			ex.Labels[path] = n.Label
		}
	})
	return ex
}

// Walk visits every non-section node depth first in declaration order with
// its path pattern.
func Walk(fields []*Node, fn func(path string, n *Node)) {
	walk(fields, "", fn)
}

func walk(nodes []*Node, prefix string, fn func(path string, n *Node)) {
	for _, n := range nodes {
		if n.Kind == KindSection {
			continue
		}
		path := fieldpath.Join(prefix, n.Name)
		fn(path, n)
		child := path
		if n.Kind.Repeats() {
			child = fieldpath.Join(path, "*")
		}
		walk(n.Subfields, child, fn)
	}
}

// Extract flattens the definition's fields.
func (d *Definition) Extract() Extraction {
	return Extract(d.Fields)
}

// RuleSet returns the compiled rules of the definition.
func (d *Definition) RuleSet() *rules.RuleSet {
	return d.set
}

// NewValidator returns a fresh validator over the definition's rules. Each
// form needs its own: a validator holds per-form error state.
func (d *Definition) NewValidator(opts ...rules.Option) *rules.Validator {
	return rules.NewFromSet(d.set, opts...)
}

// ETag is a content hash of the definition source, stable across reloads
// of unchanged files.
func (d *Definition) ETag() string {
	return hex.EncodeToString(d.digest[:])
}

// InitialData returns a deep copy of the definition's initial values.
func (d *Definition) InitialData() map[string]any {
	return fieldpath.CloneMap(d.Initial)
}

// compile builds the rule set from the extracted maps.
func (d *Definition) compile() error {
	ex := d.Extract()
	set, err := rules.Compile(ex.Rules, rules.WithMessages(ex.Messages), rules.WithLabels(ex.Labels))
	if err != nil {
		return err
	}
	d.set = set
	return nil
}
