// internal/schema/node.go
package schema

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/solatis/formkeeper/internal/rules"
	"github.com/solatis/formkeeper/internal/types"
)

/*
 * Form definitions.
 *
 * A definition is a named tree of nodes. Every node carries an explicit
 * kind instead of being recognized by the keys it happens to have:
 *
 *   - field: a value slot; with subfields it is an object group
 *   - section: presentational grouping, contributes no data or rules
 *   - repeatable / repeatable-table: a sequence of rows; subfields
 *     describe one row and sit under a "*" segment
 *
 * Fields and subfields are YAML mappings decoded through yaml.Node so the
 * declaration order survives for rendering. "type" is accepted as an alias
 * of "kind".
 */

// Kind tags a schema node.
type Kind string

const (
	KindField           Kind = "field"
	KindSection         Kind = "section"
	KindRepeatable      Kind = "repeatable"
	KindRepeatableTable Kind = "repeatable-table"
)

// Repeats reports whether the node holds a sequence of rows.
func (k Kind) Repeats() bool {
	return k == KindRepeatable || k == KindRepeatableTable
}

func (k Kind) valid() bool {
	switch k {
	case KindField, KindSection, KindRepeatable, KindRepeatableTable:
		return true
	}
	return false
}

// Node is one entry of a definition tree.
type Node struct {
	Name      string
	Kind      Kind
	Label     string
	Rules     string
	Messages  map[string]string // rule name -> message template
	Props     map[string]any
	Visible   string // condition; empty means always visible
	Subfields []*Node
}

// Definition is a named form schema.
type Definition struct {
	Name         string
	Fields       []*Node
	Dependencies map[string][]string
	Initial      map[string]any
	Source       string // file the definition was loaded from

	set    *rules.RuleSet
	digest [32]byte
}

// UnmarshalYAML decodes a node mapping. The node name comes from the parent key.
func (n *Node) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: line %d: node must be a mapping", types.ErrInvalidSchema, value.Line)
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, val := value.Content[i], value.Content[i+1]
		var err error
		switch key.Value {
		case "kind", "type":
			var k string
			err = val.Decode(&k)
			n.Kind = Kind(k)
		case "label":
			err = val.Decode(&n.Label)
		case "rules":
			n.Rules, err = decodeRules(val)
		case "messages":
			err = val.Decode(&n.Messages)
		case "props":
			err = val.Decode(&n.Props)
		case "visible":
			err = val.Decode(&n.Visible)
		case "subfields":
			n.Subfields, err = decodeNodes(val)
		default:
			err = fmt.Errorf("%w: line %d: unknown key %q", types.ErrInvalidSchema, key.Line, key.Value)
		}
		if err != nil {
			return err
		}
	}
	if n.Kind == "" {
		n.Kind = KindField
	}
	return nil
}

// UnmarshalYAML decodes a definition document.
func (d *Definition) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: definition must be a mapping", types.ErrInvalidSchema)
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, val := value.Content[i], value.Content[i+1]
		var err error
		switch key.Value {
		case "name":
			err = val.Decode(&d.Name)
		case "fields":
			d.Fields, err = decodeNodes(val)
		case "dependencies":
			err = val.Decode(&d.Dependencies)
		case "initial":
			err = val.Decode(&d.Initial)
		default:
			err = fmt.Errorf("%w: line %d: unknown key %q", types.ErrInvalidSchema, key.Line, key.Value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// decodeNodes reads an ordered mapping of name -> node.
func decodeNodes(value *yaml.Node) ([]*Node, error) {
	if value.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: line %d: expected a mapping of fields", types.ErrInvalidSchema, value.Line)
	}
	out := make([]*Node, 0, len(value.Content)/2)
	seen := make(map[string]int, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, val := value.Content[i], value.Content[i+1]
		if first, dup := seen[key.Value]; dup {
			return nil, fmt.Errorf("%w: line %d: duplicate field %q (first at line %d)", types.ErrInvalidSchema, key.Line, key.Value, first)
		}
		seen[key.Value] = key.Line
		n := &Node{}
		if err := val.Decode(n); err != nil {
			return nil, err
		}
		n.Name = key.Value
		out = append(out, n)
	}
	return out, nil
}

// decodeRules accepts "a|b" or a list of rule tokens.
func decodeRules(value *yaml.Node) (string, error) {
	if value.Kind == yaml.SequenceNode {
		var list []string
		if err := value.Decode(&list); err != nil {
			return "", err
		}
		return strings.Join(list, "|"), nil
	}
	var s string
	err := value.Decode(&s)
	return s, err
}
