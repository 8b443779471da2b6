// internal/expression/refs.go
package expression

import (
	"sort"
	"strconv"
	"strings"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"

	"github.com/solatis/formkeeper/internal/fieldpath"
)

// References returns the form paths an input reads, in canonical dot form
// and sorted. input may be a bare expression or a template. A bare use of
// form (passing the whole snapshot) yields "". Unparseable input yields nil.
func References(input string, cfg Config) []string {
	open, close := cfg.delimiters()
	parts := splitTemplate(input, open, close)
	var sources []string
	if hasExpression(parts) {
		for _, p := range parts {
			if p.expr {
				sources = append(sources, p.text)
			}
		}
	} else {
		sources = []string{input}
	}

	seen := map[string]bool{}
	for _, src := range sources {
		tree, err := parser.Parse(src)
		if err != nil {
			continue
		}
		v := &refVisitor{}
		ast.Walk(&tree.Node, v)
		for _, p := range v.paths {
			seen[p] = true
		}
		if v.formIdents > v.formBases {
			seen[""] = true
		}
	}
	return prune(seen)
}

type refVisitor struct {
	paths      []string
	formIdents int // identifiers named form
	formBases  int // form identifiers used as the base of a member chain
}

func (v *refVisitor) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		if n.Value == "form" {
			v.formIdents++
		}
	case *ast.MemberNode:
		if id, ok := n.Node.(*ast.IdentifierNode); ok && id.Value == "form" {
			v.formBases++
		}
		if segs, ok := memberChain(n); ok && len(segs) > 1 && segs[0] == "form" {
			v.paths = append(v.paths, fieldpath.Join(segs[1:]...))
		}
	case *ast.CallNode:
		id, ok := n.Callee.(*ast.IdentifierNode)
		if !ok || id.Value != "field" || len(n.Arguments) == 0 {
			return
		}
		if s, ok := n.Arguments[0].(*ast.StringNode); ok {
			v.paths = append(v.paths, fieldpath.Normalize(s.Value))
		}
	}
}

func memberChain(node ast.Node) ([]string, bool) {
	switch n := node.(type) {
	case *ast.IdentifierNode:
		return []string{n.Value}, true
	case *ast.MemberNode:
		base, ok := memberChain(n.Node)
		if !ok {
			return nil, false
		}
		switch p := n.Property.(type) {
		case *ast.StringNode:
			return append(base, p.Value), true
		case *ast.IntegerNode:
			return append(base, strconv.Itoa(p.Value)), true
		}
	}
	return nil, false
}

// prune keeps the deepest path of each member chain.
func prune(seen map[string]bool) []string {
	if len(seen) == 0 {
		return nil
	}
	if seen[""] {
		return []string{""}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		covered := false
		for q := range seen {
			if q != p && strings.HasPrefix(q, p+".") {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
