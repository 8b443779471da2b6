// internal/rules/compile.go
package rules

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/solatis/formkeeper/internal/fieldpath"
	"github.com/solatis/formkeeper/internal/types"
)

/*
 * Rule-string parsing and compilation.
 *
 * A rule map binds field patterns to pipe-separated rule strings:
 *
 *   "email":                  "required|email"
 *   "experiences.*.end_date": "nullable|date|after_or_equal:@experiences.*.start_date"
 *   "password":               "required|min_length:8|confirmed"
 *
 * Arguments follow a colon and are comma-separated. "@path" marks a field
 * reference; rules whose leading arguments name fields (same, required_if,
 * required_with, ...) accept bare paths too. regex and not_regex take their
 * whole argument verbatim and may delimit it as /pattern/flags so it can
 * contain '|' and ','.
 *
 * Compilation workflow:
 *   1. Parse each rule string into types.RuleSpec values
 *   2. Validate resource limits (path depth, wildcards, regex length)
 *   3. Pre-parse literal arguments (numbers, dates, regexes)
 *   4. Record field references as reverse dependencies
 *
 * Field_ref constraint: a reference may only use the wildcards its pattern
 * binds. "items.*.end" may refer to "items.*.start" (same row) but "total"
 * may not refer to "items.*.price", which has no single concrete value.
 */

// MaxRegexLength bounds regex rule arguments.
const MaxRegexLength = 500

// CompiledRule is a rule with its arguments pre-parsed.
type CompiledRule struct {
	Name string
	Args []types.RuleArg

	values []any // parsed literals, nil at reference positions
	def    *ruleDef
}

// String renders the rule in name:arg,arg form. References in literal
// positions keep their @ prefix.
func (r CompiledRule) String() string {
	if len(r.Args) == 0 {
		return r.Name
	}
	args := make([]string, len(r.Args))
	for i, a := range r.Args {
		switch {
		case a.IsRef() && r.def != nil && r.def.isFieldArg(i):
			args[i] = a.FieldRef
		case a.IsRef():
			args[i] = "@" + a.FieldRef
		default:
			args[i] = a.Literal
		}
	}
	return r.Name + ":" + strings.Join(args, ",")
}

// CompiledField is the rule list bound to one field pattern.
type CompiledField struct {
	Pattern  string
	Rules    []CompiledRule
	Bail     bool // stop at the first failing rule
	Nullable bool // a nil value skips every rule
	Numeric  bool // size rules compare numeric strings by value
}

// RuleSet is a compiled rule map.
type RuleSet struct {
	fields   []CompiledField
	deps     map[string][]string // referenced pattern -> dependent field patterns
	refs     []string            // sorted keys of deps
	messages Messages
	labels   map[string]string
}

// Parse splits a rule string into specs.
func Parse(rule string) ([]types.RuleSpec, error) {
	var specs []types.RuleSpec
	for _, tok := range splitRules(rule) {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		spec, err := ParseRule(tok)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// ParseRule parses a single "name:arg,arg" token.
func ParseRule(tok string) (types.RuleSpec, error) {
	name, rest, hasArgs := strings.Cut(strings.TrimSpace(tok), ":")
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return types.RuleSpec{}, fmt.Errorf("%w: missing rule name in %q", types.ErrUnknownRule, tok)
	}
	spec := types.RuleSpec{Name: name}
	if !hasArgs || strings.TrimSpace(rest) == "" {
		return spec, nil
	}
	if isRegexRule(name) {
		spec.Args = []types.RuleArg{{Literal: strings.TrimSpace(rest)}}
		return spec, nil
	}
	for _, a := range strings.Split(rest, ",") {
		a = strings.TrimSpace(a)
		if strings.HasPrefix(a, "@") {
			ref := fieldpath.Normalize(a[1:])
			if ref == "" {
				return types.RuleSpec{}, fmt.Errorf("%w: empty field reference in %q", types.ErrInvalidRuleArgs, tok)
			}
			spec.Args = append(spec.Args, types.RuleArg{FieldRef: ref})
			continue
		}
		spec.Args = append(spec.Args, types.RuleArg{Literal: a})
	}
	return spec, nil
}

// Compile parses and validates a rule map.
func Compile(rules map[string]string, opts ...Option) (*RuleSet, error) {
	o := buildOptions(opts)

	merged := make(map[string][]types.RuleSpec, len(rules))
	for raw, rule := range rules {
		pattern := fieldpath.Normalize(raw)
		if pattern == "" {
			return nil, fmt.Errorf("rule %q: %w", rule, types.ErrEmptyPath)
		}
		specs, err := Parse(rule)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", raw, err)
		}
		merged[pattern] = append(merged[pattern], specs...)
	}

	patterns := make([]string, 0, len(merged))
	for p := range merged {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)

	set := &RuleSet{
		deps:     make(map[string][]string),
		messages: o.messages,
		labels:   make(map[string]string, len(o.labels)),
	}
	for k, v := range o.labels {
		set.labels[fieldpath.Normalize(k)] = v
	}

	for _, pattern := range patterns {
		cf, err := compileField(pattern, merged[pattern])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", pattern, err)
		}
		set.fields = append(set.fields, cf)
		set.addDeps(cf)
	}
	for ref := range set.deps {
		set.refs = append(set.refs, ref)
	}
	sort.Strings(set.refs)

	return set, nil
}

// MustCompile is Compile that panics on error. For static rule maps.
func MustCompile(rules map[string]string, opts ...Option) *RuleSet {
	set, err := Compile(rules, opts...)
	if err != nil {
		panic(err)
	}
	return set
}

// Fields returns the compiled fields ordered by pattern.
func (s *RuleSet) Fields() []CompiledField {
	return append([]CompiledField(nil), s.fields...)
}

// Patterns returns the field patterns ordered.
func (s *RuleSet) Patterns() []string {
	out := make([]string, len(s.fields))
	for i, f := range s.fields {
		out[i] = f.Pattern
	}
	return out
}

// Dependencies returns referenced pattern -> dependent field patterns.
func (s *RuleSet) Dependencies() map[string][]string {
	out := make(map[string][]string, len(s.deps))
	for k, v := range s.deps {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Dependents returns the fields whose rules read path. Results may still
// carry wildcards when the dependent binds more of them than path does.
func (s *RuleSet) Dependents(path string) []string {
	path = fieldpath.Normalize(path)
	var out []string
	seen := make(map[string]bool)
	for _, ref := range s.refs {
		captures, ok := fieldpath.Match(ref, path)
		if !ok {
			continue
		}
		for _, target := range s.deps[ref] {
			concrete, _ := fieldpath.Substitute(target, captures)
			if concrete == path || seen[concrete] {
				continue
			}
			seen[concrete] = true
			out = append(out, concrete)
		}
	}
	return out
}

func (s *RuleSet) addDeps(cf CompiledField) {
	add := func(ref string) {
		for _, existing := range s.deps[ref] {
			if existing == cf.Pattern {
				return
			}
		}
		s.deps[ref] = append(s.deps[ref], cf.Pattern)
	}
	for _, r := range cf.Rules {
		if r.Name == "confirmed" {
			add(cf.Pattern + confirmationSuffix)
		}
		for _, a := range r.Args {
			if a.IsRef() {
				add(a.FieldRef)
			}
		}
	}
}

// compileField validates a pattern and its rules.
// Enforces path depth and wildcard limits.
func compileField(pattern string, specs []types.RuleSpec) (CompiledField, error) {
	segs := fieldpath.Parse(pattern)

	// Validate path depth
	if len(segs) > types.MaxPathDepth {
		return CompiledField{}, types.ErrPathTooDeep
	}

	// Validate wildcard count
	wildcards := countWildcards(pattern)
	if wildcards > types.MaxNestedWildcards {
		return CompiledField{}, types.ErrTooManyWildcards
	}

	cf := CompiledField{Pattern: pattern}
	for _, spec := range specs {
		switch spec.Name {
		case "bail", "nullable":
			if len(spec.Args) > 0 {
				return CompiledField{}, fmt.Errorf("rule %q: %w", spec.Name, types.ErrInvalidRuleArgs)
			}
			if spec.Name == "bail" {
				cf.Bail = true
			} else {
				cf.Nullable = true
			}
			continue
		case "numeric", "integer":
			cf.Numeric = true
		}

		def, ok := builtins[spec.Name]
		if !ok {
			return CompiledField{}, fmt.Errorf("rule %q: %w", spec.Name, types.ErrUnknownRule)
		}
		cr, err := compileRule(spec, def, wildcards)
		if err != nil {
			return CompiledField{}, fmt.Errorf("rule %q: %w", spec.Name, err)
		}
		cf.Rules = append(cf.Rules, cr)
	}
	return cf, nil
}

func compileRule(spec types.RuleSpec, def *ruleDef, wildcards int) (CompiledRule, error) {
	n := len(spec.Args)
	if n < def.minArgs || (def.maxArgs >= 0 && n > def.maxArgs) {
		return CompiledRule{}, types.ErrInvalidRuleArgs
	}

	cr := CompiledRule{
		Name:   spec.Name,
		Args:   append([]types.RuleArg(nil), spec.Args...),
		values: make([]any, n),
		def:    def,
	}
	for i := range cr.Args {
		a := &cr.Args[i]
		if !a.IsRef() && def.isFieldArg(i) {
			a.FieldRef = fieldpath.Normalize(a.Literal)
			a.Literal = ""
			if a.FieldRef == "" {
				return CompiledRule{}, types.ErrInvalidRuleArgs
			}
		}
		if a.IsRef() {
			// Validate field_ref: only wildcards the pattern binds
			if countWildcards(a.FieldRef) > wildcards {
				return CompiledRule{}, types.ErrWildcardInFieldRef
			}
			continue
		}
		v, err := parseLiteral(def.argKind, a.Literal)
		if err != nil {
			return CompiledRule{}, err
		}
		cr.values[i] = v
	}
	return cr, nil
}

func parseLiteral(kind argKind, lit string) (any, error) {
	switch kind {
	case argNumber:
		f, err := strconv.ParseFloat(strings.TrimSpace(lit), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", types.ErrInvalidRuleArgs, lit)
		}
		return f, nil
	case argCount:
		n, err := strconv.Atoi(strings.TrimSpace(lit))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: %q is not a count", types.ErrInvalidRuleArgs, lit)
		}
		return n, nil
	case argDate:
		t, ok := parseDate(lit)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a date", types.ErrInvalidRuleArgs, lit)
		}
		return t, nil
	case argRegex:
		return compileRegex(lit)
	default:
		return lit, nil
	}
}

// compileRegex accepts a bare RE2 pattern or /pattern/flags with flags
// drawn from i, m, s and u (ignored).
func compileRegex(lit string) (*regexp.Regexp, error) {
	if len(lit) > MaxRegexLength {
		return nil, fmt.Errorf("%w: regex longer than %d", types.ErrInvalidRuleArgs, MaxRegexLength)
	}
	expr := lit
	if strings.HasPrefix(lit, "/") {
		end := strings.LastIndexByte(lit, '/')
		if end <= 0 {
			return nil, fmt.Errorf("%w: unterminated regex %q", types.ErrInvalidRuleArgs, lit)
		}
		var flags strings.Builder
		for _, f := range lit[end+1:] {
			switch f {
			case 'i', 'm', 's':
				flags.WriteRune(f)
			case 'u':
			default:
				return nil, fmt.Errorf("%w: unsupported regex flag %q", types.ErrInvalidRuleArgs, f)
			}
		}
		expr = lit[1:end]
		if flags.Len() > 0 {
			expr = "(?" + flags.String() + ")" + expr
		}
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidRuleArgs, err)
	}
	return re, nil
}

// splitRules cuts a rule string on '|' outside regex delimiters.
func splitRules(s string) []string {
	var out []string
	start := 0
	inRegex := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inRegex:
			if c == '\\' {
				i++
			} else if c == '/' {
				inRegex = false
			}
		case c == '/' && opensRegex(s[start:i]):
			inRegex = true
		case c == '|':
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

func opensRegex(prefix string) bool {
	name, rest, ok := strings.Cut(strings.TrimSpace(prefix), ":")
	return ok && strings.TrimSpace(rest) == "" && isRegexRule(strings.ToLower(strings.TrimSpace(name)))
}

func isRegexRule(name string) bool {
	return name == "regex" || name == "not_regex"
}

func countWildcards(path string) int {
	n := 0
	for _, seg := range fieldpath.Parse(path) {
		if seg.Wildcard {
			n++
		}
	}
	return n
}
