// internal/rules/builtin.go
package rules

import (
	"math"
	"net/mail"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/solatis/formkeeper/internal/fieldpath"
)

type argKind int

const (
	argText argKind = iota
	argNumber
	argCount
	argDate
	argRegex
)

// ruleDef describes one built-in rule.
type ruleDef struct {
	implicit  bool // runs on empty values
	sized     bool // message varies by numeric/string/array
	minArgs   int
	maxArgs   int // -1 = variadic
	fieldArgs int // leading arguments that name fields; -1 = all
	argKind   argKind
	check     func(c *evalCtx, r *CompiledRule) bool
}

func (d *ruleDef) isFieldArg(i int) bool {
	return d.fieldArgs < 0 || i < d.fieldArgs
}

const confirmationSuffix = "_confirmation"

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
}

var builtins = map[string]*ruleDef{
	"required":        {implicit: true, check: checkRequired},
	"required_if":     {implicit: true, minArgs: 2, maxArgs: -1, fieldArgs: 1, check: checkRequiredIf},
	"required_unless": {implicit: true, minArgs: 2, maxArgs: -1, fieldArgs: 1, check: checkRequiredUnless},
	"required_with":   {implicit: true, minArgs: 1, maxArgs: -1, fieldArgs: -1, check: checkRequiredWith},
	"filled":          {implicit: true, check: checkFilled},
	"accepted":        {implicit: true, check: checkAccepted},

	"string":  {check: checkString},
	"numeric": {check: checkNumeric},
	"integer": {check: checkInteger},
	"boolean": {check: checkBoolean},
	"array":   {check: checkArray},

	"email":      {check: checkEmail},
	"url":        {check: checkURL},
	"uuid":       {check: checkUUID},
	"alpha":      {check: runesCheck(unicode.IsLetter)},
	"alpha_num":  {check: runesCheck(isAlphaNum)},
	"alpha_dash": {check: runesCheck(isAlphaDash)},
	"digits":     {minArgs: 1, maxArgs: 1, argKind: argCount, check: checkDigits},

	"min":        {sized: true, minArgs: 1, maxArgs: 1, argKind: argNumber, check: sizeCheck(OpGte)},
	"max":        {sized: true, minArgs: 1, maxArgs: 1, argKind: argNumber, check: sizeCheck(OpLte)},
	"size":       {sized: true, minArgs: 1, maxArgs: 1, argKind: argNumber, check: sizeCheck(OpEq)},
	"between":    {sized: true, minArgs: 2, maxArgs: 2, argKind: argNumber, check: checkBetween},
	"min_length": {minArgs: 1, maxArgs: 1, argKind: argCount, check: lengthCheck(OpGte)},
	"max_length": {minArgs: 1, maxArgs: 1, argKind: argCount, check: lengthCheck(OpLte)},

	"gt":  {sized: true, minArgs: 1, maxArgs: 1, argKind: argNumber, check: boundCheck(OpGt)},
	"gte": {sized: true, minArgs: 1, maxArgs: 1, argKind: argNumber, check: boundCheck(OpGte)},
	"lt":  {sized: true, minArgs: 1, maxArgs: 1, argKind: argNumber, check: boundCheck(OpLt)},
	"lte": {sized: true, minArgs: 1, maxArgs: 1, argKind: argNumber, check: boundCheck(OpLte)},

	"in":          {minArgs: 1, maxArgs: -1, check: checkIn},
	"not_in":      {minArgs: 1, maxArgs: -1, check: checkNotIn},
	"starts_with": {minArgs: 1, maxArgs: -1, check: affixCheck(OpPrefix)},
	"ends_with":   {minArgs: 1, maxArgs: -1, check: affixCheck(OpSuffix)},
	"regex":       {minArgs: 1, maxArgs: 1, argKind: argRegex, check: checkRegex},
	"not_regex":   {minArgs: 1, maxArgs: 1, argKind: argRegex, check: checkNotRegex},

	"same":      {minArgs: 1, maxArgs: 1, fieldArgs: 1, check: checkSame},
	"different": {minArgs: 1, maxArgs: 1, fieldArgs: 1, check: checkDifferent},
	"confirmed": {check: checkConfirmed},

	"date":            {check: checkDate},
	"after":           {minArgs: 1, maxArgs: 1, argKind: argDate, check: dateCheck(func(a, b time.Time) bool { return a.After(b) })},
	"after_or_equal":  {minArgs: 1, maxArgs: 1, argKind: argDate, check: dateCheck(func(a, b time.Time) bool { return !a.Before(b) })},
	"before":          {minArgs: 1, maxArgs: 1, argKind: argDate, check: dateCheck(func(a, b time.Time) bool { return a.Before(b) })},
	"before_or_equal": {minArgs: 1, maxArgs: 1, argKind: argDate, check: dateCheck(func(a, b time.Time) bool { return !a.After(b) })},
}

// Known reports whether name is a built-in rule.
func Known(name string) bool {
	if name == "bail" || name == "nullable" {
		return true
	}
	_, ok := builtins[name]
	return ok
}

func checkRequired(c *evalCtx, _ *CompiledRule) bool {
	return !isEmpty(c.value)
}

func checkRequiredIf(c *evalCtx, r *CompiledRule) bool {
	return !isEmpty(c.value) || !otherMatches(c, r)
}

func checkRequiredUnless(c *evalCtx, r *CompiledRule) bool {
	return !isEmpty(c.value) || otherMatches(c, r)
}

// otherMatches reports whether the field named by the first argument equals
// any of the remaining arguments.
func otherMatches(c *evalCtx, r *CompiledRule) bool {
	_, other, _ := c.other(r, 0)
	for i := 1; i < len(r.Args); i++ {
		want, ok := c.operand(r, i)
		if ok && looseEqual(other, want) {
			return true
		}
	}
	return false
}

func checkRequiredWith(c *evalCtx, r *CompiledRule) bool {
	if !isEmpty(c.value) {
		return true
	}
	for i := range r.Args {
		if _, v, _ := c.other(r, i); !isEmpty(v) {
			return false
		}
	}
	return true
}

func checkFilled(c *evalCtx, _ *CompiledRule) bool {
	return !c.present || !isEmpty(c.value)
}

func checkAccepted(c *evalCtx, _ *CompiledRule) bool {
	switch v := c.value.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "yes", "on", "1", "true":
			return true
		}
		return false
	}
	f, ok := toFloat64(c.value)
	return ok && f == 1
}

func checkString(c *evalCtx, _ *CompiledRule) bool {
	_, ok := c.value.(string)
	return ok
}

func checkNumeric(c *evalCtx, _ *CompiledRule) bool {
	_, err := Coerce(c.value, FieldTypeNumeric)
	return err == nil
}

func checkInteger(c *evalCtx, _ *CompiledRule) bool {
	res, err := Coerce(c.value, FieldTypeNumeric)
	if err != nil {
		return false
	}
	f := res.Value.(float64)
	return !math.IsInf(f, 0) && f == math.Trunc(f)
}

func checkBoolean(c *evalCtx, _ *CompiledRule) bool {
	switch v := c.value.(type) {
	case bool:
		return true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "0", "1", "true", "false":
			return true
		}
		return false
	}
	f, ok := toFloat64(c.value)
	return ok && (f == 0 || f == 1)
}

func checkArray(c *evalCtx, _ *CompiledRule) bool {
	switch c.value.(type) {
	case []any, map[string]any:
		return true
	}
	return false
}

func checkEmail(c *evalCtx, _ *CompiledRule) bool {
	s, ok := c.value.(string)
	if !ok {
		return false
	}
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == strings.TrimSpace(s)
}

func checkURL(c *evalCtx, _ *CompiledRule) bool {
	s, ok := c.value.(string)
	if !ok {
		return false
	}
	u, err := url.Parse(strings.TrimSpace(s))
	return err == nil && u.Scheme != "" && u.Host != ""
}

func checkUUID(c *evalCtx, _ *CompiledRule) bool {
	s, ok := c.value.(string)
	if !ok {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

func isAlphaNum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isAlphaDash(r rune) bool {
	return isAlphaNum(r) || r == '-' || r == '_'
}

func runesCheck(allowed func(rune) bool) func(*evalCtx, *CompiledRule) bool {
	return func(c *evalCtx, _ *CompiledRule) bool {
		s, ok := textOf(c.value)
		if !ok {
			return false
		}
		for _, r := range s {
			if !allowed(r) {
				return false
			}
		}
		return true
	}
}

func checkDigits(c *evalCtx, r *CompiledRule) bool {
	s, ok := textOf(c.value)
	if !ok || len(s) != r.values[0].(int) {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func sizeCheck(op Operator) func(*evalCtx, *CompiledRule) bool {
	return func(c *evalCtx, r *CompiledRule) bool {
		m, _, ok := measure(c.value, c.numeric)
		return ok && Compare(op, m, r.values[0])
	}
}

func checkBetween(c *evalCtx, r *CompiledRule) bool {
	m, _, ok := measure(c.value, c.numeric)
	return ok && Compare(OpGte, m, r.values[0]) && Compare(OpLte, m, r.values[1])
}

func lengthCheck(op Operator) func(*evalCtx, *CompiledRule) bool {
	return func(c *evalCtx, r *CompiledRule) bool {
		n, ok := length(c.value)
		return ok && Compare(op, n, r.values[0])
	}
}

// boundCheck compares the value against a literal or the measure of a
// referenced field. An empty referenced field has nothing to compare
// against and passes.
func boundCheck(op Operator) func(*evalCtx, *CompiledRule) bool {
	return func(c *evalCtx, r *CompiledRule) bool {
		m, _, ok := measure(c.value, c.numeric)
		if !ok {
			return false
		}
		bound := r.values[0]
		if r.Args[0].IsRef() {
			_, other, _ := c.other(r, 0)
			if isEmpty(other) {
				return true
			}
			b, _, ok := measure(other, c.numeric)
			if !ok {
				return false
			}
			bound = b
		}
		return Compare(op, m, bound)
	}
}

func checkIn(c *evalCtx, r *CompiledRule) bool {
	set := c.operands(r)
	if list, ok := c.value.([]any); ok {
		for _, v := range list {
			if !inSet(v, set) {
				return false
			}
		}
		return true
	}
	return inSet(c.value, set)
}

func checkNotIn(c *evalCtx, r *CompiledRule) bool {
	set := c.operands(r)
	if list, ok := c.value.([]any); ok {
		for _, v := range list {
			if inSet(v, set) {
				return false
			}
		}
		return true
	}
	return !inSet(c.value, set)
}

func inSet(v any, set []any) bool {
	s, ok := textOf(v)
	if !ok {
		return false
	}
	texts := make([]any, 0, len(set))
	for _, e := range set {
		if t, ok := textOf(e); ok {
			texts = append(texts, t)
		}
	}
	return Compare(OpIn, s, texts)
}

func affixCheck(op Operator) func(*evalCtx, *CompiledRule) bool {
	return func(c *evalCtx, r *CompiledRule) bool {
		s, ok := textOf(c.value)
		if !ok {
			return false
		}
		for _, a := range c.operands(r) {
			if t, ok := textOf(a); ok && Compare(op, s, t) {
				return true
			}
		}
		return false
	}
}

func checkRegex(c *evalCtx, r *CompiledRule) bool {
	s, ok := textOf(c.value)
	return ok && r.values[0].(*regexp.Regexp).MatchString(s)
}

func checkNotRegex(c *evalCtx, r *CompiledRule) bool {
	s, ok := textOf(c.value)
	return ok && !r.values[0].(*regexp.Regexp).MatchString(s)
}

func checkSame(c *evalCtx, r *CompiledRule) bool {
	_, other, _ := c.other(r, 0)
	return fieldpath.Equal(c.value, other)
}

func checkDifferent(c *evalCtx, r *CompiledRule) bool {
	_, other, _ := c.other(r, 0)
	return !fieldpath.Equal(c.value, other)
}

func checkConfirmed(c *evalCtx, _ *CompiledRule) bool {
	other, _ := fieldpath.Get(c.data, c.path+confirmationSuffix)
	return fieldpath.Equal(c.value, other)
}

func checkDate(c *evalCtx, _ *CompiledRule) bool {
	_, ok := toTime(c.value)
	return ok
}

// dateCheck compares against a literal date or a referenced field. A
// referenced field that is empty or not a date passes.
func dateCheck(cmp func(a, b time.Time) bool) func(*evalCtx, *CompiledRule) bool {
	return func(c *evalCtx, r *CompiledRule) bool {
		t, ok := toTime(c.value)
		if !ok {
			return false
		}
		if r.Args[0].IsRef() {
			_, other, _ := c.other(r, 0)
			bound, ok := toTime(other)
			if !ok {
				return true
			}
			return cmp(t, bound)
		}
		return cmp(t, r.values[0].(time.Time))
	}
}

// isEmpty reports nil, blank strings and empty containers.
func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

// textOf renders scalars as text; nil and containers have none.
func textOf(v any) (string, bool) {
	res, err := Coerce(v, FieldTypeText)
	if err != nil || res.IsNull {
		return "", false
	}
	return res.Value.(string), true
}

func looseEqual(a, b any) bool {
	if fieldpath.Equal(a, b) {
		return true
	}
	ta, ok1 := textOf(a)
	tb, ok2 := textOf(b)
	return ok1 && ok2 && ta == tb
}

// measure returns the size a value is compared by: numbers by value, numeric
// strings by value when the field is numeric, other strings by rune count
// and containers by length. The kind selects the message variant.
func measure(v any, numeric bool) (float64, string, bool) {
	if f, ok := toFloat64(v); ok {
		return f, "numeric", true
	}
	switch t := v.(type) {
	case string:
		if numeric {
			if res, err := Coerce(t, FieldTypeNumeric); err == nil {
				return res.Value.(float64), "numeric", true
			}
		}
		return float64(utf8.RuneCountInString(t)), "string", true
	case []any:
		return float64(len(t)), "array", true
	case map[string]any:
		return float64(len(t)), "array", true
	}
	return 0, "", false
}

// length counts runes of scalar text or items of a container.
func length(v any) (int, bool) {
	switch t := v.(type) {
	case []any:
		return len(t), true
	case map[string]any:
		return len(t), true
	}
	s, ok := textOf(v)
	if !ok {
		return 0, false
	}
	return utf8.RuneCountInString(s), true
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		return parseDate(t)
	}
	return time.Time{}, false
}

// formatArg renders a literal argument for messages.
func formatArg(v any, lit string) string {
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	}
	return lit
}
