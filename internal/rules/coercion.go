// internal/rules/coercion.go
package rules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/solatis/formkeeper/internal/types"
)

/*
 * Type coercion for rule checks.
 *
 * Form values arrive from JSON (float64), YAML (int) and HTML inputs
 * (string), so rules coerce before comparing. Four modes:
 *
 *   - NUMERIC: Strict - coerce numeric strings to float64, reject booleans
 *   - TEXT: Lenient - auto-coerce all scalars to string
 *   - BOOLEAN: Strict - boolean only
 *   - ANY: Lenient - preserve original type
 *
 * Null values are reported separately from coercion failures: a nil value
 * means "empty" to the rule engine, which skips non-implicit rules, while a
 * failed coercion ("abc" for numeric) makes the rule fail.
 */

// FieldType selects how a value is coerced before comparison.
type FieldType int

const (
	FieldTypeAny FieldType = iota
	FieldTypeNumeric
	FieldTypeText
	FieldTypeBoolean
)

// CoercionResult holds the coerced value or indicates null.
type CoercionResult struct {
	Value  any  // coerced value (valid only if !IsNull)
	IsNull bool // true if input was nil
}

// Coerce attempts to convert value to the expected field type.
// Returns CoercionResult with IsNull=true for nil input.
// Returns ErrCoercionFailed for impossible coercions.
func Coerce(value any, fieldType FieldType) (CoercionResult, error) {
	if value == nil {
		return CoercionResult{IsNull: true}, nil
	}

	switch fieldType {
	case FieldTypeNumeric:
		return coerceNumeric(value)
	case FieldTypeText:
		return coerceText(value)
	case FieldTypeBoolean:
		return coerceBoolean(value)
	case FieldTypeAny:
		return CoercionResult{Value: value}, nil
	default:
		return CoercionResult{}, types.ErrCoercionFailed
	}
}

// coerceNumeric converts value to float64. Whitespace is trimmed from
// strings; empty strings and booleans fail.
func coerceNumeric(value any) (CoercionResult, error) {
	if f, ok := toFloat64(value); ok {
		return CoercionResult{Value: f}, nil
	}
	s, ok := value.(string)
	if !ok {
		return CoercionResult{}, types.ErrCoercionFailed
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return CoercionResult{}, types.ErrCoercionFailed
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return CoercionResult{}, types.ErrCoercionFailed
	}
	return CoercionResult{Value: f}, nil
}

// coerceText converts scalars to their string form. Containers fail.
func coerceText(value any) (CoercionResult, error) {
	switch v := value.(type) {
	case string:
		return CoercionResult{Value: v}, nil
	case bool:
		return CoercionResult{Value: strconv.FormatBool(v)}, nil
	case map[string]any, []any:
		return CoercionResult{}, types.ErrCoercionFailed
	}
	if f, ok := toFloat64(value); ok {
		return CoercionResult{Value: strconv.FormatFloat(f, 'f', -1, 64)}, nil
	}
	return CoercionResult{Value: fmt.Sprintf("%v", value)}, nil
}

// coerceBoolean accepts only booleans, avoiding "true" vs 1 ambiguity.
func coerceBoolean(value any) (CoercionResult, error) {
	if v, ok := value.(bool); ok {
		return CoercionResult{Value: v}, nil
	}
	return CoercionResult{}, types.ErrCoercionFailed
}
