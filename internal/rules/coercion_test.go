package rules

import (
	"errors"
	"math"
	"testing"

	"github.com/solatis/formkeeper/internal/types"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		name      string
		value     any
		fieldType FieldType
		wantValue any
		wantNull  bool
		wantErr   error
	}{
		// NUMERIC: HTML inputs submit numbers as strings
		{name: "numeric: string to float64", value: "25", fieldType: FieldTypeNumeric, wantValue: 25.0},
		{name: "numeric: float64 passthrough", value: 42.5, fieldType: FieldTypeNumeric, wantValue: 42.5},
		{name: "numeric: yaml int to float64", value: 100, fieldType: FieldTypeNumeric, wantValue: 100.0},
		{name: "numeric: uint8 to float64", value: uint8(7), fieldType: FieldTypeNumeric, wantValue: 7.0},
		{name: "numeric: string with whitespace", value: "  42  ", fieldType: FieldTypeNumeric, wantValue: 42.0},
		{name: "numeric: negative decimal", value: "-0.5", fieldType: FieldTypeNumeric, wantValue: -0.5},
		{name: "numeric: scientific notation", value: "1e3", fieldType: FieldTypeNumeric, wantValue: 1000.0},
		{name: "numeric: non-numeric string fails", value: "abc", fieldType: FieldTypeNumeric, wantErr: types.ErrCoercionFailed},
		{name: "numeric: blank string fails", value: "   ", fieldType: FieldTypeNumeric, wantErr: types.ErrCoercionFailed},
		{name: "numeric: boolean fails", value: true, fieldType: FieldTypeNumeric, wantErr: types.ErrCoercionFailed},
		{name: "numeric: list fails", value: []any{1.0}, fieldType: FieldTypeNumeric, wantErr: types.ErrCoercionFailed},
		{name: "numeric: nil returns null", value: nil, fieldType: FieldTypeNumeric, wantNull: true},

		// TEXT
		{name: "text: string passthrough", value: "hello", fieldType: FieldTypeText, wantValue: "hello"},
		{name: "text: int to string", value: 100, fieldType: FieldTypeText, wantValue: "100"},
		{name: "text: whole float drops fraction", value: 3.0, fieldType: FieldTypeText, wantValue: "3"},
		{name: "text: float64 to string", value: 3.14, fieldType: FieldTypeText, wantValue: "3.14"},
		{name: "text: boolean to string", value: false, fieldType: FieldTypeText, wantValue: "false"},
		{name: "text: map fails", value: map[string]any{"a": 1}, fieldType: FieldTypeText, wantErr: types.ErrCoercionFailed},
		{name: "text: nil returns null", value: nil, fieldType: FieldTypeText, wantNull: true},

		// BOOLEAN: strict
		{name: "boolean: true passthrough", value: true, fieldType: FieldTypeBoolean, wantValue: true},
		{name: "boolean: string fails", value: "true", fieldType: FieldTypeBoolean, wantErr: types.ErrCoercionFailed},
		{name: "boolean: int fails", value: 1, fieldType: FieldTypeBoolean, wantErr: types.ErrCoercionFailed},

		// ANY
		{name: "any: int preserved", value: 42, fieldType: FieldTypeAny, wantValue: 42},
		{name: "any: string preserved", value: "x", fieldType: FieldTypeAny, wantValue: "x"},

		{name: "unknown field type fails", value: "x", fieldType: FieldType(99), wantErr: types.ErrCoercionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Coerce(tt.value, tt.fieldType)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Coerce() error = %v, wantErr %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Coerce() unexpected error = %v", err)
			}
			if result.IsNull != tt.wantNull {
				t.Errorf("Coerce() IsNull = %v, want %v", result.IsNull, tt.wantNull)
			}
			if !tt.wantNull && result.Value != tt.wantValue {
				t.Errorf("Coerce() Value = %v (%T), want %v (%T)", result.Value, result.Value, tt.wantValue, tt.wantValue)
			}
		})
	}
}

func TestCoerceNumericEdgeCases(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		check   func(float64) bool
		wantErr error
	}{
		{name: "NaN string", value: "NaN", check: math.IsNaN},
		{name: "positive infinity", value: "Inf", check: func(f float64) bool { return math.IsInf(f, 1) }},
		{name: "negative infinity", value: "-Inf", check: func(f float64) bool { return math.IsInf(f, -1) }},
		{name: "invalid mixed string", value: "123abc", wantErr: types.ErrCoercionFailed},
		{name: "multiple decimals", value: "1.2.3", wantErr: types.ErrCoercionFailed},
		{name: "thousands separator", value: "1,000", wantErr: types.ErrCoercionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Coerce(tt.value, FieldTypeNumeric)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Coerce() error = %v, wantErr %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Coerce() unexpected error = %v", err)
			}
			got, ok := result.Value.(float64)
			if !ok {
				t.Fatalf("Coerce() Value type = %T, want float64", result.Value)
			}
			if !tt.check(got) {
				t.Errorf("Coerce() Value = %v", got)
			}
		})
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name   string
		op     Operator
		value  any
		target any
		want   bool
	}{
		{"eq across int kinds", OpEq, 3, 3.0, true},
		{"eq strings", OpEq, "a", "a", true},
		{"eq list never equal", OpEq, []any{1.0}, []any{1.0}, false},
		{"neq", OpNeq, "a", "b", true},
		{"lt", OpLt, 1.0, 2, true},
		{"lte equal", OpLte, 2.0, 2.0, true},
		{"gt string vs number", OpGt, "5", 1.0, false},
		{"gte", OpGte, 5, 5.0, true},
		{"prefix", OpPrefix, "https://x", "https://", true},
		{"suffix non-string", OpSuffix, 10, "0", false},
		{"in member", OpIn, "b", []any{"a", "b"}, true},
		{"in numeric member", OpIn, 2, []any{1.0, 2.0}, true},
		{"in non-list target", OpIn, "a", "a", false},
		{"unknown operator", Operator(0), 1, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compare(tt.op, tt.value, tt.target); got != tt.want {
				t.Errorf("Compare(%v, %v, %v) = %v, want %v", tt.op, tt.value, tt.target, got, tt.want)
			}
		})
	}
}
