package expression

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestEvaluateTemplateString(t *testing.T) {
	ctx := Context{
		Form:    map[string]any{"age": 30, "name": "John", "tags": []any{"a", "b"}},
		Context: map[string]any{"locale": "en"},
		Errors:  map[string][]string{"email": {"required"}},
	}
	cfg := Config{Values: map[string]any{"currency": "EUR"}}

	tests := []struct {
		name  string
		input any
		want  any
	}{
		{"full template keeps bool type", "${form.age > 25}", true},
		{"full template keeps number type", "${form.age + 1}", 31},
		{"full template keeps container", "${form.tags}", []any{"a", "b"}},
		{"interpolated string", "Hello ${form.name}", "Hello John"},
		{"multiple expressions", "${form.name} is ${form.age}", "John is 30"},
		{"context and config", "${context.locale}-${config.currency}", "en-EUR"},
		{"errors map", "${len(errors.email)}", 1},
		{"nil interpolates empty", "x=${form.missing}", "x="},
		{"field helper", "${field('tags[1]')}", "b"},
		{"plain string unchanged", "no template here", "no template here"},
		{"non-string unchanged", 42, 42},
		{"nested braces", "${ {'a': 1}.a }", 1},
		{"quoted close delimiter", "${ '}' }", "}"},
		{"unterminated kept literal", "Hello ${form.name", "Hello ${form.name"},
		{"default function", "${default(form.missing, 'n/a')}", "n/a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateTemplateString(tt.input, ctx, cfg)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("EvaluateTemplateString(%v) = %#v, want %#v", tt.input, got, tt.want)
			}
		})
	}
}

func TestEvaluateTemplateString_ErrorReturnsRaw(t *testing.T) {
	var buf bytes.Buffer
	e := New(WithLogger(zerolog.New(&buf)))

	for _, in := range []string{"${unknownVar + 1}", "Hi ${form.name +}"} {
		if got := e.EvaluateTemplateString(in, Context{}, Config{}); got != in {
			t.Errorf("EvaluateTemplateString(%q) = %#v, want raw input", in, got)
		}
	}
	if !strings.Contains(buf.String(), "template evaluation failed") {
		t.Errorf("expected failure to be logged, got %q", buf.String())
	}
}

func TestEvaluateTemplateString_CustomDelimiters(t *testing.T) {
	cfg := Config{Open: "{{", Close: "}}"}
	ctx := Context{Form: map[string]any{"name": "Ann"}}
	if got := EvaluateTemplateString("Hi {{ form.name }}", ctx, cfg); got != "Hi Ann" {
		t.Errorf("got %#v", got)
	}
	if got := EvaluateTemplateString("Hi ${form.name}", ctx, cfg); got != "Hi ${form.name}" {
		t.Errorf("default delimiters must not apply, got %#v", got)
	}
}

func TestEvaluateCondition(t *testing.T) {
	ctx := Context{Form: map[string]any{"age": 30, "name": "", "role": "admin"}}

	tests := []struct {
		name string
		cond any
		want bool
	}{
		{"nil is true", nil, true},
		{"bool passes through", false, false},
		{"bare expression", "form.age >= 18", true},
		{"template expression", "${form.role == 'admin'}", true},
		{"empty string value is falsy", "form.name", false},
		{"unknown identifier is false", "nope.value", false},
		{"syntax error is false", "form.age >", false},
		{"non-string truthiness", 0, false},
		{"non-empty map", map[string]any{"a": 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EvaluateCondition(tt.cond, ctx, Config{}); got != tt.want {
				t.Errorf("EvaluateCondition(%v) = %v, want %v", tt.cond, got, tt.want)
			}
		})
	}
}

func TestEvaluator_CachesPrograms(t *testing.T) {
	e := New()
	ctx := Context{Form: map[string]any{"n": 1}}
	for i := 0; i < 3; i++ {
		if _, err := e.Eval("form.n + 1", ctx, Config{}); err != nil {
			t.Fatalf("Eval() error = %v", err)
		}
	}
	e.cacheMu.RLock()
	n := len(e.cache)
	e.cacheMu.RUnlock()
	if n != 1 {
		t.Errorf("cache size = %d, want 1", n)
	}
}

func TestEvaluator_CacheBounded(t *testing.T) {
	e := New(WithCacheSize(4))
	ctx := Context{Form: map[string]any{"n": 1}}
	for i := 0; i < 20; i++ {
		got, err := e.Eval(fmt.Sprintf("form.n + %d", i), ctx, Config{})
		if err != nil {
			t.Fatalf("Eval() error = %v", err)
		}
		if got != 1+i {
			t.Errorf("Eval(form.n + %d) = %v", i, got)
		}
	}
	e.cacheMu.RLock()
	n := len(e.cache)
	e.cacheMu.RUnlock()
	if n != 4 {
		t.Errorf("cache size = %d, want 4", n)
	}
}

func TestEvaluator_ReusedAcrossContexts(t *testing.T) {
	e := New()
	for _, tt := range []struct {
		age  any
		want bool
	}{{30, true}, {10, false}, {float64(26), true}} {
		got := e.EvaluateCondition("form.age > 25", Context{Form: map[string]any{"age": tt.age}}, Config{})
		if got != tt.want {
			t.Errorf("age=%v: got %v, want %v", tt.age, got, tt.want)
		}
	}
}

func TestReferences(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"form.age > 25 && form.address.city == 'x'", []string{"address.city", "age"}},
		{"Hello ${form.name} from ${context.city}", []string{"name"}},
		{"form.rows[0].title != ''", []string{"rows.0.title"}},
		{"field('rows[1].x') == 1", []string{"rows.1.x"}},
		{"len(form) > 0", []string{""}},
		{"context.flag", nil},
		{"form.age >", nil},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := References(tt.input, Config{})
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("References(%q) = %#v, want %#v", tt.input, got, tt.want)
			}
		})
	}
}

func TestStringifyAndTruthy(t *testing.T) {
	if got := Stringify(map[string]any{"a": 1}); got != `{"a":1}` {
		t.Errorf("Stringify(map) = %q", got)
	}
	if got := Stringify(2.5); got != "2.5" {
		t.Errorf("Stringify(2.5) = %q", got)
	}
	if Truthy([]any{}) || !Truthy([]any{1}) || Truthy(0.0) || !Truthy("x") {
		t.Error("Truthy mismatch")
	}
	if !IsEmpty("") || !IsEmpty(nil) || IsEmpty(0) {
		t.Error("IsEmpty mismatch")
	}
}
