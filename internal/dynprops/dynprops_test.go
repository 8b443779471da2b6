// internal/dynprops/dynprops_test.go
package dynprops

import (
	"reflect"
	"testing"

	"github.com/solatis/formkeeper/internal/expression"
	"github.com/solatis/formkeeper/internal/form"
	"github.com/solatis/formkeeper/internal/schema"
)

type staticSource struct {
	data   map[string]any
	errors map[string][]string
}

func (s staticSource) Data() map[string]any        { return s.data }
func (s staticSource) Errors() map[string][]string { return s.errors }

func TestEvaluator_Evaluate(t *testing.T) {
	e := &Evaluator{
		Source:  staticSource{data: map[string]any{"name": "Ada", "age": 36}},
		Context: map[string]any{"locale": "nl"},
		Config:  expression.Config{Values: map[string]any{"brand": "Acme"}},
	}

	tests := []struct {
		name  string
		value any
		want  any
	}{
		{"literal string", "Hello", "Hello"},
		{"non-string", 42, 42},
		{"whole template keeps type", "${form.age}", 36},
		{"mixed template", "Hi ${form.name} from ${config.brand}", "Hi Ada from Acme"},
		{"context", "${context.locale}", "nl"},
		{"broken expression returns input", "${form.name +}", "${form.name +}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Evaluate(tt.value); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Evaluate(%v) = %v (%T), want %v (%T)", tt.value, got, got, tt.want, tt.want)
			}
		})
	}
}

func TestEvaluator_EvaluateProps(t *testing.T) {
	e := &Evaluator{Source: staticSource{data: map[string]any{"name": "Ada"}}}
	props := map[string]any{
		"label":    "Name of ${form.name}",
		"disabled": false,
		"nested":   map[string]any{"hint": "${form.name}"},
		"options":  []any{"${form.name}", 1},
	}

	got := e.EvaluateProps(props)
	want := map[string]any{
		"label":    "Name of Ada",
		"disabled": false,
		"nested":   map[string]any{"hint": "Ada"},
		"options":  []any{"Ada", 1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("EvaluateProps() = %v, want %v", got, want)
	}
	if props["label"] != "Name of ${form.name}" || props["nested"].(map[string]any)["hint"] != "${form.name}" {
		t.Error("EvaluateProps() modified its input")
	}

	// Safe to call repeatedly: no accumulation.
	if again := e.EvaluateProps(props); !reflect.DeepEqual(again, want) {
		t.Errorf("second EvaluateProps() = %v", again)
	}
	if got := e.EvaluateProps(nil); len(got) != 0 {
		t.Errorf("EvaluateProps(nil) = %v", got)
	}
}

func TestEvaluator_Visible(t *testing.T) {
	e := &Evaluator{Source: staticSource{
		data:   map[string]any{"kind": "company", "age": 17},
		errors: map[string][]string{"email": {"bad"}},
	}}

	tests := []struct {
		cond any
		want bool
	}{
		{nil, true},
		{"", true},
		{true, true},
		{false, false},
		{"form.kind == 'company'", true},
		{"${form.age >= 18}", false},
		{"len(errors.email) > 0", true},
		{"form.missing.deep == 1", false},
		{"not valid ((", false},
	}

	for _, tt := range tests {
		if got := e.Visible(tt.cond); got != tt.want {
			t.Errorf("Visible(%v) = %v, want %v", tt.cond, got, tt.want)
		}
	}
}

func TestEvaluator_VisibleFields(t *testing.T) {
	def, err := schema.Parse([]byte(`
name: company
fields:
  kind:
    rules: required
  company:
    visible: "form.kind == 'company'"
    subfields:
      vat:
        rules: required
  notes: {}
`))
	if err != nil {
		t.Fatal(err)
	}

	e := &Evaluator{Source: staticSource{data: map[string]any{"kind": "person"}}}
	got := e.VisibleFields(def)
	want := map[string]bool{"kind": true, "company": false, "company.vat": false, "notes": true}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("VisibleFields() = %v, want %v", got, want)
	}
}

func TestEvaluator_References(t *testing.T) {
	e := &Evaluator{}
	got := e.References(map[string]any{
		"a": "${form.user.name} and ${form.user.age}",
		"b": []any{"form.items[0].qty > 1"},
		"c": 3,
	})
	want := []string{"items.0.qty", "user.age", "user.name"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("References() = %v, want %v", got, want)
	}
}

func TestComputed_RecomputesOnReferencedChange(t *testing.T) {
	f := form.New(map[string]any{"first": "Ada", "last": "Lovelace", "other": 1}, nil, form.WithBus(nil))
	t.Cleanup(f.Close)

	c := NewComputed(f, Evaluator{}, "${form.first} ${form.last}")
	t.Cleanup(c.Close)
	if got := c.Value(); got != "Ada Lovelace" {
		t.Fatalf("Value() = %v", got)
	}

	var changes [][2]any
	c.OnChange(func(old, cur any) { changes = append(changes, [2]any{old, cur}) })

	_ = f.SetValue("other", 2)
	if len(changes) != 0 {
		t.Errorf("unrelated write notified: %v", changes)
	}

	_ = f.SetValue("first", "Augusta")
	if got := c.Value(); got != "Augusta Lovelace" {
		t.Errorf("Value() after write = %v", got)
	}

	f.Reset()
	if got := c.Value(); got != "Ada Lovelace" {
		t.Errorf("Value() after reset = %v", got)
	}
	if len(changes) != 2 {
		t.Errorf("changes = %v, want 2", changes)
	}

	c.Close()
	_ = f.SetValue("first", "Grace")
	if got := c.Value(); got != "Ada Lovelace" {
		t.Errorf("Value() after Close = %v, want unchanged", got)
	}
}

func TestComputed_ParentWriteCountsAsChange(t *testing.T) {
	f := form.New(map[string]any{"user": map[string]any{"name": "Ada"}}, nil, form.WithBus(nil))
	t.Cleanup(f.Close)

	c := NewComputed(f, Evaluator{}, map[string]any{"title": "${form.user.name}"})
	t.Cleanup(c.Close)

	_ = f.SetValue("user", map[string]any{"name": "Grace"})
	if got := c.Value(); !reflect.DeepEqual(got, map[string]any{"title": "Grace"}) {
		t.Errorf("Value() = %v", got)
	}
}

func TestComputed_LiteralNeverSubscribes(t *testing.T) {
	f := form.New(nil, nil, form.WithBus(nil))
	t.Cleanup(f.Close)

	c := NewComputed(f, Evaluator{}, "static")
	if len(c.subs) != 0 {
		t.Errorf("literal computed holds %d subscriptions", len(c.subs))
	}
	if c.Value() != "static" {
		t.Errorf("Value() = %v", c.Value())
	}
}
