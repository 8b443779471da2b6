// internal/schema/schema_test.go
package schema

import (
	"errors"
	"reflect"
	"testing"

	"github.com/solatis/formkeeper/internal/rules"
	"github.com/solatis/formkeeper/internal/types"
)

const profileYAML = `
name: profile
dependencies:
  company_kind: [vat_number]
initial:
  country: NL
  experiences:
    - title: Engineer
fields:
  intro:
    kind: section
    props:
      text: "Tell us about ${form.name}"
    subfields:
      hidden:
        rules: required
  name:
    label: Full name
    rules: required|min:2
    messages:
      required: "Please tell us your name."
  address:
    subfields:
      city:
        rules: [required, "regex:/^[A-Z][a-z]+(\\s[A-Z][a-z]+)*$/"]
  experiences:
    type: repeatable
    rules: array|min:1
    subfields:
      title:
        kind: field
        rules: required
      skills:
        kind: repeatable-table
        subfields:
          name:
            rules: required|alpha_dash
  vat_number:
    visible: "${form.company_kind == 'company'}"
    rules: required_if:company_kind,company
`

func TestParse_Profile(t *testing.T) {
	d, err := Parse([]byte(profileYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if d.Name != "profile" {
		t.Errorf("Name = %q, want profile", d.Name)
	}
	var order []string
	for _, n := range d.Fields {
		order = append(order, n.Name)
	}
	if want := []string{"intro", "name", "address", "experiences", "vat_number"}; !reflect.DeepEqual(order, want) {
		t.Errorf("field order = %v, want %v", order, want)
	}
	if d.Fields[0].Kind != KindSection || d.Fields[3].Kind != KindRepeatable || d.Fields[1].Kind != KindField {
		t.Errorf("kinds = %v %v %v", d.Fields[0].Kind, d.Fields[3].Kind, d.Fields[1].Kind)
	}
	if got := d.Fields[4].Visible; got != "${form.company_kind == 'company'}" {
		t.Errorf("Visible = %q", got)
	}
	if !reflect.DeepEqual(d.Dependencies, map[string][]string{"company_kind": {"vat_number"}}) {
		t.Errorf("Dependencies = %v", d.Dependencies)
	}
	if d.RuleSet() == nil {
		t.Fatal("RuleSet() = nil after Parse")
	}

	initial := d.InitialData()
	initial["country"] = "BE"
	if d.Initial["country"] != "NL" {
		t.Error("InitialData() shares state with the definition")
	}
}

func TestExtract_Profile(t *testing.T) {
	d, err := Parse([]byte(profileYAML))
	if err != nil {
		t.Fatal(err)
	}
	ex := d.Extract()

	wantRules := map[string]string{
		"name":                        "required|min:2",
		"address.city":                `required|regex:/^[A-Z][a-z]+(\s[A-Z][a-z]+)*$/`,
		"experiences":                 "array|min:1",
		"experiences.*.title":         "required",
		"experiences.*.skills.*.name": "required|alpha_dash",
		"vat_number":                  "required_if:company_kind,company",
	}
	if !reflect.DeepEqual(ex.Rules, wantRules) {
		t.Errorf("Rules = %v, want %v", ex.Rules, wantRules)
	}
	if !reflect.DeepEqual(ex.Messages, rules.Messages{"name:required": "Please tell us your name."}) {
		t.Errorf("Messages = %v", ex.Messages)
	}
	if !reflect.DeepEqual(ex.Labels, map[string]string{"name": "Full name"}) {
		t.Errorf("Labels = %v", ex.Labels)
	}
}

func TestExtract_Repeatable(t *testing.T) {
	nodes := []*Node{{
		Name: "experiences",
		Kind: KindRepeatable,
		Subfields: []*Node{
			{Name: "title", Kind: KindField, Rules: "required"},
		},
	}}
	got := Extract(nodes).Rules
	if want := map[string]string{"experiences.*.title": "required"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Extract() = %v, want %v", got, want)
	}
}

func TestDefinition_ValidatorUsesSchemaMessages(t *testing.T) {
	d, err := Parse([]byte(profileYAML))
	if err != nil {
		t.Fatal(err)
	}
	v := d.NewValidator()
	failures := d.RuleSet().Check("name", map[string]any{})
	if len(failures) != 1 || failures[0].Message != "Please tell us your name." {
		t.Errorf("Check(name) = %+v", failures)
	}

	failures = d.RuleSet().Check("name", map[string]any{"name": "A"})
	if len(failures) != 1 || failures[0].Message != "The Full name field must be at least 2 characters." {
		t.Errorf("Check(name) = %+v", failures)
	}
	if v.Rules() != d.RuleSet() {
		t.Error("NewValidator() did not share the compiled rules")
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty document", ""},
		{"not a mapping", "- a\n- b\n"},
		{"missing name", "fields:\n  a:\n    rules: required\n"},
		{"unknown top-level key", "name: x\nfieldz: {}\n"},
		{"unknown node key", "name: x\nfields:\n  a:\n    rulez: required\n"},
		{"unknown kind", "name: x\nfields:\n  a:\n    kind: widget\n"},
		{"repeatable without subfields", "name: x\nfields:\n  a:\n    kind: repeatable\n"},
		{"section with rules", "name: x\nfields:\n  a:\n    kind: section\n    rules: required\n"},
		{"dotted field name", "name: x\nfields:\n  a.b:\n    rules: required\n"},
		{"duplicate field", "name: x\nfields:\n  a:\n    rules: required\n  a:\n    rules: email\n"},
		{"unknown rule", "name: x\nfields:\n  a:\n    rules: required|shiny\n"},
		{"fields as list", "name: x\nfields:\n  - a\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc)); !errors.Is(err, types.ErrInvalidSchema) {
				t.Errorf("Parse() error = %v, want ErrInvalidSchema", err)
			}
		})
	}
}

func TestParse_JSON(t *testing.T) {
	doc := `{"name": "signup", "fields": {"email": {"rules": "required|email"}, "age": {"rules": "integer"}}}`
	d, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(d.Fields) != 2 || d.Fields[0].Name != "email" {
		t.Errorf("Fields = %+v", d.Fields)
	}
}

func TestWalk_SkipsSections(t *testing.T) {
	d, err := Parse([]byte(profileYAML))
	if err != nil {
		t.Fatal(err)
	}
	var paths []string
	Walk(d.Fields, func(path string, _ *Node) { paths = append(paths, path) })

	want := []string{
		"name", "address", "address.city",
		"experiences", "experiences.*.title", "experiences.*.skills", "experiences.*.skills.*.name",
		"vat_number",
	}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("Walk() paths = %v, want %v", paths, want)
	}
}
