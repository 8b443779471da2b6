package fieldpath

import (
	"strconv"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"experience[0].start", "experience.0.start"},
		{"experience.0.start", "experience.0.start"},
		{"a[\"b\"]['c']", "a.b.c"},
		{"a..b", "a.b"},
		{".a.b.", "a.b"},
		{"rows[*].name", "rows.*.name"},
		{"codes.007", "codes.007"},
		{"list[-1]", "list.-1"},
		{"a['x.y']", "a.x.y"},
		{"a[\"x.0\"].b", "a.x.0.b"},
		{"a[b", "a.b"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParse_Segments(t *testing.T) {
	segs := Parse("rows[2].*.007")
	if len(segs) != 4 {
		t.Fatalf("Parse() len = %d, want 4", len(segs))
	}
	if segs[0].Key != "rows" || segs[0].IsIndex {
		t.Errorf("segs[0] = %+v", segs[0])
	}
	if !segs[1].IsIndex || segs[1].Index != 2 {
		t.Errorf("segs[1] = %+v", segs[1])
	}
	if !segs[2].Wildcard {
		t.Errorf("segs[2] = %+v", segs[2])
	}
	if segs[3].IsIndex || segs[3].Key != "007" {
		t.Errorf("segs[3] = %+v, leading zeros must stay a key", segs[3])
	}
}

func TestParse_DottedBracketKey(t *testing.T) {
	data, err := Set(map[string]any{}, "a['x.y']", 1)
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got, ok := Get(data, Normalize("a['x.y']")); !ok || got != 1 {
		t.Errorf("Get(normalized) = %v, %v", got, ok)
	}
	if got, ok := Get(data, "a.x.y"); !ok || got != 1 {
		t.Errorf("Get(a.x.y) = %v, %v, want nested write", got, ok)
	}
}

func TestStringHelpers(t *testing.T) {
	if !IsChild("experience", "experience[0].start") {
		t.Error("IsChild(experience, experience.0.start) = false")
	}
	if IsChild("experience", "experienced") {
		t.Error("IsChild must compare whole segments")
	}
	if IsChild("a.b", "a.b") {
		t.Error("a path is not its own child")
	}
	if !IsChild("", "a") {
		t.Error("every non-empty path is a child of the root")
	}
	if got := Parent("a.b[3]"); got != "a.b" {
		t.Errorf("Parent = %q", got)
	}
	if got := Parent("a"); got != "" {
		t.Errorf("Parent(a) = %q, want empty", got)
	}
	if got := Last("a.b[3]"); got != "3" {
		t.Errorf("Last = %q", got)
	}
	if got := Join("a.", ".b", "c"); got != "a.b.c" {
		t.Errorf("Join = %q", got)
	}
	if !Related("a", "a.b") || !Related("a.b", "a") || Related("a.b", "a.c") {
		t.Error("Related mismatch")
	}
	if !HasWildcard("rows.*.x") || HasWildcard("rows.0.x") {
		t.Error("HasWildcard mismatch")
	}
}

func TestNormalize_PropertyIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	segment := gen.OneGenOf(
		gen.AlphaString(),
		gen.IntRange(0, 50).Map(func(i int) string { return "[" + strconv.Itoa(i) + "]" }),
		gen.Const("*"),
		gen.Const(""),
	)

	properties.Property("normalize is idempotent", prop.ForAll(
		func(parts []string) bool {
			p := strings.Join(parts, ".")
			once := Normalize(p)
			return Normalize(once) == once
		},
		gen.SliceOf(segment),
	))

	properties.Property("bracket and dot forms normalize equally", prop.ForAll(
		func(key string, idx int) bool {
			if key == "" {
				return true
			}
			return Normalize(key+"["+strconv.Itoa(idx)+"]") == Normalize(key+"."+strconv.Itoa(idx))
		},
		gen.Identifier(),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}
