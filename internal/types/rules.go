// internal/types/rules.go
package types

/*
 * Path and rule shapes shared by fieldpath and rules.
 *
 * PathSegment is one component of a form path: an object key, a sequence
 * index or a wildcard. Paths are parsed into segments once and compared
 * segment-wise, so dot notation (a.0.b) and bracket notation (a[0].b)
 * compare equal.
 *
 * RuleSpec and RuleArg describe one compiled entry of the rule-string
 * mini-language ("min_length:8", "same:@password").
 */

// PathSegment represents one component of a field path.
type PathSegment struct {
	Key      string // object key (mutually exclusive with Index/Wildcard)
	Index    int    // sequence index (mutually exclusive with Key/Wildcard)
	IsIndex  bool   // disambiguates Index=0 from unset
	Wildcard bool   // true = wildcard segment
}

// RuleArg is one argument of a rule: a literal or an @field reference.
type RuleArg struct {
	Literal  string
	FieldRef string // normalized path pattern, empty for literals
}

// IsRef reports whether the argument references another field.
func (a RuleArg) IsRef() bool {
	return a.FieldRef != ""
}

// RuleSpec is a single parsed rule with its arguments.
type RuleSpec struct {
	Name string
	Args []RuleArg
}
