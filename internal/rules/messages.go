// internal/rules/messages.go
package rules

import (
	"strings"

	"github.com/solatis/formkeeper/internal/fieldpath"
)

// Messages overrides rule messages. Keys are "path:rule" (concrete path or
// pattern) or a bare "rule". Templates may use :field, :other, :arg, :arg2,
// :args and :values.
type Messages map[string]string

var defaultMessages = map[string]string{
	"required":        "The :field field is required.",
	"required_if":     "The :field field is required when :other is :values.",
	"required_unless": "The :field field is required unless :other is in :values.",
	"required_with":   "The :field field is required when :args is present.",
	"filled":          "The :field field must have a value.",
	"accepted":        "The :field field must be accepted.",

	"string":  "The :field field must be a string.",
	"numeric": "The :field field must be a number.",
	"integer": "The :field field must be an integer.",
	"boolean": "The :field field must be true or false.",
	"array":   "The :field field must be an array.",

	"email":      "The :field field must be a valid email address.",
	"url":        "The :field field must be a valid URL.",
	"uuid":       "The :field field must be a valid UUID.",
	"alpha":      "The :field field must only contain letters.",
	"alpha_num":  "The :field field must only contain letters and numbers.",
	"alpha_dash": "The :field field must only contain letters, numbers, dashes and underscores.",
	"digits":     "The :field field must be :arg digits.",

	"min.numeric":     "The :field field must be at least :arg.",
	"min.string":      "The :field field must be at least :arg characters.",
	"min.array":       "The :field field must have at least :arg items.",
	"max.numeric":     "The :field field must not be greater than :arg.",
	"max.string":      "The :field field must not be greater than :arg characters.",
	"max.array":       "The :field field must not have more than :arg items.",
	"size.numeric":    "The :field field must be :arg.",
	"size.string":     "The :field field must be :arg characters.",
	"size.array":      "The :field field must contain :arg items.",
	"between.numeric": "The :field field must be between :arg and :arg2.",
	"between.string":  "The :field field must be between :arg and :arg2 characters.",
	"between.array":   "The :field field must have between :arg and :arg2 items.",
	"min_length":      "The :field field must be at least :arg characters.",
	"max_length":      "The :field field must not be greater than :arg characters.",

	"gt.numeric":  "The :field field must be greater than :arg.",
	"gt.string":   "The :field field must be greater than :arg characters.",
	"gt.array":    "The :field field must have more than :arg items.",
	"gte.numeric": "The :field field must be greater than or equal to :arg.",
	"gte.string":  "The :field field must be greater than or equal to :arg characters.",
	"gte.array":   "The :field field must have :arg items or more.",
	"lt.numeric":  "The :field field must be less than :arg.",
	"lt.string":   "The :field field must be less than :arg characters.",
	"lt.array":    "The :field field must have less than :arg items.",
	"lte.numeric": "The :field field must be less than or equal to :arg.",
	"lte.string":  "The :field field must be less than or equal to :arg characters.",
	"lte.array":   "The :field field must not have more than :arg items.",

	"in":          "The selected :field is invalid.",
	"not_in":      "The selected :field is invalid.",
	"starts_with": "The :field field must start with one of the following: :args.",
	"ends_with":   "The :field field must end with one of the following: :args.",
	"regex":       "The :field field format is invalid.",
	"not_regex":   "The :field field format is invalid.",

	"same":      "The :field field must match :other.",
	"different": "The :field field and :other must be different.",
	"confirmed": "The :field field confirmation does not match.",

	"date":            "The :field field must be a valid date.",
	"after":           "The :field field must be a date after :arg.",
	"after_or_equal":  "The :field field must be a date after or equal to :arg.",
	"before":          "The :field field must be a date before :arg.",
	"before_or_equal": "The :field field must be a date before or equal to :arg.",
}

const fallbackMessage = "The :field field is invalid."

// template picks the override or default message for a failed rule.
func (s *RuleSet) template(cf *CompiledField, c *evalCtx, r *CompiledRule) string {
	for _, key := range []string{c.path + ":" + r.Name, cf.Pattern + ":" + r.Name, r.Name} {
		if m, ok := s.messages[key]; ok {
			return m
		}
	}
	if r.def.sized {
		kind := "numeric"
		if len(r.Args) > 0 && r.Args[0].IsRef() {
			_, other, _ := c.other(r, 0)
			if _, k, ok := measure(other, c.numeric); ok {
				kind = k
			}
		} else if _, k, ok := measure(c.value, c.numeric); ok {
			kind = k
		}
		if m, ok := defaultMessages[r.Name+"."+kind]; ok {
			return m
		}
	}
	if m, ok := defaultMessages[r.Name]; ok {
		return m
	}
	return fallbackMessage
}

func (s *RuleSet) message(cf *CompiledField, c *evalCtx, r *CompiledRule) string {
	args := make([]string, len(r.Args))
	other := ""
	for i, a := range r.Args {
		if a.IsRef() {
			ref, _, _ := c.other(r, i)
			args[i] = s.label(a.FieldRef, ref)
			if other == "" {
				other = args[i]
			}
			continue
		}
		args[i] = formatArg(r.values[i], a.Literal)
	}
	if r.Name == "confirmed" {
		other = s.label(cf.Pattern+confirmationSuffix, c.path+confirmationSuffix)
	}

	arg, arg2, values := "", "", ""
	if len(args) > 0 {
		arg = args[0]
		values = strings.Join(args[1:], ", ")
	}
	if len(args) > 1 {
		arg2 = args[1]
	}

	// Longer placeholders first: the replacer compares in argument order.
	return strings.NewReplacer(
		":field", s.label(cf.Pattern, c.path),
		":other", other,
		":values", values,
		":args", strings.Join(args, ", "),
		":arg2", arg2,
		":arg", arg,
	).Replace(s.template(cf, c, r))
}

// label names a field in messages: an explicit label for the concrete path
// or its pattern, else the last key segment with underscores as spaces.
func (s *RuleSet) label(pattern, path string) string {
	if l, ok := s.labels[path]; ok {
		return l
	}
	if l, ok := s.labels[pattern]; ok {
		return l
	}
	return DefaultLabel(path)
}

// DefaultLabel derives a display name from a path.
func DefaultLabel(path string) string {
	segs := fieldpath.Parse(path)
	name := path
	for i := len(segs) - 1; i >= 0; i-- {
		if seg := segs[i]; !seg.IsIndex && !seg.Wildcard {
			name = seg.Key
			break
		}
	}
	return strings.ReplaceAll(name, "_", " ")
}
