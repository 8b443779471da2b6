// internal/form/trigger.go
package form

import (
	"fmt"
	"strings"
)

// Trigger is a set of interaction kinds that run validation.
type Trigger uint8

const (
	TriggerInput Trigger = 1 << iota
	TriggerChange
	TriggerBlur
	TriggerSubmit
)

// DefaultTriggers validates on input, change and blur.
const DefaultTriggers = TriggerInput | TriggerChange | TriggerBlur

// Has reports whether t includes every kind in other.
func (t Trigger) Has(other Trigger) bool {
	return other != 0 && t&other == other
}

func (t Trigger) String() string {
	var names []string
	for _, kv := range triggerNames {
		if t&kv.t != 0 {
			names = append(names, kv.name)
		}
	}
	return strings.Join(names, ",")
}

var triggerNames = []struct {
	name string
	t    Trigger
}{
	{"input", TriggerInput},
	{"change", TriggerChange},
	{"blur", TriggerBlur},
	{"submit", TriggerSubmit},
}

// ParseTriggers parses a comma separated list such as "change,blur".
// "submit" alone means validation runs only on submit.
func ParseTriggers(s string) (Trigger, error) {
	var t Trigger
	for _, raw := range strings.Split(s, ",") {
		name := strings.TrimSpace(strings.ToLower(raw))
		if name == "" {
			continue
		}
		found := false
		for _, kv := range triggerNames {
			if kv.name == name {
				t |= kv.t
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown validation trigger %q", name)
		}
	}
	if t == 0 {
		return 0, fmt.Errorf("no validation triggers in %q", s)
	}
	return t, nil
}
