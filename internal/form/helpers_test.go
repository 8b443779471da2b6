package form

import (
	"context"
	"sync"

	"github.com/solatis/formkeeper/internal/fieldpath"
)

// fakeValidator runs per-path check functions and records calls.
type fakeValidator struct {
	mu     sync.Mutex
	checks map[string]func(v any, data map[string]any) []string
	deps   map[string][]string
	gate   func(path string, data map[string]any)
	err    error
	errs   map[string][]string
	calls  map[string]int
	resets int
}

func newFake() *fakeValidator {
	return &fakeValidator{
		checks: make(map[string]func(any, map[string]any) []string),
		deps:   make(map[string][]string),
		errs:   make(map[string][]string),
		calls:  make(map[string]int),
	}
}

func required(v any, _ map[string]any) []string {
	if v == nil || v == "" {
		return []string{"required"}
	}
	return nil
}

func minLength(n int) func(any, map[string]any) []string {
	return func(v any, _ map[string]any) []string {
		if s, _ := v.(string); len(s) < n {
			return []string{"too short"}
		}
		return nil
	}
}

func (v *fakeValidator) run(path string, data map[string]any) []string {
	v.mu.Lock()
	check := v.checks[path]
	v.mu.Unlock()
	if check == nil {
		return nil
	}
	val, _ := fieldpath.Get(data, path)
	return check(val, data)
}

func (v *fakeValidator) Validate(_ context.Context, data map[string]any) (bool, error) {
	v.mu.Lock()
	if v.err != nil {
		defer v.mu.Unlock()
		return false, v.err
	}
	paths := make([]string, 0, len(v.checks))
	for p := range v.checks {
		paths = append(paths, p)
	}
	v.errs = make(map[string][]string)
	v.mu.Unlock()

	valid := true
	for _, p := range paths {
		if msgs := v.run(p, data); len(msgs) > 0 {
			valid = false
			v.mu.Lock()
			v.errs[p] = msgs
			v.mu.Unlock()
		}
	}
	return valid, nil
}

func (v *fakeValidator) ValidatePath(_ context.Context, path string, data map[string]any) (bool, error) {
	v.mu.Lock()
	gate, err := v.gate, v.err
	v.mu.Unlock()
	if gate != nil {
		gate(path, data)
	}
	if err != nil {
		return false, err
	}
	msgs := v.run(path, data)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls[path]++
	if len(msgs) > 0 {
		v.errs[path] = msgs
	} else {
		delete(v.errs, path)
	}
	return len(msgs) == 0, nil
}

func (v *fakeValidator) Errors() map[string][]string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return cloneErrors(v.errs)
}

func (v *fakeValidator) ErrorsForPath(path string) []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.errs[path]...)
}

func (v *fakeValidator) DependentFields(path string) []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.deps[path]...)
}

func (v *fakeValidator) ClearErrorsForPath(path string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.errs, path)
}

func (v *fakeValidator) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.errs = make(map[string][]string)
	v.resets++
}

func (v *fakeValidator) callCount(path string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls[path]
}

// recorder collects events in arrival order.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) add(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
