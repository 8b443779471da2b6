// internal/rules/validator.go
package rules

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/solatis/formkeeper/internal/fieldpath"
)

type options struct {
	messages Messages
	labels   map[string]string
	logger   zerolog.Logger
}

// Option configures Compile and New.
type Option func(*options)

// WithMessages overrides rule messages.
func WithMessages(m Messages) Option {
	return func(o *options) { o.messages = m }
}

// WithLabels sets display names by path or pattern.
func WithLabels(labels map[string]string) Option {
	return func(o *options) { o.labels = labels }
}

// WithLogger sets the validator logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func buildOptions(opts []Option) options {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.messages == nil {
		o.messages = Messages{}
	}
	return o
}

// Validator adapts a RuleSet to the form validator contract. It keeps the
// messages of the last check of every path.
type Validator struct {
	set    *RuleSet
	logger zerolog.Logger

	mu     sync.RWMutex
	errors map[string][]string
	rules  map[string][]string
}

// New compiles rules and wraps them in a Validator.
func New(rules map[string]string, opts ...Option) (*Validator, error) {
	set, err := Compile(rules, opts...)
	if err != nil {
		return nil, err
	}
	return NewFromSet(set, opts...), nil
}

// NewFromSet wraps an already compiled RuleSet.
func NewFromSet(set *RuleSet, opts ...Option) *Validator {
	o := buildOptions(opts)
	return &Validator{
		set:    set,
		logger: o.logger,
		errors: make(map[string][]string),
		rules:  make(map[string][]string),
	}
}

// Rules returns the compiled rule set.
func (v *Validator) Rules() *RuleSet {
	return v.set
}

// Dependencies returns referenced pattern -> dependent field patterns.
func (v *Validator) Dependencies() map[string][]string {
	return v.set.Dependencies()
}

// Validate checks the whole tree and replaces the accumulated errors.
func (v *Validator) Validate(ctx context.Context, data map[string]any) (bool, error) {
	errs, err := v.Check(ctx, data)
	if err != nil {
		return false, err
	}
	return len(errs) == 0, nil
}

// Check is Validate returning the messages of this check by path.
func (v *Validator) Check(ctx context.Context, data map[string]any) (map[string][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	results := v.set.CheckAll(data)

	errs := make(map[string][]string, len(results))
	failed := make(map[string][]string, len(results))
	for path, failures := range results {
		errs[path], failed[path] = split(failures)
	}

	v.mu.Lock()
	v.errors = errs
	v.rules = failed
	v.mu.Unlock()

	v.logger.Debug().Int("failed_paths", len(errs)).Msg("form validated")
	return copyMap(errs), nil
}

// ValidatePath checks one concrete path and replaces its errors.
func (v *Validator) ValidatePath(ctx context.Context, path string, data map[string]any) (bool, error) {
	msgs, err := v.CheckPath(ctx, path, data)
	if err != nil {
		return false, err
	}
	return len(msgs) == 0, nil
}

// CheckPath is ValidatePath returning the messages of this check.
func (v *Validator) CheckPath(ctx context.Context, path string, data map[string]any) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path = fieldpath.Normalize(path)
	msgs, failed := split(v.set.Check(path, data))

	v.mu.Lock()
	if len(msgs) == 0 {
		delete(v.errors, path)
		delete(v.rules, path)
	} else {
		v.errors[path] = msgs
		v.rules[path] = failed
	}
	v.mu.Unlock()

	if len(msgs) > 0 {
		v.logger.Debug().Str("path", path).Strs("rules", failed).Msg("path validation failed")
	}
	return append([]string(nil), msgs...), nil
}

// Errors returns a copy of the accumulated messages.
func (v *Validator) Errors() map[string][]string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return copyMap(v.errors)
}

// FailedRules returns the names of the rules that failed per path.
func (v *Validator) FailedRules() map[string][]string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return copyMap(v.rules)
}

// ErrorsForPath returns the messages for one path.
func (v *Validator) ErrorsForPath(path string) []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]string(nil), v.errors[fieldpath.Normalize(path)]...)
}

// DependentFields returns the fields whose rules read path.
func (v *Validator) DependentFields(path string) []string {
	return v.set.Dependents(path)
}

// ClearErrorsForPath drops the messages for one path.
func (v *Validator) ClearErrorsForPath(path string) {
	path = fieldpath.Normalize(path)
	v.mu.Lock()
	delete(v.errors, path)
	delete(v.rules, path)
	v.mu.Unlock()
}

// Reset drops all messages.
func (v *Validator) Reset() {
	v.mu.Lock()
	v.errors = make(map[string][]string)
	v.rules = make(map[string][]string)
	v.mu.Unlock()
}

func split(failures []Failure) (msgs, names []string) {
	for _, f := range failures {
		msgs = append(msgs, f.Message)
		names = append(names, f.Rule)
	}
	return msgs, names
}

func copyMap(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}
