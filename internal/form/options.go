// internal/form/options.go
package form

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/solatis/formkeeper/internal/events"
	"github.com/solatis/formkeeper/internal/metrics"
)

// SubmitHandler receives a deep copy of the form data on submit.
type SubmitHandler func(ctx context.Context, data map[string]any) error

type options struct {
	submit           SubmitHandler
	triggers         Trigger
	validateOnSubmit bool
	dependencies     map[string][]string
	logger           zerolog.Logger
	metrics          *metrics.Collector
	bus              *events.Bus
	busSet           bool
}

// Option configures a Form.
type Option func(*options)

// WithSubmitHandler sets the handler Submit calls with valid data.
func WithSubmitHandler(h SubmitHandler) Option {
	return func(o *options) { o.submit = h }
}

// WithTriggers sets which interactions run path validation.
func WithTriggers(t Trigger) Option {
	return func(o *options) { o.triggers = t }
}

// WithValidateOnSubmit controls full validation before the submit handler.
// Default true.
func WithValidateOnSubmit(v bool) Option {
	return func(o *options) { o.validateOnSubmit = v }
}

// WithDependencies declares extra dependency edges: changing a key path
// revalidates the listed paths. Keys and values may use "*" segments;
// captures from the key are substituted into the values.
func WithDependencies(deps map[string][]string) Option {
	return func(o *options) {
		if o.dependencies == nil {
			o.dependencies = make(map[string][]string)
		}
		for k, v := range deps {
			o.dependencies[k] = append(o.dependencies[k], v...)
		}
	}
}

// WithLogger sets the form's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics records validation and submit metrics on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// WithBus mirrors events to bus instead of events.Global(). nil disables
// mirroring.
func WithBus(bus *events.Bus) Option {
	return func(o *options) {
		o.bus = bus
		o.busSet = true
	}
}

// SetOption adjusts a single SetValue call.
type SetOption func(*setOptions)

type setOptions struct {
	touched   bool
	markDirty bool
	trigger   Trigger
}

// Touched also marks the field touched.
func Touched() SetOption {
	return func(o *setOptions) { o.touched = true }
}

// Dirty controls whether the write updates the dirty flag. Default true.
func Dirty(mark bool) SetOption {
	return func(o *setOptions) { o.markDirty = mark }
}

// Via names the interaction that caused the write. Default TriggerChange.
func Via(t Trigger) SetOption {
	return func(o *setOptions) { o.trigger = t }
}
