// Package form implements the form and field controllers: the single owner
// of a form's data tree, per-field state (dirty, touched, validating,
// errors), validation scheduling with stale-result discard, dependency
// propagation and the submission lifecycle.
//
// Synchronous operations (SetValue, Focus, Blur, reads) complete and emit
// their events before returning. Validations triggered by writes run on
// goroutines; Wait blocks until they settle.
package form

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/solatis/formkeeper/internal/events"
	"github.com/solatis/formkeeper/internal/fieldpath"
	"github.com/solatis/formkeeper/internal/metrics"
	"github.com/solatis/formkeeper/internal/types"
)

// Status is a field's validation state.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusValidating Status = "validating"
	StatusValid      Status = "valid"
	StatusInvalid    Status = "invalid"
)

// FieldState is a snapshot of one field's record.
type FieldState struct {
	Path         string
	Value        any
	IsDirty      bool
	IsTouched    bool
	IsValidating bool
	Errors       []string
	Version      uint64
	Status       Status
}

type fieldState struct {
	value    any
	baseline any
	dirty    bool
	touched  bool
	errors   []string
	version  uint64
	result   Status // last applied validation outcome
}

// Form owns a data tree and the state of the fields bound to it.
// Safe for concurrent use.
type Form struct {
	id   types.FormID
	opts options

	validator Validator
	emitter   *events.Emitter[Event]
	bus       *events.Bus
	logger    zerolog.Logger
	metrics   *metrics.Collector
	ctx       context.Context

	mu      sync.Mutex
	data    map[string]any
	initial map[string]any
	fields  map[string]*fieldState

	// Validation generations. Every issued validation takes the next
	// generation; results older than the latest issued are discarded.
	gen        uint64
	lastIssued map[string]uint64
	fullIssued uint64
	inflight   map[string]map[uint64]struct{}
	wg         sync.WaitGroup

	submitMu      sync.Mutex
	submitting    *submitCall
	submitWaiters int
	submitCount   int
	lastSubmit    error
}

// New builds a form over a deep copy of initial. v may be nil, in which
// case every validation passes. form_initialized is emitted asynchronously
// and retained, so handlers attached right after New still observe it.
func New(initial map[string]any, v Validator, opts ...Option) *Form {
	o := options{
		triggers:         DefaultTriggers,
		validateOnSubmit: true,
		logger:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.busSet {
		o.bus = events.Global()
	}
	if v == nil {
		v = nopValidator{}
	}

	f := &Form{
		id:         types.NewFormID(),
		opts:       o,
		validator:  v,
		bus:        o.bus,
		metrics:    o.metrics,
		ctx:        context.Background(),
		data:       fieldpath.CloneMap(initial),
		initial:    fieldpath.CloneMap(initial),
		fields:     make(map[string]*fieldState),
		lastIssued: make(map[string]uint64),
		inflight:   make(map[string]map[uint64]struct{}),
	}
	f.logger = o.logger.With().Str("form_id", string(f.id)).Logger()
	f.emitter = events.NewEmitter[Event](f.logger)
	f.emitter.Retain(string(FormInitialized))
	f.metrics.FormOpened()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.emit(Event{Type: FormInitialized})
	}()
	return f
}

// ID returns the form's unique identifier.
func (f *Form) ID() types.FormID { return f.id }

// Close waits for background work, drops all subscriptions and releases
// the form's metrics slot.
func (f *Form) Close() {
	f.Wait()
	f.emitter.Clear()
	f.metrics.FormClosed()
}

// Wait blocks until every background validation issued so far has been
// applied or discarded.
func (f *Form) Wait() {
	f.wg.Wait()
}

// Data returns a deep copy of the data tree.
func (f *Form) Data() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fieldpath.CloneMap(f.data)
}

// Value returns a copy of the value at path.
func (f *Form) Value(path string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := fieldpath.Get(f.data, path)
	return fieldpath.Clone(v), ok
}

// SetValue writes value at path, creating the field state if the path is
// not registered, emits field_changed before returning and schedules
// validation of path and its dependents when the trigger (default change)
// is in the form's policy.
func (f *Form) SetValue(path string, value any, opts ...SetOption) error {
	so := setOptions{markDirty: true, trigger: TriggerChange}
	for _, opt := range opts {
		opt(&so)
	}
	key := fieldpath.Normalize(path)
	value = fieldpath.Clone(value)

	f.mu.Lock()
	before, _ := fieldpath.Get(f.data, key)
	next, err := fieldpath.Set(f.data, key, value)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	f.data = next

	st, ok := f.fields[key]
	if !ok {
		st = &fieldState{baseline: fieldpath.Clone(before), result: StatusIdle}
		f.fields[key] = st
	}
	st.value = fieldpath.Clone(value)
	if so.markDirty {
		st.dirty = !fieldpath.Equal(st.value, st.baseline)
	}
	if so.touched {
		st.touched = true
	}
	st.version++
	f.syncRelatedLocked(key, so.markDirty)

	var jobs []pathJob
	if f.opts.triggers.Has(so.trigger) {
		jobs = f.issueLocked(f.withDependentsLocked(key))
	}
	f.mu.Unlock()

	f.emit(Event{Type: FieldChanged, Path: key, Value: fieldpath.Clone(value), Field: &Field{form: f, path: key}})
	f.launch(jobs)
	return nil
}

// syncRelatedLocked refreshes the mirrors of registered fields above or
// below path after a write.
func (f *Form) syncRelatedLocked(path string, markDirty bool) {
	for p, st := range f.fields {
		if p == path || !fieldpath.Related(p, path) {
			continue
		}
		v, _ := fieldpath.Get(f.data, p)
		if fieldpath.Equal(v, st.value) {
			continue
		}
		st.value = fieldpath.Clone(v)
		if markDirty {
			st.dirty = !fieldpath.Equal(st.value, st.baseline)
		}
		st.version++
	}
}

// Register binds a field at path, creating its state from the current data
// if absent. Registering an existing path returns a handle to the same state.
func (f *Form) Register(path string) *Field {
	key := fieldpath.Normalize(path)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.fields[key]; !ok {
		v, _ := fieldpath.Get(f.data, key)
		f.fields[key] = &fieldState{
			value:    fieldpath.Clone(v),
			baseline: fieldpath.Clone(v),
			result:   StatusIdle,
		}
	}
	return &Field{form: f, path: key}
}

// Field returns a handle for a registered path.
func (f *Form) Field(path string) (*Field, bool) {
	key := fieldpath.Normalize(path)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.fields[key]; !ok {
		return nil, false
	}
	return &Field{form: f, path: key}, true
}

// HasField reports whether path is registered.
func (f *Form) HasField(path string) bool {
	_, ok := f.Field(path)
	return ok
}

// RemoveField deregisters path. Its data stays in the tree; in-flight
// validations for it are discarded and the validator forgets its messages.
func (f *Form) RemoveField(path string) {
	key := fieldpath.Normalize(path)
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.fields, key)
	delete(f.lastIssued, key)
	delete(f.inflight, key)
	f.validator.ClearErrorsForPath(key)
}

// Fields returns the registered paths, sorted.
func (f *Form) Fields() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.fields))
	for p := range f.fields {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// State returns a snapshot of the field at path.
func (f *Form) State(path string) (FieldState, bool) {
	key := fieldpath.Normalize(path)
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.fields[key]
	if !ok {
		return FieldState{Path: key, Status: StatusIdle}, false
	}
	return f.snapshotLocked(key, st), true
}

func (f *Form) snapshotLocked(key string, st *fieldState) FieldState {
	validating := len(f.inflight[key]) > 0
	status := st.result
	if validating {
		status = StatusValidating
	}
	return FieldState{
		Path:         key,
		Value:        fieldpath.Clone(st.value),
		IsDirty:      st.dirty,
		IsTouched:    st.touched,
		IsValidating: validating,
		Errors:       append([]string(nil), st.errors...),
		Version:      st.version,
		Status:       status,
	}
}

// IsDirty reports whether path (or, with no argument, any field) is dirty.
func (f *Form) IsDirty(path ...string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(path) > 0 {
		st, ok := f.fields[fieldpath.Normalize(path[0])]
		return ok && st.dirty
	}
	for _, st := range f.fields {
		if st.dirty {
			return true
		}
	}
	return !fieldpath.Equal(f.data, f.initial)
}

// IsTouched reports whether path (or, with no argument, any field) was touched.
func (f *Form) IsTouched(path ...string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(path) > 0 {
		st, ok := f.fields[fieldpath.Normalize(path[0])]
		return ok && st.touched
	}
	for _, st := range f.fields {
		if st.touched {
			return true
		}
	}
	return false
}

// Errors returns the current messages of every registered field that has any.
func (f *Form) Errors() map[string][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]string)
	for p, st := range f.fields {
		if len(st.errors) > 0 {
			out[p] = append([]string(nil), st.errors...)
		}
	}
	return out
}

// ErrorsFor returns the current messages for path.
func (f *Form) ErrorsFor(path string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.fields[fieldpath.Normalize(path)]; ok {
		return append([]string(nil), st.errors...)
	}
	return nil
}

// IsValid reports whether no registered field carries errors.
func (f *Form) IsValid() bool {
	return len(f.Errors()) == 0
}

// Reset restores the data captured at construction (or the last
// Rebaseline), clears every field's flags and errors, resets the validator,
// discards in-flight validations and emits form_reset.
func (f *Form) Reset() {
	f.mu.Lock()
	f.data = fieldpath.CloneMap(f.initial)
	for p, st := range f.fields {
		v, _ := fieldpath.Get(f.data, p)
		st.value = fieldpath.Clone(v)
		st.baseline = fieldpath.Clone(v)
		st.dirty = false
		st.touched = false
		st.errors = nil
		st.result = StatusIdle
		st.version++
	}
	f.gen++
	f.fullIssued = f.gen
	f.inflight = make(map[string]map[uint64]struct{})
	f.mu.Unlock()

	f.validator.Reset()
	f.emit(Event{Type: FormReset})
}

// Rebaseline makes the current data the state Reset restores and the
// reference for dirty tracking.
func (f *Form) Rebaseline() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initial = fieldpath.CloneMap(f.data)
	for _, st := range f.fields {
		st.baseline = fieldpath.Clone(st.value)
		if st.dirty {
			st.dirty = false
			st.version++
		}
	}
}
