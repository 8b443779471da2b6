// internal/form/field.go
package form

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Field is a handle on one registered path. Handles are cheap; every handle
// for a path shares the form's single state record and data slot.
//
// A Field bound outside a form (Bind with a nil form) is inert: writes are
// dropped and reads return zero values.
type Field struct {
	form *Form
	path string
}

// Bind registers path on form and returns its handle. A nil form is a
// wiring mistake: it is logged and an inert field is returned.
func Bind(form *Form, path string) *Field {
	if form == nil {
		log.Warn().Str("path", path).Msg("field used outside a form; it will not hold state")
		return &Field{path: path}
	}
	return form.Register(path)
}

// Path returns the field's canonical path.
func (fl *Field) Path() string { return fl.path }

// Form returns the owning form, or nil for an inert field.
func (fl *Field) Form() *Form { return fl.form }

// Inert reports whether the field is bound to no form.
func (fl *Field) Inert() bool { return fl.form == nil }

// SetValue writes an input-event value and marks the field dirty.
func (fl *Field) SetValue(v any) error {
	return fl.SetValueWith(v, true, TriggerInput)
}

// Change writes a change-event value and marks the field dirty.
func (fl *Field) Change(v any) error {
	return fl.SetValueWith(v, true, TriggerChange)
}

// SetValueWith writes through to the form; markDirty controls whether the
// dirty flag follows the write, trigger names the interaction.
func (fl *Field) SetValueWith(v any, markDirty bool, trigger Trigger) error {
	if fl.form == nil {
		return nil
	}
	return fl.form.SetValue(fl.path, v, Dirty(markDirty), Via(trigger))
}

// Focus emits field_focused. It changes no state.
func (fl *Field) Focus() {
	if fl.form == nil {
		return
	}
	fl.form.emit(Event{Type: FieldFocused, Path: fl.path, Field: fl})
}

// Blur marks the field touched, emits field_blurred and validates the path
// and its dependents when blur is in the form's trigger policy.
func (fl *Field) Blur() {
	f := fl.form
	if f == nil {
		return
	}
	f.mu.Lock()
	st, ok := f.fields[fl.path]
	if !ok {
		f.mu.Unlock()
		return
	}
	if !st.touched {
		st.touched = true
		st.version++
	}
	var jobs []pathJob
	if f.opts.triggers.Has(TriggerBlur) {
		jobs = f.issueLocked(f.withDependentsLocked(fl.path))
	}
	f.mu.Unlock()

	f.emit(Event{Type: FieldBlurred, Path: fl.path, Field: fl})
	f.launch(jobs)
}

// Touch is Blur.
func (fl *Field) Touch() { fl.Blur() }

// Validate validates this path and blocks until the result is known.
func (fl *Field) Validate(ctx context.Context) (bool, error) {
	if fl.form == nil {
		return false, nil
	}
	return fl.form.ValidatePath(ctx, fl.path)
}

// Unregister removes the field's state from the form. Registering the path
// again starts from the current data.
func (fl *Field) Unregister() {
	if fl.form == nil {
		return
	}
	fl.form.RemoveField(fl.path)
}

// State returns a snapshot of the field's record.
func (fl *Field) State() FieldState {
	if fl.form == nil {
		return FieldState{Path: fl.path, Status: StatusIdle}
	}
	st, _ := fl.form.State(fl.path)
	return st
}

func (fl *Field) Value() any { return fl.State().Value }
func (fl *Field) Errors() []string { return fl.State().Errors }
func (fl *Field) IsDirty() bool { return fl.State().IsDirty }
func (fl *Field) IsTouched() bool { return fl.State().IsTouched }
func (fl *Field) IsValidating() bool { return fl.State().IsValidating }
func (fl *Field) Version() uint64 { return fl.State().Version }
func (fl *Field) Status() Status { return fl.State().Status }
