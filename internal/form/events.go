// internal/form/events.go
package form

import (
	"time"

	"github.com/solatis/formkeeper/internal/events"
)

// EventType names a form lifecycle transition.
type EventType string

const (
	FieldChanged    EventType = "field_changed"
	FieldFocused    EventType = "field_focused"
	FieldBlurred    EventType = "field_blurred"
	FormReset       EventType = "form_reset"
	FormInitialized EventType = "form_initialized"
	SubmitSuccess   EventType = "submit_success"
	SubmitError     EventType = "submit_error"
	ValidationFail  EventType = "validation_fail"
)

// Event is delivered to handlers. Value and Errors are copies; handlers
// may keep them.
type Event struct {
	Type   EventType
	Path   string
	Value  any
	Field  *Field
	Form   *Form
	Err    error
	Errors map[string][]string
}

// Subscription is the handle returned by Form.On.
type Subscription = events.Subscription[Event]

func (f *Form) emit(ev Event) {
	ev.Form = f
	f.emitter.Emit(string(ev.Type), ev)
	if f.bus != nil {
		f.bus.Emit(string(ev.Type), events.Record{
			Type:   string(ev.Type),
			FormID: string(f.id),
			Path:   ev.Path,
			Value:  ev.Value,
			Err:    ev.Err,
			At:     time.Now(),
		})
	}
}

// On subscribes handler to events of type t.
func (f *Form) On(t EventType, handler func(Event)) *Subscription {
	return f.emitter.On(string(t), handler)
}

// OnAny subscribes handler to every event.
func (f *Form) OnAny(handler func(Event)) *Subscription {
	return f.emitter.OnAny(handler)
}

// Off removes a subscription. Unknown subscriptions are ignored.
func (f *Form) Off(sub *Subscription) {
	f.emitter.Off(sub)
}

// Emit dispatches a caller-built event of type t on this form.
func (f *Form) Emit(t EventType, ev Event) {
	ev.Type = t
	f.emit(ev)
}
