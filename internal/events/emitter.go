// Package events provides typed publish/subscribe emitters: one per form,
// plus a process-wide bus that forms mirror their lifecycle events to.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Any is the topic wildcard: handlers on Any receive every event.
const Any = "*"

// Handler processes one event.
type Handler[E any] func(E)

// Subscription is the handle returned by On. Dispose (or Emitter.Off)
// removes the handler; calling it more than once is a no-op.
type Subscription[E any] struct {
	emitter *Emitter[E]
	topic   string
	fn      Handler[E]
	active  atomic.Bool
}

// Topic returns the topic the subscription listens on.
func (s *Subscription[E]) Topic() string { return s.topic }

// Dispose unsubscribes.
func (s *Subscription[E]) Dispose() {
	if s == nil || s.emitter == nil {
		return
	}
	s.emitter.Off(s)
}

// Emitter dispatches events of type E by topic.
//
// Dispatch snapshots the handler list under the lock and calls handlers
// without holding it, so a handler may call On, Off or Emit on the same
// emitter. A dispatch pass invokes exactly the handlers registered when it
// began, in registration order, topic handlers before Any handlers.
type Emitter[E any] struct {
	mu       sync.Mutex
	handlers map[string][]*Subscription[E]
	sticky   map[string]bool
	retained map[string]E
	logger   zerolog.Logger
}

// NewEmitter creates an emitter logging handler panics to logger.
func NewEmitter[E any](logger zerolog.Logger) *Emitter[E] {
	return &Emitter[E]{
		handlers: make(map[string][]*Subscription[E]),
		sticky:   make(map[string]bool),
		retained: make(map[string]E),
		logger:   logger,
	}
}

// Retain marks topic as sticky: the last event emitted on it is kept and
// replayed to handlers that subscribe afterwards.
func (e *Emitter[E]) Retain(topic string) {
	e.mu.Lock()
	e.sticky[topic] = true
	e.mu.Unlock()
}

// On registers fn for topic. If topic is sticky and already fired, fn is
// called with the retained event before On returns.
func (e *Emitter[E]) On(topic string, fn Handler[E]) *Subscription[E] {
	sub := &Subscription[E]{emitter: e, topic: topic, fn: fn}
	sub.active.Store(true)

	e.mu.Lock()
	e.handlers[topic] = append(e.handlers[topic], sub)
	var replay []E
	var replayTopics []string
	if topic == Any {
		for t, ev := range e.retained {
			replay = append(replay, ev)
			replayTopics = append(replayTopics, t)
		}
	} else if ev, ok := e.retained[topic]; ok {
		replay = append(replay, ev)
		replayTopics = append(replayTopics, topic)
	}
	e.mu.Unlock()

	for i, ev := range replay {
		e.call(replayTopics[i], sub, ev)
	}
	return sub
}

// OnAny registers fn for every topic.
func (e *Emitter[E]) OnAny(fn Handler[E]) *Subscription[E] {
	return e.On(Any, fn)
}

// Once registers fn to run for the next event on topic only.
func (e *Emitter[E]) Once(topic string, fn Handler[E]) *Subscription[E] {
	var sub *Subscription[E]
	var fired atomic.Bool
	sub = e.On(topic, func(ev E) {
		if !fired.CompareAndSwap(false, true) {
			return
		}
		sub.Dispose()
		fn(ev)
	})
	if fired.Load() {
		// Fired during a sticky replay inside On.
		sub.Dispose()
	}
	return sub
}

// Off removes sub. Removing an unknown or already removed subscription is
// a no-op.
func (e *Emitter[E]) Off(sub *Subscription[E]) {
	if sub == nil || !sub.active.CompareAndSwap(true, false) {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	list := e.handlers[sub.topic]
	for i, s := range list {
		if s == sub {
			next := make([]*Subscription[E], 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			if len(next) == 0 {
				delete(e.handlers, sub.topic)
			} else {
				e.handlers[sub.topic] = next
			}
			return
		}
	}
}

// Emit dispatches ev to the handlers of topic and to Any handlers,
// synchronously, before returning.
func (e *Emitter[E]) Emit(topic string, ev E) {
	e.mu.Lock()
	if e.sticky[topic] {
		e.retained[topic] = ev
	}
	snapshot := make([]*Subscription[E], 0, len(e.handlers[topic])+len(e.handlers[Any]))
	snapshot = append(snapshot, e.handlers[topic]...)
	if topic != Any {
		snapshot = append(snapshot, e.handlers[Any]...)
	}
	e.mu.Unlock()

	e.logger.Debug().
		Str("event", topic).
		Int("handlers", len(snapshot)).
		Msg("event emitted")

	for _, sub := range snapshot {
		e.call(topic, sub, ev)
	}
}

// HasSubscribers reports whether topic (or Any) has handlers.
func (e *Emitter[E]) HasSubscribers(topic string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handlers[topic]) > 0 || len(e.handlers[Any]) > 0
}

// Clear removes every handler and retained event.
func (e *Emitter[E]) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, list := range e.handlers {
		for _, s := range list {
			s.active.Store(false)
		}
	}
	e.handlers = make(map[string][]*Subscription[E])
	e.retained = make(map[string]E)
}

func (e *Emitter[E]) call(topic string, sub *Subscription[E], ev E) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Interface("panic", r).
				Str("event", topic).
				Msg("event handler panicked")
		}
	}()
	sub.fn(ev)
}
