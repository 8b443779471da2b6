// internal/events/bus.go
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Record is the form-agnostic view of a lifecycle event published on the
// process-wide bus, for tooling and telemetry hooks.
type Record struct {
	Type   string
	FormID string
	Path   string
	Value  any
	Err    error
	At     time.Time
}

// Bus is a process-wide emitter of Records.
type Bus = Emitter[Record]

// NewBus creates a bus. Tests and embedders that want isolation construct
// their own and inject it into forms.
func NewBus(logger zerolog.Logger) *Bus {
	return NewEmitter[Record](logger)
}

var (
	globalOnce sync.Once
	global     *Bus
)

// Global returns the process-wide bus. It is created on first call and
// lives for the rest of the process; it is never reset.
func Global() *Bus {
	globalOnce.Do(func() {
		global = NewBus(zerolog.Nop())
	})
	return global
}
