// internal/schema/registry.go
package schema

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/solatis/formkeeper/internal/metrics"
	"github.com/solatis/formkeeper/internal/types"
)

// reloadDebounce coalesces the burst of events an editor save produces.
const reloadDebounce = 100 * time.Millisecond

// Registry holds the definitions of a schema directory with hot reload.
type Registry struct {
	mu       sync.RWMutex
	dir      string
	defs     map[string]*Definition
	onChange []func(names []string)

	logger  zerolog.Logger
	metrics *metrics.Collector
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	stop    sync.Once
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger zerolog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// WithMetrics records reloads on c.
func WithMetrics(c *metrics.Collector) RegistryOption {
	return func(r *Registry) { r.metrics = c }
}

// NewRegistry loads every definition in dir.
func NewRegistry(dir string, opts ...RegistryOption) (*Registry, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	r := &Registry{
		dir:    abs,
		logger: zerolog.Nop(),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	defs, err := LoadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("load schemas: %w", err)
	}
	r.defs = defs
	r.logger.Info().Str("dir", abs).Int("schemas", len(defs)).Msg("schemas loaded")
	return r, nil
}

// Get returns the definition registered under name.
func (r *Registry) Get(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownSchema, name)
	}
	return d, nil
}

// Names returns the registered schema names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for n := range r.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Reload reloads the directory. On error the previous definitions stay.
func (r *Registry) Reload() error {
	r.logger.Info().Str("dir", r.dir).Msg("reloading schemas")

	defs, err := LoadDir(r.dir)
	r.metrics.RecordSchemaReload(err)
	if err != nil {
		r.logger.Error().Err(err).Msg("schema reload failed, keeping old schemas")
		return fmt.Errorf("reload schemas: %w", err)
	}

	r.mu.Lock()
	old := r.defs
	r.defs = defs
	callbacks := append([]func([]string){}, r.onChange...)
	r.mu.Unlock()

	changed := changedNames(old, defs)
	for _, fn := range callbacks {
		fn(changed)
	}

	r.logger.Info().Int("schemas", len(defs)).Strs("changed", changed).Msg("schemas reloaded")
	return nil
}

// OnChange registers a callback run after each successful reload with the
// names that were added, removed or replaced.
func (r *Registry) OnChange(fn func(names []string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = append(r.onChange, fn)
}

// Watch reloads the registry when a schema file in the directory changes.
func (r *Registry) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(r.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	r.watcher = watcher

	go r.watchLoop()

	r.logger.Info().Str("dir", r.dir).Msg("watching schemas for changes")
	return nil
}

// Stop ends watching. Safe to call more than once.
func (r *Registry) Stop() {
	r.stop.Do(func() {
		close(r.stopCh)
		if r.watcher != nil {
			r.watcher.Close()
		}
	})
}

func (r *Registry) watchLoop() {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if !isSchemaFile(filepath.Base(event.Name)) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			r.logger.Debug().
				Str("event", event.Op.String()).
				Str("file", event.Name).
				Msg("schema file changed")
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := r.Reload(); err != nil {
				r.logger.Error().Err(err).Msg("file watch reload failed")
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error().Err(err).Msg("file watcher error")

		case <-r.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func changedNames(old, cur map[string]*Definition) []string {
	var out []string
	for name, d := range cur {
		if prev, ok := old[name]; !ok || prev.digest != d.digest {
			out = append(out, name)
		}
	}
	for name := range old {
		if _, ok := cur[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

