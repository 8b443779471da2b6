// Package api implements the form API: validating, evaluating and
// submitting data against registered form schemas.
package api

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/solatis/formkeeper/internal/core/config"
	"github.com/solatis/formkeeper/internal/core/db"
	"github.com/solatis/formkeeper/internal/events"
	"github.com/solatis/formkeeper/internal/expression"
	"github.com/solatis/formkeeper/internal/fieldpath"
	"github.com/solatis/formkeeper/internal/form"
	"github.com/solatis/formkeeper/internal/metrics"
	"github.com/solatis/formkeeper/internal/rules"
	"github.com/solatis/formkeeper/internal/schema"
)

// Schemas resolves form definitions by name. *schema.Registry implements it.
type Schemas interface {
	Get(name string) (*schema.Definition, error)
	Names() []string
}

// FormService builds a short-lived form controller per request.
// Thin orchestration layer over schema, form, rules and dynprops.
type FormService struct {
	schemas Schemas
	store   *db.SubmissionStore
	cfg     config.FormConfig
	dataDir string
	expr    *expression.Evaluator
	logger  zerolog.Logger
	metrics *metrics.Collector
	bus     *events.Bus

	jsonlMutexes map[string]*sync.Mutex
	mutexLock    sync.Mutex
}

// Option configures a FormService.
type Option func(*FormService)

// WithStore persists submissions. Without a store Submit validates only.
func WithStore(store *db.SubmissionStore) Option {
	return func(s *FormService) { s.store = store }
}

// WithLogger sets the service logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *FormService) { s.logger = logger }
}

// WithMetrics records form and expression metrics on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *FormService) { s.metrics = c }
}

// WithBus mirrors every form's lifecycle events to bus. Without it forms
// publish nothing beyond their own emitter.
func WithBus(bus *events.Bus) Option {
	return func(s *FormService) { s.bus = bus }
}

// WithDataDir writes the submission audit log under dir/submissions.
func WithDataDir(dir string) Option {
	return func(s *FormService) { s.dataDir = dir }
}

// NewFormService creates service instance with dependencies.
// Auto-creates the audit directory when a data dir is set.
func NewFormService(schemas Schemas, cfg config.FormConfig, opts ...Option) (*FormService, error) {
	if schemas == nil {
		return nil, fmt.Errorf("schemas cannot be nil")
	}
	s := &FormService{
		schemas:      schemas,
		cfg:          cfg,
		logger:       zerolog.Nop(),
		jsonlMutexes: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.expr = expression.New(expression.WithLogger(s.logger), expression.WithMetrics(s.metrics))

	if s.dataDir != "" {
		if err := os.MkdirAll(filepath.Join(s.dataDir, "submissions"), 0755); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Schemas returns the registered schema names.
func (s *FormService) Schemas() []string {
	return s.schemas.Names()
}

// Definition returns the named definition.
func (s *FormService) Definition(name string) (*schema.Definition, error) {
	return s.schemas.Get(name)
}

func (s *FormService) exprConfig() expression.Config {
	return expression.Config{
		Open:   s.cfg.TemplateOpen,
		Close:  s.cfg.TemplateClose,
		Values: s.cfg.Values,
	}
}

// newForm builds a form over the definition's initial values merged with data.
func (s *FormService) newForm(def *schema.Definition, data map[string]any, extra ...form.Option) *form.Form {
	initial := def.InitialData()
	if initial == nil {
		initial = make(map[string]any, len(data))
	}
	for k, v := range data {
		initial[k] = v
	}
	logger := s.logger.With().Str("schema", def.Name).Logger()
	opts := []form.Option{
		form.WithBus(s.bus),
		form.WithLogger(logger),
		form.WithMetrics(s.metrics),
		form.WithDependencies(def.Dependencies),
		form.WithTriggers(s.cfg.ParsedTriggers()),
		form.WithValidateOnSubmit(s.cfg.ValidateAllOnSubmit),
	}
	f := form.New(initial, def.NewValidator(rules.WithLogger(logger)), append(opts, extra...)...)

	// Only registered fields carry errors: bind every concrete path the
	// definition addresses in the submitted data.
	snapshot := f.Data()
	schema.Walk(def.Fields, func(pattern string, _ *schema.Node) {
		for _, p := range fieldpath.Expand(pattern, snapshot) {
			f.Register(p)
		}
	})
	return f
}

// getJSONLMutex returns mutex for given filename, creating if not exists.
// Per-file mutex protects concurrent writes to same daily JSONL file.
func (s *FormService) getJSONLMutex(filename string) *sync.Mutex {
	s.mutexLock.Lock()
	defer s.mutexLock.Unlock()

	if _, ok := s.jsonlMutexes[filename]; !ok {
		s.jsonlMutexes[filename] = &sync.Mutex{}
	}
	return s.jsonlMutexes[filename]
}
