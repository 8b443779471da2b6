// Package expression evaluates the small expressions embedded in form
// schemas: bare expressions ("form.age > 25") and delimiter-wrapped
// templates ("Hello ${form.name}").
//
// Expressions see four variables: form (data snapshot), context (caller
// data), config (active configuration) and errors (current error map), plus
// a field(path) helper that resolves dot/bracket/wildcard paths against form.
// Evaluation errors never escape EvaluateTemplateString or
// EvaluateCondition: they are logged and degrade to the raw input or false.
package expression

import (
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog"

	"github.com/solatis/formkeeper/internal/fieldpath"
	"github.com/solatis/formkeeper/internal/metrics"
)

// Default template delimiters.
const (
	DefaultOpen  = "${"
	DefaultClose = "}"
)

// Context is the data an expression can read.
type Context struct {
	Form    map[string]any      // form data snapshot
	Context map[string]any      // caller-supplied external data
	Errors  map[string][]string // current error map
}

// Config is the active configuration: template delimiters plus values
// exposed to expressions as config.
type Config struct {
	Open   string
	Close  string
	Values map[string]any
}

func (c Config) delimiters() (string, string) {
	open, close := c.Open, c.Close
	if open == "" {
		open = DefaultOpen
	}
	if close == "" {
		close = DefaultClose
	}
	return open, close
}

// Evaluator compiles and runs expressions, caching compiled programs per
// expression string. Safe for concurrent use.
type Evaluator struct {
	// Compiled program cache, at most cacheSize entries
	cache     map[string]*vm.Program
	cacheMu   sync.RWMutex
	cacheSize int

	// Expr environment options with custom functions
	envOptions []expr.Option

	logger  zerolog.Logger
	metrics *metrics.Collector
}

// DefaultCacheSize bounds the compiled program cache.
const DefaultCacheSize = 1024

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithCacheSize bounds the compiled program cache to n programs.
// n <= 0 keeps DefaultCacheSize.
func WithCacheSize(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.cacheSize = n
		}
	}
}

// WithLogger sets the logger used for evaluation failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Evaluator) { e.logger = logger }
}

// WithMetrics records evaluation failures on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Evaluator) { e.metrics = c }
}

// New creates an evaluator with the custom function set registered.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{
		cache:     make(map[string]*vm.Program),
		cacheSize: DefaultCacheSize,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.envOptions = []expr.Option{
		expr.Function("default", func(params ...any) (any, error) {
			if len(params) != 2 {
				return nil, fmt.Errorf("default requires 2 arguments (value, defaultValue)")
			}
			if IsEmpty(params[0]) {
				return params[1], nil
			}
			return params[0], nil
		}),
		expr.Function("coalesce", func(params ...any) (any, error) {
			for _, p := range params {
				if !IsEmpty(p) {
					return p, nil
				}
			}
			return nil, nil
		}),
		expr.Function("isEmpty", func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("isEmpty requires 1 argument")
			}
			return IsEmpty(params[0]), nil
		}),
		expr.Function("truthy", func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("truthy requires 1 argument")
			}
			return Truthy(params[0]), nil
		}),
	}
	return e
}

var (
	defaultOnce      sync.Once
	defaultEvaluator *Evaluator
)

// Default returns the process-wide evaluator used by the package-level
// functions. It is created on first use and never reset.
func Default() *Evaluator {
	defaultOnce.Do(func() {
		defaultEvaluator = New()
	})
	return defaultEvaluator
}

// EvaluateTemplateString evaluates input with the default evaluator.
func EvaluateTemplateString(input any, ctx Context, cfg Config) any {
	return Default().EvaluateTemplateString(input, ctx, cfg)
}

// EvaluateCondition evaluates cond with the default evaluator.
func EvaluateCondition(cond any, ctx Context, cfg Config) bool {
	return Default().EvaluateCondition(cond, ctx, cfg)
}

// Eval compiles (or fetches from cache) and runs a bare expression.
func (e *Evaluator) Eval(expression string, ctx Context, cfg Config) (any, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, fmt.Errorf("empty expression")
	}
	program, err := e.getOrCompile(expression)
	if err != nil {
		e.metrics.RecordExpressionError("compile")
		return nil, fmt.Errorf("compile %q: %w", expression, err)
	}
	out, err := expr.Run(program, env(ctx, cfg))
	if err != nil {
		e.metrics.RecordExpressionError("run")
		return nil, fmt.Errorf("run %q: %w", expression, err)
	}
	return out, nil
}

// EvaluateTemplateString evaluates a template. Non-strings and strings
// without a template are returned unchanged. A string that is exactly one
// template returns the native value; mixed text returns the interpolated
// string. On any error the raw input is returned.
func (e *Evaluator) EvaluateTemplateString(input any, ctx Context, cfg Config) any {
	s, ok := input.(string)
	if !ok {
		return input
	}
	open, close := cfg.delimiters()
	parts := splitTemplate(s, open, close)
	if !hasExpression(parts) {
		return input
	}

	if len(parts) == 1 {
		v, err := e.Eval(parts[0].text, ctx, cfg)
		if err != nil {
			e.logger.Warn().Err(err).Str("template", s).Msg("template evaluation failed")
			return input
		}
		return v
	}

	var b strings.Builder
	for _, p := range parts {
		if !p.expr {
			b.WriteString(p.text)
			continue
		}
		v, err := e.Eval(p.text, ctx, cfg)
		if err != nil {
			e.logger.Warn().Err(err).Str("template", s).Msg("template evaluation failed")
			return input
		}
		b.WriteString(Stringify(v))
	}
	return b.String()
}

// EvaluateCondition evaluates cond to a boolean. nil is true, bool is
// itself and a string is evaluated as a template or a bare expression.
// Errors are logged and yield false.
func (e *Evaluator) EvaluateCondition(cond any, ctx Context, cfg Config) bool {
	switch c := cond.(type) {
	case nil:
		return true
	case bool:
		return c
	case string:
		open, close := cfg.delimiters()
		parts := splitTemplate(c, open, close)
		if hasExpression(parts) {
			if len(parts) != 1 {
				// Mixed text: the interpolated string decides.
				return Truthy(e.EvaluateTemplateString(c, ctx, cfg))
			}
			c = parts[0].text
		}
		v, err := e.Eval(c, ctx, cfg)
		if err != nil {
			e.logger.Warn().Err(err).Str("condition", c).Msg("condition evaluation failed")
			return false
		}
		return Truthy(v)
	default:
		return Truthy(c)
	}
}

// Compile checks that expression parses against the expression
// environment. Used to reject malformed schema expressions at load time.
func (e *Evaluator) Compile(expression string) error {
	_, err := e.getOrCompile(strings.TrimSpace(expression))
	return err
}

func (e *Evaluator) getOrCompile(expression string) (*vm.Program, error) {
	e.cacheMu.RLock()
	program, ok := e.cache[expression]
	e.cacheMu.RUnlock()
	if ok {
		return program, nil
	}

	opts := append([]expr.Option{expr.Env(prototype)}, e.envOptions...)
	program, err := expr.Compile(expression, opts...)
	if err != nil {
		return nil, err
	}

	e.cacheMu.Lock()
	if _, ok := e.cache[expression]; !ok && len(e.cache) >= e.cacheSize {
		// Evict an arbitrary program; hot expressions recompile once.
		for k := range e.cache {
			delete(e.cache, k)
			break
		}
	}
	e.cache[expression] = program
	e.cacheMu.Unlock()
	return program, nil
}

// prototype fixes the variable types programs are compiled against, so a
// cached program is valid for every Context.
var prototype = map[string]any{
	"form":    map[string]any{},
	"context": map[string]any{},
	"config":  map[string]any{},
	"errors":  map[string][]string{},
	"field":   func(string) any { return nil },
}

func env(ctx Context, cfg Config) map[string]any {
	form := ctx.Form
	if form == nil {
		form = map[string]any{}
	}
	external := ctx.Context
	if external == nil {
		external = map[string]any{}
	}
	values := cfg.Values
	if values == nil {
		values = map[string]any{}
	}
	errs := ctx.Errors
	if errs == nil {
		errs = map[string][]string{}
	}
	return map[string]any{
		"form":    form,
		"context": external,
		"config":  values,
		"errors":  errs,
		"field": func(path string) any {
			res, err := fieldpath.ResolveString(path, form)
			if err != nil {
				return nil
			}
			return res.Value
		},
	}
}
