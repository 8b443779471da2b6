package api

import (
	"context"
	"fmt"

	"github.com/solatis/formkeeper/internal/dynprops"
	"github.com/solatis/formkeeper/internal/fieldpath"
	"github.com/solatis/formkeeper/internal/schema"
	"github.com/solatis/formkeeper/internal/types"
)

// Request is the input of every form API call.
type Request struct {
	Schema  string         // registered definition name
	Data    map[string]any // submitted values, merged over the definition's initial values
	Context map[string]any // external data exposed to expressions as context
	Path    string         // Validate only: check one path instead of the whole form
}

// Result is the outcome of a form API call.
type Result struct {
	Valid        bool                      `json:"valid"`
	Errors       map[string][]string       `json:"errors"`
	Data         map[string]any            `json:"data,omitempty"`
	Visible      map[string]bool           `json:"visible,omitempty"`
	Props        map[string]map[string]any `json:"props,omitempty"`
	SubmissionID types.SubmissionID        `json:"submission_id,omitempty"`
	ETag         string                    `json:"etag,omitempty"`
}

// Validate checks req.Data against the schema. With req.Path set only that
// path and the fields depending on it are checked, and only their errors
// are reported.
func (s *FormService) Validate(ctx context.Context, req Request) (*Result, error) {
	def, err := s.schemas.Get(req.Schema)
	if err != nil {
		return nil, err
	}
	if req.Path != "" && fieldpath.HasWildcard(req.Path) {
		return nil, fmt.Errorf("path %q: %w", req.Path, types.ErrWildcardInPath)
	}

	f := s.newForm(def, req.Data)
	defer f.Close()

	var (
		valid bool
		errs  map[string][]string
	)
	if req.Path != "" {
		key := fieldpath.Normalize(req.Path)
		paths := append([]string{key}, f.Dependents(key)...)
		for _, p := range paths {
			f.Register(p)
			if _, err := f.ValidatePath(ctx, p); err != nil {
				return nil, fmt.Errorf("validate %s: %w", req.Schema, err)
			}
		}
		errs = map[string][]string{}
		for _, p := range paths {
			if msgs := f.ErrorsFor(p); len(msgs) > 0 {
				errs[p] = msgs
			}
		}
		valid = len(errs) == 0
	} else {
		if valid, err = f.Validate(ctx); err != nil {
			return nil, fmt.Errorf("validate %s: %w", req.Schema, err)
		}
		errs = f.Errors()
	}

	s.logger.Debug().
		Str("schema", req.Schema).
		Bool("valid", valid).
		Int("failed_paths", len(errs)).
		Msg("form validated")

	return &Result{Valid: valid, Errors: errs, ETag: def.ETag()}, nil
}

// Evaluate resolves the schema's dynamic props and visibility conditions
// against req.Data and req.Context. Errors reflect a full validation so
// expressions reading errors see them.
func (s *FormService) Evaluate(ctx context.Context, req Request) (*Result, error) {
	def, err := s.schemas.Get(req.Schema)
	if err != nil {
		return nil, err
	}

	f := s.newForm(def, req.Data)
	defer f.Close()

	valid, err := f.Validate(ctx)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", req.Schema, err)
	}

	ev := dynprops.Evaluator{
		Source:  f,
		Context: req.Context,
		Config:  s.exprConfig(),
		Expr:    s.expr,
	}

	props := make(map[string]map[string]any)
	schema.Walk(def.Fields, func(path string, n *schema.Node) {
		if len(n.Props) > 0 {
			props[path] = ev.EvaluateProps(n.Props)
		}
	})

	return &Result{
		Valid:   valid,
		Errors:  f.Errors(),
		Data:    f.Data(),
		Visible: ev.VisibleFields(def),
		Props:   props,
		ETag:    def.ETag(),
	}, nil
}
