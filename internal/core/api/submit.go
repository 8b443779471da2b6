package api

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/solatis/formkeeper/internal/core/db"
	"github.com/solatis/formkeeper/internal/form"
	"github.com/solatis/formkeeper/internal/types"
)

// auditRecord is one line of the daily submission log.
type auditRecord struct {
	At           time.Time           `json:"at"`
	TenantID     string              `json:"tenant_id"`
	Schema       string              `json:"schema"`
	FormID       types.FormID        `json:"form_id"`
	SubmissionID types.SubmissionID  `json:"submission_id,omitempty"`
	Valid        bool                `json:"valid"`
	Errors       map[string][]string `json:"errors,omitempty"`
	Error        string              `json:"error,omitempty"`
}

// Submit validates req.Data and, when valid, hands it to the submission
// store. An invalid form is not an error: the result carries the messages.
// Store failures are returned.
func (s *FormService) Submit(ctx context.Context, tenantID string, req Request) (*Result, error) {
	def, err := s.schemas.Get(req.Schema)
	if err != nil {
		return nil, err
	}

	var f *form.Form
	var saved *db.Submission
	var opts []form.Option
	if s.store != nil {
		opts = append(opts, form.WithSubmitHandler(func(ctx context.Context, data map[string]any) error {
			sub, err := s.store.Save(ctx, tenantID, def.Name, f.ID(), data)
			if err != nil {
				return err
			}
			saved = sub
			return nil
		}))
	}

	f = s.newForm(def, req.Data, opts...)
	defer f.Close()

	ok := f.Submit(ctx)
	res := &Result{Valid: ok, Errors: f.Errors(), ETag: def.ETag()}
	if saved != nil {
		res.SubmissionID = saved.ID
	}

	submitErr := f.LastSubmitError()
	if errors.Is(submitErr, form.ErrInvalid) {
		submitErr = nil
		res.Valid = false
	}

	s.audit(auditRecord{
		At:           time.Now().UTC(),
		TenantID:     tenantID,
		Schema:       def.Name,
		FormID:       f.ID(),
		SubmissionID: res.SubmissionID,
		Valid:        res.Valid,
		Errors:       res.Errors,
		Error:        errString(submitErr),
	})

	if submitErr != nil {
		return nil, fmt.Errorf("submit %s: %w", req.Schema, submitErr)
	}

	s.logger.Info().
		Str("schema", def.Name).
		Str("tenant_id", tenantID).
		Bool("valid", res.Valid).
		Str("submission_id", string(res.SubmissionID)).
		Msg("form submitted")
	return res, nil
}

// audit appends rec to the daily JSONL log. Best-effort: the database is
// the source of truth and write failures are only logged.
func (s *FormService) audit(rec auditRecord) {
	if s.dataDir == "" {
		return
	}
	// All records of a request land in the file of its start day.
	filename := filepath.Join(s.dataDir, "submissions", rec.At.Format("2006-01-02.jsonl"))
	mu := s.getJSONLMutex(filename)
	mu.Lock()
	defer mu.Unlock()

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		s.logger.Warn().Err(err).Str("file", filename).Msg("audit log unavailable")
		return
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(rec); err != nil {
		s.logger.Warn().Err(err).Str("file", filename).Msg("audit write failed")
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ErrNoStore is returned by submission reads when persistence is disabled.
var ErrNoStore = errors.New("submission store not configured")

// Submission returns one stored submission of the tenant.
func (s *FormService) Submission(ctx context.Context, tenantID, id string) (*db.Submission, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	sid, err := types.ParseSubmissionID(id)
	if err != nil {
		return nil, fmt.Errorf("submission id %q: %w", id, db.ErrNotFound)
	}
	return s.store.Get(ctx, tenantID, sid)
}

// Submissions lists the newest stored submissions of a form.
func (s *FormService) Submissions(ctx context.Context, tenantID, schemaName string, limit int) ([]db.Submission, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	if _, err := s.schemas.Get(schemaName); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	return s.store.List(ctx, tenantID, schemaName, limit)
}

const maxListLimit = 100
