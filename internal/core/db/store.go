package db

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/solatis/formkeeper/internal/form"
	"github.com/solatis/formkeeper/internal/types"
)

// ErrNotFound is returned when a submission or key does not exist for the tenant.
var ErrNotFound = errors.New("not found")

// Submission is one persisted form snapshot.
type Submission struct {
	ID          types.SubmissionID `db:"submission_id" json:"id"`
	TenantID    string             `db:"tenant_id" json:"tenant_id"`
	FormName    string             `db:"form_name" json:"form"`
	FormID      string             `db:"form_id" json:"form_id"`
	Payload     string             `db:"payload" json:"-"`
	PayloadHash string             `db:"payload_hash" json:"payload_hash"`
	CreatedAt   time.Time          `db:"created_at" json:"created_at"`
}

// Data decodes the stored payload.
func (s *Submission) Data() (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(s.Payload), &out); err != nil {
		return nil, fmt.Errorf("decode payload %s: %w", s.ID, err)
	}
	return out, nil
}

// SubmissionStore persists submitted form data.
type SubmissionStore struct {
	queries *Queries
	logger  zerolog.Logger
	now     func() time.Time
}

// NewSubmissionStore returns a store over q.
func NewSubmissionStore(q *Queries, logger zerolog.Logger) *SubmissionStore {
	return &SubmissionStore{queries: q, logger: logger, now: time.Now}
}

// Save stores data under a new submission ID.
func (s *SubmissionStore) Save(ctx context.Context, tenantID, formName string, formID types.FormID, data map[string]any) (*Submission, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	if len(payload) > types.MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", types.ErrPayloadTooLarge, len(payload))
	}
	sum := sha256.Sum256(payload)

	sub := &Submission{
		ID:          types.NewSubmissionID(),
		TenantID:    tenantID,
		FormName:    formName,
		FormID:      string(formID),
		Payload:     string(payload),
		PayloadHash: hex.EncodeToString(sum[:]),
		CreatedAt:   s.now().UTC(),
	}
	_, err = s.queries.ExecContext(ctx, "insert-submission",
		sub.ID, sub.TenantID, sub.FormName, sub.FormID, sub.Payload, sub.PayloadHash, sub.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert submission: %w", err)
	}

	s.logger.Debug().
		Str("submission_id", string(sub.ID)).
		Str("tenant_id", tenantID).
		Str("form", formName).
		Msg("submission stored")
	return sub, nil
}

// Get returns a tenant's submission by ID.
func (s *SubmissionStore) Get(ctx context.Context, tenantID string, id types.SubmissionID) (*Submission, error) {
	var sub Submission
	err := s.queries.GetContext(ctx, "get-submission", &sub, id, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("submission %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	return &sub, nil
}

// List returns a tenant's most recent submissions of one form, newest first.
func (s *SubmissionStore) List(ctx context.Context, tenantID, formName string, limit int) ([]Submission, error) {
	if limit <= 0 {
		limit = 100
	}
	var subs []Submission
	if err := s.queries.SelectContext(ctx, "list-submissions", &subs, tenantID, formName, limit); err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	return subs, nil
}

// Count returns the number of stored submissions of one form.
func (s *SubmissionStore) Count(ctx context.Context, tenantID, formName string) (int, error) {
	var n int
	if err := s.queries.GetContext(ctx, "count-submissions", &n, tenantID, formName); err != nil {
		return 0, fmt.Errorf("count submissions: %w", err)
	}
	return n, nil
}

// Handler returns a form submit handler that stores the submitted data.
// saved, when non-nil, receives the stored submission.
func (s *SubmissionStore) Handler(tenantID, formName string, formID types.FormID, saved func(*Submission)) form.SubmitHandler {
	return func(ctx context.Context, data map[string]any) error {
		sub, err := s.Save(ctx, tenantID, formName, formID, data)
		if err != nil {
			return err
		}
		if saved != nil {
			saved(sub)
		}
		return nil
	}
}

// APIKey is a stored API key record. The plaintext key is never stored.
type APIKey struct {
	ID        string
	TenantID  string
	Name      string
	SecretID  string
	CreatedAt time.Time
}

// APIKeyStore manages hashed API keys.
type APIKeyStore struct {
	queries *Queries
	now     func() time.Time
}

// NewAPIKeyStore returns a key store over q.
func NewAPIKeyStore(q *Queries) *APIKeyStore {
	return &APIKeyStore{queries: q, now: time.Now}
}

// Insert stores the HMAC of a newly generated key.
func (s *APIKeyStore) Insert(ctx context.Context, tenantID, name, secretID string, keyHash []byte) (*APIKey, error) {
	key := &APIKey{
		ID:        types.NewSecretID(),
		TenantID:  tenantID,
		Name:      name,
		SecretID:  secretID,
		CreatedAt: s.now().UTC(),
	}
	_, err := s.queries.ExecContext(ctx, "insert-api-key", key.ID, key.TenantID, key.Name, key.SecretID, keyHash, key.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert api key: %w", err)
	}
	return key, nil
}

// Revoke marks a key revoked. Revoking twice returns ErrNotFound.
func (s *APIKeyStore) Revoke(ctx context.Context, id string) error {
	res, err := s.queries.ExecContext(ctx, "revoke-api-key", s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("api key %s: %w", id, ErrNotFound)
	}
	return nil
}
