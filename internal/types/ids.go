package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewFormID generates a UUIDv7 form instance identifier.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewFormID() FormID {
	return FormID(uuid.Must(uuid.NewV7()).String())
}

// NewSubmissionID generates a UUIDv7 submission identifier.
// Time-ordered IDs keep sequential inserts clustered in B-tree pages.
func NewSubmissionID() SubmissionID {
	return SubmissionID(uuid.Must(uuid.NewV7()).String())
}

// NewSecretID generates a 32 hex char identifier for API key secrets
// (UUIDv7 without hyphens).
func NewSecretID() string {
	return strings.ReplaceAll(uuid.Must(uuid.NewV7()).String(), "-", "")
}

// ParseSubmissionID validates and converts a string to SubmissionID.
func ParseSubmissionID(s string) (SubmissionID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return SubmissionID(s), nil
}

// SubmissionIDTime extracts the timestamp embedded in a UUIDv7 ID.
// Returns zero time for invalid UUIDs; caller should check IsZero().
func SubmissionIDTime(id SubmissionID) time.Time {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}
