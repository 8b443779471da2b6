// internal/form/validator.go
package form

import "context"

// Validator is the contract the form depends on for running rules. Concrete
// rule engines and schema libraries implement it; the form never knows
// which one it talks to.
//
// Background validations run on goroutines, so implementations must be safe
// for concurrent use. A returned error is an adapter defect, not a failed
// validation: failed validations return false and expose messages through
// Errors and ErrorsForPath.
type Validator interface {
	// Validate checks the whole data tree.
	Validate(ctx context.Context, data map[string]any) (bool, error)
	// ValidatePath checks one concrete path against the whole data tree.
	ValidatePath(ctx context.Context, path string, data map[string]any) (bool, error)
	// Errors returns the accumulated error messages by concrete path.
	Errors() map[string][]string
	// ErrorsForPath returns the messages for one concrete path.
	ErrorsForPath(path string) []string
	// DependentFields returns the paths that must be revalidated when path changes.
	DependentFields(path string) []string
	// ClearErrorsForPath drops accumulated messages for path.
	ClearErrorsForPath(path string)
	// Reset drops all accumulated messages.
	Reset()
}

// MessageValidator is implemented by validators that return the messages of
// a check together with its outcome. The form prefers it to reading
// ErrorsForPath or Errors after the call, since a concurrent check of the
// same path may replace the stored messages in between.
type MessageValidator interface {
	// CheckPath checks one concrete path; no messages means it passed.
	CheckPath(ctx context.Context, path string, data map[string]any) ([]string, error)
	// Check checks the whole tree; an empty map means it passed.
	Check(ctx context.Context, data map[string]any) (map[string][]string, error)
}

// nopValidator accepts everything. Used when a form is built without one.
type nopValidator struct{}

func (nopValidator) Validate(context.Context, map[string]any) (bool, error) { return true, nil }
func (nopValidator) ValidatePath(context.Context, string, map[string]any) (bool, error) {
	return true, nil
}
func (nopValidator) Errors() map[string][]string { return map[string][]string{} }
func (nopValidator) ErrorsForPath(string) []string { return nil }
func (nopValidator) DependentFields(string) []string {
	return nil
}
func (nopValidator) ClearErrorsForPath(string) {}
func (nopValidator) Reset() {}
