package types

import "errors"

// Sentinel errors for formkeeper operations.
var (
	// ErrEmptyPath indicates a write was attempted at the root path.
	ErrEmptyPath = errors.New("path is empty")

	// ErrPathConflict indicates a key segment was used against a sequence.
	ErrPathConflict = errors.New("path segment conflicts with existing sequence")

	// ErrWildcardInPath indicates a wildcard segment in a concrete data path.
	ErrWildcardInPath = errors.New("wildcard not allowed in data path")

	// ErrPathTooDeep indicates a field path exceeds MaxPathDepth.
	ErrPathTooDeep = errors.New("field path exceeds maximum depth")

	// ErrTooManyWildcards indicates a field path exceeds MaxNestedWildcards.
	ErrTooManyWildcards = errors.New("field path has too many wildcards")

	// ErrWildcardInFieldRef indicates a wildcard in an @field reference that
	// the referring pattern cannot bind.
	ErrWildcardInFieldRef = errors.New("unbound wildcard in field reference")

	// ErrUnknownRule indicates a rule name with no registered implementation.
	ErrUnknownRule = errors.New("unknown validation rule")

	// ErrInvalidRuleArgs indicates a rule received the wrong number or shape of arguments.
	ErrInvalidRuleArgs = errors.New("invalid rule arguments")

	// ErrCoercionFailed indicates type coercion failed.
	ErrCoercionFailed = errors.New("type coercion failed")

	// ErrFieldNotFound indicates a field path could not be resolved.
	ErrFieldNotFound = errors.New("field not found")

	// ErrUnknownSchema indicates a form definition name is not registered.
	ErrUnknownSchema = errors.New("unknown form schema")

	// ErrInvalidSchema indicates a form definition failed to decode or validate.
	ErrInvalidSchema = errors.New("invalid form schema")

	// ErrPayloadTooLarge indicates a submitted payload exceeds MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")
)
