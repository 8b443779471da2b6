// Package types provides domain models shared across formkeeper components.
//
// Kept dependency-light: only ids.go imports uuid. The form core, the rule
// validator and the storage layer all agree on these shapes without
// importing each other.
package types

// FormID identifies a live form controller instance (UUIDv7).
type FormID string

// SubmissionID identifies a persisted submission (UUIDv7).
type SubmissionID string

// ErrorMap maps a concrete field path to its ordered error messages.
type ErrorMap map[string][]string

// Clone returns a deep copy of the error map.
func (m ErrorMap) Clone() ErrorMap {
	out := make(ErrorMap, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Resource limits enforced by path parsing and rule compilation.
const (
	// MaxPathDepth prevents runaway recursion on rule patterns.
	// 16 levels covers deeply nested forms (a.b.0.c...) comfortably.
	MaxPathDepth = 16

	// MaxNestedWildcards limits wildcard expansion in rule patterns.
	// 2 wildcards allow experiences.*.skills.*.name without exponential fan-out.
	MaxNestedWildcards = 2

	// MaxPayloadSize limits submitted form payloads.
	// 1MB is far beyond typical form data; larger uploads belong in object storage.
	MaxPayloadSize = 1024 * 1024
)
