package metadata

import "errors"

// Error taxonomy surfaced to callers. Storage-level unavailability
// (storage.ErrUnavailable) passes through wrapped and keeps its identity.
var (
	// ErrNotFound: the secret, the pending request, or the namespace
	// document is absent.
	ErrNotFound = errors.New("not found")

	// ErrForbidden: the actor is authenticated but lacks the specific
	// permission (not owner, no access, cannot approve).
	ErrForbidden = errors.New("forbidden")

	// ErrConflict: concurrent writers kept invalidating the
	// read-modify-write cycle past the retry budget.
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput: a required field is missing or empty.
	ErrInvalidInput = errors.New("invalid input")
)
