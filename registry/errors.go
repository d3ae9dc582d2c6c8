package registry

import "errors"

// Failure semantics for every Registry operation: retryable
// (ErrTransientUnavailable) or not (ErrNotFound, ErrForbidden).
var (
	// ErrTransientUnavailable means the registry could not be reached or
	// returned a server-side error; callers may retry.
	ErrTransientUnavailable = errors.New("registry: transiently unavailable")

	// ErrNotFound means the (kind, name) pair has no published value.
	ErrNotFound = errors.New("registry: not found")

	// ErrForbidden means the ambient capability token did not authorize
	// this operation.
	ErrForbidden = errors.New("registry: forbidden")
)
