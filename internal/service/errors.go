package service

import "errors"

var (
	// ErrInvalidInput marks a malformed or missing field. Returned to
	// the caller, never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks an id that does not exist or is not owned by
	// the caller. The two cases are deliberately indistinguishable.
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable marks a persistence failure on a synchronous
	// path.
	ErrStoreUnavailable = errors.New("store unavailable")
)
