package engine

import "errors"

var (
	// ErrInvalidInput reports a bad or missing upload. User error.
	ErrInvalidInput = errors.New("engine: invalid input")

	// ErrBackendUnavailable reports that the isolation substrate could not
	// provision an environment. System error; no session record is left
	// behind.
	ErrBackendUnavailable = errors.New("engine: backend unavailable")

	// ErrNotFound reports an unknown or already-cleaned session id.
	ErrNotFound = errors.New("engine: session not found")
)
