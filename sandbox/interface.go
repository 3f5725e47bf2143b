package sandbox

import (
	"context"
	"errors"
)

// Handle is an opaque reference to one isolated environment. A handle is
// owned by exactly one session for its whole lifetime.
type Handle string

// Status describes the live state of an isolated environment.
type Status struct {
	Running  bool
	ExitCode int
}

// ErrNotFound reports that a handle refers to an environment that no longer
// exists, either destroyed through Destroy or removed externally. Callers
// must be prepared for it on every Backend method.
var ErrNotFound = errors.New("sandbox: environment not found")

// Backend is the capability surface of the isolation substrate. All calls
// are bounded-latency: none of them waits for the workload to finish.
type Backend interface {
	// Provision creates a fresh isolated environment, stages the artifact at
	// the well-known entry point path, and starts execution detached.
	Provision(ctx context.Context, artifact []byte) (Handle, error)

	// Status reports whether the environment is still executing and, once it
	// has exited, the exit code.
	Status(ctx context.Context, handle Handle) (Status, error)

	// Logs returns the full captured output of the environment.
	Logs(ctx context.Context, handle Handle) ([]byte, error)

	// Destroy stops and removes the environment. Destroying an environment
	// that is already stopped succeeds; one that is already removed returns
	// ErrNotFound.
	Destroy(ctx context.Context, handle Handle) error
}
