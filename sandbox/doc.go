// Package sandbox provides the isolation backend for untrusted script execution.
//
// The sandbox package wraps the container substrate behind the Backend
// interface: provision an isolated environment with a staged artifact,
// inspect its live status, fetch its captured output, and destroy it. The
// Docker implementation talks to the Docker Engine API and launches detached
// containers with resource limits, dropped capabilities, and network
// isolation. A pre-warmed pool of created-but-not-started containers cuts
// provisioning latency on the hot path.
//
// Usage:
//
//	backend, err := sandbox.NewDocker(logger, cfg)
//	handle, err := backend.Provision(ctx, script)
//	status, err := backend.Status(ctx, handle)
package sandbox
