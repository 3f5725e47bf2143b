// Package engine implements the session lifecycle core.
//
// The Engine ties the session registry to the isolation backend: Submit
// provisions a fresh isolated environment for an uploaded script and issues
// a session id, Poll reconciles the cached session state with the live
// backend state without ever blocking on the workload, and Cleanup tears the
// environment down idempotently. The Reaper applies the same cleanup to
// sessions that outlive the configured age threshold, so abandoned sessions
// cannot leak containers.
//
// All failures are typed results: ErrInvalidInput, ErrBackendUnavailable and
// ErrNotFound map 1:1 onto the transport's response codes, and teardown
// faults are recorded rather than propagated.
package engine
