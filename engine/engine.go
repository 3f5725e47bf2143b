package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/webplatform/sandboxd/sandbox"
	"github.com/webplatform/sandboxd/session"
)

// Outcome classifies the result of polling a session.
type Outcome int

const (
	// OutcomeRunning means the script has not terminated yet.
	OutcomeRunning Outcome = iota
	// OutcomeFinished means the script terminated naturally; Logs holds the
	// captured output.
	OutcomeFinished
	// OutcomeFailed means the script terminated abnormally; Reason holds the
	// failure description and Logs whatever output was captured.
	OutcomeFailed
)

// Result is the observable state of a session returned by Poll.
type Result struct {
	Outcome Outcome
	Logs    []byte
	Reason  string
}

// Engine coordinates session provisioning, monitoring, and cleanup.
type Engine struct {
	logger   *zap.Logger
	backend  sandbox.Backend
	registry *session.Registry

	// teardownFaults counts best-effort backend teardowns that failed after
	// the session record was already removed.
	teardownFaults atomic.Int64
}

// New creates an Engine over the given backend and registry.
func New(logger *zap.Logger, backend sandbox.Backend, registry *session.Registry) *Engine {
	return &Engine{
		logger:   logger,
		backend:  backend,
		registry: registry,
	}
}

// Submit validates the uploaded artifact, provisions an isolated environment
// for it, and registers a new session. The registry insert happens only
// after the backend has accepted the launch, so a provisioning failure
// leaves no orphaned record. The call returns as soon as execution starts;
// it never waits for completion.
func (e *Engine) Submit(ctx context.Context, artifact []byte, filename string) (string, error) {
	if len(artifact) == 0 {
		return "", fmt.Errorf("%w: empty artifact", ErrInvalidInput)
	}

	handle, err := e.backend.Provision(ctx, artifact)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	sess := session.New(uuid.NewString(), handle, filename)
	sess.MarkRunning()
	e.registry.Put(sess)

	e.logger.Info("session provisioned",
		zap.String("session_id", sess.ID()),
		zap.String("container_id", string(handle)),
		zap.String("filename", filename))

	return sess.ID(), nil
}

// Poll reports the current state of a session. Once the script has finished,
// the captured output is cached on the record and repeated polls are served
// from the cache without touching the backend. A session whose environment
// vanished underneath it (a cleanup racing ahead) reports ErrNotFound rather
// than an internal fault.
func (e *Engine) Poll(ctx context.Context, id string) (Result, error) {
	sess, ok := e.registry.Get(id)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if logs, failed, reason, cached := sess.Cached(); cached {
		if failed {
			return Result{Outcome: OutcomeFailed, Logs: logs, Reason: reason}, nil
		}
		return Result{Outcome: OutcomeFinished, Logs: logs}, nil
	}

	// One poller reconciles at a time; the rest re-read the cache it filled,
	// so the backend sees a single status/logs round-trip per exit.
	sess.LockReconcile()
	defer sess.UnlockReconcile()

	if logs, failed, reason, cached := sess.Cached(); cached {
		if failed {
			return Result{Outcome: OutcomeFailed, Logs: logs, Reason: reason}, nil
		}
		return Result{Outcome: OutcomeFinished, Logs: logs}, nil
	}

	status, err := e.backend.Status(ctx, sess.Handle())
	if err != nil {
		if errors.Is(err, sandbox.ErrNotFound) {
			return Result{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Result{}, fmt.Errorf("failed to query backend status: %w", err)
	}

	if status.Running {
		sess.Touch()
		return Result{Outcome: OutcomeRunning}, nil
	}

	logs, err := e.backend.Logs(ctx, sess.Handle())
	if err != nil {
		if errors.Is(err, sandbox.ErrNotFound) {
			return Result{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Result{}, fmt.Errorf("failed to fetch logs: %w", err)
	}

	if status.ExitCode == 0 {
		sess.Complete(logs)
		e.logger.Info("session completed",
			zap.String("session_id", id),
			zap.Int("log_bytes", len(logs)))
		return Result{Outcome: OutcomeFinished, Logs: logs}, nil
	}

	reason := fmt.Sprintf("script exited with code %d", status.ExitCode)
	sess.Fail(logs, reason)
	e.logger.Info("session failed",
		zap.String("session_id", id),
		zap.Int("exit_code", status.ExitCode))
	return Result{Outcome: OutcomeFailed, Logs: logs, Reason: reason}, nil
}

// Cleanup removes the session record and destroys its isolated environment.
// The registry removal happens first and is the deterministic winner against
// a concurrent poll; backend teardown errors are recorded as faults, never
// returned, so the session cannot stay stuck from the caller's view. A
// second cleanup on the same id reports ErrNotFound.
func (e *Engine) Cleanup(ctx context.Context, id string) error {
	sess, ok := e.registry.Delete(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	sess.MarkCleanedUp()

	if err := e.backend.Destroy(ctx, sess.Handle()); err != nil && !errors.Is(err, sandbox.ErrNotFound) {
		e.teardownFaults.Add(1)
		e.logger.Warn("backend teardown failed",
			zap.String("session_id", id),
			zap.String("container_id", string(sess.Handle())),
			zap.Error(err))
	}

	e.logger.Info("session cleaned up", zap.String("session_id", id))

	return nil
}

// TeardownFaults reports how many best-effort backend teardowns have failed.
func (e *Engine) TeardownFaults() int64 {
	return e.teardownFaults.Load()
}
