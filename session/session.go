package session

import (
	"sync"
	"time"

	"github.com/webplatform/sandboxd/sandbox"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCleanedUp Status = "cleaned_up"
)

// Session is the tracked lifecycle of one submitted script. ID, handle,
// filename and creation time are immutable after construction; everything
// else is guarded by the session's own mutex.
type Session struct {
	id        string
	handle    sandbox.Handle
	filename  string
	createdAt time.Time

	mu            sync.Mutex
	status        Status
	lastCheckedAt time.Time
	cachedLogs    []byte
	logsSet       bool
	errMsg        string

	// reconcileMu serializes backend reconciliation; it is never held while
	// mu is held.
	reconcileMu sync.Mutex
}

// New creates a Pending session for the given backend handle.
func New(id string, handle sandbox.Handle, filename string) *Session {
	now := time.Now()
	return &Session{
		id:            id,
		handle:        handle,
		filename:      filename,
		createdAt:     now,
		status:        StatusPending,
		lastCheckedAt: now,
	}
}

// ID returns the external session identifier.
func (s *Session) ID() string { return s.id }

// Handle returns the backend handle owned by this session.
func (s *Session) Handle() sandbox.Handle { return s.handle }

// Filename returns the originally uploaded filename, kept for observability.
func (s *Session) Filename() string { return s.filename }

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Age returns how long ago the session was created.
func (s *Session) Age() time.Duration { return time.Since(s.createdAt) }

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastCheckedAt returns the time of the most recent reconciliation.
func (s *Session) LastCheckedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCheckedAt
}

// LockReconcile serializes backend reconciliation for this session, so
// concurrent polls on a just-exited script do not each fetch its output.
func (s *Session) LockReconcile() { s.reconcileMu.Lock() }

// UnlockReconcile releases the reconciliation lock.
func (s *Session) UnlockReconcile() { s.reconcileMu.Unlock() }

// Touch records that the session was just reconciled against the backend.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCheckedAt = time.Now()
}

// MarkRunning transitions Pending -> Running once the backend has accepted
// the launch.
func (s *Session) MarkRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusPending {
		s.status = StatusRunning
	}
}

// Complete records natural termination with the captured output. The cached
// output is write-once: later calls are no-ops.
func (s *Session) Complete(logs []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logsSet {
		return
	}
	s.cachedLogs = logs
	s.logsSet = true
	s.status = StatusCompleted
	s.lastCheckedAt = time.Now()
}

// Fail records abnormal termination with the captured output and reason.
// Write-once, like Complete.
func (s *Session) Fail(logs []byte, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logsSet {
		return
	}
	s.cachedLogs = logs
	s.logsSet = true
	s.status = StatusFailed
	s.errMsg = reason
	s.lastCheckedAt = time.Now()
}

// MarkCleanedUp transitions the session to its terminal state.
func (s *Session) MarkCleanedUp() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusCleanedUp
}

// Cached returns the recorded outcome if execution already finished:
// the captured output, whether it failed, and the failure reason. ok is
// false while the script is still running (or was never observed finished).
func (s *Session) Cached() (logs []byte, failed bool, reason string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.logsSet {
		return nil, false, "", false
	}
	return s.cachedLogs, s.status == StatusFailed, s.errMsg, true
}
