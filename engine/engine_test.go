package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/webplatform/sandboxd/sandbox"
	"github.com/webplatform/sandboxd/session"
)

// fakeEnv is one isolated environment tracked by the fake backend.
type fakeEnv struct {
	running  bool
	exitCode int
	logs     []byte
}

// fakeBackend implements sandbox.Backend in memory and counts calls so tests
// can assert that cached polls skip the backend.
type fakeBackend struct {
	mu           sync.Mutex
	next         int
	envs         map[sandbox.Handle]*fakeEnv
	provisionErr error
	destroyErr   error
	statusCalls  int
	logsCalls    int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{envs: make(map[sandbox.Handle]*fakeEnv)}
}

func (f *fakeBackend) Provision(_ context.Context, artifact []byte) (sandbox.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.provisionErr != nil {
		return "", f.provisionErr
	}
	f.next++
	h := sandbox.Handle(fmt.Sprintf("ctr-%d", f.next))
	f.envs[h] = &fakeEnv{running: true}
	return h, nil
}

func (f *fakeBackend) Status(_ context.Context, h sandbox.Handle) (sandbox.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	env, ok := f.envs[h]
	if !ok {
		return sandbox.Status{}, fmt.Errorf("%w: %s", sandbox.ErrNotFound, h)
	}
	return sandbox.Status{Running: env.running, ExitCode: env.exitCode}, nil
}

func (f *fakeBackend) Logs(_ context.Context, h sandbox.Handle) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logsCalls++
	env, ok := f.envs[h]
	if !ok {
		return nil, fmt.Errorf("%w: %s", sandbox.ErrNotFound, h)
	}
	return env.logs, nil
}

func (f *fakeBackend) Destroy(_ context.Context, h sandbox.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyErr != nil {
		return f.destroyErr
	}
	if _, ok := f.envs[h]; !ok {
		return fmt.Errorf("%w: %s", sandbox.ErrNotFound, h)
	}
	delete(f.envs, h)
	return nil
}

// finish marks the environment as exited.
func (f *fakeBackend) finish(h sandbox.Handle, exitCode int, logs []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	env := f.envs[h]
	env.running = false
	env.exitCode = exitCode
	env.logs = logs
}

// vanish removes the environment out from under the engine.
func (f *fakeBackend) vanish(h sandbox.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.envs, h)
}

// liveEnvs counts the environments still held by the backend.
func (f *fakeBackend) liveEnvs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.envs)
}

func newTestEngine(t *testing.T) (*Engine, *fakeBackend, *session.Registry) {
	t.Helper()
	backend := newFakeBackend()
	registry := session.NewRegistry()
	return New(zaptest.NewLogger(t), backend, registry), backend, registry
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("EmptyArtifact", func(t *testing.T) {
		eng, _, reg := newTestEngine(t)

		_, err := eng.Submit(ctx, nil, "main.py")
		require.ErrorIs(t, err, ErrInvalidInput)
		assert.Equal(t, 0, reg.Len())
	})

	t.Run("BackendFailureLeavesNoRecord", func(t *testing.T) {
		eng, backend, reg := newTestEngine(t)
		backend.provisionErr = fmt.Errorf("daemon unavailable")

		_, err := eng.Submit(ctx, []byte("print('hi')"), "main.py")
		require.ErrorIs(t, err, ErrBackendUnavailable)
		assert.Equal(t, 0, reg.Len())
	})

	t.Run("IssuesUniqueIDs", func(t *testing.T) {
		eng, _, reg := newTestEngine(t)

		seen := make(map[string]bool)
		for i := 0; i < 10; i++ {
			id, err := eng.Submit(ctx, []byte("print('hi')"), "main.py")
			require.NoError(t, err)
			assert.False(t, seen[id], "session id reused: %s", id)
			seen[id] = true
		}
		assert.Equal(t, 10, reg.Len())
	})

	t.Run("ImmediatePollNeverNotFound", func(t *testing.T) {
		eng, _, _ := newTestEngine(t)

		id, err := eng.Submit(ctx, []byte("print('hi')"), "main.py")
		require.NoError(t, err)

		res, err := eng.Poll(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, OutcomeRunning, res.Outcome)
	})
}

func TestPoll(t *testing.T) {
	ctx := context.Background()

	t.Run("UnknownID", func(t *testing.T) {
		eng, _, _ := newTestEngine(t)

		_, err := eng.Poll(ctx, "abc")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("StillRunningDoesNotMutate", func(t *testing.T) {
		eng, _, reg := newTestEngine(t)
		id, err := eng.Submit(ctx, []byte("print('hi')"), "main.py")
		require.NoError(t, err)

		res, err := eng.Poll(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, OutcomeRunning, res.Outcome)

		sess, ok := reg.Get(id)
		require.True(t, ok)
		assert.Equal(t, session.StatusRunning, sess.Status())
	})

	t.Run("FinishedCachesLogs", func(t *testing.T) {
		eng, backend, reg := newTestEngine(t)
		id, err := eng.Submit(ctx, []byte("print('hi')"), "main.py")
		require.NoError(t, err)

		sess, _ := reg.Get(id)
		backend.finish(sess.Handle(), 0, []byte("hi\n"))

		res, err := eng.Poll(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, OutcomeFinished, res.Outcome)
		assert.Equal(t, []byte("hi\n"), res.Logs)
		assert.Equal(t, session.StatusCompleted, sess.Status())

		// Repeated polls are served from the cache without backend traffic.
		statusCalls, logsCalls := backend.statusCalls, backend.logsCalls
		for i := 0; i < 3; i++ {
			res, err := eng.Poll(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, OutcomeFinished, res.Outcome)
			assert.Equal(t, []byte("hi\n"), res.Logs)
		}
		assert.Equal(t, statusCalls, backend.statusCalls)
		assert.Equal(t, logsCalls, backend.logsCalls)
	})

	t.Run("AbnormalExitReportsFailed", func(t *testing.T) {
		eng, backend, reg := newTestEngine(t)
		id, err := eng.Submit(ctx, []byte("raise SystemExit(2)"), "main.py")
		require.NoError(t, err)

		sess, _ := reg.Get(id)
		backend.finish(sess.Handle(), 2, []byte("traceback"))

		res, err := eng.Poll(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, res.Outcome)
		assert.Equal(t, "script exited with code 2", res.Reason)
		assert.Equal(t, []byte("traceback"), res.Logs)
		assert.Equal(t, session.StatusFailed, sess.Status())

		// Failure is cached just like success.
		res, err = eng.Poll(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, res.Outcome)
		assert.Equal(t, "script exited with code 2", res.Reason)
	})

	t.Run("ConcurrentPollsFetchLogsOnce", func(t *testing.T) {
		eng, backend, reg := newTestEngine(t)
		id, err := eng.Submit(ctx, []byte("print('hi')"), "main.py")
		require.NoError(t, err)

		sess, _ := reg.Get(id)
		backend.finish(sess.Handle(), 0, []byte("hi\n"))

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := eng.Poll(ctx, id)
				assert.NoError(t, err)
				assert.Equal(t, OutcomeFinished, res.Outcome)
				assert.Equal(t, []byte("hi\n"), res.Logs)
			}()
		}
		wg.Wait()

		// One poller reconciled; everyone else was served from the cache.
		assert.Equal(t, 1, backend.statusCalls)
		assert.Equal(t, 1, backend.logsCalls)
	})

	t.Run("BackendVanishedReportsNotFound", func(t *testing.T) {
		eng, backend, reg := newTestEngine(t)
		id, err := eng.Submit(ctx, []byte("print('hi')"), "main.py")
		require.NoError(t, err)

		sess, _ := reg.Get(id)
		backend.vanish(sess.Handle())

		_, err = eng.Poll(ctx, id)
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()

	t.Run("Idempotent", func(t *testing.T) {
		eng, backend, reg := newTestEngine(t)
		id, err := eng.Submit(ctx, []byte("print('hi')"), "main.py")
		require.NoError(t, err)

		require.NoError(t, eng.Cleanup(ctx, id))
		assert.Equal(t, 0, reg.Len())
		assert.Empty(t, backend.envs)

		// Second cleanup and any later poll report NotFound.
		require.ErrorIs(t, eng.Cleanup(ctx, id), ErrNotFound)
		_, err = eng.Poll(ctx, id)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("UnknownID", func(t *testing.T) {
		eng, _, _ := newTestEngine(t)
		require.ErrorIs(t, eng.Cleanup(ctx, "abc"), ErrNotFound)
	})

	t.Run("TeardownFaultIsSwallowed", func(t *testing.T) {
		eng, backend, reg := newTestEngine(t)
		id, err := eng.Submit(ctx, []byte("print('hi')"), "main.py")
		require.NoError(t, err)

		backend.destroyErr = fmt.Errorf("daemon hiccup")

		require.NoError(t, eng.Cleanup(ctx, id))
		assert.Equal(t, 0, reg.Len())
		assert.Equal(t, int64(1), eng.TeardownFaults())
	})

	t.Run("AlreadyGoneBackendIsNotAFault", func(t *testing.T) {
		eng, backend, reg := newTestEngine(t)
		id, err := eng.Submit(ctx, []byte("print('hi')"), "main.py")
		require.NoError(t, err)

		sess, _ := reg.Get(id)
		backend.vanish(sess.Handle())

		require.NoError(t, eng.Cleanup(ctx, id))
		assert.Equal(t, int64(0), eng.TeardownFaults())
	})
}

func TestConcurrentPollAndCleanup(t *testing.T) {
	ctx := context.Background()
	eng, backend, reg := newTestEngine(t)

	id, err := eng.Submit(ctx, []byte("print('hi')"), "main.py")
	require.NoError(t, err)

	sess, _ := reg.Get(id)
	backend.finish(sess.Handle(), 0, []byte("hi\n"))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := eng.Poll(ctx, id)
			if err != nil {
				// Cleanup raced ahead; NotFound is the only legal error.
				assert.True(t, errors.Is(err, ErrNotFound), "unexpected poll error: %v", err)
				return
			}
			assert.Equal(t, OutcomeFinished, res.Outcome)
			assert.Equal(t, []byte("hi\n"), res.Logs)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, eng.Cleanup(ctx, id))
	}()
	wg.Wait()

	// Final state: cleaned, registry empty, environment gone.
	assert.Equal(t, 0, reg.Len())
	assert.Empty(t, backend.envs)
	_, err = eng.Poll(ctx, id)
	require.ErrorIs(t, err, ErrNotFound)
}
