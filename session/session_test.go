package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLifecycle(t *testing.T) {
	s := New("abc", "ctr-1", "main.py")

	assert.Equal(t, "abc", s.ID())
	assert.Equal(t, "ctr-1", string(s.Handle()))
	assert.Equal(t, "main.py", s.Filename())
	assert.Equal(t, StatusPending, s.Status())

	s.MarkRunning()
	assert.Equal(t, StatusRunning, s.Status())

	_, _, _, ok := s.Cached()
	assert.False(t, ok)

	s.Complete([]byte("hi\n"))
	assert.Equal(t, StatusCompleted, s.Status())

	logs, failed, reason, ok := s.Cached()
	require.True(t, ok)
	assert.Equal(t, []byte("hi\n"), logs)
	assert.False(t, failed)
	assert.Empty(t, reason)
}

func TestSessionFail(t *testing.T) {
	s := New("abc", "ctr-1", "main.py")
	s.MarkRunning()

	s.Fail([]byte("traceback"), "script exited with code 1")
	assert.Equal(t, StatusFailed, s.Status())

	logs, failed, reason, ok := s.Cached()
	require.True(t, ok)
	assert.Equal(t, []byte("traceback"), logs)
	assert.True(t, failed)
	assert.Equal(t, "script exited with code 1", reason)
}

func TestSessionCachedLogsWriteOnce(t *testing.T) {
	s := New("abc", "ctr-1", "main.py")

	s.Complete([]byte("first"))
	s.Complete([]byte("second"))
	s.Fail([]byte("third"), "ignored")

	logs, failed, _, ok := s.Cached()
	require.True(t, ok)
	assert.Equal(t, []byte("first"), logs)
	assert.False(t, failed)
	assert.Equal(t, StatusCompleted, s.Status())
}

func TestMarkRunningOnlyFromPending(t *testing.T) {
	s := New("abc", "ctr-1", "main.py")
	s.Complete([]byte("out"))

	s.MarkRunning()
	assert.Equal(t, StatusCompleted, s.Status())
}

func TestSessionTouch(t *testing.T) {
	s := New("abc", "ctr-1", "main.py")
	before := s.LastCheckedAt()

	s.Touch()
	assert.False(t, s.LastCheckedAt().Before(before))
}

func TestSessionConcurrentWriters(t *testing.T) {
	s := New("abc", "ctr-1", "main.py")
	s.MarkRunning()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if n%2 == 0 {
				s.Complete([]byte("done"))
			} else {
				s.Fail([]byte("boom"), "exit 1")
			}
		}(i)
	}
	wg.Wait()

	// Exactly one writer won; the record is coherent either way.
	logs, failed, reason, ok := s.Cached()
	require.True(t, ok)
	if failed {
		assert.Equal(t, []byte("boom"), logs)
		assert.Equal(t, "exit 1", reason)
		assert.Equal(t, StatusFailed, s.Status())
	} else {
		assert.Equal(t, []byte("done"), logs)
		assert.Empty(t, reason)
		assert.Equal(t, StatusCompleted, s.Status())
	}
}
