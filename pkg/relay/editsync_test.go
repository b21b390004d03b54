package relay

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flushRecorder struct {
	mu    sync.Mutex
	calls []flushCall
}

type flushCall struct {
	chatID    string
	messageID string
	content   string
}

func (r *flushRecorder) flush(chatID, messageID, content string) {
	r.mu.Lock()
	r.calls = append(r.calls, flushCall{chatID, messageID, content})
	r.mu.Unlock()
}

func (r *flushRecorder) snapshot() []flushCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]flushCall(nil), r.calls...)
}

func TestEditSyncCoalescesBurst(t *testing.T) {
	rec := &flushRecorder{}
	s := NewEditSync(40*time.Millisecond, rec.flush)
	defer s.Stop()

	s.Schedule("chat", "5", "v1")
	time.Sleep(10 * time.Millisecond)
	s.Schedule("chat", "5", "v2")
	time.Sleep(10 * time.Millisecond)
	s.Schedule("chat", "5", "v3")

	time.Sleep(120 * time.Millisecond)

	calls := rec.snapshot()
	require.Len(t, calls, 1, "a burst collapses to one flush")
	assert.Equal(t, "v3", calls[0].content)
	assert.Equal(t, "chat", calls[0].chatID)
	assert.Equal(t, "5", calls[0].messageID)
}

func TestEditSyncIndependentMessages(t *testing.T) {
	rec := &flushRecorder{}
	s := NewEditSync(30*time.Millisecond, rec.flush)
	defer s.Stop()

	s.Schedule("chat", "5", "a")
	s.Schedule("chat", "6", "b")
	s.Schedule("other", "5", "c")

	time.Sleep(100 * time.Millisecond)

	calls := rec.snapshot()
	assert.Len(t, calls, 3)
	contents := map[string]bool{}
	for _, c := range calls {
		contents[c.content] = true
	}
	assert.True(t, contents["a"] && contents["b"] && contents["c"])
}

func TestEditSyncSecondBurstAfterQuiescence(t *testing.T) {
	rec := &flushRecorder{}
	s := NewEditSync(25*time.Millisecond, rec.flush)
	defer s.Stop()

	s.Schedule("chat", "5", "first")
	time.Sleep(80 * time.Millisecond)
	s.Schedule("chat", "5", "second")
	time.Sleep(80 * time.Millisecond)

	calls := rec.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, "first", calls[0].content)
	assert.Equal(t, "second", calls[1].content)
}

func TestEditSyncStopCancelsPending(t *testing.T) {
	rec := &flushRecorder{}
	s := NewEditSync(30*time.Millisecond, rec.flush)

	s.Schedule("chat", "5", "doomed")
	s.Stop()

	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, rec.snapshot())

	// Scheduling after Stop is a no-op.
	s.Schedule("chat", "6", "late")
	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}
