package relay

import (
	"sync"
	"time"

	"github.com/tinyland-inc/relayclaw/pkg/telemetry"
)

// FlushFunc pushes the latest content for one remote message to its
// mirrored copy. Failures are the flusher's to log; the synchronizer keeps
// no retry state beyond the next edit burst.
type FlushFunc func(remoteChatID, remoteMessageID, content string)

// EditSync coalesces rapid successive edits to the same upstream message
// into a single deferred transport edit. A streaming bot that edits its
// answer token by token produces at most one outbound edit per debounce
// interval per message, carrying the newest content; superseded
// intermediate versions are never transmitted.
type EditSync struct {
	mu       sync.Mutex
	debounce time.Duration
	pending  map[string]*pendingEdit
	flush    FlushFunc
	stopped  bool
}

type pendingEdit struct {
	timer   *time.Timer
	content string
}

func NewEditSync(debounce time.Duration, flush FlushFunc) *EditSync {
	return &EditSync{
		debounce: debounce,
		pending:  make(map[string]*pendingEdit),
		flush:    flush,
	}
}

func editKey(remoteChatID, remoteMessageID string) string {
	return remoteChatID + "|" + remoteMessageID
}

// Schedule queues the newest content for a remote message and rearms its
// debounce timer, superseding any pending flush for the same message.
func (s *EditSync) Schedule(remoteChatID, remoteMessageID, content string) {
	key := editKey(remoteChatID, remoteMessageID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	telemetry.CountEditScheduled()

	if p, ok := s.pending[key]; ok {
		p.content = content
		p.timer.Reset(s.debounce)
		return
	}

	p := &pendingEdit{content: content}
	p.timer = time.AfterFunc(s.debounce, func() {
		s.fire(remoteChatID, remoteMessageID)
	})
	s.pending[key] = p
}

func (s *EditSync) fire(remoteChatID, remoteMessageID string) {
	key := editKey(remoteChatID, remoteMessageID)

	s.mu.Lock()
	p, ok := s.pending[key]
	if !ok || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.pending, key)
	content := p.content
	s.mu.Unlock()

	s.flush(remoteChatID, remoteMessageID, content)
}

// Stop cancels all pending flushes. Un-flushed edits are lost; the next
// upstream edit after restart re-enters the debounce path.
func (s *EditSync) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for key, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, key)
	}
}
