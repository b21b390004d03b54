package relay

import (
	"sync"
	"time"
)

// cooldownGuard rate-limits relay triggers per (requester, conversation)
// key. A trigger inside the window is dropped silently; this is an
// anti-double-tap guard, not access control.
type cooldownGuard struct {
	mu     sync.Mutex
	window time.Duration
	last   map[string]time.Time
}

func newCooldownGuard(window time.Duration) *cooldownGuard {
	return &cooldownGuard{
		window: window,
		last:   make(map[string]time.Time),
	}
}

// Allow checks and stamps the key in one step.
func (g *cooldownGuard) Allow(key string) bool {
	if g.window <= 0 {
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	if t, ok := g.last[key]; ok && now.Sub(t) < g.window {
		return false
	}
	g.last[key] = now

	// Opportunistic pruning keeps the map bounded without a sweeper.
	if len(g.last) > 1024 {
		for k, t := range g.last {
			if now.Sub(t) >= g.window {
				delete(g.last, k)
			}
		}
	}
	return true
}
