package optimistic

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultSubmissionWindow locks a card-play target after it was submitted
const DefaultSubmissionWindow = 2 * time.Second

// SubmissionGuard suppresses repeated submissions of the same target within a window
type SubmissionGuard struct {
	clock  clockwork.Clock
	window time.Duration

	mu    sync.Mutex
	locks map[string]time.Time
}

func NewSubmissionGuard(clock clockwork.Clock, window time.Duration) *SubmissionGuard {
	return &SubmissionGuard{
		clock:  clock,
		window: window,
		locks:  make(map[string]time.Time),
	}
}

// Acquire locks key for the window. It returns false while key is already locked.
func (g *SubmissionGuard) Acquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	for k, until := range g.locks {
		if !now.Before(until) {
			delete(g.locks, k)
		}
	}
	if _, locked := g.locks[key]; locked {
		return false
	}
	g.locks[key] = now.Add(g.window)
	return true
}

// Release unlocks key early
func (g *SubmissionGuard) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.locks, key)
}

// Locked reports whether key is currently locked
func (g *SubmissionGuard) Locked(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	until, ok := g.locks[key]
	return ok && g.clock.Now().Before(until)
}

// Reset drops every lock
func (g *SubmissionGuard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.locks = make(map[string]time.Time)
}
