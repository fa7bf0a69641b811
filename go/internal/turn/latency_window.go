package turn

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultLatencyWindow is how long a turn signal naming the local player keeps
// interactivity enabled
const DefaultLatencyWindow = 3 * time.Second

// LatencyWindow force-enables local interactivity for a short time after the server
// names the local player as the next actor, while the rest of the projection catches up.
//
// This is advisory UI relief for slow propagation of turn signals, not a correctness
// mechanism. It never bypasses the select-attribute-first rule or a different expected
// actor, and it can be removed once turn signals are delivered ordered ahead of the
// state they describe.
type LatencyWindow struct {
	clock    clockwork.Clock
	duration time.Duration

	mu       sync.Mutex
	playerID string
	until    time.Time
}

func NewLatencyWindow(clock clockwork.Clock, duration time.Duration) *LatencyWindow {
	return &LatencyWindow{clock: clock, duration: duration}
}

// Open starts the window for playerID and returns when it expires
func (w *LatencyWindow) Open(playerID string) time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.playerID = playerID
	w.until = w.clock.Now().Add(w.duration)
	return w.until
}

// Active reports whether the window is open for playerID
func (w *LatencyWindow) Active(playerID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return playerID != "" && w.playerID == playerID && w.clock.Now().Before(w.until)
}

// Duration returns the configured window length
func (w *LatencyWindow) Duration() time.Duration {
	return w.duration
}

// Close ends the window immediately
func (w *LatencyWindow) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.playerID = ""
	w.until = time.Time{}
}
