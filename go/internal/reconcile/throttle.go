package reconcile

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Refetch categories. Each one has its own cooldown window.
const (
	categoryPlayers = "players"
	categoryCards   = "cards"
	categoryRound   = "round"
	categorySettle  = "settle"
)

// throttle allows one call per category per cooldown window. Requests made while the
// window is open collapse into a single trailing call when it closes.
type throttle struct {
	cooldown time.Duration
	timers   *scheduler
	windows  map[string]bool // category -> trailing call requested
}

func newThrottle(cooldown time.Duration, timers *scheduler) *throttle {
	return &throttle{
		cooldown: cooldown,
		timers:   timers,
		windows:  make(map[string]bool),
	}
}

// request runs fn now or defers it to the end of the open window
func (t *throttle) request(category string, fn func()) {
	if trailing, open := t.windows[category]; open {
		if !trailing {
			t.windows[category] = true
			log.Debug().Str("category", category).Msg("refetch throttled, trailing fetch queued")
		}
		return
	}

	t.windows[category] = false
	fn()

	t.timers.schedule("throttle:"+category, t.cooldown, func() {
		trailing := t.windows[category]
		delete(t.windows, category)
		if trailing {
			t.request(category, fn)
		}
	})
}

func (t *throttle) open(category string) bool {
	_, ok := t.windows[category]
	return ok
}

// reset forgets every window; their timers are cancelled by the scheduler
func (t *throttle) reset() {
	t.windows = make(map[string]bool)
}
