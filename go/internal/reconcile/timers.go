package reconcile

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// scheduler keeps named one-shot timers. Every method must be called inside the
// engine's serialized section; fired callbacks are run through exec, which enters it.
type scheduler struct {
	clock  clockwork.Clock
	exec   func(func())
	timers map[string]*timerEntry
}

type timerEntry struct {
	timer clockwork.Timer
	done  chan struct{}
}

func newScheduler(clock clockwork.Clock, exec func(func())) *scheduler {
	return &scheduler{
		clock:  clock,
		exec:   exec,
		timers: make(map[string]*timerEntry),
	}
}

// schedule replaces any timer with the same name
func (s *scheduler) schedule(name string, d time.Duration, fn func()) {
	s.cancel(name)

	entry := &timerEntry{timer: s.clock.NewTimer(d), done: make(chan struct{})}
	s.timers[name] = entry

	go func() {
		select {
		case <-entry.timer.Chan():
			s.exec(func() {
				// Cancelled or replaced while waiting to enter.
				if s.timers[name] != entry {
					return
				}
				delete(s.timers, name)
				log.Debug().Str("timer", name).Msg("timer fired")
				fn()
			})
		case <-entry.done:
		}
	}()

	log.Debug().Str("timer", name).Dur("duration", d).Msg("scheduled one-shot timer")
}

func (s *scheduler) cancel(name string) {
	entry, ok := s.timers[name]
	if !ok {
		return
	}
	stopAndDrainTimer(entry.timer)
	close(entry.done)
	delete(s.timers, name)
	log.Debug().Str("timer", name).Msg("cancelled timer")
}

func (s *scheduler) cancelAll() {
	for name := range s.timers {
		s.cancel(name)
	}
}

func (s *scheduler) pending(name string) bool {
	_, ok := s.timers[name]
	return ok
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
