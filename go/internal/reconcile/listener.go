package reconcile

import (
	"sync"

	"github.com/mcdev12/cardsync/go/internal/events"
	"github.com/rs/zerolog/log"
)

// Listener receives engine notifications. Calls are made in order, outside the engine
// lock, so listeners may call back into the engine.
type Listener interface {
	StateChanged(View)
	Evicted(View)
	ActionRejected(events.UserError)
	Unrecognized(events.Unrecognized)
	Degraded(error)
	Finished(View)
}

// NopListener implements Listener with no-ops; embed it to pick single notifications
type NopListener struct{}

func (NopListener) StateChanged(View) {}
func (NopListener) Evicted(View) {}
func (NopListener) ActionRejected(events.UserError) {}
func (NopListener) Unrecognized(events.Unrecognized) {}
func (NopListener) Degraded(error) {}
func (NopListener) Finished(View) {}

// notifier queues notifications made inside the serialized section and delivers them
// once it is left. A delivery that triggers further notifications appends to the same
// queue instead of recursing.
type notifier struct {
	mu        sync.Mutex
	listeners map[int]Listener
	order     []int
	nextID    int
	pending   []func(Listener)
	draining  bool
}

func newNotifier() *notifier {
	return &notifier{listeners: make(map[int]Listener)}
}

func (n *notifier) add(l Listener) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	n.listeners[id] = l
	n.order = append(n.order, id)
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.listeners, id)
		for i, v := range n.order {
			if v == id {
				n.order = append(n.order[:i], n.order[i+1:]...)
				break
			}
		}
	}
}

func (n *notifier) queue(fn func(Listener)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pending = append(n.pending, fn)
}

// flush delivers queued notifications unless another caller is already doing so
func (n *notifier) flush() {
	n.mu.Lock()
	if n.draining {
		n.mu.Unlock()
		return
	}
	n.draining = true
	for len(n.pending) > 0 {
		fn := n.pending[0]
		n.pending = n.pending[1:]
		listeners := make([]Listener, 0, len(n.order))
		for _, id := range n.order {
			listeners = append(listeners, n.listeners[id])
		}
		n.mu.Unlock()
		for _, l := range listeners {
			deliver(fn, l)
		}
		n.mu.Lock()
	}
	n.draining = false
	n.mu.Unlock()
}

func deliver(fn func(Listener), l Listener) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("listener panicked, notification dropped")
		}
	}()
	fn(l)
}

// discard drops undelivered notifications
func (n *notifier) discard() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pending = nil
}
