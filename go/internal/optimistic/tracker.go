// Package optimistic keeps the bookkeeping for local changes applied before the
// server confirmed them.
package optimistic

import (
	"fmt"
	"sync"
)

// Kind identifies a family of mutations
type Kind string

const (
	KindReorderHand     Kind = "REORDER_HAND"
	KindPlayCard        Kind = "PLAY_CARD"
	KindSelectAttribute Kind = "SELECT_ATTRIBUTE"
)

// Ticket identifies one applied mutation. It is handed back on confirmation or failure.
type Ticket struct {
	Kind       Kind
	Entity     string
	Generation uint64
}

// Pending is the in-flight chain of mutations for one entity. Baseline is the value
// before the first mutation of the chain; Submitted the value of the latest one.
type Pending[T any] struct {
	Kind       Kind
	Entity     string
	Baseline   T
	Submitted  T
	Generation uint64
	first      uint64
}

func (p *Pending[T]) owns(t Ticket) bool {
	return t.Generation >= p.first && t.Generation <= p.Generation
}

// MutationError is returned when a mutation could not be confirmed and was rolled back
type MutationError struct {
	Kind   Kind
	Entity string
	Err    error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s %s rolled back: %v", e.Kind, e.Entity, e.Err)
}

func (e *MutationError) Unwrap() error {
	return e.Err
}

// Tracker holds at most one chain per entity for a single kind. A newer mutation
// supersedes the confirm target of the chain but keeps its baseline.
type Tracker[T any] struct {
	kind Kind

	mu     sync.Mutex
	gen    uint64
	chains map[string]*Pending[T]
}

func NewTracker[T any](kind Kind) *Tracker[T] {
	return &Tracker[T]{
		kind:   kind,
		chains: make(map[string]*Pending[T]),
	}
}

// Kind returns the mutation kind handled by the tracker
func (t *Tracker[T]) Kind() Kind {
	return t.kind
}

// Apply records a mutation from current to next. When a chain is already in flight
// for entity, current is ignored and the chain's baseline is kept.
func (t *Tracker[T]) Apply(entity string, current, next T) Ticket {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	p, ok := t.chains[entity]
	if !ok {
		p = &Pending[T]{Kind: t.kind, Entity: entity, Baseline: current, first: t.gen}
		t.chains[entity] = p
	}
	p.Submitted = next
	p.Generation = t.gen
	return Ticket{Kind: t.kind, Entity: entity, Generation: t.gen}
}

// Commit settles the chain when ticket is its latest mutation. Confirmation of a
// superseded mutation leaves the chain pending and returns false.
func (t *Tracker[T]) Commit(ticket Ticket) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.chains[ticket.Entity]
	if !ok || !p.owns(ticket) || ticket.Generation != p.Generation {
		return false
	}
	delete(t.chains, ticket.Entity)
	return true
}

// Fail drops the chain ticket belongs to and returns its baseline. It returns false
// when the chain already settled.
func (t *Tracker[T]) Fail(ticket Ticket) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var zero T
	p, ok := t.chains[ticket.Entity]
	if !ok || !p.owns(ticket) {
		return zero, false
	}
	delete(t.chains, ticket.Entity)
	return p.Baseline, true
}

// Pending returns the in-flight chain for entity
func (t *Tracker[T]) Pending(entity string) (Pending[T], bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.chains[entity]
	if !ok {
		return Pending[T]{}, false
	}
	return *p, true
}

// Len returns the number of chains in flight
func (t *Tracker[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.chains)
}

// RollbackAll drops every chain and returns their baselines keyed by entity
func (t *Tracker[T]) RollbackAll() map[string]T {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]T, len(t.chains))
	for entity, p := range t.chains {
		out[entity] = p.Baseline
	}
	t.chains = make(map[string]*Pending[T])
	return out
}
