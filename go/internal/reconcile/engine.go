// Package reconcile owns the canonical match projection. Push frames, pull responses,
// timers and local commands all run to completion inside one serialized section;
// network calls happen outside it and re-enter with their result.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cardsync/go/clients"
	"github.com/mcdev12/cardsync/go/internal/events"
	"github.com/mcdev12/cardsync/go/internal/models"
	"github.com/mcdev12/cardsync/go/internal/optimistic"
	"github.com/mcdev12/cardsync/go/internal/retry"
	"github.com/mcdev12/cardsync/go/internal/turn"
	"github.com/rs/zerolog/log"
)

var (
	ErrClosed              = errors.New("engine closed")
	ErrDuplicateSubmission = errors.New("card already submitted")
	ErrCardNotInHand       = errors.New("card not in hand")
	ErrInvalidOrder        = errors.New("order does not match the cards in hand")
	ErrNoSubmitter         = errors.New("no channel available to submit the action")
)

// Config holds configuration for the engine
type Config struct {
	RefetchCooldown  time.Duration
	SafetyTimeout    time.Duration
	LatencyWindow    time.Duration
	SubmissionWindow time.Duration
	RecentEvents     int
	ConfirmPolicy    retry.Policy
	ResyncPolicy     retry.Policy
	RequestTimeout   time.Duration
}

// DefaultConfig returns default engine configuration
func DefaultConfig() Config {
	return Config{
		RefetchCooldown:  700 * time.Millisecond,
		SafetyTimeout:    1400 * time.Millisecond,
		LatencyWindow:    turn.DefaultLatencyWindow,
		SubmissionWindow: optimistic.DefaultSubmissionWindow,
		RecentEvents:     DefaultRecentEvents,
		ConfirmPolicy:    retry.Linear(2, 250*time.Millisecond),
		ResyncPolicy:     retry.Linear(3, 500*time.Millisecond),
		RequestTimeout:   5 * time.Second,
	}
}

// Publisher is the push side used to emit actions
type Publisher interface {
	Publish(ctx context.Context, destination string, payload any) error
	IsConnected() bool
}

// PullAPI is the request/response side used for canonical fetches and as the
// fallback path for actions
type PullAPI interface {
	GetMatchDetail(ctx context.Context, code, playerID string) (events.FullSnapshot, error)
	SubmitAction(ctx context.Context, code string, action any) error
	UpdateHandOrder(ctx context.Context, code, playerID string, order []string) error
}

// Resolution is the retained payload of a resolved round, kept until settlement
type Resolution struct {
	WinnerID string         `json:"winnerId,omitempty"`
	Counts   map[string]int `json:"counts,omitempty"`
}

// Marker is a pre-resolution attribute selection tied to a played card
type Marker struct {
	PlayerID  string `json:"playerId"`
	CardCode  string `json:"cardCode,omitempty"`
	Attribute string `json:"attribute"`
}

type markerKey struct {
	playerID string
	cardCode string
}

// View is a consistent read-only projection handed to readers
type View struct {
	LocalPlayerID  string             `json:"localPlayerId"`
	State          *models.MatchState `json:"state"`
	Expected       turn.Expectation   `json:"-"`
	ExpectedPlayer string             `json:"expectedPlayerId,omitempty"`
	ExpectedSource string             `json:"expectedSource"`
	CanAct         bool               `json:"canAct"`
	ForceEnabled   bool               `json:"forceEnabled"`
	Resolving      bool               `json:"resolving"`
	Resolution     *Resolution        `json:"resolution,omitempty"`
	Markers        []Marker           `json:"markers,omitempty"`
	PendingReorder bool               `json:"pendingReorder"`
	Degraded       bool               `json:"degraded"`
	Evicted        bool               `json:"evicted"`
}

// MyTurn reports whether the local player is the expected actor
func (v View) MyTurn() bool {
	return v.Expected.Known() && v.Expected.PlayerID == v.LocalPlayerID
}

// heldTable keeps table fields of snapshots received while a round is resolving
type heldTable struct {
	entries      []models.TableEntry
	hasEntries   bool
	attribute    string
	hasAttribute bool
}

// Engine reconciles one match for one local player
type Engine struct {
	config  Config
	clock   clockwork.Clock
	session models.PlayerSession
	push    Publisher
	pull    PullAPI

	mu         sync.Mutex
	state      *models.MatchState
	signal     string
	resolving  bool
	resolution *Resolution
	held       *heldTable
	markers    map[markerKey]string
	evicted    bool
	degraded   bool
	finished   bool
	closed     bool
	dirty      bool

	hand   *optimistic.Tracker[[]string]
	plays  *optimistic.Tracker[int]
	attrs  *optimistic.Tracker[string]
	guard  *optimistic.SubmissionGuard
	window *turn.LatencyWindow

	timers   *scheduler
	throttle *throttle
	recent   *recentBuffer
	notifier *notifier

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates the engine with an empty projection for session.MatchCode.
// push and pull may be nil; actions then fail with ErrNoSubmitter.
func NewEngine(config Config, clock clockwork.Clock, session models.PlayerSession, push Publisher, pull PullAPI) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		config:   config,
		clock:    clock,
		session:  session,
		push:     push,
		pull:     pull,
		state:    models.NewMatchState(session.MatchCode),
		markers:  make(map[markerKey]string),
		hand:     optimistic.NewTracker[[]string](optimistic.KindReorderHand),
		plays:    optimistic.NewTracker[int](optimistic.KindPlayCard),
		attrs:    optimistic.NewTracker[string](optimistic.KindSelectAttribute),
		guard:    optimistic.NewSubmissionGuard(clock, config.SubmissionWindow),
		window:   turn.NewLatencyWindow(clock, config.LatencyWindow),
		recent:   newRecentBuffer(config.RecentEvents),
		notifier: newNotifier(),
		ctx:      ctx,
		cancel:   cancel,
	}
	e.timers = newScheduler(clock, e.do)
	e.throttle = newThrottle(config.RefetchCooldown, e.timers)
	return e
}

// Session returns the identity the engine reconciles for
func (e *Engine) Session() models.PlayerSession {
	return e.session
}

// AddListener registers l and returns a function removing it
func (e *Engine) AddListener(l Listener) func() {
	return e.notifier.add(l)
}

// do runs fn inside the serialized section, then delivers the notifications it caused
func (e *Engine) do(fn func()) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	fn()
	e.commitLocked()
	e.mu.Unlock()
	e.notifier.flush()
}

// commitLocked emits one StateChanged when the projection changed
func (e *Engine) commitLocked() {
	if !e.dirty {
		return
	}
	e.dirty = false
	v := e.viewLocked()
	e.notifier.queue(func(l Listener) { l.StateChanged(v) })
}

func (e *Engine) gateLocked() turn.View {
	return turn.View{
		State:        e.state,
		Expectation:  turn.Resolve(e.state, e.signal),
		Resolving:    e.resolving,
		ForceEnabled: e.window.Active(e.session.PlayerID),
	}
}

func (e *Engine) viewLocked() View {
	gate := e.gateLocked()
	v := View{
		LocalPlayerID:  e.session.PlayerID,
		State:          e.state.Clone(),
		Expected:       gate.Expectation,
		ExpectedPlayer: gate.Expectation.PlayerID,
		ExpectedSource: gate.Expectation.Source.String(),
		CanAct:         !e.finished && turn.CanAct(gate, e.session.PlayerID),
		ForceEnabled:   gate.ForceEnabled,
		Resolving:      e.resolving,
		PendingReorder: e.hand.Len() > 0,
		Degraded:       e.degraded,
		Evicted:        e.evicted,
	}
	if e.resolution != nil {
		r := *e.resolution
		if e.resolution.Counts != nil {
			r.Counts = make(map[string]int, len(e.resolution.Counts))
			for k, n := range e.resolution.Counts {
				r.Counts[k] = n
			}
		}
		v.Resolution = &r
	}
	for k, attr := range e.markers {
		v.Markers = append(v.Markers, Marker{PlayerID: k.playerID, CardCode: k.cardCode, Attribute: attr})
	}
	sort.Slice(v.Markers, func(i, j int) bool {
		if v.Markers[i].PlayerID != v.Markers[j].PlayerID {
			return v.Markers[i].PlayerID < v.Markers[j].PlayerID
		}
		return v.Markers[i].CardCode < v.Markers[j].CardCode
	})
	return v
}

// View returns the current projection
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked()
}

// Recent returns the latest applied events, oldest first
func (e *Engine) Recent() []Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recent.list()
}

// HandleFrame classifies and applies one frame of the match topic. Malformed frames
// are logged and dropped.
func (e *Engine) HandleFrame(data []byte) {
	ev, err := events.Classify(data)
	if err != nil {
		log.Warn().Err(err).Str("match_code", e.session.MatchCode).Msg("dropping match frame")
		return
	}
	e.Apply(ev)
}

// HandleUserError applies one frame of the per-user error topic
func (e *Engine) HandleUserError(data []byte) {
	ev, err := events.ClassifyUserError(data)
	if err != nil {
		log.Warn().Err(err).Str("player_id", e.session.PlayerID).Msg("dropping user error frame")
		return
	}
	e.Apply(ev)
}

// Apply merges one classified event into the projection
func (e *Engine) Apply(ev events.Event) {
	e.do(func() {
		e.recent.add(Record{At: e.clock.Now(), Type: ev.Type(), Event: ev})
		log.Debug().
			Str("match_code", e.session.MatchCode).
			Str("type", ev.Type()).
			Msg("applying event")

		switch ev := ev.(type) {
		case events.FullSnapshot:
			e.mergeSnapshot(ev)
		case events.TurnChanged:
			e.applyTurnChanged(ev)
		case events.CardPlayed:
			e.applyCardPlayed(ev)
		case events.AttributeSelected:
			e.applyAttributeSelected(ev)
		case events.RoundResolved:
			e.applyRoundResolved(ev)
		case events.PlayerJoined:
			e.applyPlayerJoined(ev)
		case events.PlayerLeft:
			e.applyPlayerLeft(ev)
		case events.UserError:
			e.applyUserError(ev)
		case events.Unrecognized:
			e.notifier.queue(func(l Listener) { l.Unrecognized(ev) })
		}
	})
}

// CompleteResolution is the settle signal of the presentation layer. It clears the
// table of a resolved round and triggers a final canonical fetch. It reports whether
// a round was resolving.
func (e *Engine) CompleteResolution() bool {
	settled := false
	e.do(func() {
		settled = e.settleLocked("signal")
	})
	return settled
}

// Degrade switches the engine to best-effort mode after registration failed for good
func (e *Engine) Degrade(err error) {
	e.do(func() {
		if e.degraded {
			return
		}
		e.degraded = true
		e.dirty = true
		log.Warn().Err(err).Str("match_code", e.session.MatchCode).Msg("continuing in degraded mode")
		e.notifier.queue(func(l Listener) { l.Degraded(err) })
	})
}

// Refresh fetches the canonical state now, bypassing the throttle
func (e *Engine) Refresh(ctx context.Context) error {
	if e.pull == nil {
		return ErrNoSubmitter
	}
	snap, err := e.fetch(ctx)
	if err != nil {
		return err
	}
	e.do(func() { e.mergeSnapshot(snap) })
	return nil
}

func (e *Engine) fetch(ctx context.Context) (events.FullSnapshot, error) {
	var snap events.FullSnapshot
	err := retry.Do(ctx, e.clock, e.config.ResyncPolicy, func(ctx context.Context, attempt int) error {
		if e.config.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.config.RequestTimeout)
			defer cancel()
		}
		var err error
		snap, err = e.pull.GetMatchDetail(ctx, e.session.MatchCode, e.session.PlayerID)
		var status *clients.StatusError
		if errors.As(err, &status) && !status.Retryable() {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return events.FullSnapshot{}, fmt.Errorf("fetch match %s: %w", e.session.MatchCode, err)
	}
	return snap, nil
}

// refetchLocked asks for a throttled canonical fetch in category
func (e *Engine) refetchLocked(category string) {
	if e.pull == nil || e.finished {
		return
	}
	e.throttle.request(category, func() { e.startFetch(category) })
}

// startFetch runs a canonical fetch in the background and merges its result
func (e *Engine) startFetch(reason string) {
	if e.pull == nil || e.ctx.Err() != nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		snap, err := e.fetch(e.ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("match_code", e.session.MatchCode).Str("reason", reason).Msg("canonical fetch failed")
			}
			return
		}
		e.do(func() { e.mergeSnapshot(snap) })
	}()
}

// Close stops every timer, drops pending locks and ends background fetches. The last
// projection stays readable.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.timers.cancelAll()
	e.throttle.reset()
	e.guard.Reset()
	e.window.Close()
	e.mu.Unlock()

	e.cancel()
	e.notifier.discard()
	log.Debug().Str("match_code", e.session.MatchCode).Msg("engine closed")
}

// Wait blocks until background fetches started before Close have returned
func (e *Engine) Wait() {
	e.wg.Wait()
}
