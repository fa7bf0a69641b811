package reconcile

import (
	"context"
	"errors"
	"slices"
	"sort"

	"github.com/google/uuid"
	"github.com/mcdev12/cardsync/go/internal/models"
	"github.com/mcdev12/cardsync/go/internal/optimistic"
	"github.com/mcdev12/cardsync/go/internal/transport"
	"github.com/mcdev12/cardsync/go/internal/turn"
	"github.com/rs/zerolog/log"
)

// ErrEmptyAttribute is returned when selecting a blank attribute
var ErrEmptyAttribute = errors.New("attribute must not be empty")

// attributeEntity keys the selection chain; there is one choice per round
const attributeEntity = "round"

// errUnchanged short-circuits commands that would not change anything
var errUnchanged = errors.New("unchanged")

// ActionMessage is the body of an action sent to the server
type ActionMessage struct {
	Action    string   `json:"action"`
	PlayerID  string   `json:"playerId"`
	MatchCode string   `json:"matchCode"`
	RequestID string   `json:"requestId"`
	Attribute string   `json:"attribute,omitempty"`
	CardCode  string   `json:"cardCode,omitempty"`
	Order     []string `json:"order,omitempty"`
}

func (e *Engine) newAction(kind optimistic.Kind) ActionMessage {
	return ActionMessage{
		Action:    string(kind),
		PlayerID:  e.session.PlayerID,
		MatchCode: e.session.MatchCode,
		RequestID: uuid.NewString(),
	}
}

// command runs fn inside the serialized section like do, but returns its error
func (e *Engine) command(fn func() error) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	err := fn()
	e.commitLocked()
	e.mu.Unlock()
	e.notifier.flush()
	return err
}

// SelectAttribute chooses the round attribute. It is applied locally first and
// rolled back when it cannot be delivered.
func (e *Engine) SelectAttribute(ctx context.Context, attribute string) error {
	if attribute == "" {
		return ErrEmptyAttribute
	}

	var ticket optimistic.Ticket
	err := e.command(func() error {
		if err := turn.Authorize(e.gateLocked(), e.session.PlayerID, turn.ActionSelectAttribute); err != nil {
			return err
		}
		ticket = e.attrs.Apply(attributeEntity, e.state.SelectedAttribute, attribute)
		if e.state.SelectedAttribute != attribute {
			e.state.SelectedAttribute = attribute
			e.dirty = true
		}
		return nil
	})
	if err != nil {
		log.Debug().Err(err).Str("attribute", attribute).Msg("attribute selection rejected locally")
		return err
	}

	msg := e.newAction(optimistic.KindSelectAttribute)
	msg.Attribute = attribute
	return optimistic.Confirm(ctx, e.clock, e.config.ConfirmPolicy, e.attrs, ticket,
		func(ctx context.Context) error { return e.submit(ctx, msg) },
		func(baseline string) {
			e.do(func() {
				if e.state.SelectedAttribute == attribute && e.state.TableEmpty() {
					e.state.SelectedAttribute = baseline
					e.dirty = true
				}
			})
		})
}

// PlayCard plays card from the local hand. The card leaves the hand immediately; the
// table entry and card count follow the server's CARD_PLAYED event.
func (e *Engine) PlayCard(ctx context.Context, card string) error {
	var (
		ticket    optimistic.Ticket
		attribute string
	)
	err := e.command(func() error {
		if e.guard.Locked(card) {
			return ErrDuplicateSubmission
		}
		if err := turn.Authorize(e.gateLocked(), e.session.PlayerID, turn.ActionPlayCard); err != nil {
			return err
		}
		idx := slices.Index(e.state.MyHandOrder, card)
		if idx < 0 {
			return ErrCardNotInHand
		}
		if !e.guard.Acquire(card) {
			return ErrDuplicateSubmission
		}
		ticket = e.plays.Apply(card, idx, -1)
		e.state.MyHandOrder = slices.Delete(slices.Clone(e.state.MyHandOrder), idx, idx+1)
		e.dirty = true
		attribute = e.state.SelectedAttribute
		return nil
	})
	if err != nil {
		log.Debug().Err(err).Str("card_code", card).Msg("card play rejected locally")
		return err
	}

	msg := e.newAction(optimistic.KindPlayCard)
	msg.CardCode = card
	msg.Attribute = attribute
	err = optimistic.Confirm(ctx, e.clock, e.config.ConfirmPolicy, e.plays, ticket,
		func(ctx context.Context) error { return e.submit(ctx, msg) },
		func(idx int) {
			e.do(func() {
				if e.restoreCardLocked(card, idx) {
					e.dirty = true
				}
			})
		})
	if err != nil {
		e.guard.Release(card)
	}
	return err
}

// ReorderHand replaces the local hand order. The order must hold exactly the cards
// currently in hand.
func (e *Engine) ReorderHand(ctx context.Context, order []string) error {
	var ticket optimistic.Ticket
	err := e.command(func() error {
		current := e.state.MyHandOrder
		if !models.SameCards(order, current) {
			return ErrInvalidOrder
		}
		if slices.Equal(order, current) {
			return errUnchanged
		}
		ticket = e.hand.Apply(e.session.PlayerID, slices.Clone(current), slices.Clone(order))
		e.state.MyHandOrder = slices.Clone(order)
		e.dirty = true
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	if err != nil {
		return err
	}

	msg := e.newAction(optimistic.KindReorderHand)
	msg.Order = slices.Clone(order)
	return optimistic.Confirm(ctx, e.clock, e.config.ConfirmPolicy, e.hand, ticket,
		func(ctx context.Context) error { return e.submit(ctx, msg) },
		func(baseline []string) {
			e.do(func() {
				restored := restoreOrder(baseline, e.state.MyHandOrder)
				if !slices.Equal(restored, e.state.MyHandOrder) {
					e.state.MyHandOrder = restored
					e.dirty = true
				}
			})
		})
}

// submit publishes msg on the push channel and falls back to the pull API when the
// push channel is down
func (e *Engine) submit(ctx context.Context, msg ActionMessage) error {
	if e.push != nil && e.push.IsConnected() {
		err := e.push.Publish(ctx, transport.ActionDestination(e.session.MatchCode), msg)
		if err == nil {
			return nil
		}
		if !errors.Is(err, transport.ErrNotConnected) || e.pull == nil {
			return err
		}
		log.Warn().Err(err).Str("action", msg.Action).Msg("push publish failed, falling back to pull API")
	}
	if e.pull == nil {
		return ErrNoSubmitter
	}

	if msg.Action == string(optimistic.KindReorderHand) {
		return e.pull.UpdateHandOrder(ctx, e.session.MatchCode, e.session.PlayerID, msg.Order)
	}
	return e.pull.SubmitAction(ctx, e.session.MatchCode, msg)
}

// restoreCardLocked puts a card whose play failed back at its former position, unless
// the server already put it on the table
func (e *Engine) restoreCardLocked(card string, idx int) bool {
	st := e.state
	if st.HasCard(card) {
		return false
	}
	if slices.ContainsFunc(st.TableEntries, func(t models.TableEntry) bool {
		return t.PlayerID == e.session.PlayerID && t.CardCode == card
	}) {
		return false
	}
	if idx < 0 || idx > len(st.MyHandOrder) {
		idx = len(st.MyHandOrder)
	}
	st.MyHandOrder = slices.Insert(slices.Clone(st.MyHandOrder), idx, card)
	return true
}

// rollbackAllLocked reverts every pending mutation to its baseline
func (e *Engine) rollbackAllLocked() bool {
	st := e.state
	changed := false

	for _, baseline := range e.hand.RollbackAll() {
		restored := restoreOrder(baseline, st.MyHandOrder)
		if !slices.Equal(restored, st.MyHandOrder) {
			st.MyHandOrder = restored
			changed = true
		}
	}

	plays := e.plays.RollbackAll()
	cards := make([]string, 0, len(plays))
	for card := range plays {
		cards = append(cards, card)
	}
	sort.Slice(cards, func(i, j int) bool { return plays[cards[i]] < plays[cards[j]] })
	for _, card := range cards {
		if e.restoreCardLocked(card, plays[card]) {
			changed = true
		}
	}

	if baseline, ok := e.attrs.RollbackAll()[attributeEntity]; ok && st.TableEmpty() && st.SelectedAttribute != baseline {
		st.SelectedAttribute = baseline
		changed = true
	}
	return changed
}

// restoreOrder returns baseline restricted to the cards in current, followed by the
// cards of current that baseline does not know
func restoreOrder(baseline, current []string) []string {
	out := make([]string, 0, len(current))
	for _, c := range baseline {
		if slices.Contains(current, c) && !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	for _, c := range current {
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}
