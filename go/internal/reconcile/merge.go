package reconcile

import (
	"slices"

	"github.com/mcdev12/cardsync/go/internal/events"
	"github.com/mcdev12/cardsync/go/internal/models"
	"github.com/rs/zerolog/log"
)

// mergeSnapshot applies the fields present in s. Players and the turn holder are only
// replaced when materially different, so a rebroadcast of the same snapshot changes
// nothing.
func (e *Engine) mergeSnapshot(s events.FullSnapshot) {
	st := e.state
	if s.Code != "" && st.Code != "" && s.Code != st.Code {
		log.Warn().Str("match_code", st.Code).Str("snapshot_code", s.Code).Msg("ignoring snapshot of another match")
		return
	}

	if s.Has(events.FieldStatus) && s.Status != st.Status {
		log.Debug().Str("match_code", st.Code).Str("from", string(st.Status)).Str("to", string(s.Status)).Msg("match status changed")
		st.Status = s.Status
		e.dirty = true
	}
	if s.Has(events.FieldPlayers) {
		e.replacePlayers(s.Players)
	}
	if s.Has(events.FieldCurrentTurn) && s.CurrentTurnPlayerID != st.CurrentTurnPlayerID {
		st.CurrentTurnPlayerID = s.CurrentTurnPlayerID
		e.signal = ""
		e.closeWindowLocked()
		e.dirty = true
	}
	if s.Has(events.FieldHand) {
		e.mergeHand(s.MyHandOrder)
	}

	if s.Has(events.FieldTable) || s.Has(events.FieldSelectedAttribute) {
		if e.resolving {
			e.holdTable(s)
		} else {
			e.mergeTable(s)
		}
	}

	if s.Has(events.FieldPlayers) {
		e.checkPresence()
	}
	e.checkFinished()
}

func (e *Engine) replacePlayers(players []models.Player) {
	if models.PlayersEqual(e.state.Players, players) {
		return
	}
	e.state.Players = slices.Clone(players)
	e.dirty = true
}

// mergeHand keeps an optimistic order while the card set is unchanged, and keeps
// cards with an in-flight play off the hand
func (e *Engine) mergeHand(incoming []string) {
	st := e.state
	next := slices.DeleteFunc(slices.Clone(incoming), func(code string) bool {
		_, pending := e.plays.Pending(code)
		return pending
	})

	if e.hand.Len() > 0 {
		if models.SameCards(next, st.MyHandOrder) {
			return
		}
		log.Debug().Str("match_code", st.Code).Msg("hand changed under a pending reorder, snapshot wins")
		e.hand.RollbackAll()
	}
	if slices.Equal(next, st.MyHandOrder) {
		return
	}
	st.MyHandOrder = next
	e.dirty = true
}

func (e *Engine) mergeTable(s events.FullSnapshot) {
	st := e.state
	if s.Has(events.FieldTable) && !models.TableEqual(s.TableEntries, st.TableEntries) {
		st.TableEntries = slices.Clone(s.TableEntries)
		e.dirty = true
	}
	if s.Has(events.FieldSelectedAttribute) && s.SelectedAttribute != st.SelectedAttribute {
		if _, pending := e.attrs.Pending(attributeEntity); pending && s.SelectedAttribute == "" {
			return
		}
		st.SelectedAttribute = s.SelectedAttribute
		e.dirty = true
	}
}

func (e *Engine) holdTable(s events.FullSnapshot) {
	if e.held == nil {
		e.held = &heldTable{}
	}
	if s.Has(events.FieldTable) {
		e.held.entries = slices.Clone(s.TableEntries)
		e.held.hasEntries = true
	}
	if s.Has(events.FieldSelectedAttribute) {
		e.held.attribute = s.SelectedAttribute
		e.held.hasAttribute = true
	}
}

// checkPresence raises one eviction per transition of the local player from present
// to absent while the match is running
func (e *Engine) checkPresence() {
	local := e.session.PlayerID
	if local == "" {
		return
	}
	if e.state.HasPlayer(local) {
		if e.evicted {
			e.evicted = false
			e.dirty = true
		}
		return
	}
	if e.evicted || e.state.Status != models.MatchStatusInProgress {
		return
	}
	e.evicted = true
	e.dirty = true
	log.Warn().Str("match_code", e.state.Code).Str("player_id", local).Msg("local player missing from players list")
	v := e.viewLocked()
	e.notifier.queue(func(l Listener) { l.Evicted(v) })
}

func (e *Engine) checkFinished() {
	if e.finished || e.state.Status != models.MatchStatusFinished {
		return
	}
	e.finished = true
	e.resolving = false
	e.resolution = nil
	e.held = nil
	e.signal = ""
	e.timers.cancelAll()
	e.throttle.reset()
	e.guard.Reset()
	e.window.Close()
	e.dirty = true
	log.Info().Str("match_code", e.state.Code).Msg("match finished")
	v := e.viewLocked()
	e.notifier.queue(func(l Listener) { l.Finished(v) })
}

func (e *Engine) applyTurnChanged(ev events.TurnChanged) {
	if e.signal != ev.ExpectedPlayerID {
		e.signal = ev.ExpectedPlayerID
		e.dirty = true
	}
	if ev.ExpectedPlayerID != e.session.PlayerID || e.finished {
		e.closeWindowLocked()
		return
	}
	e.window.Open(e.session.PlayerID)
	e.dirty = true
	// Readers must see interactivity drop when the window expires.
	e.timers.schedule("latency-window", e.window.Duration(), func() {
		e.dirty = true
	})
}

// closeWindowLocked ends a force-enable window once the turn has moved on
func (e *Engine) closeWindowLocked() {
	if !e.timers.pending("latency-window") && !e.window.Active(e.session.PlayerID) {
		return
	}
	e.timers.cancel("latency-window")
	e.window.Close()
	e.dirty = true
}

func (e *Engine) applyCardPlayed(ev events.CardPlayed) {
	st := e.state
	if slices.ContainsFunc(st.TableEntries, func(t models.TableEntry) bool {
		return t.PlayerID == ev.PlayerID && t.CardCode == ev.CardCode
	}) {
		log.Debug().Str("player_id", ev.PlayerID).Str("card_code", ev.CardCode).Msg("duplicate card play ignored")
		return
	}
	if e.resolving {
		// A play of the next round settles the previous one first.
		e.settleLocked("next round")
	}

	attr := ev.Attribute
	if attr == "" {
		attr = e.markers[markerKey{ev.PlayerID, ev.CardCode}]
	}
	if attr == "" {
		attr = e.markers[markerKey{ev.PlayerID, ""}]
	}
	if attr == "" {
		attr = st.SelectedAttribute
	}
	st.TableEntries = append(st.TableEntries, models.TableEntry{
		PlayerID:          ev.PlayerID,
		CardCode:          ev.CardCode,
		AttributeSelected: attr,
		AttributeValue:    ev.AttributeValue,
	})
	if st.SelectedAttribute == "" && attr != "" {
		st.SelectedAttribute = attr
	}
	delete(e.markers, markerKey{ev.PlayerID, ev.CardCode})
	delete(e.markers, markerKey{ev.PlayerID, ""})

	if ev.PlayerID == e.session.PlayerID {
		e.closeWindowLocked()
		st.AdjustCardCount(ev.PlayerID, -1)
		st.MyHandOrder = slices.DeleteFunc(st.MyHandOrder, func(code string) bool { return code == ev.CardCode })
	} else {
		e.refetchLocked(categoryCards)
	}
	if e.signal == ev.PlayerID {
		e.signal = ""
	}
	e.dirty = true
}

func (e *Engine) applyAttributeSelected(ev events.AttributeSelected) {
	if e.resolving {
		e.settleLocked("next round")
	}
	if ev.PlayerID != "" || ev.CardCode != "" {
		key := markerKey{ev.PlayerID, ev.CardCode}
		if e.markers[key] != ev.Attribute {
			e.markers[key] = ev.Attribute
			e.dirty = true
		}
	}
	if e.state.SelectedAttribute != ev.Attribute {
		e.state.SelectedAttribute = ev.Attribute
		e.dirty = true
	}
}

func (e *Engine) applyRoundResolved(ev events.RoundResolved) {
	r := &Resolution{WinnerID: ev.WinnerID, Counts: ev.Counts}
	if e.resolving && e.resolution != nil && sameResolution(e.resolution, r) {
		return
	}
	e.resolving = true
	e.resolution = r
	e.dirty = true
	e.timers.schedule("settle-safety", e.config.SafetyTimeout, func() {
		if e.settleLocked("safety timeout") {
			log.Warn().Str("match_code", e.state.Code).Msg("settle signal missing, table cleared by safety timeout")
		}
	})
	e.refetchLocked(categoryRound)
}

// settleLocked clears the table of a resolving round atomically
func (e *Engine) settleLocked(reason string) bool {
	if !e.resolving {
		return false
	}
	st := e.state
	e.timers.cancel("settle-safety")

	cleared := st.TableEntries
	st.TableEntries = nil
	st.SelectedAttribute = ""
	clear(e.markers)

	if e.resolution != nil {
		for id, n := range e.resolution.Counts {
			for i := range st.Players {
				if st.Players[i].ID == id {
					st.Players[i].CardCount = models.IntPtr(n)
				}
			}
		}
	}
	// A held table equal to the one just cleared is the pre-settlement rebroadcast.
	if h := e.held; h != nil && h.hasEntries && len(h.entries) > 0 && !models.TableEqual(h.entries, cleared) {
		st.TableEntries = h.entries
		if h.hasAttribute {
			st.SelectedAttribute = h.attribute
		}
	}

	e.resolving = false
	e.resolution = nil
	e.held = nil
	e.signal = ""
	e.dirty = true
	log.Debug().Str("match_code", st.Code).Str("reason", reason).Msg("round settled")

	e.refetchLocked(categorySettle)
	return true
}

func sameResolution(a, b *Resolution) bool {
	if a.WinnerID != b.WinnerID || len(a.Counts) != len(b.Counts) {
		return false
	}
	for k, n := range a.Counts {
		if m, ok := b.Counts[k]; !ok || m != n {
			return false
		}
	}
	return true
}

func (e *Engine) applyPlayerJoined(ev events.PlayerJoined) {
	if ev.Players != nil {
		e.replacePlayers(ev.Players)
		e.checkPresence()
	} else if ev.Player.ID != "" {
		p := ev.Player
		if existing, ok := e.state.Player(p.ID); ok {
			if p.CardCount == nil {
				p.CardCount = existing.CardCount
			}
			if p.DisplayName == "" {
				p.DisplayName = existing.DisplayName
			}
			if models.PlayersEqual([]models.Player{p}, []models.Player{existing}) {
				e.refetchLocked(categoryPlayers)
				return
			}
		}
		e.state.UpsertPlayer(p)
		e.dirty = true
		e.checkPresence()
	}
	e.refetchLocked(categoryPlayers)
}

func (e *Engine) applyPlayerLeft(ev events.PlayerLeft) {
	if ev.Players != nil {
		e.replacePlayers(ev.Players)
	}
	if ev.PlayerID != "" {
		if ev.Removed {
			if e.state.RemovePlayer(ev.PlayerID) {
				e.dirty = true
			}
		} else if p, ok := e.state.Player(ev.PlayerID); ok && p.Connected {
			p.Connected = false
			e.state.UpsertPlayer(p)
			e.dirty = true
		}
	}
	e.checkPresence()
	e.refetchLocked(categoryPlayers)
}

// applyUserError surfaces a server rejection, rolls back every pending mutation and
// resyncs regardless of the throttle
func (e *Engine) applyUserError(ev events.UserError) {
	log.Warn().
		Str("match_code", e.state.Code).
		Str("player_id", e.session.PlayerID).
		Str("message", ev.Message).
		Msg("action rejected by server")
	e.notifier.queue(func(l Listener) { l.ActionRejected(ev) })

	if e.rollbackAllLocked() {
		e.dirty = true
	}
	e.guard.Reset()
	e.startFetch("user error")
}
