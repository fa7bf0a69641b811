// Package turn derives who may act next and authorizes local actions against it.
package turn

import (
	"slices"

	"github.com/mcdev12/cardsync/go/internal/models"
)

// Source tells where an expectation came from
type Source int

const (
	SourceNone Source = iota
	SourceSignal
	SourceRoundRobin
)

func (s Source) String() string {
	switch s {
	case SourceSignal:
		return "signal"
	case SourceRoundRobin:
		return "round-robin"
	}
	return "none"
}

// Expectation is the player expected to act next
type Expectation struct {
	PlayerID string
	Source   Source
}

// Known reports whether some player is expected to act
func (e Expectation) Known() bool {
	return e.Source != SourceNone && e.PlayerID != ""
}

// Resolve returns the expected actor. A server turn signal wins; otherwise the local
// round-robin over active players is used.
func Resolve(state *models.MatchState, signal string) Expectation {
	if signal != "" {
		return Expectation{PlayerID: signal, Source: SourceSignal}
	}
	if state == nil {
		return Expectation{}
	}
	if id := RoundRobin(state.Players, state.CurrentTurnPlayerID, len(state.TableEntries)); id != "" {
		return Expectation{PlayerID: id, Source: SourceRoundRobin}
	}
	return Expectation{}
}

// RoundRobin counts played cards forward from the turn holder's position among
// the active players. An unknown holder counts from the first active player.
func RoundRobin(players []models.Player, holder string, played int) string {
	active := ActivePlayers(players)
	if len(active) == 0 {
		return ""
	}
	idx := slices.IndexFunc(active, func(p models.Player) bool { return p.ID == holder })
	if idx < 0 {
		idx = 0
	}
	return active[(idx+played)%len(active)].ID
}

// ActivePlayers returns players still holding cards (unknown counts are active),
// ordered by turn order
func ActivePlayers(players []models.Player) []models.Player {
	active := make([]models.Player, 0, len(players))
	for _, p := range players {
		if p.Active() {
			active = append(active, p)
		}
	}
	slices.SortStableFunc(active, func(a, b models.Player) int {
		return a.TurnOrder - b.TurnOrder
	})
	return active
}
