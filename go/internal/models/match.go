package models

import "slices"

// MatchStatus defines the lifecycle status of a match.
type MatchStatus string

const (
	MatchStatusWaiting    MatchStatus = "WAITING"
	MatchStatusInProgress MatchStatus = "IN_PROGRESS"
	MatchStatusFinished   MatchStatus = "FINISHED"
)

// Known reports whether the status is one the client understands
func (s MatchStatus) Known() bool {
	switch s {
	case MatchStatusWaiting, MatchStatusInProgress, MatchStatusFinished:
		return true
	}
	return false
}

// TableEntry is one card played during the current round, in play order.
type TableEntry struct {
	PlayerID          string `json:"playerId"`
	CardCode          string `json:"cardCode"`
	AttributeSelected string `json:"attributeSelected,omitempty"`
	AttributeValue    *int   `json:"attributeValue,omitempty"`
}

// MatchState is the canonical projection of one match.
type MatchState struct {
	Code                string       `json:"code"`
	Status              MatchStatus  `json:"state"`
	Players             []Player     `json:"players"`
	CurrentTurnPlayerID string       `json:"currentTurnPlayerId,omitempty"`
	SelectedAttribute   string       `json:"selectedAttribute,omitempty"`
	MyHandOrder         []string     `json:"myHandOrder,omitempty"`
	TableEntries        []TableEntry `json:"tableEntries"`
}

// NewMatchState returns the empty projection created on first subscribe
func NewMatchState(code string) *MatchState {
	return &MatchState{Code: code, Status: MatchStatusWaiting}
}

// Clone returns a deep copy safe to hand to readers.
func (m *MatchState) Clone() *MatchState {
	if m == nil {
		return nil
	}
	out := *m
	out.Players = clonePlayers(m.Players)
	out.MyHandOrder = slices.Clone(m.MyHandOrder)
	if m.TableEntries != nil {
		out.TableEntries = make([]TableEntry, len(m.TableEntries))
		for i, e := range m.TableEntries {
			out.TableEntries[i] = e
			if e.AttributeValue != nil {
				out.TableEntries[i].AttributeValue = IntPtr(*e.AttributeValue)
			}
		}
	}
	return &out
}

// Player returns the player with the given id
func (m *MatchState) Player(id string) (Player, bool) {
	i := m.playerIndex(id)
	if i < 0 {
		return Player{}, false
	}
	return m.Players[i], true
}

// HasPlayer reports whether id is part of the players list
func (m *MatchState) HasPlayer(id string) bool {
	return m.playerIndex(id) >= 0
}

func (m *MatchState) playerIndex(id string) int {
	return slices.IndexFunc(m.Players, func(p Player) bool { return p.ID == id })
}

// UpsertPlayer inserts the player or replaces the entry with the same id.
func (m *MatchState) UpsertPlayer(p Player) {
	if i := m.playerIndex(p.ID); i >= 0 {
		m.Players[i] = p
		return
	}
	m.Players = append(m.Players, p)
}

// RemovePlayer drops the player with the given id and reports whether it existed
func (m *MatchState) RemovePlayer(id string) bool {
	i := m.playerIndex(id)
	if i < 0 {
		return false
	}
	m.Players = slices.Delete(m.Players, i, i+1)
	return true
}

// AdjustCardCount adds delta to a known card count, never going below zero.
func (m *MatchState) AdjustCardCount(id string, delta int) bool {
	i := m.playerIndex(id)
	if i < 0 || m.Players[i].CardCount == nil {
		return false
	}
	n := *m.Players[i].CardCount + delta
	if n < 0 {
		n = 0
	}
	m.Players[i].CardCount = IntPtr(n)
	return true
}

// TableEmpty reports whether no card has been played in the current round
func (m *MatchState) TableEmpty() bool {
	return len(m.TableEntries) == 0
}

// HasCard reports whether the local hand holds the card
func (m *MatchState) HasCard(code string) bool {
	return slices.Contains(m.MyHandOrder, code)
}

// TableEqual compares two table entry lists structurally.
func TableEqual(a, b []TableEntry) bool {
	return slices.EqualFunc(a, b, func(x, y TableEntry) bool {
		if x.PlayerID != y.PlayerID || x.CardCode != y.CardCode || x.AttributeSelected != y.AttributeSelected {
			return false
		}
		if (x.AttributeValue == nil) != (y.AttributeValue == nil) {
			return false
		}
		return x.AttributeValue == nil || *x.AttributeValue == *y.AttributeValue
	})
}

// SameCards reports whether two hands hold the same cards regardless of order.
func SameCards(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x, y := slices.Clone(a), slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}
