package models

// Player represents a participant of a match as last reported by the server
type Player struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	TurnOrder   int    `json:"turnOrder"`
	CardCount   *int   `json:"cardCount,omitempty"` // nil when the server did not report it
	Connected   bool   `json:"connected"`
}

// Active reports whether the player still takes part in the turn rotation.
// Players with an unknown card count are treated as active.
func (p Player) Active() bool {
	return p.CardCount == nil || *p.CardCount > 0
}

// Cards returns the card count, or -1 when unknown
func (p Player) Cards() int {
	if p.CardCount == nil {
		return -1
	}
	return *p.CardCount
}

// IntPtr is a small helper for optional counts.
func IntPtr(v int) *int {
	return &v
}

// PlayerSession pairs the local player to a match. It is owned by the identity store.
type PlayerSession struct {
	MatchCode string `json:"matchCode"`
	PlayerID  string `json:"playerId"`
}

// Valid reports whether both halves of the session are known
func (s PlayerSession) Valid() bool {
	return s.MatchCode != "" && s.PlayerID != ""
}

func clonePlayers(players []Player) []Player {
	if players == nil {
		return nil
	}
	out := make([]Player, len(players))
	for i, p := range players {
		out[i] = p
		if p.CardCount != nil {
			out[i].CardCount = IntPtr(*p.CardCount)
		}
	}
	return out
}

func equalPlayer(a, b Player) bool {
	if a.ID != b.ID || a.DisplayName != b.DisplayName || a.TurnOrder != b.TurnOrder || a.Connected != b.Connected {
		return false
	}
	if (a.CardCount == nil) != (b.CardCount == nil) {
		return false
	}
	return a.CardCount == nil || *a.CardCount == *b.CardCount
}

// PlayersEqual compares two player lists structurally, order included.
func PlayersEqual(a, b []Player) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !equalPlayer(a[i], b[i]) {
			return false
		}
	}
	return true
}
