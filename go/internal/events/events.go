// Package events turns the loosely shaped frames published for a match into typed domain
// events. It is the only place that inspects raw payload fields.
package events

import "github.com/mcdev12/cardsync/go/internal/models"

// Type discriminators understood by the classifier. Aliases map onto these.
const (
	TypeFullSnapshot      = "MATCH_UPDATE"
	TypeTurnChanged       = "TURN_CHANGED"
	TypeCardPlayed        = "CARD_PLAYED"
	TypeAttributeSelected = "ATTRIBUTE_SELECTED"
	TypeRoundResolved     = "ROUND_RESOLVED"
	TypePlayerJoined      = "PLAYER_JOINED"
	TypePlayerLeft        = "PLAYER_LEFT"
	TypeUserError         = "ERROR"
)

// Event is implemented by every classified event
type Event interface {
	// Type returns the canonical discriminator of the event
	Type() string
	isEvent()
}

// Field marks which snapshot fields were present in the frame
type Field uint8

const (
	FieldStatus Field = 1 << iota
	FieldPlayers
	FieldCurrentTurn
	FieldSelectedAttribute
	FieldHand
	FieldTable
)

// FullSnapshot carries a (possibly partial) canonical match state. Only fields flagged
// in Present were sent by the server.
type FullSnapshot struct {
	Code                string
	Status              models.MatchStatus
	Players             []models.Player
	CurrentTurnPlayerID string
	SelectedAttribute   string
	MyHandOrder         []string
	TableEntries        []models.TableEntry
	Present             Field
}

// Has reports whether f was present in the frame
func (s FullSnapshot) Has(f Field) bool {
	return s.Present&f != 0
}

// TurnChanged is the server's declaration of who acts next
type TurnChanged struct {
	ExpectedPlayerID string
}

// CardPlayed reports one card put on the table
type CardPlayed struct {
	PlayerID       string
	CardCode       string
	Attribute      string
	AttributeValue *int
}

// AttributeSelected reports the round's attribute choice
type AttributeSelected struct {
	PlayerID  string
	CardCode  string
	Attribute string
}

// RoundResolved reports the settlement of a round
type RoundResolved struct {
	WinnerID string
	Counts   map[string]int
}

// PlayerJoined reports a player entering the match. Players is set when the frame carried
// the whole list.
type PlayerJoined struct {
	Player  models.Player
	Players []models.Player
}

// PlayerLeft reports a player leaving. Removed asks for the entry to be dropped instead of
// marked disconnected.
type PlayerLeft struct {
	PlayerID string
	Removed  bool
	Players  []models.Player
}

// UserError is a rejection directed at the local player
type UserError struct {
	Message string
	Code    string
}

// Unrecognized carries a frame with an unknown discriminator
type Unrecognized struct {
	RawType string
	Fields  map[string]any
}

func (FullSnapshot) Type() string { return TypeFullSnapshot }
func (TurnChanged) Type() string { return TypeTurnChanged }
func (CardPlayed) Type() string { return TypeCardPlayed }
func (AttributeSelected) Type() string { return TypeAttributeSelected }
func (RoundResolved) Type() string { return TypeRoundResolved }
func (PlayerJoined) Type() string { return TypePlayerJoined }
func (PlayerLeft) Type() string { return TypePlayerLeft }
func (UserError) Type() string { return TypeUserError }
func (u Unrecognized) Type() string { return u.RawType }

func (FullSnapshot) isEvent() {}
func (TurnChanged) isEvent() {}
func (CardPlayed) isEvent() {}
func (AttributeSelected) isEvent() {}
func (RoundResolved) isEvent() {}
func (PlayerJoined) isEvent() {}
func (PlayerLeft) isEvent() {}
func (UserError) isEvent() {}
func (Unrecognized) isEvent() {}
