package turn

import (
	"errors"

	"github.com/mcdev12/cardsync/go/internal/models"
)

// Rejection reasons of local authorization
var (
	ErrNotYourTurn          = errors.New("not your turn")
	ErrSelectAttributeFirst = errors.New("select an attribute first")
	ErrAttributeLocked      = errors.New("attribute already locked for this round")
	ErrNoActor              = errors.New("no player may act")
	ErrNotInProgress        = errors.New("match is not in progress")
	ErrResolving            = errors.New("round is resolving")
)

// Action is a gated local action
type Action string

const (
	ActionSelectAttribute Action = "SELECT_ATTRIBUTE"
	ActionPlayCard        Action = "PLAY_CARD"
)

// View is what the gate needs to know about the current projection
type View struct {
	State       *models.MatchState
	Expectation Expectation
	Resolving   bool
	// ForceEnabled is set while the latency window is open for the local player
	ForceEnabled bool
}

// Authorize checks whether localPlayerID may perform action right now
func Authorize(v View, localPlayerID string, action Action) error {
	if v.State == nil || localPlayerID == "" {
		return ErrNoActor
	}

	expected := v.Expectation
	// The window never overrides a different expected actor.
	forced := v.ForceEnabled && (!expected.Known() || expected.PlayerID == localPlayerID)
	if forced {
		expected = Expectation{PlayerID: localPlayerID, Source: SourceSignal}
	} else {
		if v.State.Status != models.MatchStatusInProgress {
			return ErrNotInProgress
		}
		if v.Resolving {
			return ErrResolving
		}
	}

	if !expected.Known() {
		return ErrNoActor
	}
	if expected.PlayerID != localPlayerID {
		return ErrNotYourTurn
	}

	switch action {
	case ActionPlayCard:
		if v.State.TableEmpty() && v.State.SelectedAttribute == "" {
			return ErrSelectAttributeFirst
		}
	case ActionSelectAttribute:
		if !v.State.TableEmpty() {
			return ErrAttributeLocked
		}
	}
	return nil
}

// CanAct reports whether any action is currently allowed for localPlayerID
func CanAct(v View, localPlayerID string) bool {
	return Authorize(v, localPlayerID, ActionPlayCard) == nil ||
		Authorize(v, localPlayerID, ActionSelectAttribute) == nil
}
