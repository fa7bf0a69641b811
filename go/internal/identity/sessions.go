package identity

import (
	"context"
	"fmt"

	"github.com/mcdev12/cardsync/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Sessions is the adapter the rest of the client uses. A stored session is never
// silently overwritten: Remember refuses conflicting ids, Replace must be explicit.
type Sessions struct {
	store Store
}

func NewSessions(store Store) *Sessions {
	return &Sessions{store: store}
}

// Lookup returns the stored session for matchCode
func (s *Sessions) Lookup(ctx context.Context, matchCode string) (models.PlayerSession, bool, error) {
	playerID, ok, err := s.store.Get(ctx, matchCode)
	if err != nil || !ok {
		return models.PlayerSession{}, false, err
	}
	return models.PlayerSession{MatchCode: matchCode, PlayerID: playerID}, true, nil
}

// Remember stores a newly created session. Storing the same pair again is a no-op.
func (s *Sessions) Remember(ctx context.Context, session models.PlayerSession) error {
	if !session.Valid() {
		return ErrEmptyKey
	}
	existing, ok, err := s.store.Get(ctx, session.MatchCode)
	if err != nil {
		return err
	}
	if ok {
		if existing == session.PlayerID {
			return nil
		}
		return fmt.Errorf("remember %s: %w (stored %s, got %s)", session.MatchCode, ErrSessionConflict, existing, session.PlayerID)
	}
	return s.store.Set(ctx, session.MatchCode, session.PlayerID)
}

// Replace overwrites the stored id, used when the server confirms a different identity
func (s *Sessions) Replace(ctx context.Context, session models.PlayerSession) error {
	if !session.Valid() {
		return ErrEmptyKey
	}
	existing, ok, err := s.store.Get(ctx, session.MatchCode)
	if err != nil {
		return err
	}
	if ok && existing != session.PlayerID {
		log.Info().
			Str("match_code", session.MatchCode).
			Str("previous_player_id", existing).
			Str("player_id", session.PlayerID).
			Msg("replacing stored player session")
	}
	return s.store.Set(ctx, session.MatchCode, session.PlayerID)
}

// Forget removes the session for matchCode
func (s *Sessions) Forget(ctx context.Context, matchCode string) error {
	return s.store.Delete(ctx, matchCode)
}
