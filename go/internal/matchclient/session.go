package matchclient

import (
	"context"
	"sync"

	"github.com/mcdev12/cardsync/go/internal/models"
	"github.com/mcdev12/cardsync/go/internal/reconcile"
	"github.com/mcdev12/cardsync/go/internal/registration"
	"github.com/mcdev12/cardsync/go/internal/transport"
	"github.com/rs/zerolog/log"
)

// Session is one open match
type Session struct {
	identity  models.PlayerSession
	engine    *reconcile.Engine
	handshake *registration.Handshake
	transport *transport.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// Identity returns the (match, player) pair of the session
func (s *Session) Identity() models.PlayerSession {
	return s.identity
}

// Engine returns the reconciliation engine of the session
func (s *Session) Engine() *reconcile.Engine {
	return s.engine
}

// resync fetches a canonical snapshot in the background
func (s *Session) resync() {
	if s.ctx.Err() != nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.engine.Refresh(s.ctx); err != nil {
			log.Warn().Err(err).Str("match_code", s.identity.MatchCode).Msg("resync after reconnect failed")
		}
	}()
}

// Close unsubscribes every topic, stops the registration and the engine, and waits
// for their background work. It must not be called from a reconcile.Listener.
func (s *Session) Close() {
	s.once.Do(func() {
		s.transport.UnsubscribeAll()
		s.cancel()
		s.handshake.Stop()
		s.engine.Close()
		s.wg.Wait()
		s.engine.Wait()
		log.Debug().Str("match_code", s.identity.MatchCode).Msg("session closed")
	})
}
