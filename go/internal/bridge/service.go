// Package bridge exposes the local match session to a UI: HTTP routes for state and
// actions, and a WebSocket pushing every projection change.
package bridge

import (
	"context"
	"net/http"

	"github.com/mcdev12/cardsync/go/internal/reconcile"
	"github.com/rs/zerolog/log"
)

// Service is the UI bridge
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
	listener          *broadcaster
}

// Config holds configuration for the bridge
type Config struct {
	ConnectionConfig ConnectionConfig
}

// DefaultConfig returns default configuration for the bridge
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewService creates a new bridge over lobby
func NewService(config Config, lobby Lobby) *Service {
	connectionManager := NewConnectionManager(config.ConnectionConfig)
	return &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager, lobby),
		stateHandler:      NewStateHandler(lobby),
		listener:          &broadcaster{cm: connectionManager},
	}
}

// Listener returns the engine listener feeding the UI connections
func (s *Service) Listener() reconcile.Listener {
	return s.listener
}

// Start runs the broadcast loop until ctx is done
func (s *Service) Start(ctx context.Context) {
	log.Info().Msg("starting UI bridge")
	s.connectionManager.Start(ctx)
	log.Info().Msg("UI bridge stopped")
}

// RegisterRoutes registers the HTTP and WebSocket routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	log.Info().Msg("bridge routes registered")
}
