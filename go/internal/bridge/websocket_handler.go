package bridge

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests of the UI
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	lobby             Lobby
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, lobby Lobby) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		lobby:             lobby,
	}
}

// HandleMatchConnection upgrades the request and sends the current projection first,
// when a match is open
func (h *WebSocketHandler) HandleMatchConnection(w http.ResponseWriter, r *http.Request) {
	var initial *Event
	if s := h.lobby.Active(); s != nil {
		v := s.Engine().View()
		initial = &Event{ID: uuid.NewString(), Type: EventTypeState, Timestamp: time.Now(), View: &v}
	}

	// The upgrader already answered with an HTTP error on failure
	if err := h.connectionManager.UpgradeConnection(w, r, initial); err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"total_connections": h.connectionManager.Count()})
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/match", h.HandleMatchConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
