package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/mcdev12/cardsync/go/clients"
	"github.com/mcdev12/cardsync/go/internal/matchclient"
	"github.com/mcdev12/cardsync/go/internal/optimistic"
	"github.com/mcdev12/cardsync/go/internal/reconcile"
	"github.com/mcdev12/cardsync/go/internal/turn"
	"github.com/rs/zerolog/log"
)

// Lobby is the session lifecycle the bridge exposes to the UI
type Lobby interface {
	Active() *matchclient.Session
	Create(ctx context.Context, displayName string) (*matchclient.Session, error)
	Join(ctx context.Context, code, displayName string) (*matchclient.Session, error)
	Resume(ctx context.Context, code string) (*matchclient.Session, error)
	Start(ctx context.Context) error
	Leave(ctx context.Context) error
}

var _ Lobby = (*matchclient.Client)(nil)

// SessionRequest is the body of create, join and resume
type SessionRequest struct {
	Code        string `json:"code,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// SelectRequest is the body of the select-attribute action
type SelectRequest struct {
	Attribute string `json:"attribute"`
}

// PlayRequest is the body of the play-card action
type PlayRequest struct {
	CardCode string `json:"cardCode"`
}

// ReorderRequest is the body of the reorder-hand action
type ReorderRequest struct {
	Order []string `json:"order"`
}

// ErrorResponse is returned for every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

// StateHandler handles HTTP requests of the UI
type StateHandler struct {
	lobby Lobby
}

// NewStateHandler creates a new state handler
func NewStateHandler(lobby Lobby) *StateHandler {
	return &StateHandler{lobby: lobby}
}

// RegisterStateRoutes registers the match HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/match/state", h.HandleGetState)
	mux.HandleFunc("/api/match/recent", h.HandleGetRecent)
	mux.HandleFunc("/api/match/create", h.HandleCreate)
	mux.HandleFunc("/api/match/join", h.HandleJoin)
	mux.HandleFunc("/api/match/resume", h.HandleResume)
	mux.HandleFunc("/api/match/start", h.HandleStart)
	mux.HandleFunc("/api/match/leave", h.HandleLeave)
	mux.HandleFunc("/api/match/actions/select", h.HandleSelect)
	mux.HandleFunc("/api/match/actions/play", h.HandlePlay)
	mux.HandleFunc("/api/match/actions/reorder", h.HandleReorder)
	mux.HandleFunc("/api/match/resolution/complete", h.HandleCompleteResolution)
}

// HandleGetState handles GET /api/match/state
func (h *StateHandler) HandleGetState(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	engine, ok := h.engine(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, engine.View())
}

// HandleGetRecent handles GET /api/match/recent
func (h *StateHandler) HandleGetRecent(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	engine, ok := h.engine(w)
	if !ok {
		return
	}

	type recentEvent struct {
		At   time.Time `json:"at"`
		Type string    `json:"type"`
	}
	records := engine.Recent()
	out := make([]recentEvent, 0, len(records))
	for _, rec := range records {
		out = append(out, recentEvent{At: rec.At, Type: rec.Type})
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleCreate handles POST /api/match/create
func (h *StateHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !allow(w, r, http.MethodPost) || !decode(w, r, &req) {
		return
	}
	h.openSession(r.Context(), w, func(ctx context.Context) (*matchclient.Session, error) {
		return h.lobby.Create(ctx, req.DisplayName)
	})
}

// HandleJoin handles POST /api/match/join
func (h *StateHandler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !allow(w, r, http.MethodPost) || !decode(w, r, &req) {
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, errors.New("code is required"))
		return
	}
	h.openSession(r.Context(), w, func(ctx context.Context) (*matchclient.Session, error) {
		return h.lobby.Join(ctx, req.Code, req.DisplayName)
	})
}

// HandleResume handles POST /api/match/resume
func (h *StateHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !allow(w, r, http.MethodPost) || !decode(w, r, &req) {
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, errors.New("code is required"))
		return
	}
	h.openSession(r.Context(), w, func(ctx context.Context) (*matchclient.Session, error) {
		return h.lobby.Resume(ctx, req.Code)
	})
}

func (h *StateHandler) openSession(ctx context.Context, w http.ResponseWriter, open func(context.Context) (*matchclient.Session, error)) {
	s, err := open(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to open match session")
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.Engine().View())
}

// HandleStart handles POST /api/match/start
func (h *StateHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if err := h.lobby.Start(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleLeave handles POST /api/match/leave
func (h *StateHandler) HandleLeave(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if err := h.lobby.Leave(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSelect handles POST /api/match/actions/select
func (h *StateHandler) HandleSelect(w http.ResponseWriter, r *http.Request) {
	var req SelectRequest
	if !allow(w, r, http.MethodPost) || !decode(w, r, &req) {
		return
	}
	h.act(w, func(e *reconcile.Engine) error { return e.SelectAttribute(r.Context(), req.Attribute) })
}

// HandlePlay handles POST /api/match/actions/play
func (h *StateHandler) HandlePlay(w http.ResponseWriter, r *http.Request) {
	var req PlayRequest
	if !allow(w, r, http.MethodPost) || !decode(w, r, &req) {
		return
	}
	h.act(w, func(e *reconcile.Engine) error { return e.PlayCard(r.Context(), req.CardCode) })
}

// HandleReorder handles POST /api/match/actions/reorder
func (h *StateHandler) HandleReorder(w http.ResponseWriter, r *http.Request) {
	var req ReorderRequest
	if !allow(w, r, http.MethodPost) || !decode(w, r, &req) {
		return
	}
	h.act(w, func(e *reconcile.Engine) error { return e.ReorderHand(r.Context(), req.Order) })
}

// HandleCompleteResolution handles POST /api/match/resolution/complete, the settle
// signal of the UI once the round result was shown
func (h *StateHandler) HandleCompleteResolution(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	engine, ok := h.engine(w)
	if !ok {
		return
	}
	settled := engine.CompleteResolution()
	writeJSON(w, http.StatusOK, map[string]any{"settled": settled, "view": engine.View()})
}

func (h *StateHandler) act(w http.ResponseWriter, action func(*reconcile.Engine) error) {
	engine, ok := h.engine(w)
	if !ok {
		return
	}
	if err := action(engine); err != nil {
		log.Debug().Err(err).Msg("UI action failed")
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, engine.View())
}

func (h *StateHandler) engine(w http.ResponseWriter) (*reconcile.Engine, bool) {
	s := h.lobby.Active()
	if s == nil {
		writeError(w, http.StatusNotFound, matchclient.ErrNoActiveMatch)
		return nil, false
	}
	return s.Engine(), true
}

// statusFor maps a domain error to an HTTP status
func statusFor(err error) int {
	var statusErr *clients.StatusError
	var mutationErr *optimistic.MutationError
	switch {
	case errors.Is(err, turn.ErrNotYourTurn),
		errors.Is(err, turn.ErrSelectAttributeFirst),
		errors.Is(err, turn.ErrAttributeLocked),
		errors.Is(err, turn.ErrNoActor),
		errors.Is(err, turn.ErrNotInProgress),
		errors.Is(err, turn.ErrResolving),
		errors.Is(err, reconcile.ErrDuplicateSubmission):
		return http.StatusConflict
	case errors.Is(err, reconcile.ErrCardNotInHand),
		errors.Is(err, reconcile.ErrInvalidOrder),
		errors.Is(err, reconcile.ErrEmptyAttribute):
		return http.StatusBadRequest
	case errors.Is(err, matchclient.ErrNoActiveMatch),
		errors.Is(err, matchclient.ErrNoSession):
		return http.StatusNotFound
	case errors.Is(err, reconcile.ErrClosed):
		return http.StatusGone
	case errors.As(err, &mutationErr), errors.Is(err, reconcile.ErrNoSubmitter):
		return http.StatusBadGateway
	case errors.As(err, &statusErr):
		if statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 {
			return statusErr.StatusCode
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
