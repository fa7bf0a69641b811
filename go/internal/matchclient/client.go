// Package matchclient drives one local player's match session: it resolves the
// identity, opens the push subscriptions, registers the connection and hands every
// frame to a reconciliation engine.
package matchclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cardsync/go/clients"
	"github.com/mcdev12/cardsync/go/clients/match_api_client"
	"github.com/mcdev12/cardsync/go/internal/identity"
	"github.com/mcdev12/cardsync/go/internal/models"
	"github.com/mcdev12/cardsync/go/internal/reconcile"
	"github.com/mcdev12/cardsync/go/internal/registration"
	"github.com/mcdev12/cardsync/go/internal/transport"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNoSession is returned when no identity is stored for a match
	ErrNoSession = errors.New("no stored session for match")
	// ErrNoActiveMatch is returned by operations that need an open session
	ErrNoActiveMatch = errors.New("no active match")
	// ErrIncompleteSession is returned when the server response lacks a match code or player id
	ErrIncompleteSession = errors.New("server returned an incomplete session")
)

// LobbyAPI is what the client needs from the pull API
type LobbyAPI interface {
	reconcile.PullAPI
	CreateMatch(ctx context.Context, req match_api_client.CreateMatchRequest) (match_api_client.SessionResponse, error)
	JoinMatch(ctx context.Context, code string, req match_api_client.JoinMatchRequest) (match_api_client.SessionResponse, error)
	ReconnectMatch(ctx context.Context, code string, req match_api_client.ReconnectMatchRequest) (match_api_client.SessionResponse, error)
	StartMatch(ctx context.Context, code string, req match_api_client.StartMatchRequest) error
}

var _ LobbyAPI = (*match_api_client.MatchApiClient)(nil)

// Config holds configuration for match sessions
type Config struct {
	Engine       reconcile.Config
	Registration registration.Config
	// ForgetFinished drops the stored identity once a match is over
	ForgetFinished bool
}

// DefaultConfig returns default match session configuration
func DefaultConfig() Config {
	return Config{
		Engine:         reconcile.DefaultConfig(),
		Registration:   registration.DefaultConfig(),
		ForgetFinished: true,
	}
}

// Client opens at most one match session at a time over a shared push channel
type Client struct {
	config    Config
	clock     clockwork.Clock
	transport *transport.Client
	api       LobbyAPI
	sessions  *identity.Sessions

	mu        sync.Mutex
	active    *Session
	opening   *Session // subscribed but still registering
	listeners []reconcile.Listener
}

// New creates a client. The push channel is connected lazily by the first session.
func New(config Config, clock clockwork.Clock, tc *transport.Client, api LobbyAPI, sessions *identity.Sessions) *Client {
	c := &Client{
		config:    config,
		clock:     clock,
		transport: tc,
		api:       api,
		sessions:  sessions,
	}
	tc.OnReconnect(c.handleReconnect)
	return c
}

// AddListener attaches l to the engine of every session opened afterwards
func (c *Client) AddListener(l reconcile.Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Active returns the open session, or nil
func (c *Client) Active() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Create creates a new match and opens it as its first player
func (c *Client) Create(ctx context.Context, displayName string) (*Session, error) {
	resp, err := c.api.CreateMatch(ctx, match_api_client.CreateMatchRequest{DisplayName: displayName})
	if err != nil {
		return nil, fmt.Errorf("create match: %w", err)
	}
	session, err := sessionFrom(resp, "")
	if err != nil {
		return nil, err
	}
	if err := c.sessions.Remember(ctx, session); err != nil {
		return nil, fmt.Errorf("remember session: %w", err)
	}
	log.Info().Str("match_code", session.MatchCode).Str("player_id", session.PlayerID).Msg("match created")
	return c.open(ctx, session)
}

// Join joins the match with the given code. A stored identity for the match is
// resumed instead of joining as a new player.
func (c *Client) Join(ctx context.Context, code, displayName string) (*Session, error) {
	if _, ok, err := c.sessions.Lookup(ctx, code); err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	} else if ok {
		log.Debug().Str("match_code", code).Msg("stored identity found, resuming instead of joining")
		return c.Resume(ctx, code)
	}

	resp, err := c.api.JoinMatch(ctx, code, match_api_client.JoinMatchRequest{DisplayName: displayName})
	if err != nil {
		return nil, fmt.Errorf("join match %s: %w", code, err)
	}
	session, err := sessionFrom(resp, code)
	if err != nil {
		return nil, err
	}
	if err := c.sessions.Remember(ctx, session); err != nil {
		return nil, fmt.Errorf("remember session: %w", err)
	}
	log.Info().Str("match_code", session.MatchCode).Str("player_id", session.PlayerID).Msg("match joined")
	return c.open(ctx, session)
}

// Resume reconnects to a match with the stored identity. When the server issues a
// different player id the stored one is replaced.
func (c *Client) Resume(ctx context.Context, code string) (*Session, error) {
	stored, ok, err := c.sessions.Lookup(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("resume %s: %w", code, ErrNoSession)
	}

	resp, err := c.api.ReconnectMatch(ctx, code, match_api_client.ReconnectMatchRequest{PlayerID: stored.PlayerID})
	if err != nil {
		var statusErr *clients.StatusError
		if errors.As(err, &statusErr) && (statusErr.StatusCode == http.StatusNotFound || statusErr.StatusCode == http.StatusGone) {
			if ferr := c.sessions.Forget(ctx, code); ferr != nil {
				log.Warn().Err(ferr).Str("match_code", code).Msg("failed to forget stale session")
			}
			return nil, fmt.Errorf("resume %s: %w: %w", code, ErrNoSession, err)
		}
		return nil, fmt.Errorf("reconnect match %s: %w", code, err)
	}

	session := stored
	if resp.PlayerID != "" && resp.PlayerID != stored.PlayerID {
		session.PlayerID = resp.PlayerID
		if err := c.sessions.Replace(ctx, session); err != nil {
			return nil, fmt.Errorf("replace session: %w", err)
		}
	}
	log.Info().Str("match_code", session.MatchCode).Str("player_id", session.PlayerID).Msg("match resumed")
	return c.open(ctx, session)
}

// Start asks the server to start the active match
func (c *Client) Start(ctx context.Context) error {
	s := c.Active()
	if s == nil {
		return ErrNoActiveMatch
	}
	id := s.Identity()
	if err := c.api.StartMatch(ctx, id.MatchCode, match_api_client.StartMatchRequest{PlayerID: id.PlayerID}); err != nil {
		return fmt.Errorf("start match %s: %w", id.MatchCode, err)
	}
	return nil
}

// Leave closes the active session and forgets its identity
func (c *Client) Leave(ctx context.Context) error {
	c.mu.Lock()
	s := c.active
	c.active = nil
	c.mu.Unlock()
	if s == nil {
		return ErrNoActiveMatch
	}

	s.Close()
	if err := c.sessions.Forget(ctx, s.Identity().MatchCode); err != nil {
		return fmt.Errorf("forget session: %w", err)
	}
	log.Info().Str("match_code", s.Identity().MatchCode).Msg("match left")
	return nil
}

// Close closes the active session but keeps its identity for a later Resume
func (c *Client) Close() {
	c.mu.Lock()
	s := c.active
	c.active = nil
	c.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

func sessionFrom(resp match_api_client.SessionResponse, code string) (models.PlayerSession, error) {
	session := models.PlayerSession{MatchCode: resp.Match(), PlayerID: resp.PlayerID}
	if session.MatchCode == "" {
		session.MatchCode = code
	}
	if !session.Valid() {
		return models.PlayerSession{}, ErrIncompleteSession
	}
	return session, nil
}

// open wires a new engine and handshake for session and makes it the active one
func (c *Client) open(ctx context.Context, session models.PlayerSession) (*Session, error) {
	c.mu.Lock()
	previous := c.active
	c.active = nil
	listeners := append([]reconcile.Listener(nil), c.listeners...)
	c.mu.Unlock()
	if previous != nil {
		previous.Close()
	}

	if err := c.transport.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect push channel: %w", err)
	}

	engine := reconcile.NewEngine(c.config.Engine, c.clock, session, c.transport, c.api)
	for _, l := range listeners {
		engine.AddListener(l)
	}
	if c.config.ForgetFinished {
		engine.AddListener(finishedListener{sessions: c.sessions, matchCode: session.MatchCode})
	}

	handshake := registration.New(c.transport.Push(), c.clock, c.config.Registration, session)
	handshake.OnDegraded(engine.Degrade)

	s := &Session{
		identity:  session,
		engine:    engine,
		handshake: handshake,
		transport: c.transport,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	c.mu.Lock()
	c.opening = s
	c.mu.Unlock()
	fail := func(err error) (*Session, error) {
		c.mu.Lock()
		if c.opening == s {
			c.opening = nil
		}
		c.mu.Unlock()
		s.Close()
		return nil, err
	}

	if err := c.transport.Subscribe(session.MatchCode, engine.HandleFrame); err != nil {
		return fail(fmt.Errorf("subscribe match %s: %w", session.MatchCode, err))
	}
	if err := c.transport.SubscribeUserErrors(session.PlayerID, engine.HandleUserError); err != nil {
		return fail(fmt.Errorf("subscribe user errors: %w", err))
	}

	if err := handshake.Register(ctx); err != nil {
		if !errors.Is(err, registration.ErrBudgetExhausted) {
			return fail(fmt.Errorf("register: %w", err))
		}
		engine.Degrade(err)
	} else {
		handshake.Reinforce()
	}

	if err := engine.Refresh(ctx); err != nil {
		log.Warn().Err(err).Str("match_code", session.MatchCode).Msg("initial snapshot failed, waiting for push events")
	}

	c.mu.Lock()
	c.active = s
	if c.opening == s {
		c.opening = nil
	}
	c.mu.Unlock()
	return s, nil
}

// handleReconnect renews the registration of the active session, or of the one
// still being opened, and resyncs it
func (c *Client) handleReconnect() {
	c.mu.Lock()
	s := c.active
	if s == nil {
		s = c.opening
	}
	c.mu.Unlock()
	if s == nil {
		return
	}
	log.Info().Str("match_code", s.identity.MatchCode).Msg("push channel reconnected, renewing registration")
	s.handshake.Renew()
	s.resync()
}

type finishedListener struct {
	reconcile.NopListener
	sessions  *identity.Sessions
	matchCode string
}

func (l finishedListener) Finished(reconcile.View) {
	if err := l.sessions.Forget(context.Background(), l.matchCode); err != nil {
		log.Warn().Err(err).Str("match_code", l.matchCode).Msg("failed to forget finished match")
	}
}
