// Package registration pairs the push connection with a (player, match) identity.
// The server may not have mapped a fresh connection yet, so registration is retried
// with linear backoff and re-published proactively after subscribing.
package registration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cardsync/go/internal/models"
	"github.com/mcdev12/cardsync/go/internal/retry"
	"github.com/mcdev12/cardsync/go/internal/transport"
	"github.com/rs/zerolog/log"
)

var (
	// ErrBudgetExhausted means every registration attempt failed; callers continue in
	// degraded mode
	ErrBudgetExhausted = errors.New("registration budget exhausted")
	// ErrRejected is returned when the server acknowledged the registration negatively
	ErrRejected = errors.New("registration rejected")
)

// Config holds configuration for the handshake
type Config struct {
	Destination    string
	Policy         retry.Policy
	ReinforceCount int
	ReinforceDelay time.Duration
	AckTimeout     time.Duration
}

// DefaultConfig returns default handshake configuration
func DefaultConfig() Config {
	return Config{
		Destination:    transport.RegistrationDestination,
		Policy:         retry.Linear(3, 500*time.Millisecond),
		ReinforceCount: 2,
		ReinforceDelay: 500 * time.Millisecond,
		AckTimeout:     2 * time.Second,
	}
}

// Payload is the registration message
type Payload struct {
	PlayerID  string `json:"playerId"`
	MatchCode string `json:"matchCode"`
}

type ack struct {
	OK    *bool  `json:"ok"`
	Error string `json:"error"`
}

// Handshake registers one session on one push channel
type Handshake struct {
	push    transport.PushChannel
	clock   clockwork.Clock
	config  Config
	session models.PlayerSession

	mu         sync.Mutex
	onDegraded func(error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a handshake for session
func New(push transport.PushChannel, clock clockwork.Clock, config Config, session models.PlayerSession) *Handshake {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handshake{
		push:    push,
		clock:   clock,
		config:  config,
		session: session,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// OnDegraded registers fn to be called when a background registration runs out of attempts
func (h *Handshake) OnDegraded(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDegraded = fn
}

// Register publishes the registration until it is accepted or the budget runs out.
// It returns an error wrapping ErrBudgetExhausted in the latter case.
func (h *Handshake) Register(ctx context.Context) error {
	ctx, stop := h.bind(ctx)
	defer stop()

	payload, err := json.Marshal(Payload{PlayerID: h.session.PlayerID, MatchCode: h.session.MatchCode})
	if err != nil {
		return fmt.Errorf("marshal registration: %w", err)
	}

	err = retry.Do(ctx, h.clock, h.config.Policy, func(ctx context.Context, attempt int) error {
		err := h.attempt(ctx, payload)
		if err != nil {
			log.Warn().
				Err(err).
				Str("match_code", h.session.MatchCode).
				Str("player_id", h.session.PlayerID).
				Int("attempt", attempt).
				Msg("registration attempt failed")
			return err
		}
		log.Debug().
			Str("match_code", h.session.MatchCode).
			Str("player_id", h.session.PlayerID).
			Int("attempt", attempt).
			Msg("registered")
		return nil
	})
	if errors.Is(err, retry.ErrExhausted) {
		return fmt.Errorf("%w: %w", ErrBudgetExhausted, err)
	}
	return err
}

func (h *Handshake) attempt(ctx context.Context, payload []byte) error {
	requester, ok := h.push.(transport.Requester)
	if !ok {
		return h.push.Publish(ctx, h.config.Destination, payload)
	}

	if h.config.AckTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.AckTimeout)
		defer cancel()
	}
	reply, err := requester.Request(ctx, h.config.Destination, payload)
	if err != nil {
		return err
	}

	// Any reply is an acknowledgement unless it says otherwise explicitly.
	var a ack
	if json.Unmarshal(reply, &a) == nil && a.OK != nil && !*a.OK {
		return fmt.Errorf("%w: %s", ErrRejected, a.Error)
	}
	return nil
}

// Reinforce re-publishes the registration in the background ReinforceCount times,
// ReinforceDelay apart. Failures are logged and never retried.
func (h *Handshake) Reinforce() {
	if h.config.ReinforceCount <= 0 {
		return
	}
	payload, err := json.Marshal(Payload{PlayerID: h.session.PlayerID, MatchCode: h.session.MatchCode})
	if err != nil {
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for i := 0; i < h.config.ReinforceCount; i++ {
			timer := h.clock.NewTimer(h.config.ReinforceDelay)
			select {
			case <-h.ctx.Done():
				timer.Stop()
				return
			case <-timer.Chan():
			}
			if err := h.push.Publish(h.ctx, h.config.Destination, payload); err != nil {
				log.Debug().Err(err).Str("match_code", h.session.MatchCode).Msg("registration reinforcement failed")
			}
		}
	}()
}

// Renew runs a full registration in the background, typically after a reconnect.
// Exhausting the budget is reported through OnDegraded.
func (h *Handshake) Renew() {
	if h.ctx.Err() != nil {
		return
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		err := h.Register(h.ctx)
		if err == nil {
			h.Reinforce()
			return
		}
		if !errors.Is(err, ErrBudgetExhausted) {
			return
		}
		h.mu.Lock()
		fn := h.onDegraded
		h.mu.Unlock()
		if fn != nil {
			fn(err)
		}
	}()
}

// Stop cancels every pending retry and reinforcement and waits for them to finish
func (h *Handshake) Stop() {
	h.cancel()
	h.wg.Wait()
}

// bind derives a context that also ends when the handshake is stopped
func (h *Handshake) bind(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(h.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
