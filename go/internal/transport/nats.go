package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSConfig holds configuration for the NATS push channel
type NATSConfig struct {
	URL            string
	Name           string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// DefaultNATSConfig returns default NATS configuration
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            nats.DefaultURL,
		Name:           "cardsync-" + uuid.New().String()[:8],
		MaxReconnects:  -1, // Infinite
		ReconnectWait:  2 * time.Second,
		ConnectTimeout: 5 * time.Second,
	}
}

var (
	_ PushChannel = (*NATSChannel)(nil)
	_ Requester   = (*NATSChannel)(nil)
)

// NATSChannel is a PushChannel over a NATS connection. Logical topics such as
// "match/ABCD" are mapped to subjects such as "match.ABCD". nats.go restores
// subscriptions on reconnect by itself.
type NATSChannel struct {
	config NATSConfig

	mu     sync.Mutex
	nc     *nats.Conn
	subs   map[*natsSubscription]struct{}
	hooks  []func()
	closed bool
}

// NewNATSChannel creates a channel; Connect must be called before use
func NewNATSChannel(config NATSConfig) *NATSChannel {
	return &NATSChannel{
		config: config,
		subs:   make(map[*natsSubscription]struct{}),
	}
}

// Connect dials the NATS server
func (c *NATSChannel) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.nc != nil {
		return nil
	}

	opts := []nats.Option{
		nats.Name(c.config.Name),
		nats.MaxReconnects(c.config.MaxReconnects),
		nats.ReconnectWait(c.config.ReconnectWait),
		nats.Timeout(c.config.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
			c.runHooks()
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(c.config.URL, opts...)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	c.nc = nc

	log.Info().Str("url", nc.ConnectedUrl()).Str("name", c.config.Name).Msg("NATS push channel connected")
	return nil
}

func (c *NATSChannel) conn() (*nats.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.nc == nil {
		return nil, ErrNotConnected
	}
	return c.nc, nil
}

// Subscribe subscribes to the subject derived from topic
func (c *NATSChannel) Subscribe(topic string, h Handler) (Subscription, error) {
	nc, err := c.conn()
	if err != nil {
		return nil, err
	}

	sub, err := nc.Subscribe(subjectFor(topic), func(m *nats.Msg) {
		h(Message{Topic: topic, Data: m.Data})
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subjectFor(topic), err)
	}

	s := &natsSubscription{topic: topic, sub: sub, owner: c}
	c.mu.Lock()
	c.subs[s] = struct{}{}
	c.mu.Unlock()
	return s, nil
}

// Publish publishes payload unless the connection is down; NATS would otherwise buffer
// the message during reconnects and callers prefer falling back to the pull channel.
func (c *NATSChannel) Publish(ctx context.Context, destination string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	nc, err := c.conn()
	if err != nil {
		return err
	}
	if !nc.IsConnected() {
		return ErrNotConnected
	}
	if err := nc.Publish(subjectFor(destination), payload); err != nil {
		return fmt.Errorf("publish to %s: %w", subjectFor(destination), err)
	}
	return nil
}

// Request publishes payload and waits for a reply
func (c *NATSChannel) Request(ctx context.Context, destination string, payload []byte) ([]byte, error) {
	nc, err := c.conn()
	if err != nil {
		return nil, err
	}
	if !nc.IsConnected() {
		return nil, ErrNotConnected
	}
	msg, err := nc.RequestWithContext(ctx, subjectFor(destination), payload)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", subjectFor(destination), err)
	}
	return msg.Data, nil
}

// IsConnected reports whether the NATS connection is up
func (c *NATSChannel) IsConnected() bool {
	nc, err := c.conn()
	return err == nil && nc.IsConnected()
}

// OnReconnect registers fn to run after every reconnect
func (c *NATSChannel) OnReconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

func (c *NATSChannel) runHooks() {
	c.mu.Lock()
	hooks := append([]func(){}, c.hooks...)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// Disconnect unsubscribes everything and closes the connection
func (c *NATSChannel) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = make(map[*natsSubscription]struct{})
	nc := c.nc
	c.nc = nil
	c.hooks = nil
	c.mu.Unlock()

	for s := range subs {
		if err := s.sub.Unsubscribe(); err != nil {
			log.Debug().Err(err).Str("topic", s.topic).Msg("unsubscribe on disconnect")
		}
	}
	if nc != nil {
		nc.Close()
	}
	log.Info().Msg("NATS push channel closed")
	return nil
}

type natsSubscription struct {
	topic string
	sub   *nats.Subscription
	owner *NATSChannel
}

func (s *natsSubscription) Topic() string { return s.topic }

func (s *natsSubscription) Unsubscribe() error {
	s.owner.mu.Lock()
	_, live := s.owner.subs[s]
	delete(s.owner.subs, s)
	s.owner.mu.Unlock()
	if !live {
		return nil
	}
	return s.sub.Unsubscribe()
}
