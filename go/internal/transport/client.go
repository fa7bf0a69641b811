package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Client is the transport facade used by the rest of the core. It keeps track of every
// subscription it opened so leaving a match can drop all of them at once, and it shields
// consumers from malformed frames and handler panics.
type Client struct {
	push PushChannel

	mu   sync.Mutex
	subs map[string]Subscription
}

// NewClient wraps a push channel
func NewClient(push PushChannel) *Client {
	return &Client{
		push: push,
		subs: make(map[string]Subscription),
	}
}

// Push returns the underlying push channel
func (c *Client) Push() PushChannel {
	return c.push
}

// Connect opens the push channel
func (c *Client) Connect(ctx context.Context) error {
	return c.push.Connect(ctx)
}

// Subscribe delivers every well-formed frame of the match topic to handler
func (c *Client) Subscribe(matchCode string, handler func([]byte)) error {
	return c.subscribe(MatchTopic(matchCode), handler)
}

// SubscribeUserErrors delivers frames of the player's error topic to handler
func (c *Client) SubscribeUserErrors(playerID string, handler func([]byte)) error {
	return c.subscribe(UserErrorTopic(playerID), handler)
}

func (c *Client) subscribe(topic string, handler func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.subs[topic]; ok {
		if err := existing.Unsubscribe(); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("failed to drop previous subscription")
		}
		delete(c.subs, topic)
	}

	sub, err := c.push.Subscribe(topic, guard(handler))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	c.subs[topic] = sub

	log.Debug().Str("topic", topic).Int("subscriptions", len(c.subs)).Msg("subscribed")
	return nil
}

// Publish marshals payload as JSON and publishes it to destination
func (c *Client) Publish(ctx context.Context, destination string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", destination, err)
	}
	if err := c.push.Publish(ctx, destination, data); err != nil {
		return fmt.Errorf("publish %s: %w", destination, err)
	}
	return nil
}

// IsConnected reports whether the push channel is currently up
func (c *Client) IsConnected() bool {
	return c.push.IsConnected()
}

// OnReconnect forwards to the push channel
func (c *Client) OnReconnect(fn func()) {
	c.push.OnReconnect(fn)
}

// UnsubscribeAll synchronously drops every topic opened through this client
func (c *Client) UnsubscribeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for topic, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("unsubscribe failed")
		}
		delete(c.subs, topic)
	}
}

// Topics returns the currently subscribed topics
func (c *Client) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	topics := make([]string, 0, len(c.subs))
	for t := range c.subs {
		topics = append(topics, t)
	}
	return topics
}

// Disconnect unsubscribes every topic and closes the push channel
func (c *Client) Disconnect() error {
	c.UnsubscribeAll()
	return c.push.Disconnect()
}

// guard drops frames that are not JSON objects and recovers from handler panics
func guard(handler func([]byte)) Handler {
	return func(m Message) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Str("topic", m.Topic).
					Interface("panic", r).
					Msg("message handler panicked, frame dropped")
			}
		}()

		data := bytes.TrimSpace(m.Data)
		if len(data) == 0 || data[0] != '{' || !json.Valid(data) {
			log.Warn().
				Str("topic", m.Topic).
				Int("size", len(m.Data)).
				Msg("dropping malformed frame")
			return
		}
		handler(data)
	}
}
