// Package transporttest provides an in-memory push channel for tests.
package transporttest

import (
	"context"
	"sync"

	"github.com/mcdev12/cardsync/go/internal/transport"
)

// Published is one recorded publish
type Published struct {
	Destination string
	Payload     []byte
}

var (
	_ transport.PushChannel = (*Channel)(nil)
	_ transport.Requester   = (*Channel)(nil)
)

// Channel is an in-memory transport.PushChannel. Frames are delivered synchronously
// with Deliver; publishes are recorded.
type Channel struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	subs      map[string]map[*subscription]struct{}
	hooks     []func()
	published []Published

	// PublishErr, when set, decides the result of each publish
	PublishErr func(destination string) error
	// Responder, when set, makes the channel a Requester
	Responder func(destination string, payload []byte) ([]byte, error)
}

func NewChannel() *Channel {
	return &Channel{subs: make(map[string]map[*subscription]struct{})}
}

func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	c.connected = true
	return nil
}

func (c *Channel) Subscribe(topic string, h transport.Handler) (transport.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, transport.ErrClosed
	}
	s := &subscription{topic: topic, handler: h, owner: c}
	if c.subs[topic] == nil {
		c.subs[topic] = make(map[*subscription]struct{})
	}
	c.subs[topic][s] = struct{}{}
	return s, nil
}

func (c *Channel) Publish(ctx context.Context, destination string, payload []byte) error {
	c.mu.Lock()
	connected := c.connected
	hook := c.PublishErr
	c.mu.Unlock()
	if !connected {
		return transport.ErrNotConnected
	}
	if hook != nil {
		if err := hook(destination); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.published = append(c.published, Published{Destination: destination, Payload: append([]byte(nil), payload...)})
	c.mu.Unlock()
	return nil
}

func (c *Channel) Request(ctx context.Context, destination string, payload []byte) ([]byte, error) {
	if err := c.Publish(ctx, destination, payload); err != nil {
		return nil, err
	}
	c.mu.Lock()
	responder := c.Responder
	c.mu.Unlock()
	if responder == nil {
		return []byte(`{"ok":true}`), nil
	}
	return responder(destination, payload)
}

func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Channel) OnReconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

func (c *Channel) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.connected = false
	c.subs = make(map[string]map[*subscription]struct{})
	c.hooks = nil
	return nil
}

// Drop simulates a lost connection
func (c *Channel) Drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

// Restore simulates a reconnect and runs the reconnect hooks
func (c *Channel) Restore() {
	c.mu.Lock()
	c.connected = true
	hooks := append([]func(){}, c.hooks...)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// Deliver hands data to every subscriber of topic and reports how many received it
func (c *Channel) Deliver(topic string, data []byte) int {
	c.mu.Lock()
	subs := make([]*subscription, 0, len(c.subs[topic]))
	for s := range c.subs[topic] {
		subs = append(subs, s)
	}
	c.mu.Unlock()
	for _, s := range subs {
		s.handler(transport.Message{Topic: topic, Data: data})
	}
	return len(subs)
}

// Topics returns the topics with at least one subscriber
func (c *Channel) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var topics []string
	for t, set := range c.subs {
		if len(set) > 0 {
			topics = append(topics, t)
		}
	}
	return topics
}

// Published returns every recorded publish, optionally filtered by destination
func (c *Channel) Published(destination string) []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Published
	for _, p := range c.published {
		if destination == "" || p.Destination == destination {
			out = append(out, p)
		}
	}
	return out
}

type subscription struct {
	topic   string
	handler transport.Handler
	owner   *Channel
}

func (s *subscription) Topic() string { return s.topic }

func (s *subscription) Unsubscribe() error {
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()
	if set, ok := s.owner.subs[s.topic]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(s.owner.subs, s.topic)
		}
	}
	return nil
}
