package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Frame operations of the websocket push protocol
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpPublish     = "publish"
	OpMessage     = "message"
)

// Frame is the JSON envelope exchanged over the websocket
type Frame struct {
	Op          string          `json:"op"`
	Topic       string          `json:"topic,omitempty"`
	Destination string          `json:"destination,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
}

// WebSocketConfig holds configuration for the websocket push channel
type WebSocketConfig struct {
	URL            string
	Header         http.Header
	ReconnectDelay time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration // zero disables client pings
	MaxMessageSize int64
}

// DefaultWebSocketConfig returns default websocket configuration
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		URL:            "ws://localhost:8080/ws",
		ReconnectDelay: 3 * time.Second,
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 64 * 1024,
	}
}

var _ PushChannel = (*WebSocketChannel)(nil)

// WebSocketChannel is a PushChannel speaking a small JSON frame protocol over one
// websocket. When the socket drops it redials after a fixed delay and resubscribes
// every topic before running the reconnect hooks.
type WebSocketChannel struct {
	config WebSocketConfig
	clock  clockwork.Clock
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	topics  map[string]map[*wsSubscription]struct{}
	hooks   []func()
	started bool
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	writeMu sync.Mutex
}

// NewWebSocketChannel creates a channel; Connect must be called before use
func NewWebSocketChannel(config WebSocketConfig, clock clockwork.Clock) *WebSocketChannel {
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketChannel{
		config: config,
		clock:  clock,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		topics: make(map[string]map[*wsSubscription]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Connect dials the server once and starts the read/reconnect loop
func (c *WebSocketChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.started = true
	c.mu.Unlock()

	c.attach(conn)
	go c.run(conn)

	log.Info().Str("url", c.config.URL).Msg("websocket push channel connected")
	return nil
}

func (c *WebSocketChannel) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.config.URL, c.config.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.config.URL, err)
	}
	if c.config.MaxMessageSize > 0 {
		conn.SetReadLimit(c.config.MaxMessageSize)
	}
	return conn, nil
}

// attach makes conn the live connection and replays subscriptions on it
func (c *WebSocketChannel) attach(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	topics := make([]string, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	c.mu.Unlock()

	for _, t := range topics {
		if err := c.writeFrame(conn, Frame{Op: OpSubscribe, Topic: t}); err != nil {
			log.Warn().Err(err).Str("topic", t).Msg("failed to resubscribe")
		}
	}
}

// run reads from conn until it fails, then redials with a fixed delay until closed
func (c *WebSocketChannel) run(conn *websocket.Conn) {
	for {
		stopPing := c.startPing(conn)
		err := c.readLoop(conn)
		stopPing()

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		closed := c.closed
		c.mu.Unlock()
		conn.Close()
		if closed {
			return
		}
		log.Warn().Err(err).Str("url", c.config.URL).Msg("websocket push channel lost, reconnecting")

		conn = c.redial()
		if conn == nil {
			return
		}
		c.attach(conn)
		log.Info().Str("url", c.config.URL).Msg("websocket push channel reconnected")
		c.runHooks()
	}
}

func (c *WebSocketChannel) redial() *websocket.Conn {
	for {
		select {
		case <-c.ctx.Done():
			return nil
		case <-c.clock.After(c.config.ReconnectDelay):
		}
		conn, err := c.dial(c.ctx)
		if err == nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if closed {
				conn.Close()
				return nil
			}
			return conn
		}
		log.Debug().Err(err).Msg("websocket redial failed")
	}
}

func (c *WebSocketChannel) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Warn().Err(err).Int("size", len(data)).Msg("dropping unparsable websocket frame")
			continue
		}
		if f.Op != OpMessage {
			log.Debug().Str("op", f.Op).Msg("ignoring websocket frame")
			continue
		}
		c.dispatch(Message{Topic: f.Topic, Data: f.Body})
	}
}

func (c *WebSocketChannel) startPing(conn *websocket.Conn) func() {
	if c.config.PingInterval <= 0 {
		return func() {}
	}
	ticker := c.clock.NewTicker(c.config.PingInterval)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.Chan():
				c.writeMu.Lock()
				conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				c.writeMu.Unlock()
				if err != nil {
					log.Debug().Err(err).Msg("failed to send ping")
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

func (c *WebSocketChannel) dispatch(m Message) {
	c.mu.Lock()
	subs := make([]*wsSubscription, 0, len(c.topics[m.Topic]))
	for s := range c.topics[m.Topic] {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	if len(subs) == 0 {
		log.Debug().Str("topic", m.Topic).Msg("frame for topic without subscribers")
		return
	}
	for _, s := range subs {
		s.handler(m)
	}
}

func (c *WebSocketChannel) writeFrame(conn *websocket.Conn, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.config.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *WebSocketChannel) liveConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Subscribe registers h for topic. Subscriptions made while disconnected are sent
// once the connection is back.
func (c *WebSocketChannel) Subscribe(topic string, h Handler) (Subscription, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	s := &wsSubscription{topic: topic, handler: h, owner: c}
	first := len(c.topics[topic]) == 0
	if first {
		c.topics[topic] = make(map[*wsSubscription]struct{})
	}
	c.topics[topic][s] = struct{}{}
	conn := c.conn
	c.mu.Unlock()

	if first && conn != nil {
		if err := c.writeFrame(conn, Frame{Op: OpSubscribe, Topic: topic}); err != nil {
			// The subscription stays registered and is replayed after reconnect.
			log.Warn().Err(err).Str("topic", topic).Msg("subscribe frame failed")
		}
	}
	return s, nil
}

func (c *WebSocketChannel) unsubscribe(s *wsSubscription) error {
	c.mu.Lock()
	set, ok := c.topics[s.topic]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	if _, ok := set[s]; !ok {
		c.mu.Unlock()
		return nil
	}
	delete(set, s)
	last := len(set) == 0
	if last {
		delete(c.topics, s.topic)
	}
	conn := c.conn
	c.mu.Unlock()

	if last && conn != nil {
		return c.writeFrame(conn, Frame{Op: OpUnsubscribe, Topic: s.topic})
	}
	return nil
}

// Publish sends payload to destination
func (c *WebSocketChannel) Publish(ctx context.Context, destination string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	conn := c.liveConn()
	if conn == nil {
		return ErrNotConnected
	}
	if err := c.writeFrame(conn, Frame{Op: OpPublish, Destination: destination, Body: payload}); err != nil {
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return nil
}

// IsConnected reports whether a live socket is attached
func (c *WebSocketChannel) IsConnected() bool {
	return c.liveConn() != nil
}

// OnReconnect registers fn to run after every successful redial
func (c *WebSocketChannel) OnReconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

func (c *WebSocketChannel) runHooks() {
	c.mu.Lock()
	hooks := append([]func(){}, c.hooks...)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// Disconnect synchronously drops every subscription, cancels any pending redial and
// closes the socket. It is safe to call from a message handler.
func (c *WebSocketChannel) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	topics := c.topics
	c.topics = make(map[string]map[*wsSubscription]struct{})
	c.hooks = nil
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		for t := range topics {
			c.writeFrame(conn, Frame{Op: OpUnsubscribe, Topic: t})
		}
		c.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		conn.Close()
	}
	log.Info().Str("url", c.config.URL).Msg("websocket push channel closed")
	return nil
}

type wsSubscription struct {
	topic   string
	handler Handler
	owner   *WebSocketChannel
}

func (s *wsSubscription) Topic() string { return s.topic }

func (s *wsSubscription) Unsubscribe() error {
	return s.owner.unsubscribe(s)
}
