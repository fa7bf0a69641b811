// Package transport owns the push channel used for server-initiated events and for
// publishing registrations and actions.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotConnected is returned when publishing while the push channel is down
	ErrNotConnected = errors.New("push channel not connected")
	// ErrClosed is returned after Disconnect
	ErrClosed = errors.New("push channel closed")
)

// Message is one frame delivered on a topic
type Message struct {
	Topic string
	Data  []byte
}

// Handler receives frames for a subscribed topic
type Handler func(Message)

// Subscription is an active topic subscription
type Subscription interface {
	Topic() string
	Unsubscribe() error
}

// PushChannel is a persistent messaging connection with topic subscriptions.
// Implementations reconnect on their own and restore every subscription afterwards.
type PushChannel interface {
	Connect(ctx context.Context) error
	Subscribe(topic string, h Handler) (Subscription, error)
	Publish(ctx context.Context, destination string, payload []byte) error
	IsConnected() bool
	// OnReconnect registers fn to run after the channel re-established its connection
	// and restored subscriptions.
	OnReconnect(fn func())
	Disconnect() error
}

// Requester is implemented by push channels that can wait for a reply to a publish
type Requester interface {
	Request(ctx context.Context, destination string, payload []byte) ([]byte, error)
}

// Destinations and topics, in logical slash-separated form
const (
	RegistrationDestination = "app/register"
	matchTopicPrefix        = "match/"
)

// MatchTopic is the push topic carrying every event of one match
func MatchTopic(matchCode string) string {
	return matchTopicPrefix + matchCode
}

// UserErrorTopic carries errors directed at one player
func UserErrorTopic(playerID string) string {
	return fmt.Sprintf("user/%s/errors", playerID)
}

// ActionDestination receives actions for one match
func ActionDestination(matchCode string) string {
	return fmt.Sprintf("app/match/%s/action", matchCode)
}

// subjectFor maps a logical topic to a dot-separated broker subject
func subjectFor(topic string) string {
	return strings.ReplaceAll(strings.Trim(topic, "/"), "/", ".")
}
