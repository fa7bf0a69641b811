package bridge

import (
	"time"

	"github.com/mcdev12/cardsync/go/internal/reconcile"
)

// Event is one message pushed to UI connections
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	View      *reconcile.View `json:"view,omitempty"`
	Message   string          `json:"message,omitempty"` // rejection or degradation reason
	Code      string          `json:"code,omitempty"`    // server error code of a rejection
	RawType   string          `json:"rawType,omitempty"` // type of an unrecognized server event
	Fields    map[string]any  `json:"fields,omitempty"`
}

// EventType represents the type of UI event
type EventType string

const (
	EventTypeState        EventType = "State"
	EventTypeEvicted      EventType = "Evicted"
	EventTypeRejected     EventType = "ActionRejected"
	EventTypeUnrecognized EventType = "Unrecognized"
	EventTypeDegraded     EventType = "Degraded"
	EventTypeFinished     EventType = "Finished"
)
