package bridge

import (
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/cardsync/go/internal/events"
	"github.com/mcdev12/cardsync/go/internal/reconcile"
)

var _ reconcile.Listener = (*broadcaster)(nil)

// broadcaster forwards engine notifications to every UI connection
type broadcaster struct {
	cm *ConnectionManager
}

func (b *broadcaster) send(e *Event) {
	e.ID = uuid.NewString()
	e.Timestamp = time.Now()
	b.cm.Broadcast(e)
}

func (b *broadcaster) StateChanged(v reconcile.View) {
	b.send(&Event{Type: EventTypeState, View: &v})
}

func (b *broadcaster) Evicted(v reconcile.View) {
	b.send(&Event{Type: EventTypeEvicted, View: &v})
}

func (b *broadcaster) ActionRejected(ev events.UserError) {
	b.send(&Event{Type: EventTypeRejected, Message: ev.Message, Code: ev.Code})
}

func (b *broadcaster) Unrecognized(ev events.Unrecognized) {
	b.send(&Event{Type: EventTypeUnrecognized, RawType: ev.RawType, Fields: ev.Fields})
}

func (b *broadcaster) Degraded(err error) {
	b.send(&Event{Type: EventTypeDegraded, Message: err.Error()})
}

func (b *broadcaster) Finished(v reconcile.View) {
	b.send(&Event{Type: EventTypeFinished, View: &v})
}
