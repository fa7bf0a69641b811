package reconcile

import (
	"time"

	"github.com/mcdev12/cardsync/go/internal/events"
)

// DefaultRecentEvents is the capacity of the recent-events buffer
const DefaultRecentEvents = 64

// Record is one applied event
type Record struct {
	At    time.Time
	Type  string
	Event events.Event
}

// recentBuffer is a fixed-size ring of the latest records
type recentBuffer struct {
	items []Record
	next  int
	full  bool
}

func newRecentBuffer(size int) *recentBuffer {
	if size < 1 {
		size = 1
	}
	return &recentBuffer{items: make([]Record, size)}
}

func (b *recentBuffer) add(r Record) {
	b.items[b.next] = r
	b.next = (b.next + 1) % len(b.items)
	if b.next == 0 {
		b.full = true
	}
}

// list returns the records oldest first
func (b *recentBuffer) list() []Record {
	if !b.full {
		return append([]Record(nil), b.items[:b.next]...)
	}
	out := make([]Record, 0, len(b.items))
	out = append(out, b.items[b.next:]...)
	return append(out, b.items[:b.next]...)
}
