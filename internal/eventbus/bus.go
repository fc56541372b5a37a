package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	TypeReminderSent   = "reminder.sent"
	TypeReminderFailed = "reminder.failed"
	TypeEventExpired   = "event.expired"
	TypeEventChanged   = "event.changed"
	TypeRuleChanged    = "rule.changed"
)

// Event is an in-process notification between components.
// Publish never blocks; a subscriber that falls behind loses events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Reminder is the payload of reminder.sent and reminder.failed.
type Reminder struct {
	Source string // "recurring" or the one-off event id
	Kind   string
	At     time.Time
	Err    string
}

// Expired is the payload of event.expired.
type Expired struct {
	ID    int64
	Name  string
	Start time.Time
}

// Change is the payload of event.changed and rule.changed.
type Change struct {
	Action  string // event.add, event.edit, event.remove, rule.set
	Target  string
	ActorID int64
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// hold the read lock while sending so unsubscribe cannot close a channel mid-send
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}
