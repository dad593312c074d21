// Package bus carries in-process notifications between the chat controller,
// the local store and the terminal UI.
package bus

import (
	"strings"
	"sync"
	"time"
)

// Event kinds published by miku components.
const (
	KindStatusChanged       = "turn.status_changed"
	KindConversationUpdated = "conversation.updated"
	KindQuotaLimitReached   = "quota.limit_reached"
	KindStoreChanged        = "store.changed"
)

// Event is a single notification. Payload type depends on Kind.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Bus is a publish/subscribe fan-out keyed by kind prefix.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscriber
	next int
}

type subscriber struct {
	prefix string
	ch     chan Event
}

func New() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Publish delivers evt to every subscriber whose prefix matches evt.Kind.
// Slow subscribers miss events rather than stall the publisher.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !strings.HasPrefix(evt.Kind, s.prefix) {
			continue
		}
		select {
		case s.ch <- evt:
		default:
		}
	}
}

// Emit is shorthand for publishing a kind with a payload stamped now.
func (b *Bus) Emit(kind string, payload any) {
	b.Publish(Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// Subscribe registers for every kind starting with prefix. An empty prefix
// receives everything. The returned func removes the subscription and is
// safe to call more than once.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	if bufSize < 1 {
		bufSize = 1
	}
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscriber{prefix: prefix, ch: ch}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}
