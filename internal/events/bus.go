package events

import (
	"sync"

	"github.com/lprior-repo/oya-sub008/internal/ids"
)

// Subscription is a lazy sequence of events matching a Pattern; it stays
// open until Cancel is called.
type Subscription struct {
	ch     chan Event
	cancel func()
}

// C returns the channel of matching events.
func (s *Subscription) C() <-chan Event { return s.ch }

// Cancel detaches the subscription; no further events are delivered.
func (s *Subscription) Cancel() { s.cancel() }

// Bus is the pub/sub contract: publish appends to the store first (must
// succeed), then best-effort fans out to active subscribers.
type Bus interface {
	Publish(e Event) (ids.EventID, error)
	Subscribe(pattern Pattern) *Subscription
}

// InProcessBus fans BeadEvents out to in-process subscribers after
// appending them to store. A slow subscriber's channel is bounded; a full
// channel drops the event rather than blocking the publisher — subscribers
// recover by reading the store up to the highest event_id they've observed.
type InProcessBus struct {
	store Store

	mu   sync.Mutex
	subs map[int]*subEntry
	next int
}

type subEntry struct {
	pattern Pattern
	ch      chan Event
}

// mailboxSize bounds each subscriber's channel; a full mailbox causes drops,
// matching the "best-effort with backpressure" fan-out contract.
const mailboxSize = 256

// NewInProcessBus wires a bus on top of an existing event store.
func NewInProcessBus(store Store) *InProcessBus {
	return &InProcessBus{store: store, subs: make(map[int]*subEntry)}
}

func (b *InProcessBus) Publish(e Event) (ids.EventID, error) {
	id, err := b.store.Append(e)
	if err != nil {
		return "", err
	}
	e.EventID = id

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if !sub.pattern.matches(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			// mailbox full: drop. Subscriber must catch up via the store.
		}
	}
	return id, nil
}

func (b *InProcessBus) Subscribe(pattern Pattern) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, mailboxSize)
	b.subs[id] = &subEntry{pattern: pattern, ch: ch}

	sub := &Subscription{ch: ch}
	sub.cancel = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return sub
}
