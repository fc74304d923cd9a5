package progress

import (
	"log/slog"
	"sync"
	"time"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind starts losing events; delivery is at-most-once.
const subscriberBuffer = 64

// Subscription is one live listener on the event stream.
type Subscription struct {
	ch chan Event
}

// Events returns the receive side of the subscription. The channel is closed
// by Unsubscribe.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Broadcaster fans progress events out to zero or more subscribers. Publish
// never blocks: a full subscriber buffer drops the event for that subscriber
// only, and publishing with no subscribers is a no-op.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a new listener.
func (b *Broadcaster) Subscribe() *Subscription {
	sub := &Subscription{ch: make(chan Event, subscriberBuffer)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a listener and closes its channel. Safe to call once
// per subscription; the write lock excludes in-flight publishes so no send
// races the close.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}

// SubscriberCount returns the number of live subscriptions.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers ev to every subscriber that has buffer room. A zero
// timestamp is stamped with the current time.
func (b *Broadcaster) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			slog.Debug("dropping progress event for slow subscriber",
				"type", ev.Type, "phase", ev.Phase, "case_id", ev.CaseID)
		}
	}
}
