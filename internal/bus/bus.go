// Package bus provides the typed in-process publish/subscribe channel that
// ties the safety-net components to their consumers. The flag engine
// publishes emergency-disable events here, and the rollback orchestrator
// publishes rollback notifications; the dashboard (or any other caller)
// subscribes instead of hooking a host-environment event system.
package bus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Topic identifies a class of events on the bus.
type Topic string

const (
	// TopicEmergencyDisable is published when the emergency latch is set.
	TopicEmergencyDisable Topic = "emergency-disable"
	// TopicRollbackNotification is published on auto and manual rollback
	// actions, and when a manual-only trigger fires.
	TopicRollbackNotification Topic = "rollback-notification"
)

// Event is a single notification delivered to subscribers.
type Event struct {
	// Topic identifies the event class.
	Topic Topic
	// Reason carries the emergency-disable reason (empty for other topics).
	Reason string
	// Message carries the rollback notification text (empty for other topics).
	Message string
	// Timestamp is when the event was published.
	Timestamp time.Time
}

// subscriber is a single registered subscription channel.
type subscriber struct {
	id    int
	topic Topic
	ch    chan Event
}

// Bus is a minimal in-process event bus. Publish never blocks: subscribers
// that fall behind have events dropped and counted rather than stalling the
// publisher, since publishers sit on the flag-evaluation hot path.
type Bus struct {
	mu      sync.RWMutex
	nextID  int
	subs    []*subscriber
	dropped atomic.Int64
}

// subscriberBuffer is the per-subscription channel capacity.
const subscriberBuffer = 16

// New creates an empty event bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers interest in a topic. The returned channel receives
// matching events until the cancel function is called. Cancel is idempotent.
func (b *Bus) Subscribe(topic Topic) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{
		id:    b.nextID,
		topic: topic,
		ch:    make(chan Event, subscriberBuffer),
	}
	b.nextID++
	b.subs = append(b.subs, sub)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.unsubscribe(sub.id)
		})
	}
	return sub.ch, cancel
}

// Publish delivers the event to all subscribers of its topic without
// blocking. Events are timestamped here if the publisher left it zero.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.topic != event.Topic {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// DroppedCount returns the number of events dropped because a subscriber's
// buffer was full.
func (b *Bus) DroppedCount() int64 {
	return b.dropped.Load()
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(sub.ch)
			return
		}
	}
}
