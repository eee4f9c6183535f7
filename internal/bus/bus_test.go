package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishSubscribe(t *testing.T) {
	b := New()

	ch, cancel := b.Subscribe(TopicEmergencyDisable)
	defer cancel()

	b.Publish(Event{Topic: TopicEmergencyDisable, Reason: "error rate exceeded"})

	select {
	case evt := <-ch:
		assert.Equal(t, TopicEmergencyDisable, evt.Topic)
		assert.Equal(t, "error rate exceeded", evt.Reason)
		assert.False(t, evt.Timestamp.IsZero(), "publish should stamp the event")
	case <-time.After(time.Second):
		t.Fatal("expected event, got none")
	}
}

func TestBus_TopicIsolation(t *testing.T) {
	b := New()

	emergency, cancelE := b.Subscribe(TopicEmergencyDisable)
	defer cancelE()
	rollback, cancelR := b.Subscribe(TopicRollbackNotification)
	defer cancelR()

	b.Publish(Event{Topic: TopicRollbackNotification, Message: "manual rollback requested"})

	select {
	case evt := <-rollback:
		assert.Equal(t, "manual rollback requested", evt.Message)
	case <-time.After(time.Second):
		t.Fatal("rollback subscriber should receive the event")
	}

	select {
	case evt := <-emergency:
		t.Fatalf("emergency subscriber should not receive rollback events, got %+v", evt)
	default:
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	b := New()

	ch, cancel := b.Subscribe(TopicEmergencyDisable)
	cancel()
	cancel() // idempotent

	_, open := <-ch
	require.False(t, open, "channel should be closed after unsubscribe")

	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Topic: TopicEmergencyDisable, Reason: "late"})
}

func TestBus_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := New()

	_, cancel := b.Subscribe(TopicRollbackNotification)
	defer cancel()

	// Fill the buffer and then some; Publish must never block.
	for i := 0; i < subscriberBuffer+5; i++ {
		b.Publish(Event{Topic: TopicRollbackNotification, Message: "spam"})
	}

	assert.Equal(t, int64(5), b.DroppedCount())
}
