package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHub_PublishReachesAllUserSubscriptions(t *testing.T) {
	hub := NewHub(zap.NewNop())

	first := hub.Subscribe(1)
	second := hub.Subscribe(1)
	other := hub.Subscribe(2)

	event := Event{TradeID: 7, UserID: 1, Result: "win", Status: "completed"}
	hub.Publish(1, event)

	assert.Equal(t, event, <-first)
	assert.Equal(t, event, <-second)

	select {
	case unexpected := <-other:
		t.Fatalf("user 2 must not receive user 1's event, got %+v", unexpected)
	default:
	}
}

func TestHub_PublishWithoutSubscribersIsDropped(t *testing.T) {
	hub := NewHub(zap.NewNop())

	// best-effort: no subscribers, no panic, nothing persisted
	hub.Publish(42, Event{TradeID: 1, UserID: 42, Result: "lose", Status: "completed"})

	assert.Equal(t, 0, hub.SubscriberCount(42))
}

func TestHub_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	hub := NewHub(zap.NewNop())

	ch := hub.Subscribe(1)

	// Fill the buffer and then some; Publish must never block.
	for i := 0; i < cap(ch)+5; i++ {
		hub.Publish(1, Event{TradeID: uint(i), UserID: 1, Result: "win", Status: "completed"})
	}

	assert.Len(t, ch, cap(ch))
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub(zap.NewNop())

	ch := hub.Subscribe(1)
	require.Equal(t, 1, hub.SubscriberCount(1))

	hub.Unsubscribe(1, ch)
	assert.Equal(t, 0, hub.SubscriberCount(1))

	_, open := <-ch
	assert.False(t, open)

	// A second unsubscribe for the same channel is a no-op.
	hub.Unsubscribe(1, ch)
}
