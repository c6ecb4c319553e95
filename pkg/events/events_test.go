package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesSubscribers(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	var got []Event
	unsubscribe := bus.Subscribe(ctx, "room:message:1", func(_ context.Context, ev Event) error {
		got = append(got, ev)
		return nil
	})
	defer unsubscribe()

	require.NoError(t, bus.Publish(ctx, "room:message:1", Event{Type: EventTypeMessageAppended, Payload: "hi"}))
	require.NoError(t, bus.Publish(ctx, "room:message:2", Event{Type: EventTypeMessageAppended, Payload: "other room"}))

	require.Len(t, got, 1)
	assert.Equal(t, "hi", got[0].Payload)
	assert.NotZero(t, got[0].Timestamp)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	calls := 0
	unsubscribe := bus.Subscribe(ctx, "ch", func(_ context.Context, _ Event) error {
		calls++
		return nil
	})

	require.NoError(t, bus.Publish(ctx, "ch", Event{Type: "t"}))
	unsubscribe()
	require.NoError(t, bus.Publish(ctx, "ch", Event{Type: "t"}))

	assert.Equal(t, 1, calls)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	bus := NewBus()
	unsubscribe := bus.Subscribe(context.Background(), "ch", func(_ context.Context, _ Event) error { return nil })
	unsubscribe()
	unsubscribe()
}
