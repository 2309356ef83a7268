package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vspedr/airlock/pkg/channels/gochannel"
	"github.com/vspedr/airlock/pkg/eventbus"
	"github.com/vspedr/airlock/pkg/events"
)

func newTestBus(t *testing.T) eventbus.EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)

	t.Cleanup(func() {
		_ = bus.Close()
	})

	return bus
}

func TestWatermillEventBus_PublishAndSubscribe(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan *events.TriggerDenied, 1)

	err := bus.Handle(events.TriggerDeniedEvent, func(_ context.Context, event any) error {
		denied, ok := event.(*events.TriggerDenied)
		require.True(t, ok)

		received <- denied

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	published := events.NewTriggerDenied("chaos-k6-load-test", "cooldown_active", "manual__1", 120)
	require.NoError(t, bus.Publish(ctx, "chaos-k6-load-test", published))

	select {
	case denied := <-received:
		assert.Equal(t, published.ID, denied.ID)
		assert.Equal(t, "cooldown_active", denied.Reason)
		assert.Equal(t, int64(120), denied.CooldownRemainingSeconds)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestWatermillEventBus_UnhandledEventTypeIsAcked(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan *events.TriggerAllowed, 1)

	// Only trigger.allowed has a handler; the gate.fallback event published
	// first must not wedge the stream.
	err := bus.Handle(events.TriggerAllowedEvent, func(_ context.Context, event any) error {
		allowed, ok := event.(*events.TriggerAllowed)
		require.True(t, ok)

		received <- allowed

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "pod-restart", events.NewGateFallback("pod-restart", "open", "unreachable")))
	require.NoError(t, bus.Publish(ctx, "pod-restart", events.NewTriggerAllowed("pod-restart", "manual__2")))

	select {
	case allowed := <-received:
		assert.Equal(t, "manual__2", allowed.RunID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestWatermillEventBus_HandleAfterSubscribe(t *testing.T) {
	bus := newTestBus(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The consuming goroutine is already running when the handler lands.
	require.NoError(t, bus.Subscribe(ctx))

	received := make(chan *events.TriggerFailed, 1)

	err := bus.Handle(events.TriggerFailedEvent, func(_ context.Context, event any) error {
		failed, ok := event.(*events.TriggerFailed)
		require.True(t, ok)

		received <- failed

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "chaos-k6-load-test", events.NewTriggerFailed("chaos-k6-load-test", 502, "bad gateway")))

	select {
	case failed := <-received:
		assert.Equal(t, 502, failed.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	bus := newTestBus(t)

	first := bus.GenerateID()
	second := bus.GenerateID()

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
