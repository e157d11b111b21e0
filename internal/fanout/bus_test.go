package fanout

import (
	"context"
	"errors"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatrelay/internal/models"
)

func receive(t *testing.T, ch <-chan Delivery) Delivery {
	t.Helper()
	select {
	case d, ok := <-ch:
		require.True(t, ok, "subscription closed unexpectedly")
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	return Delivery{}
}

func expectNone(t *testing.T, ch <-chan Delivery, wait time.Duration) {
	t.Helper()
	select {
	case d, ok := <-ch:
		if ok {
			t.Fatalf("unexpected delivery on %s: %+v", d.Channel, d.Event)
		}
	case <-time.After(wait):
	}
}

func TestEncodeDecodeNotification(t *testing.T) {
	ev, err := Decode([]byte(`{"userId":"u2","notification":{"kind":"friend_accepted","by":"u1"}}`))
	require.NoError(t, err)
	assert.Equal(t, models.Identity("u2"), ev.UserID)
	assert.Equal(t, Kind(""), ev.Kind)
	assert.JSONEq(t, `{"kind":"friend_accepted","by":"u1"}`, string(ev.Notification))

	_, err = Decode([]byte(`{not json`))
	assert.Error(t, err)
}

func TestMemoryBusDeliversToAllSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewMemoryBus()
	a, err := bus.Subscribe(ctx, "chat", "notifications")
	require.NoError(t, err)
	b, err := bus.Subscribe(ctx, "chat")
	require.NoError(t, err)

	msg := &models.Message{ID: "m1", FromID: "u1", ToID: "u2", Content: "hi"}
	require.NoError(t, bus.Publish(ctx, "chat", Event{Kind: KindMessage, Origin: "i1", Message: msg}))

	for _, sub := range []<-chan Delivery{a, b} {
		d := receive(t, sub)
		assert.Equal(t, "chat", d.Channel)
		assert.Equal(t, KindMessage, d.Event.Kind)
		assert.Equal(t, "i1", d.Event.Origin)
		require.NotNil(t, d.Event.Message)
		assert.Equal(t, "hi", d.Event.Message.Content)
		assert.NotSame(t, msg, d.Event.Message, "subscribers must not share the publisher's pointer")
	}

	require.NoError(t, bus.Publish(ctx, "notifications", Event{UserID: "u2"}))
	assert.Equal(t, "notifications", receive(t, a).Channel)
	expectNone(t, b, 50*time.Millisecond)
}

func TestMemoryBusSubscriptionEndsWithContext(t *testing.T) {
	bus := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := bus.Subscribe(ctx, "chat")
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-sub:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription was not closed after cancel")
	}

	require.NoError(t, bus.Publish(context.Background(), "chat", Event{Kind: KindMessage}))
}

func TestMemoryBusClosed(t *testing.T) {
	bus := NewMemoryBus()
	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(context.Background(), "chat", Event{}), ErrClosed)
	_, err := bus.Subscribe(context.Background(), "chat")
	assert.ErrorIs(t, err, ErrClosed)
}

type failingPublisher struct {
	calls int
	err   error
}

func (f *failingPublisher) Publish(context.Context, string, Event) error {
	f.calls++
	return f.err
}

func TestGuardedOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &failingPublisher{err: errors.New("connection refused")}
	g := NewGuarded(inner, BreakerConfig{FailureThreshold: 2, OpenTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		err := g.Publish(context.Background(), "chat", Event{})
		assert.ErrorIs(t, err, ErrUnavailable)
	}
	assert.Equal(t, gobreaker.StateOpen.String(), g.State())

	err := g.Publish(context.Background(), "chat", Event{})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, inner.calls, "open circuit must not reach the backbone")
}

func TestGuardedPassesThroughSuccess(t *testing.T) {
	inner := &failingPublisher{}
	g := NewGuarded(inner, DefaultBreakerConfig())
	require.NoError(t, g.Publish(context.Background(), "chat", Event{}))
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, gobreaker.StateClosed.String(), g.State())
}

func TestNATSBusRoundTrip(t *testing.T) {
	ns, err := StartEmbeddedNATS("127.0.0.1", -1)
	require.NoError(t, err)
	defer ns.Shutdown()

	bus, err := NewNATSBus(ns.ClientURL())
	require.NoError(t, err)
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := bus.Subscribe(ctx, "chat", "notifications")
	require.NoError(t, err)
	require.NoError(t, bus.Flush())

	msg := &models.Message{ID: "m1", FromID: "u1", ToID: "u2", Content: "over nats"}
	require.NoError(t, bus.Publish(ctx, "chat", Event{Kind: KindMessage, Origin: "i1", Message: msg}))

	d := receive(t, sub)
	assert.Equal(t, "chat", d.Channel)
	require.NotNil(t, d.Event.Message)
	assert.Equal(t, "over nats", d.Event.Message.Content)

	cancel()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription not closed after cancel")
		}
	}
}

func TestNATSBusCloseFlushesPendingPublishes(t *testing.T) {
	ns, err := StartEmbeddedNATS("127.0.0.1", -1)
	require.NoError(t, err)
	defer ns.Shutdown()

	receiver, err := NewNATSBus(ns.ClientURL())
	require.NoError(t, err)
	defer func() { _ = receiver.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := receiver.Subscribe(ctx, "chat")
	require.NoError(t, err)
	require.NoError(t, receiver.Flush())

	sender, err := NewNATSBus(ns.ClientURL())
	require.NoError(t, err)
	require.NoError(t, sender.Publish(ctx, "chat", Event{Kind: KindMessage, Origin: "i1", Message: &models.Message{ID: "m1", Content: "last words"}}))
	require.NoError(t, sender.Close())

	d := receive(t, sub)
	require.NotNil(t, d.Event.Message)
	assert.Equal(t, "last words", d.Event.Message.Content)
}
