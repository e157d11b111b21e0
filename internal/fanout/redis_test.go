package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/Tyrowin/chatrelay/internal/models"
)

// startRedis runs a disposable redis container and returns its url.
// Skipped without Docker.
func startRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctr, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	url, err := ctr.ConnectionString(ctx)
	require.NoError(t, err)
	return url
}

func TestRedisBusRoundTrip(t *testing.T) {
	url := startRedis(t)

	bus, err := NewRedisBus(t.Context(), url)
	require.NoError(t, err)
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := bus.Subscribe(ctx, "chat", "notifications")
	require.NoError(t, err)

	msg := &models.Message{ID: "m1", FromID: "u1", ToID: "u2", Content: "over redis"}
	require.NoError(t, bus.Publish(ctx, "chat", Event{Kind: KindMessage, Origin: "i1", Message: msg}))

	d := receive(t, sub)
	assert.Equal(t, "chat", d.Channel)
	assert.Equal(t, KindMessage, d.Event.Kind)
	assert.Equal(t, "i1", d.Event.Origin)
	require.NotNil(t, d.Event.Message)
	assert.Equal(t, "over redis", d.Event.Message.Content)

	// Payloads from other producers arrive as raw JSON.
	require.NoError(t, bus.client.Publish(ctx, "notifications", "{not json").Err())
	require.NoError(t, bus.client.Publish(ctx, "notifications",
		`{"userId":"u2","notification":{"kind":"friend_request","from":"u3"}}`).Err())

	d = receive(t, sub)
	assert.Equal(t, "notifications", d.Channel)
	assert.Equal(t, models.Identity("u2"), d.Event.UserID)
	assert.JSONEq(t, `{"kind":"friend_request","from":"u3"}`, string(d.Event.Notification))

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

func TestRedisBusUnreachableIsNotFatal(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	bus, err := NewRedisBus(ctx, "redis://127.0.0.1:1/0")
	require.NoError(t, err, "an unreachable server must not fail construction")
	defer func() { _ = bus.Close() }()

	assert.Error(t, bus.Publish(ctx, "chat", Event{Kind: KindMessage}))

	_, err = bus.Subscribe(ctx, "chat")
	assert.Error(t, err)
}

func TestRedisBusRejectsBadURL(t *testing.T) {
	_, err := NewRedisBus(context.Background(), "not-a-url://")
	assert.Error(t, err)
}
