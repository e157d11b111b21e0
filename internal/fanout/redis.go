package fanout

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/chatrelay/internal/logging"
)

// RedisBus uses Redis PUBLISH/SUBSCRIBE as the backbone.
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus parses redisURL and returns a bus. An unreachable server is
// logged but not fatal: the client reconnects on its own and the relay
// keeps serving local delivery in the meantime.
func NewRedisBus(ctx context.Context, redisURL string) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		logging.Warn().Err(err).Str("addr", opts.Addr).Msg("redis unreachable, cross-instance delivery degraded")
	}
	return &RedisBus{client: client}, nil
}

// Publish implements Publisher.
func (b *RedisBus) Publish(ctx context.Context, channel string, ev Event) error {
	payload, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe implements Subscriber. It returns once redis has confirmed
// every channel.
func (b *RedisBus) Subscribe(ctx context.Context, channels ...string) (<-chan Delivery, error) {
	ps := b.client.Subscribe(ctx, channels...)
	for range channels {
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return nil, fmt.Errorf("redis subscribe: %w", err)
		}
	}
	out := make(chan Delivery, deliveryBuffer)

	go func() {
		defer close(out)
		defer func() { _ = ps.Close() }()

		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				ev, err := Decode([]byte(msg.Payload))
				if err != nil {
					logging.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed fanout event")
					continue
				}
				select {
				case out <- Delivery{Channel: msg.Channel, Event: ev}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes the redis client.
func (b *RedisBus) Close() error {
	return b.client.Close()
}
