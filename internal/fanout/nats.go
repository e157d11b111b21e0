package fanout

import (
	"context"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/Tyrowin/chatrelay/internal/logging"
)

// NATSBus uses core NATS subjects as the backbone. Core NATS has the same
// at-most-once semantics as Redis pub/sub.
type NATSBus struct {
	conn *natsgo.Conn
}

// NewNATSBus connects to url. The connection retries in the background
// when the server is unreachable at startup.
func NewNATSBus(url string) (*NATSBus, error) {
	nc, err := natsgo.Connect(url,
		natsgo.Name("chatrelay"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2*time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("nats disconnected, cross-instance delivery degraded")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSBus{conn: nc}, nil
}

// Publish implements Publisher.
func (b *NATSBus) Publish(_ context.Context, channel string, ev Event) error {
	payload, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(channel, payload); err != nil {
		return fmt.Errorf("nats publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe implements Subscriber.
func (b *NATSBus) Subscribe(ctx context.Context, channels ...string) (<-chan Delivery, error) {
	in := make(chan *natsgo.Msg, deliveryBuffer)
	subs := make([]*natsgo.Subscription, 0, len(channels))
	for _, ch := range channels {
		sub, err := b.conn.ChanSubscribe(ch, in)
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, fmt.Errorf("nats subscribe %s: %w", ch, err)
		}
		subs = append(subs, sub)
	}

	out := make(chan Delivery, deliveryBuffer)
	go func() {
		defer close(out)
		defer func() {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-in:
				ev, err := Decode(msg.Data)
				if err != nil {
					logging.Warn().Err(err).Str("channel", msg.Subject).Msg("dropping malformed fanout event")
					continue
				}
				select {
				case out <- Delivery{Channel: msg.Subject, Event: ev}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Flush waits until the server has processed every buffered publish.
func (b *NATSBus) Flush() error {
	return b.conn.Flush()
}

// Close closes the connection without draining subscriptions; pending
// publishes are flushed first.
func (b *NATSBus) Close() error {
	b.conn.Close()
	return nil
}
