package fanout

import (
	"context"
	"sync"

	"github.com/Tyrowin/chatrelay/internal/logging"
)

type memorySubscription struct {
	channels map[string]struct{}
	out      chan Delivery
}

// MemoryBus is an in-process backbone. Every relay sharing one MemoryBus
// behaves like a separate instance on a shared Redis.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[*memorySubscription]struct{}
	closed bool
}

// NewMemoryBus returns an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[*memorySubscription]struct{})}
}

// Publish encodes ev and offers it to every subscriber of channel. A full
// subscriber buffer drops the event.
func (b *MemoryBus) Publish(_ context.Context, channel string, ev Event) error {
	payload, err := Encode(ev)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	for sub := range b.subs {
		if _, ok := sub.channels[channel]; !ok {
			continue
		}
		decoded, err := Decode(payload)
		if err != nil {
			return err
		}
		select {
		case sub.out <- Delivery{Channel: channel, Event: decoded}:
		default:
			logging.Warn().Str("channel", channel).Msg("memory bus subscriber full, dropping event")
		}
	}
	return nil
}

// Subscribe implements Subscriber.
func (b *MemoryBus) Subscribe(ctx context.Context, channels ...string) (<-chan Delivery, error) {
	sub := &memorySubscription{
		channels: make(map[string]struct{}, len(channels)),
		out:      make(chan Delivery, deliveryBuffer),
	}
	for _, ch := range channels {
		sub.channels[ch] = struct{}{}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(sub)
	}()
	return sub.out, nil
}

func (b *MemoryBus) remove(sub *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.out)
	}
}

// Close ends every subscription.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.out)
	}
	return nil
}
