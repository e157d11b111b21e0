// Package fanout connects relay instances through a publish/subscribe
// backbone so that a recipient connected to another instance still
// receives messages.
//
// Delivery is best-effort and at-most-once: there is no acknowledgement,
// no retry and no ordering across channels or instances. An event whose
// recipient is not connected anywhere is dropped; offline users read
// missed messages later from the message store. Publishing is not retried
// because the backbone carries no idempotency key and a retried publish
// could be delivered twice.
package fanout

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/Tyrowin/chatrelay/internal/models"
)

// ErrUnavailable reports that the backbone could not accept a publish.
// Callers degrade to local-only delivery.
var ErrUnavailable = errors.New("fanout backbone unavailable")

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("fanout bus closed")

// Kind discriminates fanout events.
type Kind string

const (
	KindMessage      Kind = "message"
	KindNotification Kind = "notification"
)

// Event is the payload carried on a fanout channel.
type Event struct {
	Kind Kind `json:"type,omitempty"`
	// Origin is the id of the publishing relay instance.
	Origin       string              `json:"origin,omitempty"`
	UserID       models.Identity     `json:"userId,omitempty"`
	Message      *models.Message     `json:"message,omitempty"`
	Notification models.Notification `json:"notification,omitempty"`
}

// Delivery is one event received from a subscribed channel.
type Delivery struct {
	Channel string
	Event   Event
}

// Publisher publishes events to a named channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, ev Event) error
}

// Subscriber yields events from the given channels until ctx is done or
// the underlying subscription ends, at which point the channel is closed.
// A subscription cannot be restarted; call Subscribe again.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) (<-chan Delivery, error)
}

// Bus is a full publish/subscribe backbone.
type Bus interface {
	Publisher
	Subscriber
	Close() error
}

// Encode serialises an event for the wire.
func Encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode fanout event: %w", err)
	}
	return data, nil
}

// Decode parses an event received on the wire.
func Decode(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("decode fanout event: %w", err)
	}
	return ev, nil
}

const deliveryBuffer = 256
