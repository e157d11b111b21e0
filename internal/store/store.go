// Package store holds the relay's persistence collaborators: the message
// store and the relationship oracle. Both have a PostgreSQL and an
// in-memory implementation.
package store

import (
	"context"
	"errors"

	"github.com/Tyrowin/chatrelay/internal/models"
)

// ErrNotFound is returned when a referenced user does not exist.
var ErrNotFound = errors.New("not found")

// RelationshipOracle answers whether two users may message each other.
// The relation is symmetric.
type RelationshipOracle interface {
	Authorized(ctx context.Context, a, b models.Identity) (bool, error)
}

// MessageStore persists messages and their seen state.
type MessageStore interface {
	// CreateMessage appends a message and returns the canonical record with
	// server-assigned id and createdAt.
	CreateMessage(ctx context.Context, fromID, toID models.Identity, content string) (*models.Message, error)
	// MarkSeen flags messageID as seen only when it is addressed to byID.
	// A missing or foreign message is not an error.
	MarkSeen(ctx context.Context, messageID string, byID models.Identity) error
	// Conversation returns every message between a and b, oldest first.
	Conversation(ctx context.Context, a, b models.Identity) ([]models.Message, error)
}

// DataStore is implemented by both backends.
type DataStore interface {
	RelationshipOracle
	MessageStore
	Ping(ctx context.Context) error
	Close()
}
