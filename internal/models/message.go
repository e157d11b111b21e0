// Package models defines the records exchanged between the relay, its
// stores, the fanout bus and websocket clients.
package models

import (
	"time"

	"github.com/goccy/go-json"
)

// Identity is the durable user key extracted from a verified token.
type Identity string

// UserSummary is the public profile attached to both ends of a message.
type UserSummary struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Email     string  `json:"email"`
	AvatarURL *string `json:"avatarUrl"`
}

// Message is a persisted private message between two users.
type Message struct {
	ID        string       `json:"id"`
	FromID    Identity     `json:"fromId"`
	ToID      Identity     `json:"toId"`
	Content   string       `json:"content"`
	Seen      bool         `json:"seen"`
	CreatedAt time.Time    `json:"createdAt"`
	From      *UserSummary `json:"from,omitempty"`
	To        *UserSummary `json:"to,omitempty"`
}

// Notification is an out-of-band event produced outside the relay, for
// example an accepted friend request. The relay forwards it untouched.
type Notification = json.RawMessage
