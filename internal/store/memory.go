package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Tyrowin/chatrelay/internal/models"
)

type friendPair struct {
	a, b models.Identity
}

// Memory is a process-local DataStore used when no database is configured
// and in tests.
type Memory struct {
	mu       sync.RWMutex
	users    map[models.Identity]models.UserSummary
	friends  map[friendPair]struct{}
	messages []*models.Message
	now      func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:   make(map[models.Identity]models.UserSummary),
		friends: make(map[friendPair]struct{}),
		now:     time.Now,
	}
}

// AddUser records a profile used to fill message summaries.
func (m *Memory) AddUser(u models.UserSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[models.Identity(u.ID)] = u
}

// AddFriendship stores a single directed friend record. Authorized checks
// both directions.
func (m *Memory) AddFriendship(userID, friendID models.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.friends[friendPair{userID, friendID}] = struct{}{}
}

// Authorized implements RelationshipOracle.
func (m *Memory) Authorized(_ context.Context, a, b models.Identity) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ab := m.friends[friendPair{a, b}]
	_, ba := m.friends[friendPair{b, a}]
	return ab || ba, nil
}

func (m *Memory) summary(id models.Identity) *models.UserSummary {
	if u, ok := m.users[id]; ok {
		return &u
	}
	return &models.UserSummary{ID: string(id)}
}

// CreateMessage implements MessageStore.
func (m *Memory) CreateMessage(_ context.Context, fromID, toID models.Identity, content string) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg := &models.Message{
		ID:        ulid.Make().String(),
		FromID:    fromID,
		ToID:      toID,
		Content:   content,
		CreatedAt: m.now().UTC(),
		From:      m.summary(fromID),
		To:        m.summary(toID),
	}
	m.messages = append(m.messages, msg)

	out := *msg
	return &out, nil
}

// MarkSeen implements MessageStore.
func (m *Memory) MarkSeen(_ context.Context, messageID string, byID models.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.ID == messageID && msg.ToID == byID {
			msg.Seen = true
		}
	}
	return nil
}

// Conversation implements MessageStore.
func (m *Memory) Conversation(_ context.Context, a, b models.Identity) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Message, 0)
	for _, msg := range m.messages {
		if (msg.FromID == a && msg.ToID == b) || (msg.FromID == b && msg.ToID == a) {
			out = append(out, *msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Message returns a copy of a stored message.
func (m *Memory) Message(id string) (models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, msg := range m.messages {
		if msg.ID == id {
			return *msg, nil
		}
	}
	return models.Message{}, fmt.Errorf("message %s: %w", id, ErrNotFound)
}

// Messages returns a snapshot of every stored message in insertion order.
func (m *Memory) Messages() []models.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Message, len(m.messages))
	for i, msg := range m.messages {
		out[i] = *msg
	}
	return out
}

// Ping implements DataStore.
func (m *Memory) Ping(context.Context) error { return nil }

// Close implements DataStore.
func (m *Memory) Close() {}
