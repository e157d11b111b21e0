package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatrelay/internal/models"
)

func TestMemoryAuthorizedIsSymmetric(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.AddFriendship("u1", "u2")

	ok, err := m.Authorized(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Authorized(ctx, "u2", "u1")
	require.NoError(t, err)
	assert.True(t, ok, "reverse direction must satisfy the relation")

	ok, err = m.Authorized(ctx, "u1", "u3")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCreateMessage(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.AddUser(models.UserSummary{ID: "u1", Name: "Alice", Email: "alice@example.com"})

	msg, err := m.CreateMessage(ctx, "u1", "u2", "hi")
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.CreatedAt.IsZero())
	assert.Equal(t, models.Identity("u1"), msg.FromID)
	assert.Equal(t, models.Identity("u2"), msg.ToID)
	assert.Equal(t, "hi", msg.Content)
	assert.False(t, msg.Seen)
	require.NotNil(t, msg.From)
	assert.Equal(t, "Alice", msg.From.Name)
	require.NotNil(t, msg.To)
	assert.Equal(t, "u2", msg.To.ID)
}

func TestMemoryMarkSeenOnlyByRecipient(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	msg, err := m.CreateMessage(ctx, "u1", "u2", "hi")
	require.NoError(t, err)

	require.NoError(t, m.MarkSeen(ctx, msg.ID, "u1"))
	stored, err := m.Message(msg.ID)
	require.NoError(t, err)
	assert.False(t, stored.Seen, "sender cannot mark own message seen")

	require.NoError(t, m.MarkSeen(ctx, msg.ID, "u3"))
	stored, err = m.Message(msg.ID)
	require.NoError(t, err)
	assert.False(t, stored.Seen, "third party cannot mark message seen")

	require.NoError(t, m.MarkSeen(ctx, msg.ID, "u2"))
	stored, err = m.Message(msg.ID)
	require.NoError(t, err)
	assert.True(t, stored.Seen)

	assert.NoError(t, m.MarkSeen(ctx, "missing", "u2"))
}

func TestMemoryConversationOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	m.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	_, err := m.CreateMessage(ctx, "u1", "u2", "one")
	require.NoError(t, err)
	_, err = m.CreateMessage(ctx, "u2", "u1", "two")
	require.NoError(t, err)
	_, err = m.CreateMessage(ctx, "u1", "u3", "elsewhere")
	require.NoError(t, err)

	conv, err := m.Conversation(ctx, "u2", "u1")
	require.NoError(t, err)
	require.Len(t, conv, 2)
	assert.Equal(t, "one", conv[0].Content)
	assert.Equal(t, "two", conv[1].Content)
}

func TestMemoryMessageNotFound(t *testing.T) {
	_, err := NewMemory().Message("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryApplySeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
users:
  - id: u1
    name: Ada
    email: ada@example.com
    avatar_url: https://example.com/ada.png
  - id: u2
    name: Bob
    email: bob@example.com
friendships:
  - user_id: u1
    friend_id: u2
`), 0o600))

	seed, err := LoadSeed(path)
	require.NoError(t, err)
	require.Len(t, seed.Users, 2)

	m := NewMemory()
	m.Apply(seed)

	ok, err := m.Authorized(t.Context(), "u2", "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	msg, err := m.CreateMessage(t.Context(), "u1", "u2", "hi")
	require.NoError(t, err)
	assert.Equal(t, "Ada", msg.From.Name)
	require.NotNil(t, msg.From.AvatarURL)
	assert.Equal(t, "https://example.com/ada.png", *msg.From.AvatarURL)
	assert.Nil(t, msg.To.AvatarURL)
}

func TestLoadSeedMissingFile(t *testing.T) {
	_, err := LoadSeed(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
