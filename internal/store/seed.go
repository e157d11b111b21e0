package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/Tyrowin/chatrelay/internal/models"
)

// Seed is the initial content of a store, read from YAML:
//
//	users:
//	  - {id: u1, name: Ada, email: ada@example.com}
//	friendships:
//	  - {user_id: u1, friend_id: u2}
type Seed struct {
	Users       []SeedUser       `koanf:"users"`
	Friendships []SeedFriendship `koanf:"friendships"`
}

// SeedUser is one user profile.
type SeedUser struct {
	ID        string `koanf:"id"`
	Name      string `koanf:"name"`
	Email     string `koanf:"email"`
	AvatarURL string `koanf:"avatar_url"`
}

// SeedFriendship is one directed friend record.
type SeedFriendship struct {
	UserID   string `koanf:"user_id"`
	FriendID string `koanf:"friend_id"`
}

// LoadSeed reads a seed file.
func LoadSeed(path string) (*Seed, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load seed %s: %w", path, err)
	}
	var seed Seed
	if err := k.Unmarshal("", &seed); err != nil {
		return nil, fmt.Errorf("decode seed %s: %w", path, err)
	}
	return &seed, nil
}

// Apply adds the seed's users and friendships to m.
func (m *Memory) Apply(seed *Seed) {
	for _, u := range seed.Users {
		summary := models.UserSummary{ID: u.ID, Name: u.Name, Email: u.Email}
		if u.AvatarURL != "" {
			avatar := u.AvatarURL
			summary.AvatarURL = &avatar
		}
		m.AddUser(summary)
	}
	for _, f := range seed.Friendships {
		m.AddFriendship(models.Identity(f.UserID), models.Identity(f.FriendID))
	}
}

// Apply upserts the seed's users and friendships in one transaction.
func (s *Postgres) Apply(ctx context.Context, seed *Seed) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, u := range seed.Users {
			var avatar *string
			if u.AvatarURL != "" {
				avatar = &u.AvatarURL
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO users (id, name, email, avatar_url)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (id) DO UPDATE
				SET name = EXCLUDED.name, email = EXCLUDED.email, avatar_url = EXCLUDED.avatar_url
			`, u.ID, u.Name, u.Email, avatar)
			if err != nil {
				return fmt.Errorf("seed user %s: %w", u.ID, err)
			}
		}
		for _, f := range seed.Friendships {
			_, err := tx.Exec(ctx, `
				INSERT INTO friends (user_id, friend_id) VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, f.UserID, f.FriendID)
			if err != nil {
				return fmt.Errorf("seed friendship %s-%s: %w", f.UserID, f.FriendID, err)
			}
		}
		return nil
	})
}
