package store

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Tyrowin/chatrelay/internal/models"
)

//go:embed schema.sql
var schema string

// Postgres is the production DataStore backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to databaseURL and verifies the connection.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Migrate creates the relay tables if they do not exist.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the pool.
func (s *Postgres) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Authorized implements RelationshipOracle.
func (s *Postgres) Authorized(ctx context.Context, a, b models.Identity) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM friends
			WHERE (user_id = $1 AND friend_id = $2)
			   OR (user_id = $2 AND friend_id = $1)
		)
	`, string(a), string(b)).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("query friendship: %w", err)
	}
	return ok, nil
}

const messageColumns = `
	m.id::text, m.from_id, m.to_id, m.content, m.seen, m.created_at,
	fu.id, fu.name, fu.email, fu.avatar_url,
	tu.id, tu.name, tu.email, tu.avatar_url`

func scanMessage(row pgx.Row) (*models.Message, error) {
	var (
		msg      models.Message
		from, to models.UserSummary
		fromID   string
		toID     string
	)
	err := row.Scan(
		&msg.ID, &fromID, &toID, &msg.Content, &msg.Seen, &msg.CreatedAt,
		&from.ID, &from.Name, &from.Email, &from.AvatarURL,
		&to.ID, &to.Name, &to.Email, &to.AvatarURL,
	)
	if err != nil {
		return nil, err
	}
	msg.FromID = models.Identity(fromID)
	msg.ToID = models.Identity(toID)
	msg.From = &from
	msg.To = &to
	return &msg, nil
}

// CreateMessage implements MessageStore.
func (s *Postgres) CreateMessage(ctx context.Context, fromID, toID models.Identity, content string) (*models.Message, error) {
	row := s.pool.QueryRow(ctx, `
		WITH m AS (
			INSERT INTO messages (from_id, to_id, content, seen)
			VALUES ($1, $2, $3, false)
			RETURNING id, from_id, to_id, content, seen, created_at
		)
		SELECT `+messageColumns+`
		FROM m
		JOIN users fu ON fu.id = m.from_id
		JOIN users tu ON tu.id = m.to_id
	`, string(fromID), string(toID), content)

	msg, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// MarkSeen implements MessageStore.
func (s *Postgres) MarkSeen(ctx context.Context, messageID string, byID models.Identity) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE messages SET seen = true
		WHERE id::text = $1 AND to_id = $2
	`, messageID, string(byID))
	if err != nil {
		return fmt.Errorf("mark message seen: %w", err)
	}
	return nil
}

// Conversation implements MessageStore.
func (s *Postgres) Conversation(ctx context.Context, a, b models.Identity) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		JOIN users fu ON fu.id = m.from_id
		JOIN users tu ON tu.id = m.to_id
		WHERE (m.from_id = $1 AND m.to_id = $2)
		   OR (m.from_id = $2 AND m.to_id = $1)
		ORDER BY m.created_at ASC
	`, string(a), string(b))
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation: %w", err)
	}
	return messages, nil
}
