package chat

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository handles live_chat_messages persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a chat repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Append inserts one chat message.
func (r *Repository) Append(ctx context.Context, rec Record) error {
	sessionID, err := uuid.Parse(rec.SessionID)
	if err != nil {
		return fmt.Errorf("session id: %w", err)
	}
	userID, err := uuid.Parse(rec.UserID)
	if err != nil {
		return fmt.Errorf("user id: %w", err)
	}
	const q = `INSERT INTO live_chat_messages (id, session_id, user_id, content, message_type)
		VALUES (gen_random_uuid(), $1, $2, $3, $4)`
	_, err = r.pool.Exec(ctx, q, sessionID, userID, rec.Content, string(rec.Type))
	return err
}

// History returns the session's most recent messages, oldest first, with the sender's
// profile name and avatar.
func (r *Repository) History(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}
	if limit <= 0 || limit > HistoryLimit {
		limit = HistoryLimit
	}
	const q = `SELECT m.id, m.user_id, m.content, m.message_type, m.created_at,
		COALESCE(p.full_name, ''), COALESCE(p.avatar_url, '')
		FROM (
			SELECT id, user_id, content, message_type, created_at FROM live_chat_messages
			WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2
		) m
		LEFT JOIN profiles p ON p.id = m.user_id
		ORDER BY m.created_at ASC`
	rows, err := r.pool.Query(ctx, q, id, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			msgID, userID uuid.UUID
			typ           string
			m             Message
		)
		if err := rows.Scan(&msgID, &userID, &m.Content, &typ, &m.CreatedAt, &m.Name, &m.Avatar); err != nil {
			return nil, err
		}
		m.ID = msgID.String()
		m.UserID = userID.String()
		m.SessionID = sessionID
		m.Type = MessageType(typ)
		if m.Name == "" {
			m.Name = DefaultName
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
