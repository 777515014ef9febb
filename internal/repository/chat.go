package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/verity-labs/docvox/internal/domain"
)

type ChatRepository struct {
	db dbtx
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{db: pool}
}

func NewChatRepositoryWithTx(tx pgx.Tx) *ChatRepository {
	return &ChatRepository{db: tx}
}

// GetOrCreate resolves the chat for a (website, session) pair, creating it
// on first contact. A visitor ID supplied later backfills a chat that was
// opened anonymously.
func (r *ChatRepository) GetOrCreate(ctx context.Context, websiteID, sessionID, visitorID string) (*domain.Chat, error) {
	var chat domain.Chat
	var visitor *string
	err := r.db.QueryRow(ctx,
		`INSERT INTO chats (id, website_id, session_id, visitor_id, started_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (website_id, session_id)
		 DO UPDATE SET visitor_id = COALESCE(chats.visitor_id, EXCLUDED.visitor_id)
		 RETURNING id, website_id, session_id, visitor_id, started_at`,
		uuid.NewString(), websiteID, sessionID, nullableString(visitorID), time.Now().UTC(),
	).Scan(&chat.ID, &chat.WebsiteID, &chat.SessionID, &visitor, &chat.StartedAt)
	if err != nil {
		return nil, err
	}
	if visitor != nil {
		chat.VisitorID = *visitor
	}
	return &chat, nil
}

// RecentMessages returns the last limit user and assistant messages of the
// chat, oldest first.
func (r *ChatRepository) RecentMessages(ctx context.Context, chatID string, limit int) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, chat_id, role, content, created_at FROM (
			SELECT id, chat_id, role, content, created_at
			FROM messages
			WHERE chat_id = $1 AND role IN ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4
		 ) recent
		 ORDER BY created_at ASC, id ASC`,
		chatID, domain.MessageRoleUser, domain.MessageRoleAssistant, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, &m)
	}
	return results, rows.Err()
}

// AppendMessage stores one message.
func (r *ChatRepository) AppendMessage(ctx context.Context, m *domain.Message) error {
	if err := domain.ValidateMessage(m); err != nil {
		return err
	}
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO messages (id, chat_id, role, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.ChatID, m.Role, m.Content, createdAt,
	)
	return err
}

// MessageCount returns the number of messages in a chat.
func (r *ChatRepository) MessageCount(ctx context.Context, chatID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE chat_id = $1`,
		chatID,
	).Scan(&count)
	return count, err
}
