package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatsync/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageStore = (*MessageRepo)(nil)

// Save persists the message under a fresh durable id and returns the stored
// copy. The caller's value is not mutated, so the provisional id stays
// usable for reconciliation.
func (r *MessageRepo) Save(ctx context.Context, m *domain.Message) (*domain.Message, error) {
	stored := *m
	stored.ID = uuid.NewString()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	if stored.Reactions == nil {
		stored.Reactions = []domain.Reaction{}
	}

	reactions, err := json.Marshal(stored.Reactions)
	if err != nil {
		return nil, fmt.Errorf("marshal reactions: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, receiver_id, content, content_type, media_url, status, reactions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, stored.ID, stored.ConversationID, stored.SenderID, stored.ReceiverID,
		stored.Content, string(stored.ContentType), stored.MediaURL,
		string(stored.Status), string(reactions), stored.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &stored, nil
}

func (r *MessageRepo) Get(ctx context.Context, id string) (*domain.Message, error) {
	m := &domain.Message{}
	var contentType, status, reactions string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, sender_id, receiver_id, content, content_type, media_url, status, reactions, created_at
		FROM messages
		WHERE id = ?
	`, id).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID,
		&m.Content, &contentType, &m.MediaURL, &status, &reactions, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	m.ContentType = domain.ContentType(contentType)
	m.Status = domain.MessageStatus(status)
	if err := json.Unmarshal([]byte(reactions), &m.Reactions); err != nil {
		return nil, fmt.Errorf("unmarshal reactions: %w", err)
	}
	return m, nil
}

func (r *MessageRepo) UpdateStatus(ctx context.Context, ids []string, status domain.MessageStatus) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, string(status))
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE messages SET status = ? WHERE id IN (%s)`, placeholders),
		args...)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	return nil
}

func (r *MessageRepo) SaveReactions(ctx context.Context, messageID string, reactions []domain.Reaction) error {
	if reactions == nil {
		reactions = []domain.Reaction{}
	}
	data, err := json.Marshal(reactions)
	if err != nil {
		return fmt.Errorf("marshal reactions: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET reactions = ? WHERE id = ?
	`, string(data), messageID)
	if err != nil {
		return fmt.Errorf("save reactions: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MessageRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
