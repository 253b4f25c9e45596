package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"chatsync/internal/domain"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

var _ domain.ConversationStore = (*ConversationRepo)(nil)

// CreateOrGet returns the conversation for the participant pair, creating
// it if absent. The sorted pair is the canonical key, so both argument
// orders resolve to the same row.
func (r *ConversationRepo) CreateOrGet(ctx context.Context, x, y string) (*domain.Conversation, error) {
	a, b := domain.ParticipantKey(x, y)

	conv, err := r.getByPair(ctx, a, b)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	// ON CONFLICT covers the race where two sends create the pair at once.
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO conversations (id, participant_a, participant_b, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (participant_a, participant_b) DO NOTHING
	`, uuid.NewString(), a, b)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	conv, err = r.getByPair(ctx, a, b)
	if err != nil {
		return nil, fmt.Errorf("reload conversation: %w", err)
	}
	return conv, nil
}

func (r *ConversationRepo) getByPair(ctx context.Context, a, b string) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	var lastMessageID sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, participant_a, participant_b, last_message_id, unread_count, updated_at
		FROM conversations
		WHERE participant_a = ? AND participant_b = ?
	`, a, b).Scan(&c.ID, &c.ParticipantA, &c.ParticipantB, &lastMessageID, &c.UnreadCount, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.LastMessageID = lastMessageID.String
	return c, nil
}

func (r *ConversationRepo) SetLastMessage(ctx context.Context, conversationID, messageID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, messageID, conversationID)
	if err != nil {
		return fmt.Errorf("set last message: %w", err)
	}
	return nil
}

func (r *ConversationRepo) IncrementUnread(ctx context.Context, conversationID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET unread_count = unread_count + 1 WHERE id = ?
	`, conversationID)
	if err != nil {
		return fmt.Errorf("increment unread: %w", err)
	}
	return nil
}

func (r *ConversationRepo) ResetUnread(ctx context.Context, conversationID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET unread_count = 0 WHERE id = ?
	`, conversationID)
	if err != nil {
		return fmt.Errorf("reset unread: %w", err)
	}
	return nil
}
