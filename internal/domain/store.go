package domain

import (
	"context"
	"time"
)

// ConversationStore defines persistence operations for conversations.
type ConversationStore interface {
	// CreateOrGet returns the conversation for the pair (a, b), creating it
	// if absent. The pair is canonicalized internally, so argument order
	// does not matter.
	CreateOrGet(ctx context.Context, a, b string) (*Conversation, error)
	SetLastMessage(ctx context.Context, conversationID, messageID string) error
	IncrementUnread(ctx context.Context, conversationID string) error
	ResetUnread(ctx context.Context, conversationID string) error
}

// MessageStore defines persistence operations for messages.
type MessageStore interface {
	// Save persists m and returns the durable record. The returned message
	// carries the durable id; m is not mutated.
	Save(ctx context.Context, m *Message) (*Message, error)
	Get(ctx context.Context, id string) (*Message, error)
	UpdateStatus(ctx context.Context, ids []string, status MessageStatus) error
	SaveReactions(ctx context.Context, messageID string, reactions []Reaction) error
	Delete(ctx context.Context, id string) error
}

// PresenceStore persists the online flag and last-seen timestamp. Best
// effort; the registry logs and ignores failures.
type PresenceStore interface {
	SetOnline(ctx context.Context, identity string, online bool, lastSeen time.Time) error
}
