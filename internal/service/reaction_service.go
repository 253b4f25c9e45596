package service

import (
	"context"
	"errors"
	"fmt"

	"chatsync/internal/domain"
	"chatsync/internal/wire"
)

// ReactionService toggles per-user reactions on a message and fans the
// updated set out to both participants. A message holds at most one
// reaction per user: the same emoji twice removes it, a different emoji
// replaces it.
type ReactionService struct {
	messages domain.MessageStore
	registry Registry
}

func NewReactionService(messages domain.MessageStore, registry Registry) *ReactionService {
	return &ReactionService{messages: messages, registry: registry}
}

// Toggle applies userID's emoji to the message and returns the updated
// reaction set. The push carries the full set, so clients reapplying the
// same event converge to the same state.
func (s *ReactionService) Toggle(ctx context.Context, messageID, userID, emoji string) ([]domain.Reaction, error) {
	if messageID == "" || userID == "" || emoji == "" {
		return nil, domain.ErrInvalidInput
	}

	m, err := s.messages.Get(ctx, messageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: get message: %v", domain.ErrPersistence, err)
	}

	reactions := toggleReaction(m.Reactions, userID, emoji)
	if err := s.messages.SaveReactions(ctx, messageID, reactions); err != nil {
		return nil, fmt.Errorf("%w: save reactions: %v", domain.ErrPersistence, err)
	}

	changed := wire.ReactionsChanged{MessageID: messageID, Reactions: reactions}
	s.registry.Emit(m.SenderID, wire.EventReactionsChanged, changed)
	s.registry.Emit(m.ReceiverID, wire.EventReactionsChanged, changed)
	return reactions, nil
}

func toggleReaction(reactions []domain.Reaction, userID, emoji string) []domain.Reaction {
	out := make([]domain.Reaction, 0, len(reactions)+1)
	found := false
	for _, r := range reactions {
		if r.UserID != userID {
			out = append(out, r)
			continue
		}
		found = true
		if r.Emoji != emoji {
			out = append(out, domain.Reaction{UserID: userID, Emoji: emoji})
		}
		// same emoji: drop it
	}
	if !found {
		out = append(out, domain.Reaction{UserID: userID, Emoji: emoji})
	}
	return out
}
