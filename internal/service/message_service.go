package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"chatsync/internal/domain"
	"chatsync/internal/wire"
)

// MessageService is the delivery pipeline: it synthesizes a provisional
// message for optimistic display, persists it through the external store,
// routes the delivery notification and keeps statuses moving forward only.
type MessageService struct {
	conversations domain.ConversationStore
	messages      domain.MessageStore
	registry      Registry
}

func NewMessageService(
	conversations domain.ConversationStore,
	messages domain.MessageStore,
	registry Registry,
) *MessageService {
	return &MessageService{
		conversations: conversations,
		messages:      messages,
		registry:      registry,
	}
}

// SendInput is a locally-composed draft.
type SendInput struct {
	SenderID      string
	ReceiverID    string
	Content       string
	ContentType   domain.ContentType
	MediaURL      string
	ProvisionalID string
}

// Compose synthesizes the provisional message, status sending. It is
// returned to the caller before anything is persisted.
func (s *MessageService) Compose(in SendInput) *domain.Message {
	id := in.ProvisionalID
	if id == "" {
		id = "temp-" + uuid.NewString()
	}
	ct := in.ContentType
	if ct == "" {
		ct = domain.ContentText
	}
	return &domain.Message{
		ID:          id,
		SenderID:    in.SenderID,
		ReceiverID:  in.ReceiverID,
		Content:     in.Content,
		ContentType: ct,
		MediaURL:    in.MediaURL,
		Status:      domain.StatusSending,
		Reactions:   []domain.Reaction{},
		CreatedAt:   time.Now(),
	}
}

// Dispatch persists the provisional message, reconciles the sender's local
// copy with the durable record and, if the receiver is reachable, delivers
// it and advances the status. On persistence failure the message goes to
// failed, is surfaced to the sender and is never retried automatically.
//
// delivered is never emitted before the save that assigned the durable id
// has completed.
func (s *MessageService) Dispatch(ctx context.Context, provisional *domain.Message) (*domain.Message, error) {
	if provisional.SenderID == "" || provisional.ReceiverID == "" {
		return nil, domain.ErrInvalidInput
	}

	conv, err := s.conversations.CreateOrGet(ctx, provisional.SenderID, provisional.ReceiverID)
	if err != nil {
		return nil, s.fail(provisional, fmt.Errorf("get conversation: %w", err))
	}

	draft := *provisional
	draft.ConversationID = conv.ID
	draft.Status = domain.StatusSent
	durable, err := s.messages.Save(ctx, &draft)
	if err != nil {
		return nil, s.fail(provisional, fmt.Errorf("save message: %w", err))
	}

	// Conversation bookkeeping is best-effort; the message itself is safe.
	if err := s.conversations.SetLastMessage(ctx, conv.ID, durable.ID); err != nil {
		log.Printf("message: set last message for %s: %v", conv.ID, err)
	}
	if err := s.conversations.IncrementUnread(ctx, conv.ID); err != nil {
		log.Printf("message: increment unread for %s: %v", conv.ID, err)
	}

	s.registry.Emit(durable.SenderID, wire.EventMessageSent, wire.MessageSent{
		ProvisionalID: provisional.ID,
		Message:       durable,
	})

	if s.registry.Reachable(durable.ReceiverID) {
		durable.Status = domain.StatusDelivered
		if s.registry.Emit(durable.ReceiverID, wire.EventMessageIncoming, wire.MessageIncoming{Message: durable}) {
			if err := s.messages.UpdateStatus(ctx, []string{durable.ID}, domain.StatusDelivered); err != nil {
				log.Printf("message: mark delivered %s: %v", durable.ID, err)
			}
			s.registry.Emit(durable.SenderID, wire.EventMessageStatusChanged, wire.MessageStatusChanged{
				MessageID: durable.ID,
				Status:    domain.StatusDelivered,
			})
		} else {
			durable.Status = domain.StatusSent
		}
	}

	return durable, nil
}

// fail marks the provisional record failed and surfaces it to the sender.
func (s *MessageService) fail(provisional *domain.Message, cause error) error {
	provisional.Status = domain.StatusFailed
	s.registry.Emit(provisional.SenderID, wire.EventMessageStatusChanged, wire.MessageStatusChanged{
		MessageID: provisional.ID,
		Status:    domain.StatusFailed,
	})
	return fmt.Errorf("%w: %v", domain.ErrPersistence, cause)
}

// MarkRead bulk-transitions the reader's sent/delivered messages to read,
// persists the change and tells each sender so its UI can update statuses
// and zero the conversation badge without a re-fetch. Applying it to an
// already-read set is a no-op.
func (s *MessageService) MarkRead(ctx context.Context, readerID, conversationID string, messageIDs []string) error {
	var eligible []*domain.Message
	for _, id := range messageIDs {
		m, err := s.messages.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return fmt.Errorf("%w: get message %s: %v", domain.ErrPersistence, id, err)
		}
		if m.ReceiverID != readerID {
			continue
		}
		if m.Status != domain.StatusSent && m.Status != domain.StatusDelivered {
			continue
		}
		eligible = append(eligible, m)
	}
	if len(eligible) == 0 {
		return nil
	}

	ids := make([]string, len(eligible))
	for i, m := range eligible {
		ids[i] = m.ID
	}
	if err := s.messages.UpdateStatus(ctx, ids, domain.StatusRead); err != nil {
		return fmt.Errorf("%w: mark read: %v", domain.ErrPersistence, err)
	}
	if conversationID != "" {
		if err := s.conversations.ResetUnread(ctx, conversationID); err != nil {
			log.Printf("message: reset unread for %s: %v", conversationID, err)
		}
	}

	notified := make(map[string]bool)
	for _, m := range eligible {
		if !s.registry.Reachable(m.SenderID) {
			continue
		}
		s.registry.Emit(m.SenderID, wire.EventMessageStatusChanged, wire.MessageStatusChanged{
			MessageID: m.ID,
			Status:    domain.StatusRead,
		})
		if conversationID != "" && !notified[m.SenderID] {
			notified[m.SenderID] = true
			s.registry.Emit(m.SenderID, wire.EventConversationRead, wire.ConversationRead{
				ConversationID: conversationID,
			})
		}
	}
	return nil
}

// Delete removes a message. Only the sender may delete; the other
// participant, if reachable, gets a deletion notice carrying only the id.
func (s *MessageService) Delete(ctx context.Context, requesterID, messageID string) error {
	m, err := s.messages.Get(ctx, messageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("%w: get message: %v", domain.ErrPersistence, err)
	}
	if m.SenderID != requesterID {
		return domain.ErrForbidden
	}
	if err := s.messages.Delete(ctx, messageID); err != nil {
		return fmt.Errorf("%w: delete message: %v", domain.ErrPersistence, err)
	}

	s.registry.Emit(m.ReceiverID, wire.EventMessageDeleted, wire.MessageDeleted{MessageID: messageID})
	return nil
}
