// Package wire defines the bidirectional event contract carried over each
// client connection. It is shared by the gateway and the coordination
// services and is intentionally dependency-light.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"chatsync/internal/domain"
)

// Client -> server event names.
const (
	EventConnectAnnounce = "connect_announce"
	EventQueryPresence   = "query_presence"
	EventMessageSend     = "message_send"
	EventMessageRead     = "message_read"
	EventMessageDelete   = "message_delete"
	EventReactionToggle  = "reaction_toggle"
	EventTypingStart     = "typing_start"
	EventTypingStop      = "typing_stop"
	EventCallInvite      = "call_invite"
	EventCallAccept      = "call_accept"
	EventCallReject      = "call_reject"
	EventCallEnd         = "call_end"
)

// Server -> client event names.
const (
	EventPresenceChanged      = "presence_changed"
	EventPresenceStatus       = "presence_status"
	EventMessageIncoming      = "message_incoming"
	EventMessagePending       = "message_pending"
	EventMessageSent          = "message_sent"
	EventMessageStatusChanged = "message_status_changed"
	EventMessageDeleted       = "message_deleted"
	EventConversationRead     = "conversation_read"
	EventReactionsChanged     = "reactions_changed"
	EventTypingChanged        = "typing_changed"
	EventCallAccepted         = "call_accepted"
	EventCallRejected         = "call_rejected"
	EventCallEnded            = "call_ended"
	EventCallFailed           = "call_failed"
	EventError                = "error"
)

// Relayed in both directions.
const (
	EventCallOffer  = "call_offer"
	EventCallAnswer = "call_answer"
	EventCallIce    = "call_ice"
)

// Envelope is the canonical wire wrapper: a type discriminator plus the
// event-specific payload.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope wraps payload under the given event type.
func NewEnvelope(eventType string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{Type: eventType, Payload: raw}, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

type ConnectAnnounce struct {
	Identity string `json:"identity"`
}

type PresenceChanged struct {
	Identity  string    `json:"identity"`
	Reachable bool      `json:"reachable"`
	LastSeen  time.Time `json:"last_seen"`
}

type QueryPresence struct {
	Identity string `json:"identity"`
}

type MessageSend struct {
	// ProvisionalID is the client-side temp id used for optimistic display;
	// the pipeline synthesizes one when absent.
	ProvisionalID string             `json:"provisional_id,omitempty"`
	ReceiverID    string             `json:"receiver_id"`
	Content       string             `json:"content"`
	ContentType   domain.ContentType `json:"content_type"`
	MediaURL      string             `json:"media_url,omitempty"`
}

type MessageIncoming struct {
	Message *domain.Message `json:"message"`
}

// MessagePending echoes the provisional record back to its sender for
// optimistic display before anything is persisted.
type MessagePending struct {
	Message *domain.Message `json:"message"`
}

// MessageSent reconciles the sender's provisional record with the durable
// one, matched by provisional id and replaced in place.
type MessageSent struct {
	ProvisionalID string          `json:"provisional_id"`
	Message       *domain.Message `json:"message"`
}

type MessageStatusChanged struct {
	MessageID string               `json:"message_id"`
	Status    domain.MessageStatus `json:"status"`
}

type MessageRead struct {
	ConversationID string   `json:"conversation_id"`
	MessageIDs     []string `json:"message_ids"`
}

// ConversationRead zeroes the sender's unread badge without a re-fetch.
type ConversationRead struct {
	ConversationID string `json:"conversation_id"`
}

type MessageDelete struct {
	MessageID string `json:"message_id"`
}

type MessageDeleted struct {
	MessageID string `json:"message_id"`
}

type ReactionToggle struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type ReactionsChanged struct {
	MessageID string            `json:"message_id"`
	Reactions []domain.Reaction `json:"reactions"`
}

type TypingSignal struct {
	ConversationID string `json:"conversation_id"`
	ReceiverID     string `json:"receiver_id"`
}

type TypingChanged struct {
	ConversationID string `json:"conversation_id"`
	Identity       string `json:"identity"`
	IsTyping       bool   `json:"is_typing"`
}

// CallerMeta is display metadata relayed opaquely alongside an invite or
// acceptance so the remote UI can render the peer.
type CallerMeta struct {
	Username string `json:"username,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

type CallInvite struct {
	CallID     string          `json:"call_id,omitempty"`
	CallerID   string          `json:"caller_id,omitempty"`
	ReceiverID string          `json:"receiver_id,omitempty"`
	CallType   domain.CallType `json:"call_type"`
	CallerMeta CallerMeta      `json:"caller_meta,omitempty"`
}

type CallAccept struct {
	CallID       string     `json:"call_id"`
	AcceptorMeta CallerMeta `json:"acceptor_meta,omitempty"`
}

type CallRef struct {
	CallID string `json:"call_id"`
}

// CallPayload relays an opaque SDP or ICE body; the coordinator never
// inspects Body.
type CallPayload struct {
	CallID   string          `json:"call_id"`
	SenderID string          `json:"sender_id,omitempty"`
	Body     json.RawMessage `json:"body"`
}

type CallFailed struct {
	CallID string `json:"call_id,omitempty"`
	Reason string `json:"reason"`
}

type Error struct {
	Message string `json:"message"`
}
