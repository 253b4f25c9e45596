package domain

import (
	"fmt"
	"strings"
	"time"
)

// ContentType describes what a message carries.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentVideo ContentType = "video"
)

// MessageStatus is the delivery state of a message. Transitions are
// forward-only except to failed, which is reachable from sending and sent.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

var statusRank = map[MessageStatus]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// CanTransition reports whether moving from s to next is a legal status change.
func (s MessageStatus) CanTransition(next MessageStatus) bool {
	if s == StatusFailed || s == next {
		return false
	}
	if next == StatusFailed {
		return s == StatusSending || s == StatusSent
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// Reaction is one user's emoji reaction on a message. A message holds at
// most one reaction per user.
type Reaction struct {
	UserID string `json:"user_id"`
	Emoji  string `json:"emoji"`
}

// Message is a single direct message between two users.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	SenderID       string        `json:"sender_id"`
	ReceiverID     string        `json:"receiver_id"`
	Content        string        `json:"content"`
	ContentType    ContentType   `json:"content_type"`
	MediaURL       string        `json:"media_url,omitempty"`
	Status         MessageStatus `json:"status"`
	Reactions      []Reaction    `json:"reactions"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Conversation is a two-party conversation keyed by the sorted participant
// pair, so any two users map to exactly one conversation.
type Conversation struct {
	ID            string    `json:"id"`
	ParticipantA  string    `json:"participant_a"`
	ParticipantB  string    `json:"participant_b"`
	LastMessageID string    `json:"last_message_id,omitempty"`
	UnreadCount   int       `json:"unread_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ParticipantKey returns the canonical ordering of two participant ids.
func ParticipantKey(a, b string) (string, string) {
	if strings.Compare(a, b) > 0 {
		return b, a
	}
	return a, b
}

// Participants returns both members of the conversation.
func (c *Conversation) Participants() []string {
	return []string{c.ParticipantA, c.ParticipantB}
}

// PresenceRecord is the registry's view of one identity.
type PresenceRecord struct {
	Identity  string    `json:"identity"`
	Reachable bool      `json:"reachable"`
	LastSeen  time.Time `json:"last_seen"`
}

// CallType selects the media kind of a call.
type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

// CallState is the coordinator-side state of a call session. Terminal
// states are not stored; the session is removed when it reaches one.
type CallState string

const (
	CallRinging    CallState = "ringing"
	CallConnecting CallState = "connecting"
	CallActive     CallState = "active"
)

// CallSession tracks one in-flight call between exactly two parties.
type CallSession struct {
	CallID     string    `json:"call_id"`
	CallerID   string    `json:"caller_id"`
	ReceiverID string    `json:"receiver_id"`
	CallType   CallType  `json:"call_type"`
	State      CallState `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
}

// Peer returns the other participant of the call, and whether identity is
// a participant at all.
func (c *CallSession) Peer(identity string) (string, bool) {
	switch identity {
	case c.CallerID:
		return c.ReceiverID, true
	case c.ReceiverID:
		return c.CallerID, true
	}
	return "", false
}

// NewCallID builds a call id from the participants and the current time,
// unique enough without a central counter.
func NewCallID(callerID, receiverID string) string {
	return fmt.Sprintf("%s-%s-%d", callerID, receiverID, time.Now().UnixMilli())
}
