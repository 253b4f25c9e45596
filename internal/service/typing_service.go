package service

import (
	"sync"
	"time"

	"chatsync/internal/wire"
)

// DefaultTypingTTL is how long a typing signal stays live without a
// refresh before the manager emits the stop notification itself.
const DefaultTypingTTL = 3 * time.Second

type typingKey struct {
	conversationID string
	userID         string
}

// TypingService debounces ephemeral typing signals. At most one live
// expiry timer exists per (conversation, user); a refresh pushes the
// expiry forward without re-notifying and an explicit stop or a disconnect
// cancels the timer so a stale expiry can never fire after fresher state.
type TypingService struct {
	registry Registry
	ttl      time.Duration

	mu     sync.Mutex
	timers map[typingKey]*time.Timer
}

func NewTypingService(registry Registry, ttl time.Duration) *TypingService {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &TypingService{
		registry: registry,
		ttl:      ttl,
		timers:   make(map[typingKey]*time.Timer),
	}
}

// Start upserts the typing state and (re)arms the expiry timer. Only the
// first start of a burst notifies the receiver; refreshes are silent.
func (s *TypingService) Start(conversationID, fromID, toID string) {
	if conversationID == "" || fromID == "" || toID == "" {
		return
	}
	key := typingKey{conversationID, fromID}

	s.mu.Lock()
	prev, hadTimer := s.timers[key]
	if hadTimer {
		prev.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(s.ttl, func() {
		s.expire(key, toID, t)
	})
	s.timers[key] = t
	s.mu.Unlock()

	if !hadTimer {
		s.registry.Emit(toID, wire.EventTypingChanged, wire.TypingChanged{
			ConversationID: conversationID,
			Identity:       fromID,
			IsTyping:       true,
		})
	}
}

// Stop cancels the pending expiry and notifies the receiver immediately.
func (s *TypingService) Stop(conversationID, fromID, toID string) {
	if conversationID == "" || fromID == "" || toID == "" {
		return
	}
	key := typingKey{conversationID, fromID}

	s.mu.Lock()
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
	s.mu.Unlock()

	s.registry.Emit(toID, wire.EventTypingChanged, wire.TypingChanged{
		ConversationID: conversationID,
		Identity:       fromID,
		IsTyping:       false,
	})
}

// StopAll drops every typing state owned by userID. Called on disconnect;
// no notifications are sent because the presence change already announces
// the user is gone.
func (s *TypingService) StopAll(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.timers {
		if key.userID == userID {
			t.Stop()
			delete(s.timers, key)
		}
	}
}

// expire fires when a typing burst went silent for the full TTL. The timer
// identity check drops a stale callback that lost the race against a
// newer Start.
func (s *TypingService) expire(key typingKey, toID string, self *time.Timer) {
	s.mu.Lock()
	cur, ok := s.timers[key]
	if !ok || cur != self {
		s.mu.Unlock()
		return
	}
	delete(s.timers, key)
	s.mu.Unlock()

	s.registry.Emit(toID, wire.EventTypingChanged, wire.TypingChanged{
		ConversationID: key.conversationID,
		Identity:       key.userID,
		IsTyping:       false,
	})
}
