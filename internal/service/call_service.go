package service

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"chatsync/internal/domain"
	"chatsync/internal/wire"
)

// ReasonOffline is the failure reason signaled when a call invite targets
// an unreachable identity.
const ReasonOffline = "offline"

// CallService is the server-side signaling relay. It owns one CallSession
// per in-flight call and forwards opaque negotiation payloads between
// exactly two parties without inspecting them. Terminal states drop the
// session; there is no reconnect.
type CallService struct {
	registry Registry

	mu       sync.Mutex
	sessions map[string]*domain.CallSession
}

func NewCallService(registry Registry) *CallService {
	return &CallService{
		registry: registry,
		sessions: make(map[string]*domain.CallSession),
	}
}

// Invite starts a call. When the receiver is unreachable the caller gets
// call_failed{reason:"offline"} and no session is created; the returned
// session is nil.
func (s *CallService) Invite(callerID string, in wire.CallInvite) (*domain.CallSession, error) {
	if in.ReceiverID == "" || callerID == in.ReceiverID {
		return nil, domain.ErrInvalidInput
	}
	if !s.registry.Reachable(in.ReceiverID) {
		s.registry.Emit(callerID, wire.EventCallFailed, wire.CallFailed{
			CallID: in.CallID,
			Reason: ReasonOffline,
		})
		return nil, nil
	}

	callID := in.CallID
	if callID == "" {
		callID = domain.NewCallID(callerID, in.ReceiverID)
	}
	callType := in.CallType
	if callType == "" {
		callType = domain.CallVideo
	}

	sess := &domain.CallSession{
		CallID:     callID,
		CallerID:   callerID,
		ReceiverID: in.ReceiverID,
		CallType:   callType,
		State:      domain.CallRinging,
		CreatedAt:  time.Now(),
	}
	s.mu.Lock()
	// Client-supplied ids must not clobber a live session; the id format
	// is guessable, so an overwrite here would let anyone strand another
	// pair's call.
	if _, exists := s.sessions[callID]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: call %s already exists", domain.ErrConflict, callID)
	}
	s.sessions[callID] = sess
	s.mu.Unlock()

	s.registry.Emit(in.ReceiverID, wire.EventCallInvite, wire.CallInvite{
		CallID:     callID,
		CallerID:   callerID,
		CallType:   callType,
		CallerMeta: in.CallerMeta,
	})
	return sess, nil
}

// Accept moves the session to connecting and informs the caller, which
// then begins its own offer-creation flow. The acceptor does not produce
// the offer; the caller always originates the session description.
func (s *CallService) Accept(acceptorID string, in wire.CallAccept) error {
	s.mu.Lock()
	sess, ok := s.sessions[in.CallID]
	if ok && sess.ReceiverID == acceptorID {
		sess.State = domain.CallConnecting
	}
	s.mu.Unlock()
	if !ok {
		return domain.ErrNotFound
	}
	if sess.ReceiverID != acceptorID {
		return domain.ErrForbidden
	}

	s.registry.Emit(sess.CallerID, wire.EventCallAccepted, in)
	return nil
}

// Relay forwards an opaque offer, answer or ICE payload to the other
// participant of the call. Events for one callId reach the target in the
// order they arrived. A vanished target yields ErrUnreachable, which the
// gateway recovers from locally; the session itself ends through
// Disconnected.
func (s *CallService) Relay(fromID, eventType string, p wire.CallPayload) error {
	s.mu.Lock()
	sess, ok := s.sessions[p.CallID]
	var peer string
	var participant bool
	if ok {
		peer, participant = sess.Peer(fromID)
		if participant && eventType == wire.EventCallAnswer {
			sess.State = domain.CallActive
		}
	}
	s.mu.Unlock()

	if !ok {
		return domain.ErrNotFound
	}
	if !participant {
		return domain.ErrForbidden
	}

	p.SenderID = fromID
	if !s.registry.Emit(peer, eventType, p) {
		return fmt.Errorf("%w: %s relay target %s for call %s", domain.ErrUnreachable, eventType, peer, p.CallID)
	}
	return nil
}

// Reject tears the ringing session down and informs the caller.
func (s *CallService) Reject(fromID, callID string) error {
	_, peer, err := s.remove(fromID, callID)
	if err != nil {
		return err
	}
	s.registry.Emit(peer, wire.EventCallRejected, wire.CallRef{CallID: callID})
	return nil
}

// End terminates the call from either side. The initiator is always
// notified too, so its UI tears down even when the peer is already gone.
func (s *CallService) End(fromID, callID string) error {
	_, peer, err := s.remove(fromID, callID)
	if err == nil {
		s.registry.Emit(peer, wire.EventCallEnded, wire.CallRef{CallID: callID})
	}
	s.registry.Emit(fromID, wire.EventCallEnded, wire.CallRef{CallID: callID})
	if errors.Is(err, domain.ErrNotFound) {
		// Ending an unknown call still tears the local UI down.
		return nil
	}
	return err
}

// Disconnected invalidates every session involving identity so no further
// relay can target a destroyed handle. The surviving participant gets
// call_ended.
func (s *CallService) Disconnected(identity string) {
	s.mu.Lock()
	var ended []*domain.CallSession
	for id, sess := range s.sessions {
		if _, ok := sess.Peer(identity); ok {
			delete(s.sessions, id)
			ended = append(ended, sess)
		}
	}
	s.mu.Unlock()

	for _, sess := range ended {
		peer, _ := sess.Peer(identity)
		s.registry.Emit(peer, wire.EventCallEnded, wire.CallRef{CallID: sess.CallID})
	}
}

// Session returns the live session for callID, if any.
func (s *CallService) Session(callID string) (*domain.CallSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[callID]
	return sess, ok
}

func (s *CallService) remove(fromID, callID string) (*domain.CallSession, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[callID]
	if !ok {
		return nil, "", domain.ErrNotFound
	}
	peer, participant := sess.Peer(fromID)
	if !participant {
		return nil, "", domain.ErrForbidden
	}
	delete(s.sessions, callID)
	return sess, peer, nil
}
