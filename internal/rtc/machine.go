package rtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"chatsync/internal/domain"
	"chatsync/internal/wire"
)

// State is the machine's position in the call lifecycle.
type State int

const (
	StateIdle State = iota
	StateCalling
	StateRinging
	StateConnecting
	StateConnected
	StateRejected
	StateFailed
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCalling:
		return "calling"
	case StateRinging:
		return "ringing"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRejected:
		return "rejected"
	case StateFailed:
		return "failed"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrBadTransition reports a signal that is not valid in the current state,
// e.g. an offer arriving while idle.
var ErrBadTransition = errors.New("invalid call state transition")

var transitions = map[State][]State{
	StateIdle:       {StateCalling, StateRinging},
	StateCalling:    {StateConnecting, StateRejected, StateFailed, StateEnded},
	StateRinging:    {StateConnecting, StateRejected, StateFailed, StateEnded},
	StateConnecting: {StateConnected, StateFailed, StateEnded},
	StateConnected:  {StateFailed, StateEnded},
	StateFailed:     {StateEnded},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// DefaultFailedLinger is how long the failed state is held before the
// machine finishes the call, giving the UI time to show the failure.
const DefaultFailedLinger = 2 * time.Second

// Machine drives one call at a time through
// idle -> calling/ringing -> connecting -> connected -> ended, with failed
// and rejected exits. The caller side always originates the SDP offer; the
// acceptor only answers. ICE candidates arriving before the remote
// description is applied are staged in arrival order and replayed once,
// immediately after it is set.
type Machine struct {
	selfID  string
	sig     Signaler
	newPeer PeerFactory
	linger  time.Duration

	mu        sync.Mutex
	state     State
	callID    string
	peerID    string
	callType  domain.CallType
	caller    bool
	peer      Peer
	remoteSet bool
	iceQueue  []webrtc.ICECandidateInit
	lingerT   *time.Timer
}

// Option tweaks machine construction.
type Option func(*Machine)

// WithFailedLinger overrides the failed-to-ended delay.
func WithFailedLinger(d time.Duration) Option {
	return func(m *Machine) { m.linger = d }
}

func NewMachine(selfID string, sig Signaler, newPeer PeerFactory, opts ...Option) *Machine {
	m := &Machine{
		selfID:  selfID,
		sig:     sig,
		newPeer: newPeer,
		linger:  DefaultFailedLinger,
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CallID returns the active call's id, empty when idle.
func (m *Machine) CallID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callID
}

// Dial starts an outbound call and sends the invite. The machine moves to
// calling and waits for call_accepted before any SDP work happens.
func (m *Machine) Dial(receiverID string, callType domain.CallType, meta wire.CallerMeta) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.to(StateCalling); err != nil {
		return "", err
	}
	m.callID = domain.NewCallID(m.selfID, receiverID)
	m.peerID = receiverID
	m.callType = callType
	m.caller = true

	err := m.sig.Send(wire.EventCallInvite, wire.CallInvite{
		CallID:     m.callID,
		CallerID:   m.selfID,
		ReceiverID: receiverID,
		CallType:   callType,
		CallerMeta: meta,
	})
	if err != nil {
		m.reset()
		return "", fmt.Errorf("send invite: %w", err)
	}
	return m.callID, nil
}

// HandleInvite registers an inbound call; the machine rings until the user
// accepts or rejects.
func (m *Machine) HandleInvite(inv wire.CallInvite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.to(StateRinging); err != nil {
		return err
	}
	m.callID = inv.CallID
	m.peerID = inv.CallerID
	m.callType = inv.CallType
	m.caller = false
	return nil
}

// Accept answers a ringing call. The acceptor prepares its peer connection
// but does not offer; it tells the caller to start the offer flow and then
// waits for call_offer.
func (m *Machine) Accept() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateRinging {
		return fmt.Errorf("%w: accept in %s", ErrBadTransition, m.state)
	}
	if err := m.preparePeer(); err != nil {
		return err
	}
	if err := m.to(StateConnecting); err != nil {
		return err
	}
	if err := m.sig.Send(wire.EventCallAccept, wire.CallAccept{CallID: m.callID}); err != nil {
		return fmt.Errorf("send accept: %w", err)
	}
	return nil
}

// Reject declines a ringing call and clears the machine.
func (m *Machine) Reject() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.to(StateRejected); err != nil {
		return err
	}
	err := m.sig.Send(wire.EventCallReject, wire.CallRef{CallID: m.callID})
	m.reset()
	if err != nil {
		return fmt.Errorf("send reject: %w", err)
	}
	return nil
}

// HandleAccepted is the caller's cue to originate the offer.
func (m *Machine) HandleAccepted(ref wire.CallAccept) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.caller || ref.CallID != m.callID {
		return fmt.Errorf("%w: accepted for %q in %s", ErrBadTransition, ref.CallID, m.state)
	}
	if err := m.preparePeer(); err != nil {
		return err
	}
	if err := m.to(StateConnecting); err != nil {
		return err
	}

	offer, err := m.peer.CreateOffer()
	if err != nil {
		return m.failLocked("offer: " + err.Error())
	}
	if err := m.peer.SetLocalDescription(offer); err != nil {
		return m.failLocked("local description: " + err.Error())
	}
	body, err := json.Marshal(offer)
	if err != nil {
		return m.failLocked("marshal offer: " + err.Error())
	}
	if err := m.sig.Send(wire.EventCallOffer, wire.CallPayload{CallID: m.callID, SenderID: m.selfID, Body: body}); err != nil {
		return m.failLocked("send offer: " + err.Error())
	}
	return nil
}

// HandleOffer applies the caller's offer, drains any staged candidates and
// replies with an answer.
func (m *Machine) HandleOffer(p wire.CallPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnecting || m.caller || p.CallID != m.callID {
		return fmt.Errorf("%w: offer for %q in %s", ErrBadTransition, p.CallID, m.state)
	}

	var offer webrtc.SessionDescription
	if err := json.Unmarshal(p.Body, &offer); err != nil {
		return m.failLocked("decode offer: " + err.Error())
	}
	if err := m.applyRemoteLocked(offer); err != nil {
		return m.failLocked("remote description: " + err.Error())
	}

	answer, err := m.peer.CreateAnswer()
	if err != nil {
		return m.failLocked("answer: " + err.Error())
	}
	if err := m.peer.SetLocalDescription(answer); err != nil {
		return m.failLocked("local description: " + err.Error())
	}
	body, err := json.Marshal(answer)
	if err != nil {
		return m.failLocked("marshal answer: " + err.Error())
	}
	if err := m.sig.Send(wire.EventCallAnswer, wire.CallPayload{CallID: m.callID, SenderID: m.selfID, Body: body}); err != nil {
		return m.failLocked("send answer: " + err.Error())
	}
	return nil
}

// HandleAnswer applies the acceptor's answer on the caller side and drains
// any staged candidates.
func (m *Machine) HandleAnswer(p wire.CallPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnecting || !m.caller || p.CallID != m.callID {
		return fmt.Errorf("%w: answer for %q in %s", ErrBadTransition, p.CallID, m.state)
	}

	var answer webrtc.SessionDescription
	if err := json.Unmarshal(p.Body, &answer); err != nil {
		return m.failLocked("decode answer: " + err.Error())
	}
	if err := m.applyRemoteLocked(answer); err != nil {
		return m.failLocked("remote description: " + err.Error())
	}
	return nil
}

// HandleCandidate applies a remote ICE candidate, staging it if the remote
// description is not in place yet.
func (m *Machine) HandleCandidate(p wire.CallPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.CallID != m.callID || m.peer == nil {
		return fmt.Errorf("%w: candidate for %q in %s", ErrBadTransition, p.CallID, m.state)
	}

	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(p.Body, &cand); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	if !m.remoteSet {
		m.iceQueue = append(m.iceQueue, cand)
		return nil
	}
	if err := m.peer.AddICECandidate(cand); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

// Hangup ends the active call from the local side.
func (m *Machine) Hangup() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateIdle {
		return nil
	}
	if err := m.to(StateEnded); err != nil {
		return err
	}
	err := m.sig.Send(wire.EventCallEnd, wire.CallRef{CallID: m.callID})
	m.reset()
	if err != nil {
		return fmt.Errorf("send end: %w", err)
	}
	return nil
}

// HandleEnded tears the call down after the peer (or the coordinator on the
// peer's disconnect) ended it.
func (m *Machine) HandleEnded(ref wire.CallRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateIdle || ref.CallID != m.callID {
		return
	}
	if err := m.to(StateEnded); err == nil {
		m.reset()
	}
}

// HandleRejected clears a rejected outbound call.
func (m *Machine) HandleRejected(ref wire.CallRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ref.CallID != m.callID {
		return
	}
	if err := m.to(StateRejected); err == nil {
		m.reset()
	}
}

// HandleFailed reacts to a coordinator-signaled failure, e.g. an offline
// receiver on invite.
func (m *Machine) HandleFailed(f wire.CallFailed) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_ = m.failLocked(f.Reason)
}

// ConnectionStateChanged feeds peer connection state into the machine.
// Wire it via Peer.OnConnectionStateChange.
func (m *Machine) ConnectionStateChanged(s webrtc.PeerConnectionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch s {
	case webrtc.PeerConnectionStateConnected:
		if m.state == StateConnecting {
			_ = m.to(StateConnected)
		}
	case webrtc.PeerConnectionStateFailed:
		_ = m.failLocked("connection failed")
	}
}

// preparePeer builds the peer connection and wires its callbacks. Caller
// holds the lock.
func (m *Machine) preparePeer() error {
	peer, err := m.newPeer(string(m.callType))
	if err != nil {
		return fmt.Errorf("prepare peer: %w", err)
	}
	m.peer = peer
	m.remoteSet = false
	m.iceQueue = nil

	callID, selfID := m.callID, m.selfID
	peer.OnICECandidate(func(c webrtc.ICECandidateInit) {
		body, err := json.Marshal(c)
		if err != nil {
			log.Printf("rtc: marshal local candidate: %v", err)
			return
		}
		if err := m.sig.Send(wire.EventCallIce, wire.CallPayload{CallID: callID, SenderID: selfID, Body: body}); err != nil {
			log.Printf("rtc: send candidate: %v", err)
		}
	})
	peer.OnConnectionStateChange(m.ConnectionStateChanged)
	return nil
}

// applyRemoteLocked sets the remote description then replays staged
// candidates in arrival order. The queue is drained exactly once and
// discarded. Caller holds the lock.
func (m *Machine) applyRemoteLocked(sdp webrtc.SessionDescription) error {
	if err := m.peer.SetRemoteDescription(sdp); err != nil {
		return err
	}
	m.remoteSet = true
	for _, cand := range m.iceQueue {
		if err := m.peer.AddICECandidate(cand); err != nil {
			log.Printf("rtc: replay candidate: %v", err)
		}
	}
	m.iceQueue = nil
	return nil
}

// failLocked moves to failed and arms the linger timer that finishes the
// call shortly after. Caller holds the lock.
func (m *Machine) failLocked(reason string) error {
	if !canTransition(m.state, StateFailed) {
		return fmt.Errorf("%w: %s -> failed", ErrBadTransition, m.state)
	}
	m.state = StateFailed
	log.Printf("rtc: call %s failed: %s", m.callID, reason)
	m.lingerT = time.AfterFunc(m.linger, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.state != StateFailed {
			return
		}
		m.state = StateEnded
		m.reset()
	})
	return fmt.Errorf("call failed: %s", reason)
}

func (m *Machine) to(next State) error {
	if !canTransition(m.state, next) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, m.state, next)
	}
	m.state = next
	return nil
}

// reset returns the machine to idle so the next call can start. Caller
// holds the lock.
func (m *Machine) reset() {
	if m.lingerT != nil {
		m.lingerT.Stop()
		m.lingerT = nil
	}
	if m.peer != nil {
		if err := m.peer.Close(); err != nil {
			log.Printf("rtc: close peer: %v", err)
		}
		m.peer = nil
	}
	m.state = StateIdle
	m.callID = ""
	m.peerID = ""
	m.caller = false
	m.remoteSet = false
	m.iceQueue = nil
}
