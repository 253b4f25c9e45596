// Package rtc implements the client-side half of call signaling: an explicit
// call state machine that owns the peer connection lifecycle and the ICE
// candidate staging queue. Coupling to the transport is via the Signaler
// interface only.
package rtc

import "github.com/pion/webrtc/v4"

// Signaler sends signaling events to the coordinator over the client's
// event channel. Implementations route by the call's remote participant.
type Signaler interface {
	Send(eventType string, payload any) error
}

// Peer abstracts the WebRTC peer connection so the machine can be tested
// without real network negotiation. *PionPeer is the production implementation.
type Peer interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))
	Close() error
}

// PeerFactory builds a Peer for a new call. Media acquisition (adding local
// audio/video tracks) happens inside the factory, before negotiation starts.
type PeerFactory func(callType string) (Peer, error)
