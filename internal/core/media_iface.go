package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// PeerConnection is the negotiation primitive behind one peer link.
// Callbacks may fire on any goroutine.
type PeerConnection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// AddTrack attaches a local track to the connection.
	AddTrack(webrtc.TrackLocal) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	// Close should stop all underlying media resources.
	Close() error
}

type PeerConnectionFactory interface {
	NewPeerConnection(cfg webrtc.Configuration, remoteID string) (PeerConnection, error)
}

// MediaConstraints mirror the capture constraints a browser would receive.
type MediaConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// MediaDevice acquires the local audio stream. A refusal is reported as
// domain.ErrMediaAccessDenied.
type MediaDevice interface {
	Acquire(ctx context.Context, c MediaConstraints) (MediaStream, error)
}

type MediaStream interface {
	Tracks() []webrtc.TrackLocal
	// SetEnabled mutes or unmutes every track in the stream.
	SetEnabled(bool)
	Close()
}

// AudioSink consumes remote audio tracks.
type AudioSink interface {
	Attach(remoteID string, track *webrtc.TrackRemote)
	Detach(remoteID string)
}
