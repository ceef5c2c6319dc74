package peers

import (
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/roomvoice/internal/core"
	"github.com/dkeye/roomvoice/internal/domain"
)

// Link is the negotiation state toward one remote participant.
type Link struct {
	RemoteID string
	State    domain.LinkState

	pc        core.PeerConnection
	hasLocal  bool
	hasRemote bool
	// Remote candidates that arrived before the remote description, in receipt order.
	pending []webrtc.ICECandidateInit
}

func (l *Link) localTransition(from, to domain.LinkState) error {
	if l.State != from {
		return domain.ErrInvalidState
	}
	l.State = to
	l.hasLocal = true
	return nil
}

func (l *Link) remoteTransition(t webrtc.SDPType) (domain.LinkState, error) {
	if l.hasRemote {
		return "", domain.ErrInvalidState
	}
	switch {
	case t == webrtc.SDPTypeOffer && l.State == domain.LinkNew:
		return domain.LinkOfferReceived, nil
	case t == webrtc.SDPTypeAnswer && l.State == domain.LinkOfferSent:
		return domain.LinkAnswerReceived, nil
	}
	return "", domain.ErrInvalidState
}

// linkState maps primitive connection states onto the ones the orchestrator acts on.
func linkState(s webrtc.PeerConnectionState) (domain.LinkState, bool) {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		return domain.LinkConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return domain.LinkDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return domain.LinkFailed, true
	}
	return "", false
}
