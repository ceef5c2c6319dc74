package core

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/roomvoice/internal/domain"
)

// InitiatorPeerID addresses the initiator from the responder side; the relay does not
// name the initiator on messages it delivers to responders.
const InitiatorPeerID = "initiator"

type RelayCredentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// RelayConfig is what the signaling relay needs to admit one client into a voice room.
type RelayConfig struct {
	ChannelARN  string
	Endpoint    string
	Role        domain.Role
	ClientID    string
	Region      string
	Credentials RelayCredentials
}

// RelayHandler receives relay events. Methods may be called on any goroutine.
type RelayHandler interface {
	OnSdpOffer(offer webrtc.SessionDescription, remoteID string)
	OnSdpAnswer(answer webrtc.SessionDescription, remoteID string)
	OnIceCandidate(c webrtc.ICECandidateInit, remoteID string)
	// OnClose is called once when the channel closes without Close having been called.
	OnClose(err error)
}

type RelayChannel interface {
	SendSdpOffer(offer webrtc.SessionDescription, remoteID string) error
	SendSdpAnswer(answer webrtc.SessionDescription, remoteID string) error
	SendIceCandidate(c webrtc.ICECandidateInit, remoteID string) error
	Close()
}

// RelayDialer opens the relay channel; Dial returns once the channel is open.
type RelayDialer interface {
	Dial(ctx context.Context, cfg RelayConfig, h RelayHandler) (RelayChannel, error)
}
