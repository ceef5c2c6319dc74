package coretest

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/roomvoice/internal/core"
)

type Sent struct {
	Kind      string
	SDP       *webrtc.SessionDescription
	Candidate *webrtc.ICECandidateInit
	RemoteID  string
}

type RelayDialer struct {
	mu      sync.Mutex
	Err     error
	Configs []core.RelayConfig
	// Before runs inside Dial, before it returns.
	Before   func(h core.RelayHandler)
	Channels []*Relay
}

func (d *RelayDialer) Dial(_ context.Context, cfg core.RelayConfig, h core.RelayHandler) (core.RelayChannel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Configs = append(d.Configs, cfg)
	if d.Err != nil {
		return nil, d.Err
	}
	r := &Relay{Handler: h}
	d.Channels = append(d.Channels, r)
	if d.Before != nil {
		d.Before(h)
	}
	return r, nil
}

func (d *RelayDialer) Last() *Relay {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Channels) == 0 {
		return nil
	}
	return d.Channels[len(d.Channels)-1]
}

// Relay records outbound signaling; tests push inbound events through Handler.
type Relay struct {
	Handler    core.RelayHandler
	Sent       []Sent
	CloseCalls int
	Err        error
}

func (r *Relay) SendSdpOffer(offer webrtc.SessionDescription, remoteID string) error {
	r.Sent = append(r.Sent, Sent{Kind: "offer", SDP: &offer, RemoteID: remoteID})
	return r.Err
}

func (r *Relay) SendSdpAnswer(answer webrtc.SessionDescription, remoteID string) error {
	r.Sent = append(r.Sent, Sent{Kind: "answer", SDP: &answer, RemoteID: remoteID})
	return r.Err
}

func (r *Relay) SendIceCandidate(c webrtc.ICECandidateInit, remoteID string) error {
	r.Sent = append(r.Sent, Sent{Kind: "candidate", Candidate: &c, RemoteID: remoteID})
	return r.Err
}

func (r *Relay) Close() { r.CloseCalls++ }

// SentOf filters recorded sends by kind.
func (r *Relay) SentOf(kind string) []Sent {
	var out []Sent
	for _, s := range r.Sent {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}
