package coretest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/roomvoice/internal/core"
)

var ErrNoRemoteDescription = errors.New("InvalidStateError: remote description is not set")

// PeerConnection records everything done to it. When AutoConnect is set it reports
// "connected" as soon as both descriptions are in place.
type PeerConnection struct {
	RemoteID string

	Local      *webrtc.SessionDescription
	Remote     *webrtc.SessionDescription
	Candidates []webrtc.ICECandidateInit
	Tracks     []webrtc.TrackLocal
	CloseCalls int

	AutoConnect bool
	// LocalCandidates are gathered right after SetLocalDescription.
	LocalCandidates []webrtc.ICECandidateInit
	OfferErr        error

	onICE   func(webrtc.ICECandidateInit)
	onState func(webrtc.PeerConnectionState)
	onTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
}

func (p *PeerConnection) CreateOffer() (webrtc.SessionDescription, error) {
	if p.OfferErr != nil {
		return webrtc.SessionDescription{}, p.OfferErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-for-" + p.RemoteID}, nil
}

func (p *PeerConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	if p.Remote == nil {
		return webrtc.SessionDescription{}, ErrNoRemoteDescription
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-for-" + p.RemoteID}, nil
}

func (p *PeerConnection) SetLocalDescription(sd webrtc.SessionDescription) error {
	p.Local = &sd
	for _, c := range p.LocalCandidates {
		if p.onICE != nil {
			p.onICE(c)
		}
	}
	p.maybeConnect()
	return nil
}

func (p *PeerConnection) SetRemoteDescription(sd webrtc.SessionDescription) error {
	if sd.SDP == "" {
		return fmt.Errorf("empty sdp")
	}
	p.Remote = &sd
	p.maybeConnect()
	return nil
}

func (p *PeerConnection) AddICECandidate(c webrtc.ICECandidateInit) error {
	if p.Remote == nil {
		return ErrNoRemoteDescription
	}
	p.Candidates = append(p.Candidates, c)
	return nil
}

func (p *PeerConnection) AddTrack(t webrtc.TrackLocal) error {
	p.Tracks = append(p.Tracks, t)
	return nil
}

func (p *PeerConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) { p.onICE = fn }

func (p *PeerConnection) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	p.onTrack = fn
}

func (p *PeerConnection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.onState = fn
}

func (p *PeerConnection) Close() error {
	p.CloseCalls++
	return nil
}

// SetState simulates a connection-state change reported by the primitive.
func (p *PeerConnection) SetState(s webrtc.PeerConnectionState) {
	if p.onState != nil {
		p.onState(s)
	}
}

// GatherCandidate simulates a locally gathered ICE candidate.
func (p *PeerConnection) GatherCandidate(c webrtc.ICECandidateInit) {
	if p.onICE != nil {
		p.onICE(c)
	}
}

// FireTrack simulates a remote track arriving.
func (p *PeerConnection) FireTrack() {
	if p.onTrack != nil {
		p.onTrack(nil, nil)
	}
}

func (p *PeerConnection) maybeConnect() {
	if p.AutoConnect && p.Local != nil && p.Remote != nil {
		p.SetState(webrtc.PeerConnectionStateConnected)
	}
}

// PeerFactory builds PeerConnections and remembers them by remote id.
type PeerFactory struct {
	mu          sync.Mutex
	AutoConnect bool
	// LocalCandidates are handed to every connection created afterwards.
	LocalCandidates []webrtc.ICECandidateInit
	Err             error
	Configs         []webrtc.Configuration
	Created         map[string][]*PeerConnection
}

func NewPeerFactory() *PeerFactory {
	return &PeerFactory{Created: make(map[string][]*PeerConnection)}
}

func (f *PeerFactory) NewPeerConnection(cfg webrtc.Configuration, remoteID string) (core.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.Configs = append(f.Configs, cfg)
	pc := &PeerConnection{RemoteID: remoteID, AutoConnect: f.AutoConnect, LocalCandidates: f.LocalCandidates}
	f.Created[remoteID] = append(f.Created[remoteID], pc)
	return pc, nil
}

// Last returns the most recent connection created for remoteID.
func (f *PeerFactory) Last(remoteID string) *PeerConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	pcs := f.Created[remoteID]
	if len(pcs) == 0 {
		return nil
	}
	return pcs[len(pcs)-1]
}
