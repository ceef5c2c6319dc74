// Package peers owns every peer link of the voice session. Nothing else touches a
// link's primitive.
package peers

import (
	"sort"

	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomvoice/internal/core"
	"github.com/dkeye/roomvoice/internal/domain"
)

// Events are delivered on the event loop.
type Events interface {
	OnLocalCandidate(remoteID string, c webrtc.ICECandidateInit)
	OnLinkState(remoteID string, s domain.LinkState)
	OnRemoteTrack(remoteID string, track *webrtc.TrackRemote)
}

// STUNConfig is the fixed connection configuration: one STUN server, no TURN.
func STUNConfig(url string) webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{url}}},
	}
}

// Manager must only be used from the event loop.
type Manager struct {
	exec    core.Executor
	factory core.PeerConnectionFactory
	cfg     webrtc.Configuration
	events  Events

	links map[string]*Link
}

func NewManager(exec core.Executor, factory core.PeerConnectionFactory, cfg webrtc.Configuration, events Events) *Manager {
	return &Manager{
		exec:    exec,
		factory: factory,
		cfg:     cfg,
		events:  events,
		links:   make(map[string]*Link),
	}
}

func (m *Manager) Create(remoteID string) error {
	if _, ok := m.links[remoteID]; ok {
		return domain.ErrDuplicateLink
	}
	pc, err := m.factory.NewPeerConnection(m.cfg, remoteID)
	if err != nil {
		return errors.Wrapf(err, "new peer connection for %s", remoteID)
	}
	l := &Link{RemoteID: remoteID, State: domain.LinkNew, pc: pc}
	m.links[remoteID] = l
	m.wire(l)
	log.Debug().Str("module", "peers").Str("remote", remoteID).Msg("link created")
	return nil
}

// wire re-posts primitive callbacks onto the loop. A callback from a link that has
// since been closed or replaced is dropped there.
func (m *Manager) wire(l *Link) {
	id := l.RemoteID
	l.pc.OnICECandidate(func(c webrtc.ICECandidateInit) {
		m.exec.Post(func() {
			if m.links[id] != l {
				return
			}
			if !l.hasLocal {
				log.Warn().Str("module", "peers").Str("remote", id).Msg("local candidate before local description dropped")
				return
			}
			m.events.OnLocalCandidate(id, c)
		})
	})
	l.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		st, ok := linkState(s)
		if !ok {
			return
		}
		m.exec.Post(func() {
			if m.links[id] != l {
				return
			}
			l.State = st
			log.Info().Str("module", "peers").Str("remote", id).Str("state", string(st)).Msg("link state")
			m.events.OnLinkState(id, st)
		})
	})
	l.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		m.exec.Post(func() {
			if m.links[id] != l {
				return
			}
			m.events.OnRemoteTrack(id, track)
		})
	})
}

func (m *Manager) get(remoteID string) (*Link, error) {
	l, ok := m.links[remoteID]
	if !ok {
		return nil, domain.ErrUnknownPeer
	}
	return l, nil
}

func (m *Manager) SetLocalOffer(remoteID string, sd webrtc.SessionDescription) error {
	l, err := m.get(remoteID)
	if err != nil {
		return err
	}
	if l.State != domain.LinkNew {
		return domain.ErrInvalidState
	}
	if err := l.pc.SetLocalDescription(sd); err != nil {
		return errors.Wrap(err, "set local offer")
	}
	return l.localTransition(domain.LinkNew, domain.LinkOfferSent)
}

func (m *Manager) SetLocalAnswer(remoteID string, sd webrtc.SessionDescription) error {
	l, err := m.get(remoteID)
	if err != nil {
		return err
	}
	if l.State != domain.LinkOfferReceived {
		return domain.ErrInvalidState
	}
	if err := l.pc.SetLocalDescription(sd); err != nil {
		return errors.Wrap(err, "set local answer")
	}
	return l.localTransition(domain.LinkOfferReceived, domain.LinkAnswerSent)
}

// CreateOffer generates an offer and sets it as the local description.
func (m *Manager) CreateOffer(remoteID string) (webrtc.SessionDescription, error) {
	l, err := m.get(remoteID)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if l.State != domain.LinkNew {
		return webrtc.SessionDescription{}, domain.ErrInvalidState
	}
	offer, err := l.pc.CreateOffer()
	if err != nil {
		return webrtc.SessionDescription{}, errors.Wrap(err, "create offer")
	}
	return offer, m.SetLocalOffer(remoteID, offer)
}

// CreateAnswer generates an answer and sets it as the local description.
func (m *Manager) CreateAnswer(remoteID string) (webrtc.SessionDescription, error) {
	l, err := m.get(remoteID)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if l.State != domain.LinkOfferReceived {
		return webrtc.SessionDescription{}, domain.ErrInvalidState
	}
	answer, err := l.pc.CreateAnswer()
	if err != nil {
		return webrtc.SessionDescription{}, errors.Wrap(err, "create answer")
	}
	return answer, m.SetLocalAnswer(remoteID, answer)
}

// ApplyRemoteDescription is accepted once per link. Buffered remote candidates are
// flushed right after, in the order they arrived.
func (m *Manager) ApplyRemoteDescription(remoteID string, sd webrtc.SessionDescription) error {
	l, err := m.get(remoteID)
	if err != nil {
		return err
	}
	next, err := l.remoteTransition(sd.Type)
	if err != nil {
		return err
	}
	if err := l.pc.SetRemoteDescription(sd); err != nil {
		return errors.Wrap(err, "set remote description")
	}
	l.State = next
	l.hasRemote = true

	pending := l.pending
	l.pending = nil
	for _, c := range pending {
		if err := l.pc.AddICECandidate(c); err != nil {
			log.Warn().Err(err).Str("module", "peers").Str("remote", remoteID).Msg("buffered candidate rejected")
		}
	}
	if len(pending) > 0 {
		log.Debug().Str("module", "peers").Str("remote", remoteID).Int("count", len(pending)).Msg("flushed candidates")
	}
	return nil
}

// ApplyRemoteCandidate buffers until the link has a remote description.
func (m *Manager) ApplyRemoteCandidate(remoteID string, c webrtc.ICECandidateInit) error {
	l, err := m.get(remoteID)
	if err != nil {
		return err
	}
	if !l.hasRemote {
		l.pending = append(l.pending, c)
		return nil
	}
	return errors.Wrap(l.pc.AddICECandidate(c), "add candidate")
}

func (m *Manager) AddTracks(remoteID string, stream core.MediaStream) error {
	l, err := m.get(remoteID)
	if err != nil {
		return err
	}
	for _, t := range stream.Tracks() {
		if err := l.pc.AddTrack(t); err != nil {
			return errors.Wrapf(err, "add track %s", t.ID())
		}
	}
	return nil
}

// Close releases the link's primitive. Unknown ids are a no-op.
func (m *Manager) Close(remoteID string) {
	l, ok := m.links[remoteID]
	if !ok {
		return
	}
	delete(m.links, remoteID)
	l.State = domain.LinkClosed
	l.pending = nil
	if err := l.pc.Close(); err != nil {
		log.Warn().Err(err).Str("module", "peers").Str("remote", remoteID).Msg("close link")
	}
	log.Debug().Str("module", "peers").Str("remote", remoteID).Msg("link closed")
}

func (m *Manager) CloseAll() {
	for _, id := range m.RemoteIDs() {
		m.Close(id)
	}
}

func (m *Manager) Count() int { return len(m.links) }

func (m *Manager) Has(remoteID string) bool {
	_, ok := m.links[remoteID]
	return ok
}

func (m *Manager) State(remoteID string) (domain.LinkState, bool) {
	l, ok := m.links[remoteID]
	if !ok {
		return domain.LinkClosed, false
	}
	return l.State, true
}

// Pending reports how many remote candidates are buffered for remoteID.
func (m *Manager) Pending(remoteID string) int {
	if l, ok := m.links[remoteID]; ok {
		return len(l.pending)
	}
	return 0
}

func (m *Manager) RemoteIDs() []string {
	ids := make([]string, 0, len(m.links))
	for id := range m.links {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
