package voice

import (
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomvoice/internal/core"
	"github.com/dkeye/roomvoice/internal/domain"
)

// relayEvents forwards relay callbacks onto the loop for one attempt.
type relayEvents struct {
	o *Orchestrator
	a *attempt
}

// deliver runs fn on the loop. Events that beat the dial continuation wait for it.
func (h *relayEvents) deliver(fn func()) {
	h.o.deps.Exec.Post(func() {
		if h.o.cur != h.a {
			return
		}
		if h.a.links == nil {
			h.a.early = append(h.a.early, fn)
			return
		}
		fn()
	})
}

func (h *relayEvents) OnSdpOffer(offer webrtc.SessionDescription, remoteID string) {
	h.deliver(func() { _ = h.o.OnSdpOffer(offer, remoteID) })
}

func (h *relayEvents) OnSdpAnswer(answer webrtc.SessionDescription, remoteID string) {
	h.deliver(func() { _ = h.o.OnSdpAnswer(answer, remoteID) })
}

func (h *relayEvents) OnIceCandidate(c webrtc.ICECandidateInit, remoteID string) {
	h.deliver(func() { _ = h.o.OnIceCandidate(c, remoteID) })
}

func (h *relayEvents) OnClose(err error) {
	h.deliver(func() { h.o.onRelayClosed(h.a, err) })
}

// linkEvents receives peer link events for one attempt.
type linkEvents struct {
	o *Orchestrator
	a *attempt
}

func (e *linkEvents) OnLocalCandidate(remoteID string, c webrtc.ICECandidateInit) {
	if e.o.cur != e.a || e.a.relay == nil {
		return
	}
	if err := e.a.relay.SendIceCandidate(c, remoteID); err != nil {
		log.Warn().Err(err).Str("module", "voice").Str("remote", remoteID).Msg("send candidate")
	}
}

func (e *linkEvents) OnLinkState(remoteID string, s domain.LinkState) {
	if e.o.cur != e.a {
		return
	}
	e.o.onLinkState(e.a, remoteID, s)
}

func (e *linkEvents) OnRemoteTrack(remoteID string, track *webrtc.TrackRemote) {
	if e.o.cur != e.a {
		return
	}
	if e.o.deps.Sink != nil {
		e.o.deps.Sink.Attach(remoteID, track)
	}
	log.Info().Str("module", "voice").Str("remote", remoteID).Msg("remote audio")
	e.o.publish()
}

// negotiating reports whether the relay is open and links can be negotiated.
func (o *Orchestrator) negotiating() bool {
	if o.cur == nil || o.cur.links == nil {
		return false
	}
	return o.session.Status == domain.VoiceSignalingOpen || o.session.Status == domain.VoiceConnected
}

// OnSdpOffer answers a responder. A repeated offer from the same remote replaces its link.
func (o *Orchestrator) OnSdpOffer(offer webrtc.SessionDescription, remoteID string) error {
	if !o.negotiating() {
		log.Warn().Str("module", "voice").Str("remote", remoteID).Msg("offer outside negotiation dropped")
		return domain.ErrInvalidState
	}
	if o.session.Role != domain.RoleInitiator {
		log.Warn().Str("module", "voice").Str("remote", remoteID).Msg("offer received as responder dropped")
		return domain.ErrInvalidState
	}
	a := o.cur
	replaced := a.links.Has(remoteID)
	if replaced {
		log.Info().Str("module", "voice").Str("remote", remoteID).Msg("re-offer, replacing link")
		o.detach(remoteID)
		a.links.Close(remoteID)
	}
	if a.links.Count() >= o.cfg.MaxPeers {
		log.Warn().Str("module", "voice").Str("remote", remoteID).Int("max", o.cfg.MaxPeers).Msg("offer over peer limit dropped")
		return domain.ErrTooManyPeers
	}
	if err := o.answer(a, offer, remoteID); err != nil {
		log.Error().Err(err).Str("module", "voice").Str("remote", remoteID).Msg("answer failed")
		a.links.Close(remoteID)
		o.deps.Metrics.SetLinks(a.links.Count())
		if a.links.Count() == 0 && (replaced || a.connected) {
			o.fail(errors.Wrapf(domain.ErrConnectionFailed, "answer %s", remoteID), "voice connection failed")
			return err
		}
		o.deps.Obs.OnNotice(core.Notice{Level: core.NoticeWarn, Text: "could not answer " + remoteID, Err: err})
		o.publish()
		return err
	}
	o.publish()
	return nil
}

func (o *Orchestrator) answer(a *attempt, offer webrtc.SessionDescription, remoteID string) error {
	if err := a.links.Create(remoteID); err != nil {
		return err
	}
	o.deps.Metrics.SetLinks(a.links.Count())
	if err := a.links.ApplyRemoteDescription(remoteID, offer); err != nil {
		return err
	}
	if err := a.links.AddTracks(remoteID, a.stream); err != nil {
		return err
	}
	answer, err := a.links.CreateAnswer(remoteID)
	if err != nil {
		return err
	}
	if a.relay == nil {
		return domain.ErrSignalingFailure
	}
	return errors.Wrap(a.relay.SendSdpAnswer(answer, remoteID), "send answer")
}

func (o *Orchestrator) OnSdpAnswer(answer webrtc.SessionDescription, remoteID string) error {
	if !o.negotiating() {
		log.Warn().Str("module", "voice").Str("remote", remoteID).Msg("answer outside negotiation dropped")
		return domain.ErrInvalidState
	}
	if err := o.cur.links.ApplyRemoteDescription(remoteID, answer); err != nil {
		log.Warn().Err(err).Str("module", "voice").Str("remote", remoteID).Msg("answer dropped")
		return err
	}
	return nil
}

func (o *Orchestrator) OnIceCandidate(c webrtc.ICECandidateInit, remoteID string) error {
	if !o.negotiating() {
		return domain.ErrInvalidState
	}
	if err := o.cur.links.ApplyRemoteCandidate(remoteID, c); err != nil {
		log.Debug().Err(err).Str("module", "voice").Str("remote", remoteID).Msg("candidate dropped")
		return err
	}
	return nil
}

func (o *Orchestrator) onLinkState(a *attempt, remoteID string, s domain.LinkState) {
	switch s {
	case domain.LinkConnected:
		first := !a.connected
		a.connected = true
		if o.session.Status == domain.VoiceSignalingOpen {
			o.session.Status = domain.VoiceConnected
			o.deps.Obs.OnNotice(core.Notice{Level: core.NoticeInfo, Text: "voice connected"})
		}
		if first {
			o.deps.Metrics.ObserveSetup(time.Since(a.started).Seconds())
		}
	case domain.LinkDisconnected:
		o.deps.Obs.OnNotice(core.Notice{Level: core.NoticeWarn, Text: "voice connection to " + remoteID + " interrupted"})
	case domain.LinkFailed:
		if a.links.Count() <= 1 {
			o.fail(errors.Wrapf(domain.ErrConnectionFailed, "link %s", remoteID), "voice connection failed")
			return
		}
		log.Warn().Str("module", "voice").Str("remote", remoteID).Msg("link failed, dropping it")
		o.detach(remoteID)
		a.links.Close(remoteID)
		o.deps.Metrics.SetLinks(a.links.Count())
		o.deps.Obs.OnNotice(core.Notice{Level: core.NoticeWarn, Text: "lost voice connection to " + remoteID})
	}
	o.publish()
}

// onRelayClosed handles the relay going away on its own. Before any link connected
// there is nothing left to negotiate with.
func (o *Orchestrator) onRelayClosed(a *attempt, err error) {
	if o.cur != a || a.relay == nil {
		return
	}
	a.relay = nil
	if !a.connected {
		o.fail(errors.Wrap(domain.ErrSignalingFailure, "relay closed"), "voice signaling closed")
		return
	}
	log.Warn().Err(err).Str("module", "voice").Msg("relay closed after connect")
	o.deps.Obs.OnNotice(core.Notice{Level: core.NoticeWarn, Text: "voice signaling closed, new participants cannot join"})
}
