package voice

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomvoice/internal/app/peers"
	"github.com/dkeye/roomvoice/internal/core"
	"github.com/dkeye/roomvoice/internal/domain"
	"github.com/dkeye/roomvoice/internal/protocol"
)

// RegionOf returns the region named in a channel ARN, or fallback.
func RegionOf(channelARN, fallback string) string {
	a, err := arn.Parse(channelARN)
	if err != nil || a.Region == "" {
		return fallback
	}
	return a.Region
}

// STUNURL is the relay's regional STUN server.
func STUNURL(region string) string {
	return fmt.Sprintf("stun:stun.kinesisvideo.%s.amazonaws.com:443", region)
}

// OnCredentials starts the pivot: acquire media, then open the relay. Both happen off
// the loop; each continuation re-checks that its attempt is still current.
func (o *Orchestrator) OnCredentials(c protocol.VoiceCredentials) error {
	if o.session.Status != domain.VoiceAwaitingCredentials || o.cur == nil {
		log.Warn().Str("module", "voice").Str("status", string(o.session.Status)).Msg("unexpected voiceCredentials")
		return domain.ErrInvalidState
	}
	if c.VoiceRoomID != "" && c.VoiceRoomID != o.session.VoiceRoomID {
		log.Warn().Str("module", "voice").Str("voice_room", string(c.VoiceRoomID)).Msg("voiceCredentials for another voice room")
		return nil
	}
	a := o.cur
	a.credentials = true
	a.stopWatchdog()

	role := domain.Role(c.Role)
	if role != o.session.Role {
		log.Warn().Str("module", "voice").Str("expected", string(o.session.Role)).Str("got", string(role)).Msg("service assigned a different role")
		o.session.Role = role
	}
	endpoint, ok := c.Endpoint("WSS")
	if !ok {
		o.fail(errors.Wrap(domain.ErrSignalingFailure, "no WSS endpoint"), "voice signaling is unavailable")
		return domain.ErrSignalingFailure
	}
	region := RegionOf(c.ChannelARN, o.cfg.Region)
	rc := core.RelayConfig{
		ChannelARN: c.ChannelARN,
		Endpoint:   endpoint,
		Role:       role,
		Region:     region,
		Credentials: core.RelayCredentials{
			AccessKeyID:     c.Credentials.AccessKeyID,
			SecretAccessKey: c.Credentials.SecretAccessKey,
			SessionToken:    c.Credentials.SessionToken,
		},
	}
	if role == domain.RoleResponder {
		rc.ClientID = c.ClientID
		if rc.ClientID == "" {
			rc.ClientID = string(o.deps.Self)
		}
	}
	stun := o.cfg.STUNURL
	if stun == "" {
		stun = STUNURL(region)
	}
	log.Info().Str("module", "voice").Str("role", string(role)).Str("region", region).Msg("credentials received")

	constraints := o.cfg.Constraints
	media := o.deps.Media
	o.deps.Exec.Go(func() func() {
		stream, err := media.Acquire(a.ctx, constraints)
		return func() { o.onMedia(a, stream, err, rc, stun) }
	})
	o.publish()
	return nil
}

func (o *Orchestrator) onMedia(a *attempt, stream core.MediaStream, err error, rc core.RelayConfig, stun string) {
	if o.cur != a {
		if stream != nil {
			stream.Close()
		}
		log.Debug().Str("module", "voice").Uint64("attempt", a.gen).Msg("stale media acquisition released")
		return
	}
	if err != nil {
		if errors.Is(err, domain.ErrMediaAccessDenied) {
			o.abort(err, "microphone access denied")
			return
		}
		o.fail(err, "could not start the microphone")
		return
	}
	a.stream = stream
	o.session.LocalMediaActive = true
	o.publish()

	dialer := o.deps.Relay
	h := &relayEvents{o: o, a: a}
	o.deps.Exec.Go(func() func() {
		ch, err := dialer.Dial(a.ctx, rc, h)
		return func() { o.onRelay(a, ch, err, stun) }
	})
}

func (o *Orchestrator) onRelay(a *attempt, ch core.RelayChannel, err error, stun string) {
	if o.cur != a {
		if ch != nil {
			ch.Close()
		}
		log.Debug().Str("module", "voice").Uint64("attempt", a.gen).Msg("stale relay channel released")
		return
	}
	if err != nil {
		o.fail(errors.Wrap(domain.ErrSignalingFailure, err.Error()), "could not reach voice signaling")
		return
	}
	a.relay = ch
	a.links = peers.NewManager(o.deps.Exec, o.deps.Peers, peers.STUNConfig(stun), &linkEvents{o: o, a: a})
	o.session.Status = domain.VoiceSignalingOpen
	log.Info().Str("module", "voice").Str("role", string(o.session.Role)).Msg("signaling open")

	if o.session.Role == domain.RoleResponder {
		if err := o.offerTo(a, core.InitiatorPeerID); err != nil {
			o.fail(errors.Wrap(domain.ErrSignalingFailure, err.Error()), "could not start voice negotiation")
			return
		}
	}
	o.publish()

	early := a.early
	a.early = nil
	for _, fn := range early {
		if o.cur != a {
			return
		}
		fn()
	}
}

// offerTo is the responder's single outgoing negotiation.
func (o *Orchestrator) offerTo(a *attempt, remoteID string) error {
	if err := a.links.Create(remoteID); err != nil {
		return err
	}
	if err := a.links.AddTracks(remoteID, a.stream); err != nil {
		return err
	}
	offer, err := a.links.CreateOffer(remoteID)
	if err != nil {
		return err
	}
	o.deps.Metrics.SetLinks(a.links.Count())
	return a.relay.SendSdpOffer(offer, remoteID)
}
