// Package voice drives one voice session at a time: room creation, credentials,
// media, the signaling relay and the peer links, through to teardown.
package voice

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomvoice/internal/app/peers"
	"github.com/dkeye/roomvoice/internal/core"
	"github.com/dkeye/roomvoice/internal/domain"
	"github.com/dkeye/roomvoice/internal/metrics"
	"github.com/dkeye/roomvoice/internal/protocol"
)

type Config struct {
	CredentialTimeout time.Duration
	MaxPeers          int
	// STUNURL overrides the relay's regional STUN server when set.
	STUNURL     string
	Region      string
	Constraints core.MediaConstraints
}

type Deps struct {
	Self    domain.UserID
	Exec    core.Executor
	Out     core.Emitter
	Obs     core.Observer
	Media   core.MediaDevice
	Peers   core.PeerConnectionFactory
	Relay   core.RelayDialer
	Sink    core.AudioSink
	Metrics *metrics.Metrics
}

var statuses = []string{
	string(domain.VoiceNone), string(domain.VoiceCreating), string(domain.VoiceAwaitingCredentials),
	string(domain.VoiceSignalingOpen), string(domain.VoiceConnected), string(domain.VoiceEnded), string(domain.VoiceFailed),
}

// attempt owns everything acquired for one start or join. A continuation whose
// attempt is no longer current releases what it got and does nothing else.
type attempt struct {
	gen     uint64
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time

	stopWatchdog func() bool
	credentials  bool
	stream       core.MediaStream
	relay        core.RelayChannel
	links        *peers.Manager
	connected    bool
	// Relay events that arrived before the relay was installed.
	early []func()
}

// Orchestrator must only be used from the event loop.
type Orchestrator struct {
	cfg  Config
	deps Deps

	session   domain.VoiceSession
	available *domain.VoiceOffer
	gen       uint64
	cur       *attempt
	// abandoned counts createVoiceRoom requests given up on before their
	// voiceRoomCreated arrived. The service answers them in order.
	abandoned int
}

func New(cfg Config, deps Deps) *Orchestrator {
	if deps.Obs == nil {
		deps.Obs = core.NopObserver{}
	}
	if cfg.MaxPeers <= 0 {
		cfg.MaxPeers = 1
	}
	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		session: domain.VoiceSession{Status: domain.VoiceNone},
	}
}

func (o *Orchestrator) Status() domain.VoiceStatus { return o.session.Status }

// Session returns a copy of the current voice session; ok is false in none.
func (o *Orchestrator) Session() (domain.VoiceSession, bool) {
	return o.session, o.session.Status != domain.VoiceNone
}

func (o *Orchestrator) Available() (domain.VoiceOffer, bool) {
	if o.available == nil {
		return domain.VoiceOffer{}, false
	}
	return *o.available, true
}

func (o *Orchestrator) Snapshot() core.VoiceSnapshot {
	s := core.VoiceSnapshot{CanStart: o.session.Status.Idle(), Peers: []string{}}
	if o.session.Status != domain.VoiceNone {
		vs := o.session
		s.Session = &vs
	}
	if o.available != nil {
		a := *o.available
		s.Available = &a
	}
	if o.cur != nil && o.cur.links != nil {
		s.Peers = o.cur.links.RemoteIDs()
	}
	return s
}

// StartAsInitiator asks the service for a new voice room in roomID.
func (o *Orchestrator) StartAsInitiator(roomID domain.RoomID) error {
	if !o.session.Status.Idle() {
		return domain.ErrInvalidState
	}
	if roomID == "" {
		return domain.ErrNoRoom
	}
	if err := o.deps.Out.Emit(protocol.CreateVoiceRoom{RoomID: roomID}); err != nil {
		return err
	}
	o.begin(domain.VoiceSession{
		RoomID:      roomID,
		Role:        domain.RoleInitiator,
		Status:      domain.VoiceCreating,
		InitiatorID: o.deps.Self,
	})
	log.Info().Str("module", "voice").Str("room", string(roomID)).Uint64("attempt", o.gen).Msg("voice room requested")
	o.publish()
	return nil
}

func (o *Orchestrator) OnVoiceRoomCreated(id domain.VoiceRoomID) error {
	if o.abandoned > 0 {
		o.abandoned--
		log.Info().Str("module", "voice").Str("voice_room", string(id)).Msg("ending voice room of an abandoned attempt")
		if err := o.deps.Out.Emit(protocol.EndVoiceRoom{VoiceRoomID: id}); err != nil {
			log.Warn().Err(err).Str("module", "voice").Str("voice_room", string(id)).Msg("endVoiceRoom not sent")
			return err
		}
		return nil
	}
	if o.session.Status != domain.VoiceCreating {
		log.Warn().Str("module", "voice").Str("voice_room", string(id)).Str("status", string(o.session.Status)).Msg("unexpected voiceRoomCreated")
		return domain.ErrInvalidState
	}
	o.session.VoiceRoomID = id
	o.session.Status = domain.VoiceAwaitingCredentials
	if err := o.deps.Out.Emit(protocol.GetVoiceCredentials{VoiceRoomID: id}); err != nil {
		o.fail(err, "could not request voice credentials")
		return err
	}
	log.Info().Str("module", "voice").Str("voice_room", string(id)).Msg("voice room created")
	o.publish()
	return nil
}

// OnVoiceRoomAvailable records a session someone else started. Joining it is the
// local user's call.
func (o *Orchestrator) OnVoiceRoomAvailable(id domain.VoiceRoomID, initiator domain.UserID) {
	if initiator == o.deps.Self {
		return
	}
	o.available = &domain.VoiceOffer{VoiceRoomID: id, InitiatorID: initiator}
	log.Info().Str("module", "voice").Str("voice_room", string(id)).Str("initiator", string(initiator)).Msg("voice available")
	o.deps.Obs.OnNotice(core.Notice{Level: core.NoticeInfo, Text: "voice available (started by " + string(initiator) + ")"})
	o.publish()
}

// JoinAsResponder requests credentials for id, or for the announced session when id is empty.
func (o *Orchestrator) JoinAsResponder(roomID domain.RoomID, id domain.VoiceRoomID) error {
	if !o.session.Status.Idle() {
		return domain.ErrInvalidState
	}
	var initiator domain.UserID
	if o.available != nil && (id == "" || id == o.available.VoiceRoomID) {
		id = o.available.VoiceRoomID
		initiator = o.available.InitiatorID
	}
	if id == "" {
		return domain.ErrNoVoiceRoom
	}
	if err := o.deps.Out.Emit(protocol.GetVoiceCredentials{VoiceRoomID: id}); err != nil {
		return err
	}
	o.begin(domain.VoiceSession{
		VoiceRoomID: id,
		RoomID:      roomID,
		Role:        domain.RoleResponder,
		Status:      domain.VoiceAwaitingCredentials,
		InitiatorID: initiator,
	})
	log.Info().Str("module", "voice").Str("voice_room", string(id)).Uint64("attempt", o.gen).Msg("joining voice")
	o.publish()
	return nil
}

// End leaves the voice session. Only the initiator tells the service to end the room.
// Calling it again is a no-op.
func (o *Orchestrator) End() error {
	if o.session.Status == domain.VoiceNone {
		return nil
	}
	var err error
	if !o.session.Status.Idle() && o.session.Role == domain.RoleInitiator && o.session.VoiceRoomID != "" {
		err = o.deps.Out.Emit(protocol.EndVoiceRoom{VoiceRoomID: o.session.VoiceRoomID})
		if err != nil {
			log.Warn().Err(err).Str("module", "voice").Msg("endVoiceRoom not sent")
		}
	}
	o.abandonCreate()
	if !o.session.Status.Idle() {
		o.deps.Metrics.RecordVoiceResult("left")
	}
	log.Info().Str("module", "voice").Str("voice_room", string(o.session.VoiceRoomID)).Msg("voice ended locally")
	o.cleanup()
	o.session = domain.VoiceSession{Status: domain.VoiceNone}
	o.publish()
	return err
}

// OnVoiceRoomEnded tears down locally without echoing an end back.
func (o *Orchestrator) OnVoiceRoomEnded(id domain.VoiceRoomID) {
	if id == "" {
		log.Warn().Str("module", "voice").Msg("voiceRoomEnded without id dropped")
		return
	}
	changed := false
	if o.available != nil && o.available.VoiceRoomID == id {
		o.available = nil
		changed = true
	}
	if !o.session.Status.Idle() && o.session.VoiceRoomID == id {
		log.Info().Str("module", "voice").Str("voice_room", string(id)).Msg("voice room ended remotely")
		o.deps.Metrics.RecordVoiceResult("ended")
		o.cleanup()
		o.session.Status = domain.VoiceEnded
		o.session.LocalMediaActive = false
		o.deps.Obs.OnNotice(core.Notice{Level: core.NoticeInfo, Text: "voice room ended"})
		changed = true
	} else {
		log.Debug().Str("module", "voice").Str("voice_room", string(id)).Msg("voiceRoomEnded for another session")
	}
	if changed {
		o.publish()
	}
}

// OnRemoteError handles an error the service tagged as a voice room error. The text
// itself has already been shown.
func (o *Orchestrator) OnRemoteError(text string) {
	switch o.session.Status {
	case domain.VoiceCreating, domain.VoiceAwaitingCredentials:
		o.fail(domain.ErrRemote, text)
	default:
		// the refusal answers an abandoned createVoiceRoom
		if o.abandoned > 0 {
			o.abandoned--
		}
		o.publish()
	}
}

func (o *Orchestrator) SetMuted(muted bool) error {
	if o.cur == nil || o.cur.stream == nil {
		return domain.ErrMediaInactive
	}
	o.cur.stream.SetEnabled(!muted)
	o.session.Muted = muted
	log.Info().Str("module", "voice").Bool("muted", muted).Msg("mute changed")
	o.publish()
	return nil
}

func (o *Orchestrator) ToggleMute() (bool, error) {
	next := !o.session.Muted
	return next, o.SetMuted(next)
}

func (o *Orchestrator) begin(s domain.VoiceSession) {
	o.cleanup()
	o.gen++
	ctx, cancel := context.WithCancel(context.Background())
	a := &attempt{gen: o.gen, ctx: ctx, cancel: cancel, started: time.Now()}
	a.stopWatchdog = o.deps.Exec.AfterFunc(o.cfg.CredentialTimeout, func() { o.onWatchdog(a) })
	o.cur = a
	o.session = s
}

func (o *Orchestrator) onWatchdog(a *attempt) {
	if o.cur != a || a.credentials {
		return
	}
	switch o.session.Status {
	case domain.VoiceCreating, domain.VoiceAwaitingCredentials:
		log.Warn().Str("module", "voice").Uint64("attempt", a.gen).Dur("after", o.cfg.CredentialTimeout).Msg("credential timeout")
		o.abandonCreate()
		o.fail(domain.ErrCredentialTimeout, "voice room did not respond in time, try again")
	}
}

// abandonCreate remembers a createVoiceRoom still waiting for its voiceRoomCreated.
func (o *Orchestrator) abandonCreate() {
	if o.session.Status == domain.VoiceCreating && o.session.Role == domain.RoleInitiator {
		o.abandoned++
	}
}

// fail tears the attempt down and leaves the session in failed.
func (o *Orchestrator) fail(err error, text string) {
	log.Error().Err(err).Str("module", "voice").Str("voice_room", string(o.session.VoiceRoomID)).
		Str("status", string(o.session.Status)).Msg("voice failed")
	o.deps.Metrics.RecordVoiceResult("failed")
	o.cleanup()
	o.session.Status = domain.VoiceFailed
	o.session.LocalMediaActive = false
	o.deps.Obs.OnNotice(core.Notice{Level: core.NoticeError, Text: text, Err: err})
	o.publish()
}

// abort drops the attempt back to none.
func (o *Orchestrator) abort(err error, text string) {
	log.Warn().Err(err).Str("module", "voice").Msg("voice aborted")
	o.deps.Metrics.RecordVoiceResult("aborted")
	o.cleanup()
	o.session = domain.VoiceSession{Status: domain.VoiceNone}
	o.deps.Obs.OnNotice(core.Notice{Level: core.NoticeWarn, Text: text, Err: err})
	o.publish()
}

// cleanup releases every resource of the current attempt. Safe to call repeatedly.
func (o *Orchestrator) cleanup() {
	a := o.cur
	if a == nil {
		return
	}
	o.cur = nil
	a.cancel()
	if a.stopWatchdog != nil {
		a.stopWatchdog()
	}
	if a.links != nil {
		for _, id := range a.links.RemoteIDs() {
			o.detach(id)
		}
		a.links.CloseAll()
	}
	if a.relay != nil {
		a.relay.Close()
	}
	if a.stream != nil {
		a.stream.Close()
	}
	o.session.Muted = false
	o.deps.Metrics.SetLinks(0)
}

func (o *Orchestrator) detach(remoteID string) {
	if o.deps.Sink != nil {
		o.deps.Sink.Detach(remoteID)
	}
}

func (o *Orchestrator) publish() {
	o.deps.Metrics.SetVoiceStatus(string(o.session.Status), statuses)
	o.deps.Obs.OnVoice(o.Snapshot())
}
