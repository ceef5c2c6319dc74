// Package orch wires the room machine and the voice orchestrator behind one inbound
// dispatcher and one facade for local user actions.
package orch

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomvoice/internal/app/room"
	"github.com/dkeye/roomvoice/internal/app/voice"
	"github.com/dkeye/roomvoice/internal/core"
	"github.com/dkeye/roomvoice/internal/domain"
	"github.com/dkeye/roomvoice/internal/metrics"
)

type Options struct {
	Self    domain.UserID
	Exec    core.Executor
	Obs     core.Observer
	Media   core.MediaDevice
	Peers   core.PeerConnectionFactory
	Relay   core.RelayDialer
	Sink    core.AudioSink
	Voice   voice.Config
	Metrics *metrics.Metrics
}

// State is everything a presentation layer needs to render the client.
type State struct {
	Self         domain.UserID        `json:"self"`
	Room         core.RoomSnapshot    `json:"room"`
	Participants []domain.Participant `json:"participants"`
	Voice        core.VoiceSnapshot   `json:"voice"`
}

// Client is the facade for local user actions. It must only be used from the event loop.
type Client struct {
	self  domain.UserID
	d     *Dispatcher
	room  *room.Machine
	voice *voice.Orchestrator
}

func New(opts Options) *Client {
	obs := opts.Obs
	if obs == nil {
		obs = core.NopObserver{}
	}
	d := &Dispatcher{obs: obs, metrics: opts.Metrics}
	d.room = room.New(opts.Self, d, obs)
	d.voice = voice.New(opts.Voice, voice.Deps{
		Self:    opts.Self,
		Exec:    opts.Exec,
		Out:     d,
		Obs:     obs,
		Media:   opts.Media,
		Peers:   opts.Peers,
		Relay:   opts.Relay,
		Sink:    opts.Sink,
		Metrics: opts.Metrics,
	})
	return &Client{self: opts.Self, d: d, room: d.room, voice: d.voice}
}

func (c *Client) Dispatcher() *Dispatcher { return c.d }

func (c *Client) State() State {
	return State{
		Self:         c.self,
		Room:         c.room.Snapshot(),
		Participants: c.room.Participants(),
		Voice:        c.voice.Snapshot(),
	}
}

// CreateRoom replaces the current room, ending its voice session first.
func (c *Client) CreateRoom(name string) error {
	if strings.TrimSpace(name) == "" {
		return domain.ErrEmptyRoomName
	}
	c.endVoice("room replaced")
	return c.room.CreateRoom(name)
}

func (c *Client) JoinRoom(id string) error {
	if strings.TrimSpace(id) == "" {
		return domain.ErrEmptyRoomID
	}
	c.endVoice("room replaced")
	return c.room.RequestJoin(id)
}

func (c *Client) LeaveRoom() {
	c.endVoice("left room")
	c.room.Leave()
}

func (c *Client) Decide(user domain.UserID, d domain.Decision) error {
	return c.room.Decide(user, d)
}

func (c *Client) SendChat(text string) error { return c.room.SendChat(text) }

func (c *Client) RefreshMembers() error { return c.room.RequestMembers() }

func (c *Client) StartVoice() error {
	r, ok := c.room.Room()
	if !c.room.Active() || !ok {
		return domain.ErrNoRoom
	}
	return c.voice.StartAsInitiator(r.ID)
}

// JoinVoice joins the announced voice session, or id when given.
func (c *Client) JoinVoice(id domain.VoiceRoomID) error {
	r, ok := c.room.Room()
	if !c.room.Active() || !ok {
		return domain.ErrNoRoom
	}
	return c.voice.JoinAsResponder(r.ID, id)
}

func (c *Client) EndVoice() error { return c.voice.End() }

func (c *Client) SetMuted(muted bool) error { return c.voice.SetMuted(muted) }

func (c *Client) ToggleMute() (bool, error) { return c.voice.ToggleMute() }

func (c *Client) endVoice(reason string) {
	if c.voice.Status() == domain.VoiceNone {
		return
	}
	if err := c.voice.End(); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("reason", reason).Msg("voice end")
	}
}
