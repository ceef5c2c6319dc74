package orch

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomvoice/internal/app/room"
	"github.com/dkeye/roomvoice/internal/app/voice"
	"github.com/dkeye/roomvoice/internal/core"
	"github.com/dkeye/roomvoice/internal/domain"
	"github.com/dkeye/roomvoice/internal/metrics"
	"github.com/dkeye/roomvoice/internal/protocol"
)

// Dispatcher is the single inbound entry point and the only writer to the channel.
// Every method runs on the event loop.
type Dispatcher struct {
	room    *room.Machine
	voice   *voice.Orchestrator
	obs     core.Observer
	metrics *metrics.Metrics
	ch      core.MessageChannel
}

// Attach sets the channel outbound messages go to.
func (d *Dispatcher) Attach(ch core.MessageChannel) { d.ch = ch }

// Emit encodes m and queues it on the channel.
func (d *Dispatcher) Emit(m protocol.Message) error {
	if d.ch == nil {
		return domain.ErrChannelClosed
	}
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	if err := d.ch.TrySend(core.Frame(data)); err != nil {
		return pkgerrors.Wrapf(err, "send %s", m.Kind())
	}
	d.metrics.RecordSent(string(m.Kind()))
	log.Debug().Str("module", "orch").Str("action", string(m.Kind())).Msg("sent")
	return nil
}

// OnMessage decodes one inbound frame and routes it. Nothing escapes: bad frames are
// logged and dropped, and a panicking handler is contained here.
func (d *Dispatcher) OnMessage(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.RecordDropped("panic")
			log.Error().Str("module", "orch").Str("panic", fmt.Sprint(r)).Msg("handler panicked")
		}
	}()

	m, err := protocol.Decode(data)
	if err != nil {
		var de *protocol.DecodeError
		if errors.As(err, &de) && errors.Is(err, protocol.ErrUnknownKind) {
			d.metrics.RecordDropped("unknown_action")
			log.Warn().Str("module", "orch").Str("action", string(de.Kind)).Msg("unknown action ignored")
			return
		}
		d.metrics.RecordDropped("decode")
		log.Error().Err(err).Str("module", "orch").Int("len", len(data)).Msg("undecodable message dropped")
		return
	}
	d.metrics.RecordReceived(string(m.Kind()))
	if err := d.route(m); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("action", string(m.Kind())).Msg("message not applied")
	}
}

func (d *Dispatcher) route(m protocol.Message) error {
	switch m := m.(type) {
	case protocol.RoomCreated:
		return d.room.OnRoomCreated(m.RoomID, m.RoomName)
	case protocol.JoinResponse:
		return d.room.OnJoinResponse(m.Status, m.RoomID)
	case protocol.JoinRequest:
		return d.room.OnJoinRequest(m.UserID)
	case protocol.ChatMessage:
		d.room.OnChatMessage(m)
		return nil
	case protocol.RoomMembers:
		return d.room.OnRoomMembers(m)
	case protocol.VoiceRoomCreated:
		return d.voice.OnVoiceRoomCreated(m.VoiceRoomID)
	case protocol.VoiceRoomAvailable:
		d.voice.OnVoiceRoomAvailable(m.VoiceRoomID, m.InitiatorID)
		return nil
	case protocol.VoiceCredentials:
		return d.voice.OnCredentials(m)
	case protocol.VoiceRoomEnded:
		d.voice.OnVoiceRoomEnded(m.VoiceRoomID)
		return nil
	case protocol.ErrorNotice:
		d.obs.OnNotice(core.Notice{Level: core.NoticeError, Text: m.Message, Err: domain.ErrRemote})
		if m.Type == protocol.ErrorTypeVoiceRoom {
			d.voice.OnRemoteError(m.Message)
		}
		return nil
	default:
		return pkgerrors.Wrapf(domain.ErrInvalidState, "%s is not sent to clients", m.Kind())
	}
}

// OnClose ends the session: voice is torn down locally and the room machine closes.
func (d *Dispatcher) OnClose(err error) {
	if d.ch == nil && d.room.State() == domain.RoomClosed {
		return
	}
	d.ch = nil
	log.Info().Err(err).Str("module", "orch").Msg("channel closed")
	_ = d.voice.End()
	d.room.Close()
	d.obs.OnNotice(core.Notice{Level: core.NoticeWarn, Text: "disconnected from the room service", Err: err})
}
