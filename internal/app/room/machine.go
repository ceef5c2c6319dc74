// Package room is the admission state machine of the local session: create or join a
// room, admin decisions on pending entrants, chat, and the membership snapshot.
package room

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomvoice/internal/core"
	"github.com/dkeye/roomvoice/internal/domain"
	"github.com/dkeye/roomvoice/internal/protocol"
)

// Machine must only be used from the event loop.
type Machine struct {
	self domain.UserID
	out  core.Emitter
	obs  core.Observer
	now  func() time.Time

	state     domain.RoomState
	room      *domain.Room
	requested domain.RoomID

	members map[domain.UserID]*domain.Participant
	order   []domain.UserID
}

func New(self domain.UserID, out core.Emitter, obs core.Observer) *Machine {
	if obs == nil {
		obs = core.NopObserver{}
	}
	return &Machine{
		self:    self,
		out:     out,
		obs:     obs,
		now:     time.Now,
		members: make(map[domain.UserID]*domain.Participant),
	}
}

func (m *Machine) State() domain.RoomState { return m.state }

// Room returns a copy of the current room, if any.
func (m *Machine) Room() (domain.Room, bool) {
	if m.room == nil {
		return domain.Room{}, false
	}
	return *m.room, true
}

// Active reports whether the session is admitted to a room.
func (m *Machine) Active() bool { return m.state == domain.RoomActive && m.room != nil }

func (m *Machine) IsAdmin() bool { return m.Active() && m.room.IsLocalAdmin }

func (m *Machine) Snapshot() core.RoomSnapshot {
	s := core.RoomSnapshot{State: m.state}
	if m.room != nil {
		r := *m.room
		s.Room = &r
	}
	return s
}

// Participants returns the admission entries in arrival order.
func (m *Machine) Participants() []domain.Participant {
	out := make([]domain.Participant, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.members[id])
	}
	return out
}

func (m *Machine) Participant(id domain.UserID) (domain.Participant, bool) {
	p, ok := m.members[id]
	if !ok {
		return domain.Participant{}, false
	}
	return *p, true
}

func (m *Machine) CreateRoom(name string) error {
	if m.state == domain.RoomClosed {
		return domain.ErrChannelClosed
	}
	n := domain.RoomName(strings.TrimSpace(name))
	if n == "" {
		return domain.ErrEmptyRoomName
	}
	m.reset()
	if err := m.out.Emit(protocol.CreateRoom{RoomName: n}); err != nil {
		m.publishRoom()
		return err
	}
	m.state = domain.RoomRequestingCreate
	log.Info().Str("module", "room").Str("room_name", string(n)).Msg("create requested")
	m.publishRoom()
	return nil
}

func (m *Machine) OnRoomCreated(id domain.RoomID, name domain.RoomName) error {
	if m.state != domain.RoomRequestingCreate {
		log.Warn().Str("module", "room").Str("room", string(id)).Str("state", m.state.String()).Msg("unexpected roomCreated")
		return domain.ErrInvalidState
	}
	m.activate(domain.Room{ID: id, Name: name, IsLocalAdmin: true})
	log.Info().Str("module", "room").Str("room", string(id)).Msg("room created")
	m.obs.OnNotice(core.Notice{Level: core.NoticeInfo, Text: "room " + string(name) + " created"})
	return nil
}

func (m *Machine) RequestJoin(id string) error {
	if m.state == domain.RoomClosed {
		return domain.ErrChannelClosed
	}
	rid := domain.RoomID(strings.TrimSpace(id))
	if rid == "" {
		return domain.ErrEmptyRoomID
	}
	m.reset()
	if err := m.out.Emit(protocol.JoinRoom{SubAction: protocol.JoinRequestAction, RoomID: rid}); err != nil {
		m.publishRoom()
		return err
	}
	m.state = domain.RoomRequestingJoin
	m.requested = rid
	log.Info().Str("module", "room").Str("room", string(rid)).Msg("join requested")
	m.publishRoom()
	return nil
}

// OnJoinResponse resolves a pending join. Responses for another room are ignored.
func (m *Machine) OnJoinResponse(status domain.ParticipantStatus, id domain.RoomID) error {
	if m.state != domain.RoomRequestingJoin {
		log.Warn().Str("module", "room").Str("room", string(id)).Msg("joinResponse without pending join")
		return domain.ErrInvalidState
	}
	if id != "" && id != m.requested {
		log.Warn().Str("module", "room").Str("room", string(id)).Str("requested", string(m.requested)).Msg("joinResponse for another room")
		return nil
	}
	switch status {
	case domain.StatusApproved:
		m.activate(domain.Room{ID: m.requested, Name: domain.RoomName(m.requested)})
		log.Info().Str("module", "room").Str("room", string(m.requested)).Msg("join approved")
		m.obs.OnNotice(core.Notice{Level: core.NoticeInfo, Text: "joined room " + string(m.requested)})
	case domain.StatusRejected:
		rid := m.requested
		m.reset()
		log.Info().Str("module", "room").Str("room", string(rid)).Msg("join rejected")
		m.obs.OnNotice(core.Notice{Level: core.NoticeWarn, Text: "request to join room " + string(rid) + " was rejected"})
		m.publishRoom()
	default:
		return domain.ErrInvalidTransition
	}
	return nil
}

// OnJoinRequest records a pending entrant. Only the admin hears about them; nothing is decided here.
func (m *Machine) OnJoinRequest(user domain.UserID) error {
	if !m.IsAdmin() {
		log.Warn().Str("module", "room").Str("user", string(user)).Msg("joinRequest while not admin")
		return domain.ErrNotAuthorized
	}
	if user == "" {
		return domain.ErrInvalidTransition
	}
	if p, ok := m.members[user]; ok && p.Status != domain.StatusRejected {
		return nil
	}
	// A rejected user asking again starts a fresh request.
	m.put(domain.Participant{UserID: user, Status: domain.StatusPending})
	log.Info().Str("module", "room").Str("user", string(user)).Msg("join request pending")
	m.obs.OnNotice(core.Notice{Level: core.NoticeInfo, Text: string(user) + " wants to join"})
	m.publishParticipants()
	return nil
}

func (m *Machine) Decide(user domain.UserID, d domain.Decision) error {
	if !m.Active() {
		return domain.ErrNoRoom
	}
	if !m.room.IsLocalAdmin {
		return domain.ErrNotAuthorized
	}
	next, ok := d.Status()
	if !ok {
		return domain.ErrInvalidTransition
	}
	p, ok := m.members[user]
	if !ok || !p.Status.CanTransition(next) {
		return domain.ErrInvalidTransition
	}
	sub := protocol.JoinApprove
	if next == domain.StatusRejected {
		sub = protocol.JoinReject
	}
	if err := m.out.Emit(protocol.JoinRoom{SubAction: sub, RoomID: m.room.ID, TargetUserID: user}); err != nil {
		return err
	}
	p.Status = next
	log.Info().Str("module", "room").Str("user", string(user)).Str("status", string(next)).Msg("decided")
	m.publishParticipants()
	return nil
}

// SendChat sends text to the room and echoes it locally.
func (m *Machine) SendChat(text string) error {
	if !m.Active() {
		return domain.ErrNoRoom
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ErrEmptyMessage
	}
	if err := m.out.Emit(protocol.SendMessage{Message: text}); err != nil {
		return err
	}
	m.obs.OnChat(core.ChatLine{UserID: m.self, Text: text, At: m.now(), Own: true})
	return nil
}

// OnChatMessage surfaces a relayed chat line. The service echoes our own lines back;
// those were already shown by SendChat.
func (m *Machine) OnChatMessage(msg protocol.ChatMessage) {
	if !m.Active() {
		log.Debug().Str("module", "room").Msg("chat outside a room dropped")
		return
	}
	if msg.UserID == m.self {
		return
	}
	at := m.now()
	if msg.Timestamp > 0 {
		at = time.UnixMilli(msg.Timestamp)
	}
	m.obs.OnChat(core.ChatLine{UserID: msg.UserID, Text: msg.Message, At: at})
}

func (m *Machine) RequestMembers() error {
	if !m.Active() {
		return domain.ErrNoRoom
	}
	return m.out.Emit(protocol.GetMembers{RoomID: m.room.ID})
}

// OnRoomMembers merges a membership snapshot. Statuses never move backwards.
func (m *Machine) OnRoomMembers(msg protocol.RoomMembers) error {
	if !m.Active() {
		return domain.ErrNoRoom
	}
	if msg.RoomID != "" && msg.RoomID != m.room.ID {
		log.Warn().Str("module", "room").Str("room", string(msg.RoomID)).Msg("roomMembers for another room")
		return nil
	}
	for _, in := range msg.Participants {
		if in.UserID == "" || !in.Status.Valid() {
			continue
		}
		cur, ok := m.members[in.UserID]
		switch {
		case !ok:
			m.put(in)
		case cur.Status == in.Status || cur.Status.CanTransition(in.Status):
			cur.Status = in.Status
			cur.IsAdmin = in.IsAdmin
		default:
			log.Debug().Str("module", "room").Str("user", string(in.UserID)).
				Str("have", string(cur.Status)).Str("got", string(in.Status)).Msg("stale member status ignored")
		}
	}
	m.publishParticipants()
	return nil
}

// Leave always succeeds and returns to none.
func (m *Machine) Leave() {
	if m.state == domain.RoomClosed {
		return
	}
	if m.room != nil {
		log.Info().Str("module", "room").Str("room", string(m.room.ID)).Msg("left room")
	}
	m.reset()
	m.publishRoom()
	m.publishParticipants()
}

// Close marks the session over. Nothing can be requested afterwards.
func (m *Machine) Close() {
	if m.state == domain.RoomClosed {
		return
	}
	m.reset()
	m.state = domain.RoomClosed
	m.publishRoom()
}

func (m *Machine) activate(r domain.Room) {
	m.room = &r
	m.state = domain.RoomActive
	m.requested = ""
	m.members = make(map[domain.UserID]*domain.Participant)
	m.order = m.order[:0]
	m.put(domain.Participant{UserID: m.self, Status: domain.StatusApproved, IsAdmin: r.IsLocalAdmin})
	m.publishRoom()
	m.publishParticipants()
}

func (m *Machine) reset() {
	m.state = domain.RoomNone
	m.room = nil
	m.requested = ""
	m.members = make(map[domain.UserID]*domain.Participant)
	m.order = nil
}

func (m *Machine) put(p domain.Participant) {
	if _, ok := m.members[p.UserID]; !ok {
		m.order = append(m.order, p.UserID)
	}
	m.members[p.UserID] = &p
}

func (m *Machine) publishRoom() { m.obs.OnRoom(m.Snapshot()) }

func (m *Machine) publishParticipants() { m.obs.OnParticipants(m.Participants()) }
