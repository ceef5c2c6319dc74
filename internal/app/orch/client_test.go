package orch

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/roomvoice/internal/app/voice"
	"github.com/dkeye/roomvoice/internal/core"
	"github.com/dkeye/roomvoice/internal/core/coretest"
	"github.com/dkeye/roomvoice/internal/domain"
	"github.com/dkeye/roomvoice/internal/metrics"
	"github.com/dkeye/roomvoice/internal/protocol"
)

type harness struct {
	exec    *coretest.Executor
	ch      *coretest.Channel
	obs     *coretest.Recorder
	relay   *coretest.RelayDialer
	metrics *metrics.Metrics
	c       *Client
}

func newHarness(self domain.UserID, obs core.Observer) *harness {
	h := &harness{
		exec:    coretest.NewExecutor(),
		ch:      &coretest.Channel{},
		obs:     &coretest.Recorder{},
		relay:   &coretest.RelayDialer{},
		metrics: metrics.New(),
	}
	observers := core.Observers{h.obs}
	if obs != nil {
		observers = append(observers, obs)
	}
	h.c = New(Options{
		Self:    self,
		Exec:    h.exec,
		Obs:     observers,
		Media:   &coretest.MediaDevice{},
		Peers:   coretest.NewPeerFactory(),
		Relay:   h.relay,
		Sink:    coretest.NewSink(),
		Voice:   voice.Config{CredentialTimeout: 10 * time.Second, MaxPeers: 4, Region: "us-east-1"},
		Metrics: h.metrics,
	})
	h.c.Dispatcher().Attach(h.ch)
	return h
}

func (h *harness) recv(t *testing.T, m protocol.Message) {
	t.Helper()
	data, err := protocol.Encode(m)
	require.NoError(t, err)
	h.c.Dispatcher().OnMessage(data)
}

func (h *harness) sent() []protocol.Message { return h.ch.Decoded() }

func (h *harness) scrape(t *testing.T) string {
	t.Helper()
	rr := httptest.NewRecorder()
	h.metrics.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	return rr.Body.String()
}

func TestAliceAndBobScenario(t *testing.T) {
	alice := newHarness("alice", nil)
	bob := newHarness("bob", nil)

	require.NoError(t, alice.c.CreateRoom("team"))
	assert.Equal(t, []protocol.Message{protocol.CreateRoom{RoomName: "team"}}, alice.sent())
	alice.recv(t, protocol.RoomCreated{RoomID: "R1", RoomName: "team"})
	st := alice.c.State()
	assert.Equal(t, domain.RoomActive, st.Room.State)
	require.NotNil(t, st.Room.Room)
	assert.True(t, st.Room.Room.IsLocalAdmin)
	assert.Equal(t, domain.RoomID("R1"), st.Room.Room.ID)

	require.NoError(t, bob.c.JoinRoom("R1"))
	alice.recv(t, protocol.JoinRequest{UserID: "bob"})
	p := alice.c.State().Participants
	require.Len(t, p, 2)
	assert.Equal(t, domain.Participant{UserID: "bob", Status: domain.StatusPending}, p[1])

	require.NoError(t, alice.c.Decide("bob", domain.DecisionApprove))
	assert.Equal(t, protocol.JoinRoom{SubAction: protocol.JoinApprove, RoomID: "R1", TargetUserID: "bob"}, alice.sent()[1])

	bob.recv(t, protocol.JoinResponse{RoomID: "R1", Status: domain.StatusApproved})
	st = bob.c.State()
	assert.Equal(t, domain.RoomActive, st.Room.State)
	assert.False(t, st.Room.Room.IsLocalAdmin)

	assert.ErrorIs(t, bob.c.Decide("carol", domain.DecisionApprove), domain.ErrNotAuthorized)
	assert.Len(t, bob.sent(), 1)
}

func TestCorruptMessagesAreDropped(t *testing.T) {
	h := newHarness("alice", nil)
	for _, raw := range []string{
		`not json`,
		`[]`,
		`{}`,
		`{"action":""}`,
		`{"action":"roomCreated","roomId":5}`,
		`{"action":"joinResponse","roomId":"R1","status":"maybe"}`,
		`{"action":"somethingNew","x":1}`,
		`{"statusCode":500,"body":"Internal server error"}`,
	} {
		assert.NotPanics(t, func() { h.c.Dispatcher().OnMessage([]byte(raw)) }, raw)
	}
	assert.Equal(t, domain.RoomNone, h.c.State().Room.State)

	body := h.scrape(t)
	assert.True(t, strings.Contains(body, `roomvoice_messages_dropped_total{reason="unknown_action"} 1`), body)
	assert.True(t, strings.Contains(body, `roomvoice_messages_dropped_total{reason="decode"} 7`), body)
}

type panickingObserver struct{ core.NopObserver }

func (panickingObserver) OnNotice(core.Notice) { panic("observer blew up") }

func TestHandlerPanicIsContained(t *testing.T) {
	h := newHarness("alice", panickingObserver{})
	data, err := protocol.Encode(protocol.ErrorNotice{Message: "boom"})
	require.NoError(t, err)
	assert.NotPanics(t, func() { h.c.Dispatcher().OnMessage(data) })
	assert.True(t, strings.Contains(h.scrape(t), `reason="panic"`))
}

func TestOutboundKindFromServerIgnored(t *testing.T) {
	h := newHarness("alice", nil)
	h.recv(t, protocol.CreateRoom{RoomName: "team"})
	assert.Equal(t, domain.RoomNone, h.c.State().Room.State)
	assert.Empty(t, h.sent())
}

func TestRemoteErrorSurfacedVerbatim(t *testing.T) {
	h := newHarness("alice", nil)
	h.recv(t, protocol.ErrorNotice{Message: "Room not found"})
	n := h.obs.LastNotice()
	assert.Equal(t, "Room not found", n.Text)
	assert.ErrorIs(t, n.Err, domain.ErrRemote)
}

func TestVoiceRoomErrorRearmsStart(t *testing.T) {
	h := newHarness("alice", nil)
	require.NoError(t, h.c.CreateRoom("team"))
	h.recv(t, protocol.RoomCreated{RoomID: "R1", RoomName: "team"})
	require.NoError(t, h.c.StartVoice())
	assert.False(t, h.c.State().Voice.CanStart)

	h.recv(t, protocol.ErrorNotice{Message: "Could not create voice room", Type: protocol.ErrorTypeVoiceRoom})
	st := h.c.State().Voice
	assert.True(t, st.CanStart)
	require.NotNil(t, st.Session)
	assert.Equal(t, domain.VoiceFailed, st.Session.Status)
}

func TestVoiceNeedsActiveRoom(t *testing.T) {
	h := newHarness("alice", nil)
	assert.ErrorIs(t, h.c.StartVoice(), domain.ErrNoRoom)
	assert.ErrorIs(t, h.c.JoinVoice("V1"), domain.ErrNoRoom)
	assert.Empty(t, h.sent())
}

func TestVoiceOverTheWire(t *testing.T) {
	h := newHarness("alice", nil)
	require.NoError(t, h.c.CreateRoom("team"))
	h.recv(t, protocol.RoomCreated{RoomID: "R1", RoomName: "team"})
	require.NoError(t, h.c.StartVoice())
	h.c.Dispatcher().OnMessage([]byte(`{"action":"voiceRoomCreated","voiceRoomId":"V1"}`))
	h.c.Dispatcher().OnMessage([]byte(`{"action":"voiceCredentials","role":"MASTER",
		"channelARN":"arn:aws:kinesisvideo:eu-west-1:123456789012:channel/V1/1",
		"endpoints":[{"Protocol":"WSS","ResourceEndpoint":"wss://relay.example"}],
		"credentials":{"accessKeyId":"AK","secretAccessKey":"SK","sessionToken":"ST"}}`))
	h.exec.Settle()

	st := h.c.State().Voice
	require.NotNil(t, st.Session)
	assert.Equal(t, domain.VoiceSignalingOpen, st.Session.Status)
	assert.Equal(t, domain.RoleInitiator, st.Session.Role)
	require.Len(t, h.relay.Configs, 1)
	assert.Equal(t, "eu-west-1", h.relay.Configs[0].Region)

	sent := h.sent()
	assert.Equal(t, protocol.CreateVoiceRoom{RoomID: "R1"}, sent[1])
	assert.Equal(t, protocol.GetVoiceCredentials{VoiceRoomID: "V1"}, sent[2])
}

func TestLeavingRoomEndsVoice(t *testing.T) {
	h := newHarness("alice", nil)
	require.NoError(t, h.c.CreateRoom("team"))
	h.recv(t, protocol.RoomCreated{RoomID: "R1", RoomName: "team"})
	require.NoError(t, h.c.StartVoice())
	h.recv(t, protocol.VoiceRoomCreated{VoiceRoomID: "V1"})

	h.c.LeaveRoom()
	st := h.c.State()
	assert.Equal(t, domain.RoomNone, st.Room.State)
	assert.Nil(t, st.Voice.Session)

	sent := h.sent()
	assert.Equal(t, protocol.EndVoiceRoom{VoiceRoomID: "V1"}, sent[len(sent)-1])
}

func TestReplacingRoomEndsVoice(t *testing.T) {
	h := newHarness("alice", nil)
	require.NoError(t, h.c.CreateRoom("team"))
	h.recv(t, protocol.RoomCreated{RoomID: "R1", RoomName: "team"})
	require.NoError(t, h.c.StartVoice())
	h.recv(t, protocol.VoiceRoomCreated{VoiceRoomID: "V1"})

	require.NoError(t, h.c.JoinRoom("R2"))
	assert.Nil(t, h.c.State().Voice.Session)
	assert.Equal(t, domain.RoomRequestingJoin, h.c.State().Room.State)
}

func TestChannelCloseEndsSession(t *testing.T) {
	h := newHarness("alice", nil)
	require.NoError(t, h.c.CreateRoom("team"))
	h.recv(t, protocol.RoomCreated{RoomID: "R1", RoomName: "team"})
	require.NoError(t, h.c.StartVoice())
	n := len(h.sent())

	h.c.Dispatcher().OnClose(assert.AnError)
	h.c.Dispatcher().OnClose(assert.AnError)

	st := h.c.State()
	assert.Equal(t, domain.RoomClosed, st.Room.State)
	assert.Nil(t, st.Voice.Session)
	assert.Len(t, h.sent(), n)
	assert.ErrorIs(t, h.c.CreateRoom("again"), domain.ErrChannelClosed)
	assert.ErrorIs(t, h.c.Dispatcher().Emit(protocol.GetMembers{RoomID: "R1"}), domain.ErrChannelClosed)
}

func TestEmitBackpressure(t *testing.T) {
	h := newHarness("alice", nil)
	h.ch.Err = domain.ErrBackpressure
	assert.ErrorIs(t, h.c.CreateRoom("team"), domain.ErrBackpressure)
	assert.Equal(t, domain.RoomNone, h.c.State().Room.State)
}
