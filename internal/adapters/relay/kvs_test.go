package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/roomvoice/internal/core"
	"github.com/dkeye/roomvoice/internal/domain"
)

const channelARN = "arn:aws:kinesisvideo:eu-north-1:123456789012:channel/voice-V1/1700000000000"

func relayConfig(endpoint string, role domain.Role) core.RelayConfig {
	return core.RelayConfig{
		ChannelARN: channelARN,
		Endpoint:   endpoint,
		Role:       role,
		ClientID:   "bob",
		Region:     "eu-north-1",
		Credentials: core.RelayCredentials{
			AccessKeyID:     "AKIDEXAMPLE",
			SecretAccessKey: "secret",
			SessionToken:    "token",
		},
	}
}

func TestPresign(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	signed, err := Presign(context.Background(), relayConfig("wss://m-1.kinesisvideo.eu-north-1.amazonaws.com", domain.RoleResponder), at)
	require.NoError(t, err)

	u, err := url.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, "wss", u.Scheme)
	q := u.Query()
	assert.Equal(t, channelARN, q.Get("X-Amz-ChannelARN"))
	assert.Equal(t, "bob", q.Get("X-Amz-ClientId"))
	assert.Equal(t, "299", q.Get("X-Amz-Expires"))
	assert.Equal(t, "AWS4-HMAC-SHA256", q.Get("X-Amz-Algorithm"))
	assert.Equal(t, "AKIDEXAMPLE/20240102/eu-north-1/kinesisvideo/aws4_request", q.Get("X-Amz-Credential"))
	assert.Equal(t, "token", q.Get("X-Amz-Security-Token"))
	assert.NotEmpty(t, q.Get("X-Amz-Signature"))

	again, err := Presign(context.Background(), relayConfig("wss://m-1.kinesisvideo.eu-north-1.amazonaws.com", domain.RoleResponder), at)
	require.NoError(t, err)
	assert.Equal(t, signed, again)

	master, err := Presign(context.Background(), relayConfig("wss://m-1.kinesisvideo.eu-north-1.amazonaws.com", domain.RoleInitiator), at)
	require.NoError(t, err)
	mu, _ := url.Parse(master)
	assert.Empty(t, mu.Query().Get("X-Amz-ClientId"))
}

type handler struct {
	offers     chan string
	answers    chan string
	candidates chan string
	closed     chan error
}

func newHandler() *handler {
	return &handler{
		offers:     make(chan string, 4),
		answers:    make(chan string, 4),
		candidates: make(chan string, 4),
		closed:     make(chan error, 4),
	}
}

func (h *handler) OnSdpOffer(sd webrtc.SessionDescription, from string) {
	h.offers <- from + ":" + sd.SDP
}

func (h *handler) OnSdpAnswer(sd webrtc.SessionDescription, from string) {
	h.answers <- from + ":" + sd.SDP
}

func (h *handler) OnIceCandidate(c webrtc.ICECandidateInit, from string) {
	h.candidates <- from + ":" + c.Candidate
}

func (h *handler) OnClose(err error) { h.closed <- err }

type fakeRelay struct {
	srv      *httptest.Server
	query    chan url.Values
	received chan outbound
	conns    chan *websocket.Conn
}

func newFakeRelay(t *testing.T) *fakeRelay {
	f := &fakeRelay{
		query:    make(chan url.Values, 1),
		received: make(chan outbound, 8),
		conns:    make(chan *websocket.Conn, 1),
	}
	up := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.query <- r.URL.Query()
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.conns <- ws
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var m outbound
			if json.Unmarshal(data, &m) == nil {
				f.received <- m
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRelay) url() string { return "ws" + strings.TrimPrefix(f.srv.URL, "http") }

func deliver(t *testing.T, ws *websocket.Conn, kind string, payload any, sender string) {
	t.Helper()
	p, err := encodePayload(payload)
	require.NoError(t, err)
	b, err := json.Marshal(inbound{MessageType: kind, MessagePayload: p, SenderClientID: sender})
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, b))
}

func wait[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
	var zero T
	return zero
}

func TestResponderExchange(t *testing.T) {
	f := newFakeRelay(t)
	h := newHandler()
	ch, err := NewDialer().Dial(context.Background(), relayConfig(f.url(), domain.RoleResponder), h)
	require.NoError(t, err)
	defer ch.Close()

	q := wait(t, f.query)
	assert.Equal(t, "bob", q.Get("X-Amz-ClientId"))
	ws := wait(t, f.conns)

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}
	require.NoError(t, ch.SendSdpOffer(offer, core.InitiatorPeerID))
	got := wait(t, f.received)
	assert.Equal(t, actionSdpOffer, got.Action)
	assert.Empty(t, got.RecipientClientID)
	assert.NotEmpty(t, got.CorrelationID)
	sd, err := decodeDescription(got.MessagePayload)
	require.NoError(t, err)
	assert.Equal(t, offer, sd)

	deliver(t, ws, actionSdpAnswer, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, "")
	assert.Equal(t, core.InitiatorPeerID+":v=0 answer", wait(t, h.answers))

	deliver(t, ws, actionIceCandidate, webrtc.ICECandidateInit{Candidate: "candidate:1"}, "")
	assert.Equal(t, core.InitiatorPeerID+":candidate:1", wait(t, h.candidates))
}

func TestInitiatorAddressesRecipients(t *testing.T) {
	f := newFakeRelay(t)
	h := newHandler()
	ch, err := NewDialer().Dial(context.Background(), relayConfig(f.url(), domain.RoleInitiator), h)
	require.NoError(t, err)
	defer ch.Close()
	ws := wait(t, f.conns)

	deliver(t, ws, actionSdpOffer, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "o"}, "bob")
	assert.Equal(t, "bob:o", wait(t, h.offers))

	require.NoError(t, ch.SendSdpAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "a"}, "bob"))
	require.NoError(t, ch.SendIceCandidate(webrtc.ICECandidateInit{Candidate: "c"}, "bob"))
	answer := wait(t, f.received)
	cand := wait(t, f.received)
	assert.Equal(t, "bob", answer.RecipientClientID)
	assert.Equal(t, actionIceCandidate, cand.Action)
	assert.Equal(t, "bob", cand.RecipientClientID)
	c, err := decodeCandidate(cand.MessagePayload)
	require.NoError(t, err)
	assert.Equal(t, "c", c.Candidate)
}

func TestRemoteCloseReportedOnce(t *testing.T) {
	f := newFakeRelay(t)
	h := newHandler()
	ch, err := NewDialer().Dial(context.Background(), relayConfig(f.url(), domain.RoleResponder), h)
	require.NoError(t, err)
	ws := wait(t, f.conns)
	require.NoError(t, ws.Close())

	wait(t, h.closed)
	ch.Close()
	assert.ErrorIs(t, ch.SendSdpOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "o"}, ""), domain.ErrChannelClosed)
	select {
	case <-h.closed:
		t.Fatal("OnClose reported twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLocalCloseNotReported(t *testing.T) {
	f := newFakeRelay(t)
	h := newHandler()
	ch, err := NewDialer().Dial(context.Background(), relayConfig(f.url(), domain.RoleResponder), h)
	require.NoError(t, err)
	wait(t, f.conns)
	ch.Close()
	ch.Close()
	select {
	case <-h.closed:
		t.Fatal("local close reported")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDialFailure(t *testing.T) {
	_, err := NewDialer().Dial(context.Background(), relayConfig("ws://127.0.0.1:1", domain.RoleResponder), newHandler())
	assert.Error(t, err)
}
