package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/roomvoice/internal/core"
	"github.com/dkeye/roomvoice/internal/domain"
)

type recorder struct {
	mu     sync.Mutex
	frames []string
	closes int
	got    chan struct{}
	done   chan struct{}
}

func newRecorder() *recorder {
	return &recorder{got: make(chan struct{}, 16), done: make(chan struct{})}
}

func (r *recorder) OnMessage(data []byte) {
	r.mu.Lock()
	r.frames = append(r.frames, string(data))
	r.mu.Unlock()
	r.got <- struct{}{}
}

func (r *recorder) OnClose(error) {
	r.mu.Lock()
	r.closes++
	r.mu.Unlock()
	close(r.done)
}

// echoServer echoes every text frame and reports the userId it saw.
func echoServer(t *testing.T, users chan<- string) *httptest.Server {
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		users <- r.URL.Query().Get("userId")
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := ws.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

func wsURL(s *httptest.Server) string { return "ws" + strings.TrimPrefix(s.URL, "http") }

func TestRoundTripThroughServer(t *testing.T) {
	users := make(chan string, 1)
	srv := echoServer(t, users)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, wsURL(srv), "alice", Options{ReadLimit: 1 << 15, PingPeriod: time.Second, SendBuffer: 4})
	require.NoError(t, err)
	assert.Equal(t, "alice", <-users)

	rec := newRecorder()
	go c.Run(ctx, rec)

	require.NoError(t, c.TrySend(core.Frame(`{"action":"getMembers","roomId":"R1"}`)))
	select {
	case <-rec.got:
	case <-ctx.Done():
		t.Fatal("no echo")
	}
	rec.mu.Lock()
	assert.Equal(t, []string{`{"action":"getMembers","roomId":"R1"}`}, rec.frames)
	rec.mu.Unlock()

	cancel()
	<-rec.done
	assert.Equal(t, 1, rec.closes)
	assert.ErrorIs(t, c.TrySend(core.Frame("x")), domain.ErrChannelClosed)
}

func TestServerCloseReported(t *testing.T) {
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		_ = ws.Close()
	}))
	defer srv.Close()

	c, err := Dial(context.Background(), wsURL(srv), "bob", Options{})
	require.NoError(t, err)
	rec := newRecorder()
	go c.Run(context.Background(), rec)

	select {
	case <-rec.done:
	case <-time.After(5 * time.Second):
		t.Fatal("close not reported")
	}
	assert.Equal(t, 1, rec.closes)
}

func TestBackpressure(t *testing.T) {
	users := make(chan string, 1)
	srv := echoServer(t, users)
	defer srv.Close()

	c, err := Dial(context.Background(), wsURL(srv), "alice", Options{SendBuffer: 1})
	require.NoError(t, err)
	defer c.Close()

	// Nothing drains the queue until Run starts.
	require.NoError(t, c.TrySend(core.Frame("a")))
	assert.ErrorIs(t, c.TrySend(core.Frame("b")), domain.ErrBackpressure)
}

func TestDialBadEndpoint(t *testing.T) {
	_, err := Dial(context.Background(), "://nope", "alice", Options{})
	assert.Error(t, err)
}

func TestShutdownFlushesQueuedFrames(t *testing.T) {
	type result struct {
		frames []string
		err    error
	}
	got := make(chan result, 1)
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		var res result
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				res.err = err
				got <- res
				return
			}
			res.frames = append(res.frames, string(data))
		}
	}))
	defer srv.Close()

	c, err := Dial(context.Background(), wsURL(srv), "alice", Options{SendBuffer: 4})
	require.NoError(t, err)
	require.NoError(t, c.TrySend(core.Frame(`{"action":"endVoiceRoom","voiceRoomId":"V1"}`)))
	require.NoError(t, c.TrySend(core.Frame(`{"action":"leaveRoom","roomId":"R1"}`)))

	rec := newRecorder()
	go c.Run(context.Background(), rec)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.Shutdown(ctx)
	assert.ErrorIs(t, c.TrySend(core.Frame("x")), domain.ErrChannelClosed)

	select {
	case res := <-got:
		assert.Equal(t, []string{
			`{"action":"endVoiceRoom","voiceRoomId":"V1"}`,
			`{"action":"leaveRoom","roomId":"R1"}`,
		}, res.frames)
		assert.True(t, websocket.IsCloseError(res.err, websocket.CloseNormalClosure))
	case <-time.After(5 * time.Second):
		t.Fatal("server saw no close")
	}
	select {
	case <-rec.done:
	case <-time.After(5 * time.Second):
		t.Fatal("close not reported")
	}
	assert.Equal(t, 1, rec.closes)
}
