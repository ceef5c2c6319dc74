// Package transport is the websocket channel to the room service.
package transport

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomvoice/internal/core"
	"github.com/dkeye/roomvoice/internal/domain"
)

const writeWait = 5 * time.Second

// Handler receives inbound frames and the close, on the read goroutine.
type Handler interface {
	OnMessage(data []byte)
	OnClose(err error)
}

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
}

// Conn is a core.MessageChannel over one websocket.
type Conn struct {
	conn *websocket.Conn
	send chan core.Frame
	opts Options

	mu     sync.RWMutex
	closed bool
	// writerDone closes when writePump returns.
	writerDone chan struct{}
}

// Dial opens endpoint with the user id in the query, as the room service expects.
func Dial(ctx context.Context, endpoint string, user domain.UserID, opts Options) (*Conn, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "parse endpoint")
	}
	q := u.Query()
	q.Set("userId", string(user))
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", u.Host)
	}
	log.Info().Str("module", "transport").Str("host", u.Host).Str("user", string(user)).Msg("connected")
	return newConn(ws, opts), nil
}

func newConn(ws *websocket.Conn, opts Options) *Conn {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	if opts.ReadLimit > 0 {
		ws.SetReadLimit(opts.ReadLimit)
	}
	return &Conn{conn: ws, send: make(chan core.Frame, opts.SendBuffer), opts: opts, writerDone: make(chan struct{})}
}

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return domain.ErrChannelClosed
	}
	select {
	case c.send <- f:
	default:
		return domain.ErrBackpressure
	}
	return nil
}

func (c *Conn) Close() {
	if c.closeSend() {
		_ = c.conn.Close()
	}
}

// Shutdown refuses new frames, lets the write pump flush the queued ones and send a
// close frame, then closes the connection. It gives up waiting when ctx is done.
func (c *Conn) Shutdown(ctx context.Context) {
	c.closeSend()
	select {
	case <-c.writerDone:
	case <-ctx.Done():
		log.Warn().Str("module", "transport").Msg("shutdown before queue flushed")
	}
	_ = c.conn.Close()
}

// closeSend reports whether this call closed the queue.
func (c *Conn) closeSend() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}

// Run pumps until ctx is done or the connection fails, then closes the connection and
// reports the cause to h exactly once.
func (c *Conn) Run(ctx context.Context, h Handler) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	go func() {
		<-ctx.Done()
		c.Close()
	}()
	err := c.readPump(h)
	c.Close()
	if ctx.Err() != nil && err != nil {
		err = ctx.Err()
	}
	h.OnClose(err)
}

func (c *Conn) readPump(h Handler) error {
	pongWait := c.opts.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info().Str("module", "transport").Msg("closed by peer")
			} else {
				log.Error().Err(err).Str("module", "transport").Msg("readPump read error")
			}
			return err
		}
		h.OnMessage(data)
	}
}

func (c *Conn) writePump(ctx context.Context) {
	defer close(c.writerDone)
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				// Queue drained after closeSend.
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "transport").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "transport").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "transport").Msg("ping failed")
				return
			}
		}
	}
}
