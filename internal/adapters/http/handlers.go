package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomvoice/internal/app/orch"
	"github.com/dkeye/roomvoice/internal/domain"
)

type createRoomRequest struct {
	Name string `json:"name" binding:"required"`
}

type joinRoomRequest struct {
	RoomID string `json:"roomId" binding:"required"`
}

type chatRequest struct {
	Text string `json:"text" binding:"required"`
}

type joinVoiceRequest struct {
	VoiceRoomID string `json:"voiceRoomId"`
}

// muteRequest toggles when Muted is absent.
type muteRequest struct {
	Muted *bool `json:"muted"`
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrEmptyRoomName),
		errors.Is(err, domain.ErrEmptyRoomID),
		errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNoRoom),
		errors.Is(err, domain.ErrNoVoiceRoom),
		errors.Is(err, domain.ErrMediaInactive),
		errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, domain.ErrChannelClosed),
		errors.Is(err, domain.ErrBackpressure):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// run executes action on the loop and answers with the state it left behind.
func (a *API) run(c *gin.Context, name string, action func() error) {
	var st orch.State
	err := a.caller.Call(c.Request.Context(), func() error {
		if err := action(); err != nil {
			return err
		}
		st = a.client.State()
		return nil
	})
	if err != nil {
		status := statusOf(err)
		ev := log.Warn()
		if status == http.StatusInternalServerError {
			ev = log.Error()
		}
		ev.Str("module", "adapters.http").Str("action", name).Err(err).Int("status", status).Msg("action failed")
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (a *API) state(c *gin.Context) {
	a.run(c, "state", func() error { return nil })
}

func (a *API) createRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid name"})
		return
	}
	a.run(c, "create_room", func() error { return a.client.CreateRoom(req.Name) })
}

func (a *API) joinRoom(c *gin.Context) {
	var req joinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid roomId"})
		return
	}
	a.run(c, "join_room", func() error { return a.client.JoinRoom(req.RoomID) })
}

func (a *API) leaveRoom(c *gin.Context) {
	a.run(c, "leave_room", func() error {
		a.client.LeaveRoom()
		return nil
	})
}

func (a *API) sendChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid text"})
		return
	}
	if a.chat != nil && !a.chat.Allow("chat:"+c.ClientIP()) {
		a.metrics.RecordDropped("rate_limited")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many messages"})
		return
	}
	a.run(c, "send_chat", func() error { return a.client.SendChat(req.Text) })
}

func (a *API) refreshMembers(c *gin.Context) {
	a.run(c, "refresh_members", a.client.RefreshMembers)
}

func (a *API) decide(c *gin.Context) {
	user := domain.UserID(c.Param("user"))
	d := domain.Decision(c.Param("decision"))
	a.run(c, "decide", func() error { return a.client.Decide(user, d) })
}

func (a *API) startVoice(c *gin.Context) {
	a.run(c, "start_voice", a.client.StartVoice)
}

func (a *API) joinVoice(c *gin.Context) {
	var req joinVoiceRequest
	// an empty body joins the announced session
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	a.run(c, "join_voice", func() error { return a.client.JoinVoice(domain.VoiceRoomID(req.VoiceRoomID)) })
}

func (a *API) endVoice(c *gin.Context) {
	a.run(c, "end_voice", a.client.EndVoice)
}

func (a *API) mute(c *gin.Context) {
	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	a.run(c, "mute", func() error {
		if req.Muted == nil {
			_, err := a.client.ToggleMute()
			return err
		}
		return a.client.SetMuted(*req.Muted)
	})
}

// events streams observer callbacks as server-sent events, starting with the
// full state.
func (a *API) events(c *gin.Context) {
	ch, cancel := a.hub.Subscribe()
	defer cancel()

	var st orch.State
	if err := a.caller.Call(c.Request.Context(), func() error {
		st = a.client.State()
		return nil
	}); err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}

	log.Info().Str("module", "adapters.http").Str("remote", c.ClientIP()).Msg("event stream opened")
	c.SSEvent("state", st)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev := <-ch:
			c.SSEvent(ev.Name, ev.Data)
			return true
		}
	})
	log.Info().Str("module", "adapters.http").Str("remote", c.ClientIP()).Msg("event stream closed")
}
