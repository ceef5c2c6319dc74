// Package http serves the local control API: state, user actions, an SSE event
// stream and Prometheus metrics.
package http

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomvoice/internal/app/orch"
	"github.com/dkeye/roomvoice/internal/config"
	"github.com/dkeye/roomvoice/internal/metrics"
)

// Caller runs fn on the event loop and waits for it.
type Caller interface {
	Call(ctx context.Context, fn func() error) error
}

type API struct {
	caller  Caller
	client  *orch.Client
	hub     *Hub
	chat    *ActionLimiter
	metrics *metrics.Metrics
}

func NewAPI(caller Caller, client *orch.Client, hub *Hub, chat *ActionLimiter, m *metrics.Metrics) *API {
	return &API{caller: caller, client: client, hub: hub, chat: chat, metrics: m}
}

func SetupRouter(cfg *config.Config, api *API) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/state", api.state)
	r.GET("/events", api.events)
	if api.metrics != nil {
		r.GET("/metrics", gin.WrapH(api.metrics.Handler()))
	}

	r.POST("/room", api.createRoom)
	r.POST("/room/join", api.joinRoom)
	r.POST("/room/leave", api.leaveRoom)
	r.POST("/chat", api.sendChat)
	r.POST("/members/refresh", api.refreshMembers)
	r.POST("/members/:user/:decision", api.decide)

	voice := r.Group("/voice")
	voice.POST("/start", api.startVoice)
	voice.POST("/join", api.joinVoice)
	voice.POST("/end", api.endVoice)
	voice.POST("/mute", api.mute)

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
