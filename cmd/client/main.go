package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	api "github.com/dkeye/roomvoice/internal/adapters/http"
	"github.com/dkeye/roomvoice/internal/adapters/media"
	"github.com/dkeye/roomvoice/internal/adapters/relay"
	"github.com/dkeye/roomvoice/internal/adapters/rtc"
	"github.com/dkeye/roomvoice/internal/adapters/transport"
	"github.com/dkeye/roomvoice/internal/app/loop"
	"github.com/dkeye/roomvoice/internal/app/orch"
	"github.com/dkeye/roomvoice/internal/app/voice"
	"github.com/dkeye/roomvoice/internal/config"
	"github.com/dkeye/roomvoice/internal/core"
	"github.com/dkeye/roomvoice/internal/domain"
	"github.com/dkeye/roomvoice/internal/metrics"
)

// loopHandler hands channel events from the read goroutine to the event loop.
type loopHandler struct {
	l *loop.Loop
	d *orch.Dispatcher
}

func (h loopHandler) OnMessage(data []byte) { h.l.Post(func() { h.d.OnMessage(data) }) }
func (h loopHandler) OnClose(err error)     { h.l.Post(func() { h.d.OnClose(err) }) }

// noticeLog mirrors user-visible notices into the log.
type noticeLog struct{ core.NopObserver }

func (noticeLog) OnNotice(n core.Notice) {
	ev := log.Info()
	switch n.Level {
	case core.NoticeWarn:
		ev = log.Warn()
	case core.NoticeError:
		ev = log.Error()
	}
	ev.Str("module", "notice").Err(n.Err).Msg(n.Text)
}

type shutdowner interface {
	Shutdown(ctx context.Context)
}

// shutdown ends voice on the loop while the channel is still attached, so the service
// hears endVoiceRoom, then flushes and closes the channel.
func shutdown(ctx context.Context, l *loop.Loop, endVoice func() error, conn shutdowner) {
	if err := l.Call(ctx, endVoice); err != nil {
		log.Warn().Err(err).Msg("ending voice on shutdown")
	}
	conn.Shutdown(ctx)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "release" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	self, err := domain.NewSession(cfg.UserID)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid user id")
	}

	peers, err := rtc.NewFactory()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up webrtc")
	}

	m := metrics.New()
	hub := api.NewHub(64)
	l := loop.New()
	client := orch.New(orch.Options{
		Self:  self.UserID,
		Exec:  l,
		Obs:   core.Observers{hub, noticeLog{}},
		Media: media.NewDevice(cfg.Media.Source),
		Peers: peers,
		Relay: relay.NewDialer(),
		Sink:  media.NewSink(cfg.Media.RecordDir),
		Voice: voice.Config{
			CredentialTimeout: cfg.Voice.CredentialTimeout,
			MaxPeers:          cfg.Voice.MaxPeers,
			STUNURL:           cfg.Voice.STUNURL,
			Region:            cfg.Region,
			Constraints: core.MediaConstraints{
				EchoCancellation: cfg.Media.EchoCancellation,
				NoiseSuppression: cfg.Media.NoiseSuppression,
				AutoGainControl:  cfg.Media.AutoGainControl,
			},
		},
		Metrics: m,
	})

	conn, err := transport.Dial(ctx, cfg.Endpoint, self.UserID, transport.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		SendBuffer: cfg.SendBuffer,
	})
	if err != nil {
		log.Fatal().Err(err).Str("endpoint", cfg.Endpoint).Msg("failed to reach room service")
	}
	d := client.Dispatcher()
	l.Post(func() { d.Attach(conn) })

	// The loop outlives the connection so its close is handled before the loop stops.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := l.Run(loopCtx); !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("event loop stopped")
		}
	}()

	connCtx, stopConn := context.WithCancel(context.Background())
	defer stopConn()
	connDone := make(chan struct{})
	go func() {
		defer close(connDone)
		conn.Run(connCtx, loopHandler{l: l, d: d})
		log.Info().Str("endpoint", cfg.Endpoint).Msg("room service connection ended")
	}()

	g, gctx := errgroup.WithContext(ctx)
	if cfg.ControlAddr != "" {
		srv := &http.Server{
			Addr:              cfg.ControlAddr,
			Handler:           api.SetupRouter(cfg, api.NewAPI(l, client, hub, api.NewActionLimiter(cfg.Chat.Rate, cfg.Chat.Burst), m)),
			ReadHeaderTimeout: 5 * time.Second,
			// event streams end with the process
			BaseContext: func(net.Listener) context.Context { return gctx },
		}
		g.Go(func() error {
			log.Info().Str("addr", cfg.ControlAddr).Msg("Control API started")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Control API forced to shutdown")
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		shutdown(shutdownCtx, l, client.EndVoice, conn)
		stopConn()
		<-connDone
		// The connection's close was posted before this barrier.
		if err := l.Call(shutdownCtx, func() error { return nil }); err != nil {
			log.Warn().Err(err).Msg("event loop did not settle")
		}
		return nil
	})

	log.Info().Str("user", string(self.UserID)).Str("endpoint", cfg.Endpoint).Msg("Room voice client started")
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("client stopped with error")
	}
	stopLoop()
	<-loopDone
	l.Wait()
	log.Info().Msg("Client exited gracefully")
}
