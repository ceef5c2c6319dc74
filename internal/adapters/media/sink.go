package media

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/roomvoice/internal/core"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type rtpSource interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

type rtpRecorder interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

// Sink plays remote audio by draining each remote track. With a record directory
// set, Opus tracks are also written to one Ogg file per remote participant.
type Sink struct {
	dir string
	now func() time.Time

	mu      sync.Mutex
	players map[string]*player
}

var _ core.AudioSink = (*Sink)(nil)

type player struct {
	cancel context.CancelFunc
	done   chan struct{}
	path   string
}

func NewSink(recordDir string) *Sink {
	return &Sink{
		dir:     recordDir,
		now:     time.Now,
		players: make(map[string]*player),
	}
}

// Attach starts playing track for remoteID, replacing any earlier track.
func (s *Sink) Attach(remoteID string, track *webrtc.TrackRemote) {
	s.attach(remoteID, track, track.Codec().MimeType)
}

func (s *Sink) attach(remoteID string, src rtpSource, mime string) {
	logger := log.With().
		Str("module", "sink").
		Str("remote_id", remoteID).
		Logger()

	var rec rtpRecorder
	var path string
	if s.dir != "" && strings.EqualFold(mime, webrtc.MimeTypeOpus) {
		path = filepath.Join(s.dir, fmt.Sprintf("%s-%d.ogg", remoteID, s.now().Unix()))
		w, err := oggwriter.New(path, opusClockRate, 2)
		if err != nil {
			logger.Error().Err(errors.Wrap(err, "ogg writer")).Str("path", path).Msg("recording disabled")
			path = ""
		} else {
			rec = w
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &player{cancel: cancel, done: make(chan struct{}), path: path}

	s.mu.Lock()
	if old, ok := s.players[remoteID]; ok {
		logger.Info().Msg("replacing existing track for remote")
		old.cancel()
	}
	s.players[remoteID] = p
	s.mu.Unlock()

	logger.Info().Str("codec", mime).Str("record", path).Msg("starting playback")
	go s.play(ctx, remoteID, p, src, rec, &logger)
}

// play reads RTP until the track ends or the player is cancelled. A track that ends
// on its own is forgotten unless a newer one replaced it.
func (s *Sink) play(ctx context.Context, remoteID string, p *player, src rtpSource, rec rtpRecorder, logger *zerolog.Logger) {
	defer close(p.done)
	defer func() {
		s.mu.Lock()
		if s.players[remoteID] == p {
			delete(s.players, remoteID)
		}
		s.mu.Unlock()
	}()
	var packets int
	defer func() {
		if rec != nil {
			if err := rec.Close(); err != nil {
				logger.Error().Err(err).Msg("close recording")
			}
		}
		logger.Info().Int("packets", packets).Msg("playback stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkt, _, err := src.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Msg("remote track ended")
			return
		}
		packets++
		if rec == nil {
			continue
		}
		if err := rec.WriteRTP(pkt); err != nil {
			logger.Error().Err(err).Msg("write recording, continuing without it")
			_ = rec.Close()
			rec = nil
		}
	}
}

// Detach stops playback for remoteID. The reader exits once its track yields.
func (s *Sink) Detach(remoteID string) {
	s.mu.Lock()
	p, ok := s.players[remoteID]
	delete(s.players, remoteID)
	s.mu.Unlock()
	if ok {
		p.cancel()
	}
}

// Playing lists the remote ids with an attached track.
func (s *Sink) Playing() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.players))
	for id := range s.players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
