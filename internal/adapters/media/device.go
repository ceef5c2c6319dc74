// Package media provides the local capture device and the remote audio sink.
package media

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/roomvoice/internal/core"
	"github.com/dkeye/roomvoice/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// SourceSilence generates Opus comfort silence instead of reading a file.
const SourceSilence = "silence"

const (
	frameDuration = 20 * time.Millisecond
	opusClockRate = 48000
	// samples per 20ms frame at 48kHz
	frameSamples = 960
)

// opusSilence is a single Opus frame that decodes to 20ms of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

var opusCapability = webrtc.RTPCodecCapability{
	MimeType:  webrtc.MimeTypeOpus,
	ClockRate: opusClockRate,
	Channels:  2,
}

type rtpWriter interface {
	WriteRTP(*rtp.Packet) error
}

type sampleWriter interface {
	WriteSample(media.Sample) error
}

// Device stands in for the microphone. Source is either SourceSilence or the path
// of an Ogg/Opus file that is looped for as long as the stream lives.
type Device struct {
	source string
	tick   time.Duration
}

var _ core.MediaDevice = (*Device)(nil)

func NewDevice(source string) *Device {
	if source == "" {
		source = SourceSilence
	}
	return &Device{source: source, tick: frameDuration}
}

func (d *Device) Acquire(ctx context.Context, c core.MediaConstraints) (core.MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	logger := log.With().Str("module", "media").Str("stream_id", id).Logger()
	logger.Info().
		Str("source", d.source).
		Bool("echo_cancellation", c.EchoCancellation).
		Bool("noise_suppression", c.NoiseSuppression).
		Bool("auto_gain_control", c.AutoGainControl).
		Msg("acquiring local audio")

	if d.source == SourceSilence {
		track, err := webrtc.NewTrackLocalStaticRTP(opusCapability, "audio", id)
		if err != nil {
			return nil, errors.Wrap(err, "silence track")
		}
		s := newStream(id, track, logger)
		s.start(func(ctx context.Context) { s.pumpSilence(ctx, track, d.tick) })
		return s, nil
	}

	raw, err := os.ReadFile(d.source)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrMediaAccessDenied, "open %s: %v", d.source, err)
	}
	if _, _, err := oggreader.NewWith(bytes.NewReader(raw)); err != nil {
		return nil, errors.Wrapf(domain.ErrMediaAccessDenied, "%s is not ogg/opus: %v", d.source, err)
	}
	track, err := webrtc.NewTrackLocalStaticSample(opusCapability, "audio", id)
	if err != nil {
		return nil, errors.Wrap(err, "file track")
	}
	s := newStream(id, track, logger)
	s.start(func(ctx context.Context) { s.pumpFile(ctx, track, raw, d.tick) })
	return s, nil
}

// Stream is one acquired local audio stream with a single track.
type Stream struct {
	id      string
	track   webrtc.TrackLocal
	enabled atomic.Bool
	written atomic.Int64
	logger  zerolog.Logger

	cancel context.CancelFunc
	pump   conc.WaitGroup
	once   sync.Once
}

var _ core.MediaStream = (*Stream)(nil)

func newStream(id string, track webrtc.TrackLocal, logger zerolog.Logger) *Stream {
	s := &Stream{id: id, track: track, logger: logger}
	s.enabled.Store(true)
	return s
}

func (s *Stream) start(pump func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.pump.Go(func() { pump(ctx) })
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Tracks() []webrtc.TrackLocal { return []webrtc.TrackLocal{s.track} }

// SetEnabled pauses or resumes the pump; a muted stream sends nothing.
func (s *Stream) SetEnabled(on bool) {
	s.enabled.Store(on)
	s.logger.Info().Bool("enabled", on).Msg("local audio toggled")
}

func (s *Stream) Enabled() bool { return s.enabled.Load() }

// Written reports how many frames the pump has handed to the track.
func (s *Stream) Written() int64 { return s.written.Load() }

func (s *Stream) Close() {
	s.once.Do(func() {
		s.cancel()
		s.pump.Wait()
		s.logger.Info().Int64("frames", s.written.Load()).Msg("local audio closed")
	})
}

func (s *Stream) pumpSilence(ctx context.Context, w rtpWriter, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	var seq uint16
	var ts uint32
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		seq++
		ts += frameSamples
		if !s.enabled.Load() {
			continue
		}
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    111,
				SequenceNumber: seq,
				Timestamp:      ts,
			},
			Payload: opusSilence,
		}
		// ErrClosedPipe only means no peer is bound yet
		if err := w.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			s.logger.Error().Err(err).Msg("write RTP error, stopping")
			return
		}
		s.written.Add(1)
	}
}

func (s *Stream) pumpFile(ctx context.Context, w sampleWriter, raw []byte, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	reader, _, err := oggreader.NewWith(bytes.NewReader(raw))
	if err != nil {
		s.logger.Error().Err(err).Msg("ogg reader")
		return
	}
	var lastGranule uint64
	played := false
	for {
		page, header, err := reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if !played {
				s.logger.Warn().Msg("ogg file has no audio pages")
				return
			}
			// loop the file
			reader, _, err = oggreader.NewWith(bytes.NewReader(raw))
			lastGranule = 0
			played = false
			if err != nil {
				s.logger.Error().Err(err).Msg("ogg rewind")
				return
			}
			continue
		}
		if err != nil {
			s.logger.Error().Err(err).Msg("ogg page error, stopping")
			return
		}
		if bytes.HasPrefix(page, []byte("OpusTags")) {
			continue
		}

		duration := frameDuration
		if header.GranulePosition > lastGranule {
			d := time.Duration(header.GranulePosition-lastGranule) * time.Second / opusClockRate
			if d <= time.Second {
				duration = d
			}
		}
		lastGranule = header.GranulePosition
		played = true

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !s.enabled.Load() {
			continue
		}
		if err := w.WriteSample(media.Sample{Data: page, Duration: duration}); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			s.logger.Error().Err(err).Msg("write sample error, stopping")
			return
		}
		s.written.Add(1)
	}
}
