package media

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/roomvoice/internal/core"
	"github.com/dkeye/roomvoice/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingWriter struct {
	mu      sync.Mutex
	packets []*rtp.Packet
}

func (w *countingWriter) WriteRTP(p *rtp.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.packets = append(w.packets, p)
	return nil
}

func (w *countingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.packets)
}

type chanSource chan *rtp.Packet

func (c chanSource) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	pkt, ok := <-c
	if !ok {
		return nil, nil, io.EOF
	}
	return pkt, nil, nil
}

func writeOgg(t *testing.T, frames int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voice.ogg")
	w, err := oggwriter.New(path, opusClockRate, 2)
	require.NoError(t, err)
	for i := 1; i <= frames; i++ {
		require.NoError(t, w.WriteRTP(&rtp.Packet{
			Header:  rtp.Header{Version: 2, SequenceNumber: uint16(i), Timestamp: uint32(i * frameSamples)},
			Payload: opusSilence,
		}))
	}
	require.NoError(t, w.Close())
	return path
}

func TestSilenceDeviceYieldsOpusTrack(t *testing.T) {
	d := NewDevice("")
	ms, err := d.Acquire(t.Context(), core.MediaConstraints{EchoCancellation: true})
	require.NoError(t, err)

	tracks := ms.Tracks()
	require.Len(t, tracks, 1)
	assert.Equal(t, webrtc.RTPCodecTypeAudio, tracks[0].Kind())
	assert.Equal(t, ms.(*Stream).ID(), tracks[0].StreamID())

	ms.Close()
	ms.Close()
}

func TestSilencePumpHonoursMute(t *testing.T) {
	w := &countingWriter{}
	s := newStream("s1", nil, zeroLogger())
	s.SetEnabled(false)
	s.start(func(ctx context.Context) { s.pumpSilence(ctx, w, time.Millisecond) })
	defer s.Close()

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, w.count())

	s.SetEnabled(true)
	require.Eventually(t, func() bool { return w.count() >= 3 }, time.Second, time.Millisecond)

	w.mu.Lock()
	first, second := w.packets[0], w.packets[1]
	w.mu.Unlock()
	assert.Equal(t, first.SequenceNumber+1, second.SequenceNumber)
	assert.Equal(t, first.Timestamp+frameSamples, second.Timestamp)
}

func TestMissingFileIsAccessDenied(t *testing.T) {
	d := NewDevice(filepath.Join(t.TempDir(), "absent.ogg"))
	_, err := d.Acquire(t.Context(), core.MediaConstraints{})
	assert.ErrorIs(t, err, domain.ErrMediaAccessDenied)
}

func TestNonOggFileIsAccessDenied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))
	_, err := NewDevice(path).Acquire(t.Context(), core.MediaConstraints{})
	assert.ErrorIs(t, err, domain.ErrMediaAccessDenied)
}

func TestAcquireAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := NewDevice("").Acquire(ctx, core.MediaConstraints{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileStreamLoops(t *testing.T) {
	d := NewDevice(writeOgg(t, 3))
	d.tick = time.Millisecond

	ms, err := d.Acquire(t.Context(), core.MediaConstraints{})
	require.NoError(t, err)
	defer ms.Close()

	s := ms.(*Stream)
	require.Eventually(t, func() bool { return s.Written() > 6 }, 2*time.Second, time.Millisecond)
}

func TestSinkRecordsOpus(t *testing.T) {
	dir := t.TempDir()
	sink := NewSink(dir)
	sink.now = func() time.Time { return time.Unix(1700000000, 0) }

	src := make(chanSource)
	sink.attach("bob", src, webrtc.MimeTypeOpus)
	assert.Equal(t, []string{"bob"}, sink.Playing())

	sink.mu.Lock()
	p := sink.players["bob"]
	sink.mu.Unlock()

	for i := 1; i <= 5; i++ {
		src <- &rtp.Packet{
			Header:  rtp.Header{Version: 2, SequenceNumber: uint16(i), Timestamp: uint32(i * frameSamples)},
			Payload: opusSilence,
		}
	}
	close(src)
	<-p.done
	assert.Empty(t, sink.Playing(), "ended track is forgotten")

	path := filepath.Join(dir, "bob-1700000000.ogg")
	assert.Equal(t, path, p.path)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestSinkWithoutRecordDirOnlyDrains(t *testing.T) {
	sink := NewSink("")
	src := make(chanSource)
	sink.attach("bob", src, webrtc.MimeTypeOpus)

	sink.mu.Lock()
	p := sink.players["bob"]
	sink.mu.Unlock()
	assert.Empty(t, p.path)

	src <- &rtp.Packet{Payload: opusSilence}
	sink.Detach("bob")
	assert.Empty(t, sink.Playing())

	close(src)
	<-p.done
}

func TestSinkAttachReplaces(t *testing.T) {
	sink := NewSink("")
	first := make(chanSource)
	sink.attach("bob", first, webrtc.MimeTypeOpus)
	sink.mu.Lock()
	old := sink.players["bob"]
	sink.mu.Unlock()

	second := make(chanSource)
	sink.attach("bob", second, webrtc.MimeTypeOpus)
	assert.Equal(t, []string{"bob"}, sink.Playing())

	close(first)
	<-old.done
	assert.Equal(t, []string{"bob"}, sink.Playing(), "the replacement stays")
	sink.Detach("bob")
	close(second)
}

func zeroLogger() zerolog.Logger { return zerolog.Nop() }
