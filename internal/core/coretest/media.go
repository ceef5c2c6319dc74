package coretest

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/roomvoice/internal/core"
)

type MediaDevice struct {
	mu      sync.Mutex
	Err     error
	Streams []*MediaStream
	Seen    []core.MediaConstraints
}

func (d *MediaDevice) Acquire(_ context.Context, c core.MediaConstraints) (core.MediaStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Seen = append(d.Seen, c)
	if d.Err != nil {
		return nil, d.Err
	}
	s := &MediaStream{Enabled: true}
	d.Streams = append(d.Streams, s)
	return s, nil
}

// Last returns the most recently acquired stream.
func (d *MediaDevice) Last() *MediaStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Streams) == 0 {
		return nil
	}
	return d.Streams[len(d.Streams)-1]
}

type MediaStream struct {
	Enabled    bool
	CloseCalls int
	tracks     []webrtc.TrackLocal
}

func (s *MediaStream) Tracks() []webrtc.TrackLocal { return s.tracks }
func (s *MediaStream) SetEnabled(v bool)           { s.Enabled = v }
func (s *MediaStream) Close()                      { s.CloseCalls++ }

type Sink struct {
	Attached map[string]int
	Detached map[string]int
}

func NewSink() *Sink {
	return &Sink{Attached: make(map[string]int), Detached: make(map[string]int)}
}

func (s *Sink) Attach(remoteID string, _ *webrtc.TrackRemote) { s.Attached[remoteID]++ }
func (s *Sink) Detach(remoteID string)                        { s.Detached[remoteID]++ }
