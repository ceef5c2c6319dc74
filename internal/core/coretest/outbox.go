package coretest

import (
	"sync"

	"github.com/dkeye/roomvoice/internal/core"
	"github.com/dkeye/roomvoice/internal/domain"
	"github.com/dkeye/roomvoice/internal/protocol"
)

// Outbox is a core.Emitter that records messages instead of sending them.
type Outbox struct {
	mu       sync.Mutex
	Messages []protocol.Message
	Err      error
}

func (o *Outbox) Emit(m protocol.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return o.Err
	}
	o.Messages = append(o.Messages, m)
	return nil
}

// Of returns the recorded messages of kind k.
func (o *Outbox) Of(k protocol.Kind) []protocol.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []protocol.Message
	for _, m := range o.Messages {
		if m.Kind() == k {
			out = append(out, m)
		}
	}
	return out
}

func (o *Outbox) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Messages = nil
}

// Channel is a core.MessageChannel that records frames.
type Channel struct {
	mu         sync.Mutex
	Frames     []core.Frame
	Err        error
	CloseCalls int
}

func (c *Channel) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.Frames = append(c.Frames, f)
	return nil
}

func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCalls++
}

// Decoded decodes every recorded frame.
func (c *Channel) Decoded() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Message, 0, len(c.Frames))
	for _, f := range c.Frames {
		m, err := protocol.Decode(f)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Recorder is a core.Observer keeping every callback.
type Recorder struct {
	mu           sync.Mutex
	Notices      []core.Notice
	Rooms        []core.RoomSnapshot
	Participants [][]domain.Participant
	Chats        []core.ChatLine
	Voices       []core.VoiceSnapshot
}

func (r *Recorder) OnNotice(n core.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Notices = append(r.Notices, n)
}

func (r *Recorder) OnRoom(s core.RoomSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Rooms = append(r.Rooms, s)
}

func (r *Recorder) OnParticipants(ps []domain.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Participants = append(r.Participants, ps)
}

func (r *Recorder) OnChat(c core.ChatLine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Chats = append(r.Chats, c)
}

func (r *Recorder) OnVoice(s core.VoiceSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Voices = append(r.Voices, s)
}

// LastVoice returns the latest voice snapshot.
func (r *Recorder) LastVoice() core.VoiceSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Voices) == 0 {
		return core.VoiceSnapshot{}
	}
	return r.Voices[len(r.Voices)-1]
}

// LastNotice returns the latest notice.
func (r *Recorder) LastNotice() core.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Notices) == 0 {
		return core.Notice{}
	}
	return r.Notices[len(r.Notices)-1]
}
