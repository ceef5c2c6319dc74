package http

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomvoice/internal/core"
	"github.com/dkeye/roomvoice/internal/domain"
)

// Event is one server-sent event.
type Event struct {
	Name string
	Data any
}

type noticeEvent struct {
	Level core.NoticeLevel `json:"level"`
	Text  string           `json:"text"`
	Error string           `json:"error,omitempty"`
}

// Hub turns observer callbacks into events for every SSE subscriber. A subscriber
// that falls behind loses events rather than stalling the loop.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	buffer int
}

var _ core.Observer = (*Hub)(nil)

func NewHub(buffer int) *Hub {
	return &Hub{subs: make(map[chan Event]struct{}), buffer: buffer}
}

// Subscribe returns the event stream and its cancel function.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
		})
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			log.Warn().Str("module", "adapters.http").Str("event", ev.Name).Msg("slow subscriber, event dropped")
		}
	}
}

func (h *Hub) OnNotice(n core.Notice) {
	ev := noticeEvent{Level: n.Level, Text: n.Text}
	if n.Err != nil {
		ev.Error = n.Err.Error()
	}
	h.publish(Event{Name: "notice", Data: ev})
}

func (h *Hub) OnRoom(s core.RoomSnapshot) { h.publish(Event{Name: "room", Data: s}) }

func (h *Hub) OnParticipants(ps []domain.Participant) {
	h.publish(Event{Name: "participants", Data: ps})
}

func (h *Hub) OnChat(c core.ChatLine) { h.publish(Event{Name: "chat", Data: c}) }

func (h *Hub) OnVoice(s core.VoiceSnapshot) { h.publish(Event{Name: "voice", Data: s}) }
