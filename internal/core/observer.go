package core

import (
	"time"

	"github.com/dkeye/roomvoice/internal/domain"
)

type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeWarn  NoticeLevel = "warn"
	NoticeError NoticeLevel = "error"
)

// Notice is a user-visible status line.
type Notice struct {
	Level NoticeLevel `json:"level"`
	Text  string      `json:"text"`
	Err   error       `json:"-"`
}

type RoomSnapshot struct {
	State domain.RoomState `json:"state"`
	Room  *domain.Room     `json:"room,omitempty"`
}

type ChatLine struct {
	UserID domain.UserID `json:"userId"`
	Text   string        `json:"text"`
	At     time.Time     `json:"at"`
	Own    bool          `json:"own"`
}

type VoiceSnapshot struct {
	Session   *domain.VoiceSession `json:"session,omitempty"`
	Available *domain.VoiceOffer   `json:"available,omitempty"`
	Peers     []string             `json:"peers"`
	// CanStart is the "start voice" affordance.
	CanStart bool `json:"canStart"`
}

// Observer is the presentation boundary. Implementations must not call back into
// the state machines synchronously.
type Observer interface {
	OnNotice(Notice)
	OnRoom(RoomSnapshot)
	OnParticipants([]domain.Participant)
	OnChat(ChatLine)
	OnVoice(VoiceSnapshot)
}

// Observers fans every callback out to each member.
type Observers []Observer

func (os Observers) OnNotice(n Notice) {
	for _, o := range os {
		o.OnNotice(n)
	}
}

func (os Observers) OnRoom(s RoomSnapshot) {
	for _, o := range os {
		o.OnRoom(s)
	}
}

func (os Observers) OnParticipants(ps []domain.Participant) {
	for _, o := range os {
		o.OnParticipants(ps)
	}
}

func (os Observers) OnChat(c ChatLine) {
	for _, o := range os {
		o.OnChat(c)
	}
}

func (os Observers) OnVoice(s VoiceSnapshot) {
	for _, o := range os {
		o.OnVoice(s)
	}
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) OnNotice(Notice)                     {}
func (NopObserver) OnRoom(RoomSnapshot)                 {}
func (NopObserver) OnParticipants([]domain.Participant) {}
func (NopObserver) OnChat(ChatLine)                     {}
func (NopObserver) OnVoice(VoiceSnapshot)               {}
