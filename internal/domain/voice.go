package domain

type VoiceRoomID string

type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

type VoiceStatus string

const (
	VoiceNone                VoiceStatus = "none"
	VoiceCreating            VoiceStatus = "creating"
	VoiceAwaitingCredentials VoiceStatus = "awaiting_credentials"
	VoiceSignalingOpen       VoiceStatus = "signaling_open"
	VoiceConnected           VoiceStatus = "connected"
	VoiceEnded               VoiceStatus = "ended"
	VoiceFailed              VoiceStatus = "failed"
)

// Idle reports whether a new voice attempt may start from this status.
func (s VoiceStatus) Idle() bool {
	return s == VoiceNone || s == VoiceEnded || s == VoiceFailed
}

// VoiceSession is the per-room voice state. It carries no transport or media handles.
type VoiceSession struct {
	VoiceRoomID      VoiceRoomID `json:"voiceRoomId"`
	RoomID           RoomID      `json:"roomId"`
	Role             Role        `json:"role"`
	Status           VoiceStatus `json:"status"`
	InitiatorID      UserID      `json:"initiatorId,omitempty"`
	LocalMediaActive bool        `json:"localMediaActive"`
	Muted            bool        `json:"muted"`
}

// VoiceOffer is a voice session announced by someone else that the local user may join.
type VoiceOffer struct {
	VoiceRoomID VoiceRoomID `json:"voiceRoomId"`
	InitiatorID UserID      `json:"initiatorId"`
}
