package domain

type (
	RoomID   string
	RoomName string
)

// Room is replaced, never mutated, so IsLocalAdmin stays what it was at resolution time.
type Room struct {
	ID           RoomID   `json:"roomId"`
	Name         RoomName `json:"roomName"`
	IsLocalAdmin bool     `json:"isLocalAdmin"`
}

// RoomState is the admission state of the local session.
type RoomState int

const (
	RoomNone RoomState = iota
	RoomRequestingCreate
	RoomRequestingJoin
	RoomActive
	RoomClosed
)

func (s RoomState) String() string {
	switch s {
	case RoomNone:
		return "none"
	case RoomRequestingCreate:
		return "requesting_create"
	case RoomRequestingJoin:
		return "requesting_join"
	case RoomActive:
		return "active"
	case RoomClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func (s RoomState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
