// Package protocol defines the room-service message kinds and their wire codec.
package protocol

import (
	"errors"
	"fmt"

	"github.com/dkeye/roomvoice/internal/domain"
)

// Kind is the value of the envelope's "action" discriminator.
type Kind string

const (
	KindCreateRoom          Kind = "createRoom"
	KindRoomCreated         Kind = "roomCreated"
	KindJoinRoom            Kind = "joinRoom"
	KindJoinResponse        Kind = "joinResponse"
	KindJoinRequest         Kind = "joinRequest"
	KindSendMessage         Kind = "sendMessage"
	KindMessage             Kind = "message"
	KindGetMembers          Kind = "getMembers"
	KindRoomMembers         Kind = "roomMembers"
	KindCreateVoiceRoom     Kind = "createVoiceRoom"
	KindVoiceRoomCreated    Kind = "voiceRoomCreated"
	KindVoiceRoomAvailable  Kind = "voiceRoomAvailable"
	KindGetVoiceCredentials Kind = "getVoiceCredentials"
	KindVoiceCredentials    Kind = "voiceCredentials"
	KindEndVoiceRoom        Kind = "endVoiceRoom"
	KindVoiceRoomEnded      Kind = "voiceRoomEnded"
	KindError               Kind = "error"
)

// Outbound reports whether the kind is sent by the client rather than the service.
func (k Kind) Outbound() bool {
	switch k {
	case KindCreateRoom, KindJoinRoom, KindSendMessage, KindGetMembers,
		KindCreateVoiceRoom, KindGetVoiceCredentials, KindEndVoiceRoom:
		return true
	}
	return false
}

// Message is any protocol envelope body.
type Message interface {
	Kind() Kind
}

type CreateRoom struct {
	RoomName domain.RoomName `json:"roomName"`
}

type RoomCreated struct {
	RoomID   domain.RoomID   `json:"roomId"`
	RoomName domain.RoomName `json:"roomName"`
}

type JoinSubAction string

const (
	JoinRequestAction JoinSubAction = "request"
	JoinApprove       JoinSubAction = "approve"
	JoinReject        JoinSubAction = "reject"
)

// JoinRoom carries both the join request and the admin's decision.
type JoinRoom struct {
	SubAction    JoinSubAction `json:"subAction"`
	RoomID       domain.RoomID `json:"roomId"`
	TargetUserID domain.UserID `json:"targetUserId,omitempty"`
}

func (m JoinRoom) validate() error {
	switch m.SubAction {
	case JoinRequestAction, JoinApprove, JoinReject:
		return nil
	}
	return fmt.Errorf("bad subAction %q", m.SubAction)
}

type JoinResponse struct {
	RoomID domain.RoomID            `json:"roomId"`
	Status domain.ParticipantStatus `json:"status"`
}

func (m JoinResponse) validate() error {
	if m.Status != domain.StatusApproved && m.Status != domain.StatusRejected {
		return fmt.Errorf("bad join status %q", m.Status)
	}
	return nil
}

type JoinRequest struct {
	UserID domain.UserID `json:"userId"`
	RoomID domain.RoomID `json:"roomId,omitempty"`
}

type SendMessage struct {
	Message string `json:"message"`
}

// ChatMessage is chat text relayed by the service. Timestamp is unix milliseconds.
type ChatMessage struct {
	UserID    domain.UserID `json:"userId"`
	Message   string        `json:"message"`
	Timestamp int64         `json:"timestamp"`
}

type GetMembers struct {
	RoomID domain.RoomID `json:"roomId"`
}

type RoomMembers struct {
	RoomID       domain.RoomID        `json:"roomId,omitempty"`
	Participants []domain.Participant `json:"participants"`
}

type CreateVoiceRoom struct {
	RoomID domain.RoomID `json:"roomId"`
}

type VoiceRoomCreated struct {
	VoiceRoomID domain.VoiceRoomID `json:"voiceRoomId"`
}

func (m VoiceRoomCreated) validate() error { return requireVoiceRoomID(m.VoiceRoomID) }

type VoiceRoomAvailable struct {
	VoiceRoomID domain.VoiceRoomID `json:"voiceRoomId"`
	InitiatorID domain.UserID      `json:"masterUserId"`
}

func (m VoiceRoomAvailable) validate() error { return requireVoiceRoomID(m.VoiceRoomID) }

type GetVoiceCredentials struct {
	VoiceRoomID domain.VoiceRoomID `json:"voiceRoomId"`
}

type EndVoiceRoom struct {
	VoiceRoomID domain.VoiceRoomID `json:"voiceRoomId"`
}

type VoiceRoomEnded struct {
	VoiceRoomID domain.VoiceRoomID `json:"voiceRoomId"`
}

func (m VoiceRoomEnded) validate() error { return requireVoiceRoomID(m.VoiceRoomID) }

func requireVoiceRoomID(id domain.VoiceRoomID) error {
	if id == "" {
		return errors.New("missing voiceRoomId")
	}
	return nil
}

// ErrorTypeVoiceRoom tags errors raised while creating or joining a voice room.
const ErrorTypeVoiceRoom = "voiceRoomError"

type ErrorNotice struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

func (CreateRoom) Kind() Kind          { return KindCreateRoom }
func (RoomCreated) Kind() Kind         { return KindRoomCreated }
func (JoinRoom) Kind() Kind            { return KindJoinRoom }
func (JoinResponse) Kind() Kind        { return KindJoinResponse }
func (JoinRequest) Kind() Kind         { return KindJoinRequest }
func (SendMessage) Kind() Kind         { return KindSendMessage }
func (ChatMessage) Kind() Kind         { return KindMessage }
func (GetMembers) Kind() Kind          { return KindGetMembers }
func (RoomMembers) Kind() Kind         { return KindRoomMembers }
func (CreateVoiceRoom) Kind() Kind     { return KindCreateVoiceRoom }
func (VoiceRoomCreated) Kind() Kind    { return KindVoiceRoomCreated }
func (VoiceRoomAvailable) Kind() Kind  { return KindVoiceRoomAvailable }
func (GetVoiceCredentials) Kind() Kind { return KindGetVoiceCredentials }
func (VoiceCredentials) Kind() Kind    { return KindVoiceCredentials }
func (EndVoiceRoom) Kind() Kind        { return KindEndVoiceRoom }
func (VoiceRoomEnded) Kind() Kind      { return KindVoiceRoomEnded }
func (ErrorNotice) Kind() Kind         { return KindError }
