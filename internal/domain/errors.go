package domain

import "errors"

var (
	ErrEmptyRoomName     = errors.New("room name empty")
	ErrEmptyRoomID       = errors.New("room id empty")
	ErrNoRoom            = errors.New("not in a room")
	ErrNotAuthorized     = errors.New("not authorized")
	ErrInvalidTransition = errors.New("invalid participant transition")
	ErrInvalidState      = errors.New("invalid state")
	ErrEmptyMessage      = errors.New("message empty")

	ErrDuplicateLink     = errors.New("duplicate peer link")
	ErrUnknownPeer       = errors.New("unknown peer")
	ErrTooManyPeers      = errors.New("too many peers")
	ErrMediaAccessDenied = errors.New("media access denied")
	ErrCredentialTimeout = errors.New("credential timeout")
	ErrSignalingFailure  = errors.New("signaling failure")
	ErrConnectionFailed  = errors.New("connection failed")
	ErrNoVoiceRoom       = errors.New("no voice room")
	ErrMediaInactive     = errors.New("local media inactive")
	ErrRemote            = errors.New("remote error")
	ErrChannelClosed     = errors.New("channel closed")
	ErrBackpressure      = errors.New("backpressure")
)
