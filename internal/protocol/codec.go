package protocol

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

// ErrUnknownKind marks a well-formed envelope whose discriminator this client does not know.
var ErrUnknownKind = errors.New("unknown message kind")

// DecodeError is returned for any wire text that cannot be turned into a Message.
type DecodeError struct {
	Kind Kind
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Kind == "" {
		return "decode: " + e.Err.Error()
	}
	return fmt.Sprintf("decode %s: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type validator interface {
	validate() error
}

type envelope struct {
	Action Kind `json:"action"`
}

func decodeAs[T Message](data []byte) (Message, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

var decoders = map[Kind]func([]byte) (Message, error){
	KindCreateRoom:          decodeAs[CreateRoom],
	KindRoomCreated:         decodeAs[RoomCreated],
	KindJoinRoom:            decodeAs[JoinRoom],
	KindJoinResponse:        decodeAs[JoinResponse],
	KindJoinRequest:         decodeAs[JoinRequest],
	KindSendMessage:         decodeAs[SendMessage],
	KindMessage:             decodeAs[ChatMessage],
	KindGetMembers:          decodeAs[GetMembers],
	KindRoomMembers:         decodeAs[RoomMembers],
	KindCreateVoiceRoom:     decodeAs[CreateVoiceRoom],
	KindVoiceRoomCreated:    decodeAs[VoiceRoomCreated],
	KindVoiceRoomAvailable:  decodeAs[VoiceRoomAvailable],
	KindGetVoiceCredentials: decodeAs[GetVoiceCredentials],
	KindVoiceCredentials:    decodeAs[VoiceCredentials],
	KindEndVoiceRoom:        decodeAs[EndVoiceRoom],
	KindVoiceRoomEnded:      decodeAs[VoiceRoomEnded],
	KindError:               decodeAs[ErrorNotice],
}

// Encode renders m as a JSON object carrying its kind in the "action" field.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("encode: nil message")
	}
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	action, err := json.Marshal(m.Kind())
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	fields["action"] = action
	return json.Marshal(fields)
}

// Decode parses wire text into a typed Message. Every failure is a *DecodeError.
func Decode(data []byte) (msg Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			msg, err = nil, &DecodeError{Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if env.Action == "" {
		return nil, &DecodeError{Err: errors.New("missing action")}
	}
	decode, ok := decoders[env.Action]
	if !ok {
		return nil, &DecodeError{Kind: env.Action, Err: ErrUnknownKind}
	}
	m, err := decode(data)
	if err != nil {
		return nil, &DecodeError{Kind: env.Action, Err: err}
	}
	if v, ok := m.(validator); ok {
		if err := v.validate(); err != nil {
			return nil, &DecodeError{Kind: env.Action, Err: err}
		}
	}
	return m, nil
}
