package core

import "github.com/dkeye/roomvoice/internal/protocol"

// Frame is one encoded protocol message.
type Frame []byte

// MessageChannel abstracts the bidirectional channel to the room service.
// Owned by the adapter; the adapter must Close() it.
type MessageChannel interface {
	TrySend(Frame) error
	Close()
}

// Emitter is how state machines send protocol messages. The dispatcher is the only
// implementation that touches the wire.
type Emitter interface {
	Emit(protocol.Message) error
}
