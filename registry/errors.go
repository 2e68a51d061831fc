package registry

import (
	"errors"
	"fmt"

	"github.com/opd-ai/packetnet/packet"
	"github.com/opd-ai/packetnet/transport"
)

var (
	// ErrAlreadyRegistered indicates the name is taken by a different
	// handler, or its type id collides with another name.
	ErrAlreadyRegistered = errors.New("packet already registered")

	// ErrNotRegistered indicates no entry exists for the name.
	ErrNotRegistered = errors.New("packet not registered")

	// ErrNilHandler indicates a registration without a handler.
	ErrNilHandler = errors.New("nil packet handler")

	// ErrNilDecoder indicates a registration without a decoder.
	ErrNilDecoder = errors.New("nil packet decoder")

	// ErrDecode indicates a payload could not be decoded for its handler.
	ErrDecode = errors.New("packet decode failed")

	// ErrTypeMismatch indicates a value of the wrong Go type was sent under
	// a typed registration.
	ErrTypeMismatch = errors.New("packet value type mismatch")

	// ErrUnknownPacket is matched by every *UnknownPacketError.
	ErrUnknownPacket = errors.New("unknown packet")
)

// UnknownPacketError reports an inbound frame whose type id has no handler.
// Sender is nil on the client dispatch path.
type UnknownPacketError struct {
	TypeID packet.TypeID
	Sender *transport.Peer
}

func (e *UnknownPacketError) Error() string {
	return fmt.Sprintf("unknown packet %s from %s", e.TypeID, e.Sender)
}

func (e *UnknownPacketError) Unwrap() error {
	return ErrUnknownPacket
}
