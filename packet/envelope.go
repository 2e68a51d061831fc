package packet

import (
	"errors"
	"fmt"
)

// ErrMalformedEnvelope indicates that raw bytes did not decode to an Envelope.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope wraps every application message on the wire: the message type
// identifier followed by the opaque serialized payload. It is encoded as a
// two-element array, field order is part of the wire format.
type Envelope struct {
	_       struct{} `cbor:",toarray"`
	TypeID  TypeID
	Payload []byte
}

// NewEnvelope builds a fresh envelope. The payload slice is not copied.
func NewEnvelope(id TypeID, payload []byte) Envelope {
	return Envelope{TypeID: id, Payload: payload}
}

// EncodeEnvelope serializes env with s.
func EncodeEnvelope(s Serializer, env Envelope) ([]byte, error) {
	data, err := s.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope %s: %w", env.TypeID, err)
	}
	return data, nil
}

// DecodeEnvelope parses raw into an Envelope.
func DecodeEnvelope(s Serializer, raw []byte) (Envelope, error) {
	var env Envelope
	if len(raw) == 0 {
		return env, fmt.Errorf("%w: empty frame", ErrMalformedEnvelope)
	}
	if err := s.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return env, nil
}
