package packet

// Names of the packets every session registers. They are the historical type
// names, which keeps their wire ids stable across implementations.
const (
	AssignPlayerIDName  = "AssignPlayerIdPacket"
	StringPacketName    = "StringPacket"
	ByteArrayPacketName = "ByteArrayPacket"
)

// AssignPlayerID is sent by the server, unicast and exactly once, to every
// client it accepts. It carries the client's session-local player id.
type AssignPlayerID struct {
	_  struct{} `cbor:",toarray"`
	ID int32
}

// StringPacket carries a single string.
type StringPacket struct {
	_    struct{} `cbor:",toarray"`
	Data string
}

// ByteArrayPacket carries an opaque byte slice.
type ByteArrayPacket struct {
	_    struct{} `cbor:",toarray"`
	Data []byte
}
