// Package packet defines the packetnet wire vocabulary: message type
// identifiers, the envelope that frames every message, the serializer
// contract, and the built-in packets.
//
// # Type Identifiers
//
// A TypeID is the CRC-32C (Castagnoli) of a message type's registered name,
// reinterpreted as a signed 32-bit value:
//
//	id := packet.ComputeTypeID("ChatMessage")
//
// Ids are stable across processes and independent of registration order.
// Collisions are possible in principle and are detected by the registry.
//
// # Envelope
//
// Every frame handed to a transport is an encoded Envelope, a two element
// array of (int32 type id, bytes payload):
//
//	payload, _ := s.Marshal(msg)
//	frame, _ := packet.EncodeEnvelope(s, packet.NewEnvelope(id, payload))
//
// The payload is opaque above the serializer; only the handler registered
// for the id decodes it.
//
// # Serializer
//
// The default Serializer is CBOR with Core Deterministic Encoding, so equal
// values always produce equal bytes. Structs that want a compact positional
// encoding use the `cbor:",toarray"` tag, as the built-in packets do.
package packet
