// Package limits provides centralized frame size constants and validation
// functions for packetnet. Every transport validates outbound frames against
// these limits before touching the network, and inbound readers use them to
// bound allocation.
//
// # Size Hierarchy
//
//   - MaxDatagramSize (1100 bytes): unreliable channels. A datagram must fit
//     in one UDP packet under the conservative QUIC path MTU.
//
//   - MaxKickPayload (1000 bytes): the encoded disconnect payload sent by
//     Kick. It travels as a close reason and must fit in one packet.
//
//   - MaxFrameSize (1MB): the reliable channel. Frames are length-prefixed on
//     a stream, so they may span many packets, but the limit prevents memory
//     exhaustion from a hostile length prefix.
//
// # Validation Functions
//
//	if err := limits.ValidateDatagram(frame); err != nil {
//	    // ErrFrameEmpty or ErrFrameTooLarge
//	}
package limits
