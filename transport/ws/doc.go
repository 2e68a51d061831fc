// Package ws implements transport.Transport over WebSockets using
// nhooyr.io/websocket, for deployments where only HTTP traffic is
// reachable.
//
// The server upgrades requests on /packetnet. A client presents the hex
// BLAKE2b digest of its key in the Packetnet-Key header; the server holds
// the request until its next Poll decides admission and answers 403 with a
// Packetnet-Reject reason when the candidate is refused.
//
// Each binary message is a kind byte, a channel byte and the frame. Kind 1
// is a kick: its payload is the disconnect reason, and close code 4000
// follows. All channels share the one connection, so every frame arrives
// reliably and in order.
package ws
