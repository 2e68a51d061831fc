// Package quic implements transport.Transport over QUIC using quic-go.
//
// # Channels
//
// Each connection carries exactly one bidirectional stream, opened by the
// client. Channel 0 frames travel on it with a 4-byte big-endian length
// prefix, so they are reliable and ordered. Every other channel uses QUIC
// datagrams with a one-byte channel prefix; these are neither retransmitted
// nor ordered, and must fit limits.MaxDatagramSize.
//
// # Handshake
//
// After the TLS handshake the client writes a hello on the stream: the
// magic "PNET", a version byte and the BLAKE2b digest of its key. The
// server queues the candidate and decides during its next Poll. Acceptance
// is a single ack byte ahead of any frame; rejection closes the connection
// with an application error whose message is the rejection reason.
//
// The certificate is self-signed and not verified. QUIC still encrypts the
// traffic, but peers are not authenticated beyond the shared key.
//
// # Disconnects
//
// Application error codes distinguish an orderly close, a rejection, a kick
// and a protocol violation. A kick's payload is the close reason, which is
// why it is bounded by limits.MaxKickPayload.
package quic
