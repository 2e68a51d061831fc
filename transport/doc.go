// Package transport defines the connection layer beneath the session
// manager: peers, channels, the listener registry and the Transport
// interface that concrete backends implement.
//
// # Delivery Model
//
// Channel 0 is reliable and ordered. Every other channel is unreliable and
// unordered. Frames are opaque byte slices; the transport neither inspects
// nor reframes them.
//
// # Events
//
// Backends run their socket I/O on background goroutines but never call
// listeners from them. Instead they push closures onto a Queue, and Poll
// drains it on the caller's goroutine:
//
//	ev := tr.Events()
//	ev.OnConnected(func(p *transport.Peer) { ... })
//	ev.OnFrame(func(p *transport.Peer, data []byte, ch transport.Channel) { ... })
//	for running {
//	    tr.Poll()
//	}
//
// Each Queue generation corresponds to one session. StopAll resets it, so
// events from connections of a stopped session never reach listeners of the
// next one. The stopped notification itself is queued outside the
// generation and fires on the next Poll.
//
// # Admission
//
// A client presents the BLAKE2b digest of its key. Events.Admit checks the
// digest against the server's key and then asks each connecting listener;
// the first error rejects the candidate.
//
// # Backends
//
// Three implementations ship with the module: mem (in-process, for tests),
// quic (UDP, the reference network backend) and ws (WebSocket, for
// environments where only HTTP is reachable).
package transport
