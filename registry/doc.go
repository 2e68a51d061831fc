// Package registry implements the packet registry and dispatcher: it maps
// stable message type ids to decode+invoke closures and routes frames in
// both directions.
//
// # Registration
//
// A message type is registered under a caller-chosen stable name. The name
// is hashed to the wire id once, at registration time, and the decode step is
// captured in a closure so nothing is resolved per message:
//
//	reg := registry.New()
//	err := registry.Register(reg, "ChatMessage",
//	    func(sender *transport.Peer, msg ChatMessage, ch transport.Channel) {
//	        fmt.Println(sender, msg.Text)
//	    })
//
// Registration fails with ErrAlreadyRegistered when the id is already held:
// either the same name with a different handler, or a different name whose
// CRC-32C collides. Re-registering the identical name and handler succeeds
// without change.
//
// # Outbound
//
// Encode produces the complete frame a transport carries:
//
//	frame, err := reg.Encode("ChatMessage", ChatMessage{Text: "hi"})
//
// # Inbound
//
// Dispatch decodes the envelope, looks up the id and invokes the handler.
// Unknown ids return an *UnknownPacketError instead of failing loudly, so a
// peer running a newer or older registration set cannot break the dispatch
// loop.
//
// # Thread Safety
//
// The registry is guarded by a sync.RWMutex. Handlers run outside the lock
// and may register or unregister packets.
package registry
