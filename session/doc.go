// Package session implements the role manager that sits between application
// code and a transport.
//
// # Roles
//
// A Manager is Idle, ServerRunning or ClientRunning. StartServer and
// StartClient always begin with a full StopAll, so swapping roles resets the
// peer table, the id counter and every transport listener:
//
//	reg := registry.New()
//	m, err := session.New(quic.New(quic.WithKey("secret")), reg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := m.StartServer(27015); err != nil {
//	    log.Fatal(err)
//	}
//
// # Player Ids
//
// The server numbers peers from 0 in connection order and immediately sends
// each one an AssignPlayerIdPacket carrying its id. Ids are never reused
// until the server session restarts. On the client, LocalID is -1 until the
// packet arrives, at which point OnJoined fires.
//
// # Polling
//
// Nothing in this package blocks. The host calls Poll (or Run) from its main
// loop; connection events and inbound messages are delivered from inside
// that call. Unknown packets and decode failures are logged, reported
// through OnUnknownPacket, and never interrupt the poll.
//
// # Dispatch Paths
//
// On a server, handlers receive the sending peer. On a client, handlers
// receive a nil sender: the only possible sender is the server.
package session
