// Package mem provides an in-process transport.
//
// Transports attach to a shared Network and find each other by port. All
// delivery happens through each side's event queue, so a test can drive a
// server and several clients from one goroutine by calling Poll on each in
// turn, and every interleaving is deterministic.
//
//	net := mem.NewNetwork()
//	srv := mem.New(net, mem.WithKey("secret"))
//	cli := mem.New(net)
//	_ = srv.StartServer(7777)
//	_ = cli.StartClient("localhost", 7777, "secret")
//	srv.Poll() // admits the client
//	cli.Poll() // observes the connection
package mem
