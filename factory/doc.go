// Package factory creates packetnet transports from configuration.
//
// The factory decouples session code from the concrete transport, so the
// same program can run over QUIC in production, over WebSockets behind an
// HTTP-only proxy, or in memory under test, without changing the code that
// drives the session manager.
//
// # Configuration
//
// NewTransportFactory starts from config.Default and applies the
// environment overrides understood by config.FromEnv:
//   - PACKETNET_TRANSPORT: "quic", "ws" or "mem"
//   - PACKETNET_ADDRESS: server address for clients
//   - PACKETNET_PORT: integer port in [0, 65535]
//   - PACKETNET_KEY: shared connection key
//   - PACKETNET_LOG_LEVEL: a logrus level name
//
// # Usage
//
//	tr, err := factory.NewTransport(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	mgr, err := session.New(tr, registry.New())
//
// # Testing Support
//
// The mem transport needs a shared *mem.Network so that servers and clients
// created by the factory can find each other:
//
//	network := mem.NewNetwork()
//	f := factory.NewTransportFactory()
//	_ = f.SwitchTransport(config.TransportMem)
//	srv, _ := f.CreateTransport(network)
//	cli, _ := f.CreateTransport(network)
package factory
