package factory

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/packetnet/config"
	"github.com/opd-ai/packetnet/transport"
	"github.com/opd-ai/packetnet/transport/mem"
	"github.com/opd-ai/packetnet/transport/quic"
	"github.com/opd-ai/packetnet/transport/ws"
)

// ErrNetworkRequired indicates a mem transport was requested without a
// network to attach it to.
var ErrNetworkRequired = errors.New("mem transport requires a network")

// TransportFactory creates transports from a default configuration.
// It is safe for concurrent use; all methods are protected by an internal mutex.
type TransportFactory struct {
	mu            sync.RWMutex
	defaultConfig config.Config
}

// NewTransportFactory creates a factory whose defaults are config.Default
// with PACKETNET_* environment overrides applied.
func NewTransportFactory() *TransportFactory {
	cfg := config.FromEnv(config.Default())
	logConfigurationInfo(cfg)

	return &TransportFactory{defaultConfig: cfg}
}

func logConfigurationInfo(cfg config.Config) {
	logrus.WithFields(logrus.Fields{
		"function":          "NewTransportFactory",
		"transport":         cfg.Transport,
		"address":           cfg.Address,
		"port":              cfg.Port,
		"key_set":           cfg.Key != "",
		"idle_timeout":      cfg.IdleTimeout.String(),
		"handshake_timeout": cfg.HandshakeTimeout.String(),
	}).Info("Transport factory initialized")
}

// CreateTransport builds a transport from the factory's default configuration.
func (f *TransportFactory) CreateTransport(network *mem.Network) (transport.Transport, error) {
	f.mu.RLock()
	cfg := f.defaultConfig
	f.mu.RUnlock()

	return NewTransport(cfg, network)
}

// NewTransport builds the transport cfg names. network is only used, and
// then required, for the mem transport.
func NewTransport(cfg config.Config, network *mem.Network) (transport.Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "NewTransport",
		"transport": cfg.Transport,
	}).Info("Creating transport")

	switch cfg.Transport {
	case config.TransportQUIC:
		return quic.New(
			quic.WithKey(cfg.Key),
			quic.WithIdleTimeout(cfg.IdleTimeout),
			quic.WithHandshakeTimeout(cfg.HandshakeTimeout),
		), nil
	case config.TransportWS:
		return ws.New(
			ws.WithKey(cfg.Key),
			ws.WithHandshakeTimeout(cfg.HandshakeTimeout),
		), nil
	case config.TransportMem:
		if network == nil {
			return nil, ErrNetworkRequired
		}
		return mem.New(network, mem.WithKey(cfg.Key)), nil
	default:
		return nil, fmt.Errorf("create transport: unknown kind %q", cfg.Transport)
	}
}

// SwitchTransport changes the kind of transport the factory creates.
func (f *TransportFactory) SwitchTransport(kind string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := f.defaultConfig
	next.Transport = kind
	if err := next.Validate(); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "SwitchTransport",
		"previous": f.defaultConfig.Transport,
		"current":  kind,
	}).Info("Switching factory transport")

	f.defaultConfig = next
	return nil
}

// GetCurrentConfig returns a copy of the current default configuration.
func (f *TransportFactory) GetCurrentConfig() config.Config {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.defaultConfig
}

// UpdateConfig replaces the factory's default configuration.
func (f *TransportFactory) UpdateConfig(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":      "UpdateConfig",
		"old_transport": f.defaultConfig.Transport,
		"new_transport": cfg.Transport,
	}).Info("Updating factory configuration")

	f.defaultConfig = cfg
	return nil
}
