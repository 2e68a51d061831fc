package session

import (
	"fmt"

	"github.com/opd-ai/packetnet/packet"
	"github.com/opd-ai/packetnet/registry"
	"github.com/opd-ai/packetnet/transport"
	"github.com/sirupsen/logrus"
)

// Send delivers value, registered under name, to peers on channel ch.
// Unregistered names fail with registry.ErrNotRegistered before anything is
// encoded; an empty peer list is a successful no-op.
func (m *Manager) Send(name string, value any, ch transport.Channel, peers ...*transport.Peer) error {
	if !m.registry.IsRegistered(name) {
		return fmt.Errorf("send: %w: %q", registry.ErrNotRegistered, name)
	}
	if len(peers) == 0 {
		return nil
	}
	if m.state == StateIdle {
		return fmt.Errorf("send %q: %w", name, ErrNotRunning)
	}

	frame, err := m.registry.Encode(name, value)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}

	if err := m.transport.Send(frame, ch, peers...); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.Send",
			"name":     name,
			"channel":  ch,
			"peers":    len(peers),
			"error":    err.Error(),
		}).Warn("Send failed")
		return fmt.Errorf("send %q: %w", name, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Manager.Send",
		"name":       name,
		"channel":    ch,
		"peers":      len(peers),
		"frame_size": len(frame),
	}).Debug("Frame sent")
	return nil
}

// Broadcast sends value to every connected peer of a server session.
func (m *Manager) Broadcast(name string, value any, ch transport.Channel) error {
	if m.state != StateServerRunning {
		return fmt.Errorf("broadcast %q: %w", name, ErrNotServer)
	}
	return m.Send(name, value, ch, m.Peers()...)
}

// SendToServer sends value from a client session to its server.
func (m *Manager) SendToServer(name string, value any, ch transport.Channel) error {
	if !m.registry.IsRegistered(name) {
		return fmt.Errorf("send: %w: %q", registry.ErrNotRegistered, name)
	}
	if m.state != StateClientRunning {
		return fmt.Errorf("send %q: %w", name, ErrNotClient)
	}
	if m.serverPeer == nil {
		return fmt.Errorf("send %q: %w", name, ErrNotConnected)
	}
	return m.Send(name, value, ch, m.serverPeer)
}

// Kick disconnects peer from a server session. value, registered under
// name, travels as the disconnect reason and is dispatched on the client
// before its disconnect notification.
func (m *Manager) Kick(name string, value any, peer *transport.Peer) error {
	if m.state != StateServerRunning {
		return fmt.Errorf("kick: %w", ErrNotServer)
	}

	frame, err := m.registry.Encode(name, value)
	if err != nil {
		return fmt.Errorf("kick: %w", err)
	}

	if err := m.transport.Kick(frame, peer); err != nil {
		return fmt.Errorf("kick %s: %w", peer, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Manager.Kick",
		"peer":     peer.String(),
		"reason":   name,
	}).Info("Peer kicked")
	return nil
}

func (m *Manager) sendAssignPlayerID(p *transport.Peer) {
	err := m.Send(packet.AssignPlayerIDName, packet.AssignPlayerID{ID: int32(p.ID)}, transport.ChannelReliable, p)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.sendAssignPlayerID",
			"peer":     p.String(),
			"error":    err.Error(),
		}).Error("Failed to send player id")
	}
}
