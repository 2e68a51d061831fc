package session

import (
	"errors"

	"github.com/opd-ai/packetnet/packet"
	"github.com/opd-ai/packetnet/registry"
	"github.com/opd-ai/packetnet/transport"
	"github.com/sirupsen/logrus"
)

// OnPeerConnected fires on the server after a peer has been assigned its id
// and sent AssignPlayerID.
func (m *Manager) OnPeerConnected(fn func(p *transport.Peer)) {
	m.onPeerConnected = append(m.onPeerConnected, fn)
}

// OnPeerDisconnected fires on the server when a peer leaves the table.
func (m *Manager) OnPeerDisconnected(fn func(p *transport.Peer, info transport.DisconnectInfo)) {
	m.onPeerDisconnected = append(m.onPeerDisconnected, fn)
}

// OnJoined fires on the client when its player id arrives.
func (m *Manager) OnJoined(fn func(id int)) {
	m.onJoined = append(m.onJoined, fn)
}

// OnDisconnected fires on the client when the server connection is lost or
// refused, just before the session stops.
func (m *Manager) OnDisconnected(fn func(info transport.DisconnectInfo)) {
	m.onDisconnected = append(m.onDisconnected, fn)
}

// OnUnknownPacket fires when a frame arrives whose type id has no handler.
func (m *Manager) OnUnknownPacket(fn func(err *registry.UnknownPacketError)) {
	m.onUnknownPacket = append(m.onUnknownPacket, fn)
}

// OnTransportError fires for non-fatal socket errors.
func (m *Manager) OnTransportError(fn func(err *transport.Error)) {
	m.onTransportError = append(m.onTransportError, fn)
}

// OnServerInit runs on every StartServer, after transport listeners are
// cleared and before the session's own listeners are armed.
func (m *Manager) OnServerInit(fn func(ev *transport.Events)) {
	m.onServerInit = append(m.onServerInit, fn)
}

// OnClientInit is the client counterpart of OnServerInit.
func (m *Manager) OnClientInit(fn func(ev *transport.Events)) {
	m.onClientInit = append(m.onClientInit, fn)
}

func (m *Manager) serverConnected(p *transport.Peer) {
	p.ID = m.nextID
	m.nextID++
	m.peers[p.ID] = p

	m.sendAssignPlayerID(p)

	logrus.WithFields(logrus.Fields{
		"function": "Manager.serverConnected",
		"peer_id":  p.ID,
		"endpoint": p.Endpoint,
	}).Info("Peer joined")

	for _, fn := range m.onPeerConnected {
		fn(p)
	}
}

func (m *Manager) serverDisconnected(p *transport.Peer, info transport.DisconnectInfo) {
	existing, ok := m.peers[p.ID]
	if !ok || existing != p {
		return
	}
	delete(m.peers, p.ID)

	logrus.WithFields(logrus.Fields{
		"function": "Manager.serverDisconnected",
		"peer_id":  p.ID,
		"endpoint": p.Endpoint,
		"reason":   info.Reason.String(),
	}).Info("Peer left")

	for _, fn := range m.onPeerDisconnected {
		fn(p, info)
	}
}

func (m *Manager) serverFrame(p *transport.Peer, data []byte, ch transport.Channel) {
	m.dispatch(p, data, ch)
}

func (m *Manager) clientConnected(p *transport.Peer) {
	m.serverPeer = p

	logrus.WithFields(logrus.Fields{
		"function": "Manager.clientConnected",
		"endpoint": p.Endpoint,
	}).Info("Connected to server, awaiting player id")
}

func (m *Manager) clientDisconnected(p *transport.Peer, info transport.DisconnectInfo) {
	if info.Reason == transport.ReasonKicked && len(info.Data) > 0 {
		m.dispatch(nil, info.Data, transport.ChannelReliable)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Manager.clientDisconnected",
		"endpoint": p.Endpoint,
		"reason":   info.Reason.String(),
	}).Info("Disconnected from server")

	for _, fn := range m.onDisconnected {
		fn(info)
	}
	m.StopAll()
}

func (m *Manager) clientFrame(_ *transport.Peer, data []byte, ch transport.Channel) {
	m.dispatch(nil, data, ch)
}

func (m *Manager) transportError(err *transport.Error) {
	logrus.WithFields(logrus.Fields{
		"function": "Manager.transportError",
		"op":       err.Op,
		"endpoint": err.Endpoint,
		"kind":     err.Kind.String(),
		"error":    err.Err,
	}).Error("Transport error")

	for _, fn := range m.onTransportError {
		fn(err)
	}
}

// dispatch routes one inbound frame. Failures are isolated to the frame.
func (m *Manager) dispatch(sender *transport.Peer, data []byte, ch transport.Channel) {
	err := m.registry.Dispatch(sender, data, ch)
	if err == nil {
		return
	}

	var unknown *registry.UnknownPacketError
	if errors.As(err, &unknown) {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.dispatch",
			"type_id":  unknown.TypeID.String(),
			"sender":   sender.String(),
		}).Warn("Unknown packet dropped, is it registered on both ends?")

		for _, fn := range m.onUnknownPacket {
			fn(unknown)
		}
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "Manager.dispatch",
		"sender":   sender.String(),
		"channel":  ch,
		"error":    err.Error(),
	}).Warn("Frame dropped")
}

func (m *Manager) handleAssignPlayerID(_ *transport.Peer, pkt packet.AssignPlayerID, _ transport.Channel) {
	if m.state != StateClientRunning {
		return
	}
	if m.joined {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.handleAssignPlayerID",
			"local_id": m.localID,
			"offered":  pkt.ID,
		}).Warn("Duplicate player id ignored")
		return
	}

	m.localID = int(pkt.ID)
	m.joined = true

	logrus.WithFields(logrus.Fields{
		"function": "Manager.handleAssignPlayerID",
		"local_id": m.localID,
	}).Info("Joined server")

	for _, fn := range m.onJoined {
		fn(m.localID)
	}
}
