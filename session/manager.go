package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/opd-ai/packetnet/packet"
	"github.com/opd-ai/packetnet/registry"
	"github.com/opd-ai/packetnet/transport"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotRunning indicates no session is active.
	ErrNotRunning = errors.New("session not running")

	// ErrNotServer indicates a server-only operation outside a server session.
	ErrNotServer = errors.New("session is not a server")

	// ErrNotClient indicates a client-only operation outside a client session.
	ErrNotClient = errors.New("session is not a client")

	// ErrNotConnected indicates the client has no server connection yet.
	ErrNotConnected = errors.New("not connected to server")

	// ErrRegistryInUse indicates the registry already serves another manager.
	ErrRegistryInUse = errors.New("registry already bound to a session manager")
)

// State is the active role.
type State int

const (
	StateIdle State = iota
	StateServerRunning
	StateClientRunning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateServerRunning:
		return "server_running"
	case StateClientRunning:
		return "client_running"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Manager owns the session role, the peer table and the player id
// handshake. It is driven entirely from Poll: every callback runs on the
// goroutine that polls, so none of its state is locked. A Manager must only
// be used from that one goroutine.
type Manager struct {
	transport transport.Transport
	registry  *registry.Registry

	state      State
	nextID     int
	peers      map[int]*transport.Peer
	localID    int
	joined     bool
	serverPeer *transport.Peer

	onPeerConnected    []func(p *transport.Peer)
	onPeerDisconnected []func(p *transport.Peer, info transport.DisconnectInfo)
	onJoined           []func(id int)
	onDisconnected     []func(info transport.DisconnectInfo)
	onUnknownPacket    []func(err *registry.UnknownPacketError)
	onTransportError   []func(err *transport.Error)
	onServerInit       []func(ev *transport.Events)
	onClientInit       []func(ev *transport.Events)
}

// New creates an idle manager and registers the built-in packets on reg.
// A registry serves at most one manager.
func New(tr transport.Transport, reg *registry.Registry) (*Manager, error) {
	if reg.IsRegistered(packet.AssignPlayerIDName) {
		return nil, ErrRegistryInUse
	}

	m := &Manager{
		transport: tr,
		registry:  reg,
		peers:     make(map[int]*transport.Peer),
		localID:   transport.UnassignedID,
	}

	if err := registry.Register(reg, packet.AssignPlayerIDName, m.handleAssignPlayerID); err != nil {
		return nil, fmt.Errorf("register built-in packets: %w", err)
	}
	if err := registry.Register(reg, packet.StringPacketName, ignoreStringPacket); err != nil {
		return nil, fmt.Errorf("register built-in packets: %w", err)
	}
	if err := registry.Register(reg, packet.ByteArrayPacketName, ignoreByteArrayPacket); err != nil {
		return nil, fmt.Errorf("register built-in packets: %w", err)
	}
	return m, nil
}

func ignoreStringPacket(*transport.Peer, packet.StringPacket, transport.Channel)       {}
func ignoreByteArrayPacket(*transport.Peer, packet.ByteArrayPacket, transport.Channel) {}

// Registry returns the packet registry.
func (m *Manager) Registry() *registry.Registry { return m.registry }

// Transport returns the underlying transport.
func (m *Manager) Transport() transport.Transport { return m.transport }

// State returns the active role.
func (m *Manager) State() State { return m.state }

func (m *Manager) IsServer() bool { return m.state == StateServerRunning }
func (m *Manager) IsClient() bool { return m.state == StateClientRunning }
func (m *Manager) IsActive() bool { return m.state != StateIdle }

// LocalID returns the client's player id, or transport.UnassignedID until
// the server has assigned one.
func (m *Manager) LocalID() int { return m.localID }

// Joined reports whether the client has received its player id.
func (m *Manager) Joined() bool { return m.joined }

// ServerPeer returns the client's handle to the server, nil until connected.
func (m *Manager) ServerPeer() *transport.Peer { return m.serverPeer }

// Peers returns the server's connected peers ordered by id.
func (m *Manager) Peers() []*transport.Peer {
	ids := make([]int, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]*transport.Peer, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.peers[id])
	}
	return out
}

// Peer returns the connected peer with the given id.
func (m *Manager) Peer(id int) (*transport.Peer, bool) {
	p, ok := m.peers[id]
	return p, ok
}

func (m *Manager) resetCounters() {
	m.nextID = 0
	m.peers = make(map[int]*transport.Peer)
	m.localID = transport.UnassignedID
	m.joined = false
	m.serverPeer = nil
}

// StartServer stops any running session, re-arms listeners and starts the
// transport as a server on port.
func (m *Manager) StartServer(port int) error {
	if m.state != StateIdle {
		m.StopAll()
	}
	m.resetCounters()

	ev := m.transport.Events()
	ev.Clear()
	for _, hook := range m.onServerInit {
		hook(ev)
	}
	ev.OnConnected(m.serverConnected)
	ev.OnDisconnected(m.serverDisconnected)
	ev.OnFrame(m.serverFrame)
	ev.OnError(m.transportError)

	if err := m.transport.StartServer(port); err != nil {
		ev.Clear()
		return fmt.Errorf("start server on port %d: %w", port, err)
	}
	m.state = StateServerRunning

	logrus.WithFields(logrus.Fields{
		"function": "Manager.StartServer",
		"port":     port,
	}).Info("Server session started")
	return nil
}

// StartClient stops any running session, re-arms listeners and starts
// connecting to address:port. Joining completes asynchronously: OnJoined
// fires once the server's player id arrives.
func (m *Manager) StartClient(address string, port int, key string) error {
	if m.state != StateIdle {
		m.StopAll()
	}
	m.resetCounters()

	ev := m.transport.Events()
	ev.Clear()
	for _, hook := range m.onClientInit {
		hook(ev)
	}
	ev.OnConnected(m.clientConnected)
	ev.OnDisconnected(m.clientDisconnected)
	ev.OnFrame(m.clientFrame)
	ev.OnError(m.transportError)

	if err := m.transport.StartClient(address, port, key); err != nil {
		ev.Clear()
		return fmt.Errorf("start client to %s:%d: %w", address, port, err)
	}
	m.state = StateClientRunning

	logrus.WithFields(logrus.Fields{
		"function": "Manager.StartClient",
		"address":  address,
		"port":     port,
	}).Info("Client session started")
	return nil
}

// StopAll ends the session immediately. Pending deliveries are abandoned.
// Safe to call in any state.
func (m *Manager) StopAll() {
	wasActive := m.state != StateIdle

	m.resetCounters()
	m.state = StateIdle
	m.transport.StopAll()
	m.transport.Events().Clear()

	if wasActive {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.StopAll",
		}).Info("Session stopped")
	}
}

// Poll pumps transport events. Every notification fires from inside Poll.
func (m *Manager) Poll() {
	m.transport.Poll()
}

// Run calls Poll every interval until ctx is done. It must run on the
// goroutine that owns the manager.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Poll()
		}
	}
}
