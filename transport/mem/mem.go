package mem

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/opd-ai/packetnet/limits"
	"github.com/opd-ai/packetnet/transport"
	"github.com/sirupsen/logrus"
)

// ErrPortInUse indicates another server already listens on the port.
var ErrPortInUse = errors.New("mem: port in use")

const firstEphemeralPort = 49152

// Network is an in-process switch connecting mem transports by port.
type Network struct {
	mu       sync.Mutex
	servers  map[int]*Transport
	nextPort int
	nextConn int
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{
		servers:  make(map[int]*Transport),
		nextPort: firstEphemeralPort,
	}
}

func (n *Network) listen(port int, t *Transport) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if port == 0 {
		for n.servers[n.nextPort] != nil {
			n.nextPort++
		}
		port = n.nextPort
		n.nextPort++
	}
	if _, taken := n.servers[port]; taken {
		return 0, fmt.Errorf("%w: %d", ErrPortInUse, port)
	}
	n.servers[port] = t
	return port, nil
}

func (n *Network) unlisten(port int, t *Transport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.servers[port] == t {
		delete(n.servers, port)
	}
}

func (n *Network) lookup(port int) (*Transport, string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextConn++
	return n.servers[port], fmt.Sprintf("mem:client-%d", n.nextConn)
}

// half is one side of an in-process connection.
type half struct {
	owner  *Transport
	gen    uint64
	peer   *transport.Peer
	other  *half
	closed atomic.Bool
}

func (h *half) close() {
	h.closed.Store(true)
	h.other.closed.Store(true)
}

// Option configures a Transport.
type Option func(*Transport)

// WithKey sets the shared key a server requires from connecting clients.
func WithKey(key string) Option {
	return func(t *Transport) {
		t.key = key
	}
}

// Transport is an in-process transport. Delivery is reliable and ordered on
// every channel; the unreliable contract is satisfied trivially.
type Transport struct {
	network *Network
	key     string
	events  *transport.Events
	queue   *transport.Queue

	mu         sync.Mutex
	gen        uint64
	port       int
	server     bool
	client     bool
	links      map[*transport.Peer]*half
	pending    *half
	serverPeer *transport.Peer
}

// New creates a transport attached to network.
func New(network *Network, opts ...Option) *Transport {
	t := &Transport{
		network: network,
		events:  transport.NewEvents(),
		queue:   transport.NewQueue(),
		links:   make(map[*transport.Peer]*half),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) Events() *transport.Events { return t.events }

func (t *Transport) IsServer() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.server
}

func (t *Transport) IsClient() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client
}

func (t *Transport) ServerPeer() *transport.Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.serverPeer
}

// Port returns the port a server is listening on, or 0.
func (t *Transport) Port() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port
}

// StartServer implements transport.Transport.
func (t *Transport) StartServer(port int) error {
	t.StopAll()

	bound, err := t.network.listen(port, t)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.gen = t.queue.Reset()
	t.port = bound
	t.server = true
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "mem.StartServer",
		"port":     bound,
	}).Info("Memory transport server started")
	return nil
}

// StartClient implements transport.Transport.
func (t *Transport) StartClient(address string, port int, key string) error {
	t.StopAll()

	srv, endpoint := t.network.lookup(port)
	serverEndpoint := fmt.Sprintf("mem:%s:%d", address, port)

	t.mu.Lock()
	t.gen = t.queue.Reset()
	t.client = true
	gen := t.gen
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "mem.StartClient",
		"endpoint": serverEndpoint,
	}).Info("Memory transport client started")

	if srv == nil || srv == t {
		err := transport.NewError("connect", serverEndpoint, fmt.Errorf("no server on port %d: %w", port, errConnRefused))
		t.queue.Push(gen, func() {
			t.events.EmitError(err)
			t.lost(nil, transport.NewPeer(serverEndpoint, nil), transport.DisconnectInfo{
				Reason: transport.ReasonConnectFailed,
				Kind:   err.Kind,
			})
		})
		return nil
	}

	srv.mu.Lock()
	srvGen := srv.gen
	srv.mu.Unlock()

	local := &half{owner: t, gen: gen}
	remote := &half{owner: srv, gen: srvGen}
	local.other, remote.other = remote, local
	local.peer = transport.NewPeer(serverEndpoint, local)

	t.mu.Lock()
	t.pending = local
	t.mu.Unlock()

	cand := &transport.Candidate{Endpoint: endpoint, KeyDigest: transport.KeyDigest(key)}
	if !srv.queue.Push(srvGen, func() { srv.admit(remote, cand) }) {
		local.close()
	}
	return nil
}

// admit runs on the server's poll.
func (t *Transport) admit(h *half, cand *transport.Candidate) {
	if h.closed.Load() {
		return
	}

	client := h.other
	if err := t.events.Admit(t.key, cand); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "mem.admit",
			"endpoint": cand.Endpoint,
			"error":    err.Error(),
		}).Info("Connection rejected")
		h.close()
		client.owner.queue.Push(client.gen, func() {
			client.owner.lost(client, client.peer, transport.DisconnectInfo{
				Reason: transport.ReasonRejected,
				Data:   []byte(err.Error()),
			})
		})
		return
	}

	h.peer = transport.NewPeer(cand.Endpoint, h)
	t.mu.Lock()
	t.links[h.peer] = h
	t.mu.Unlock()

	client.owner.queue.Push(client.gen, func() { client.owner.established(client) })

	logrus.WithFields(logrus.Fields{
		"function": "mem.admit",
		"endpoint": cand.Endpoint,
	}).Info("Peer connected")
	t.events.EmitConnected(h.peer)
}

// established runs on the client's poll.
func (t *Transport) established(h *half) {
	if h.closed.Load() {
		return
	}
	t.mu.Lock()
	t.pending = nil
	t.serverPeer = h.peer
	t.links[h.peer] = h
	t.mu.Unlock()

	t.events.EmitConnected(h.peer)
}

// lost runs on the owner's poll and reports a departed peer.
func (t *Transport) lost(h *half, peer *transport.Peer, info transport.DisconnectInfo) {
	t.mu.Lock()
	if h != nil {
		delete(t.links, h.peer)
		if t.pending == h {
			t.pending = nil
		}
	}
	if t.client && t.serverPeer == peer {
		t.serverPeer = nil
	}
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "mem.lost",
		"peer":     peer.String(),
		"reason":   info.Reason.String(),
	}).Info("Peer disconnected")
	t.events.EmitDisconnected(peer, info)
}

func (t *Transport) lookup(p *transport.Peer) (*half, error) {
	if p == nil {
		return nil, transport.ErrPeerNotConnected
	}
	h, ok := p.Handle.(*half)
	if !ok || h.owner != t || h.closed.Load() {
		return nil, fmt.Errorf("%w: %s", transport.ErrPeerNotConnected, p)
	}
	return h, nil
}

// Send implements transport.Transport.
func (t *Transport) Send(data []byte, ch transport.Channel, targets ...*transport.Peer) error {
	if len(targets) == 0 {
		return nil
	}
	if err := validate(data, ch); err != nil {
		return err
	}

	var errs []error
	for _, p := range targets {
		h, err := t.lookup(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		cp := append([]byte(nil), data...)
		other := h.other
		other.owner.queue.Push(other.gen, func() {
			if other.closed.Load() {
				return
			}
			other.owner.events.EmitFrame(other.peer, cp, ch)
		})
	}
	return errors.Join(errs...)
}

// Kick implements transport.Transport.
func (t *Transport) Kick(data []byte, target *transport.Peer) error {
	if !t.IsServer() {
		return transport.ErrWrongRole
	}
	if err := limits.ValidateKickPayload(data); err != nil {
		return err
	}
	h, err := t.lookup(target)
	if err != nil {
		return err
	}
	h.close()

	cp := append([]byte(nil), data...)
	other := h.other
	other.owner.queue.Push(other.gen, func() {
		other.owner.lost(other, other.peer, transport.DisconnectInfo{Reason: transport.ReasonKicked, Data: cp})
	})
	t.queue.Push(h.gen, func() {
		t.lost(h, h.peer, transport.DisconnectInfo{Reason: transport.ReasonKicked, Data: cp})
	})
	return nil
}

// StopAll implements transport.Transport.
func (t *Transport) StopAll() {
	t.mu.Lock()
	running := t.server || t.client
	halves := make([]*half, 0, len(t.links)+1)
	for _, h := range t.links {
		halves = append(halves, h)
	}
	if t.pending != nil {
		halves = append(halves, t.pending)
	}
	port := t.port
	wasServer := t.server

	t.links = make(map[*transport.Peer]*half)
	t.pending = nil
	t.serverPeer = nil
	t.server, t.client = false, false
	t.port = 0
	t.gen = t.queue.Reset()
	t.mu.Unlock()

	if !running {
		return
	}
	if wasServer {
		t.network.unlisten(port, t)
	}

	for _, h := range halves {
		h.close()
		other := h.other
		other.owner.queue.Push(other.gen, func() {
			if other.peer == nil {
				return
			}
			other.owner.lost(other, other.peer, transport.DisconnectInfo{Reason: transport.ReasonRemoteClose})
		})
	}

	logrus.WithFields(logrus.Fields{
		"function": "mem.StopAll",
		"peers":    len(halves),
	}).Info("Memory transport stopped")
	t.queue.Notify(t.events.EmitStopped)
}

// Poll implements transport.Transport.
func (t *Transport) Poll() {
	t.queue.Drain()
}

func validate(data []byte, ch transport.Channel) error {
	if ch.Reliable() {
		return limits.ValidateFrame(data)
	}
	return limits.ValidateDatagram(data)
}
