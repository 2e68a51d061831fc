package session

import (
	"testing"

	"github.com/opd-ai/packetnet/packet"
	"github.com/opd-ai/packetnet/registry"
	"github.com/opd-ai/packetnet/transport"
	"github.com/opd-ai/packetnet/transport/mem"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPort = 27015
	testKey  = "shared-secret"
)

type chatMessage struct {
	_    struct{} `cbor:",toarray"`
	Text string
}

type kickReason struct {
	_      struct{} `cbor:",toarray"`
	Reason string
}

// recordingTransport counts calls that reach the transport.
type recordingTransport struct {
	transport.Transport
	sends int
	kicks int
}

func (r *recordingTransport) Send(data []byte, ch transport.Channel, targets ...*transport.Peer) error {
	r.sends++
	return r.Transport.Send(data, ch, targets...)
}

func (r *recordingTransport) Kick(data []byte, target *transport.Peer) error {
	r.kicks++
	return r.Transport.Kick(data, target)
}

type node struct {
	m  *Manager
	tr *recordingTransport
}

func newNode(t *testing.T, network *mem.Network, opts ...mem.Option) *node {
	t.Helper()
	tr := &recordingTransport{Transport: mem.New(network, opts...)}
	m, err := New(tr, registry.New())
	require.NoError(t, err)
	t.Cleanup(m.StopAll)
	return &node{m: m, tr: tr}
}

// pump polls every node repeatedly so multi-hop handshakes settle.
func pump(nodes ...*node) {
	for i := 0; i < 5; i++ {
		for _, n := range nodes {
			n.m.Poll()
		}
	}
}

func startServer(t *testing.T, network *mem.Network) *node {
	t.Helper()
	srv := newNode(t, network, mem.WithKey(testKey))
	require.NoError(t, srv.m.StartServer(testPort))
	return srv
}

func joinClient(t *testing.T, network *mem.Network, srv *node, others ...*node) *node {
	t.Helper()
	cli := newNode(t, network)
	require.NoError(t, cli.m.StartClient("localhost", testPort, testKey))
	pump(append([]*node{srv, cli}, others...)...)
	require.True(t, cli.m.Joined())
	return cli
}

func TestNewRegistersBuiltins(t *testing.T) {
	n := newNode(t, mem.NewNetwork())
	reg := n.m.Registry()
	assert.True(t, reg.IsRegistered(packet.AssignPlayerIDName))
	assert.True(t, reg.IsRegistered(packet.StringPacketName))
	assert.True(t, reg.IsRegistered(packet.ByteArrayPacketName))
	assert.Equal(t, StateIdle, n.m.State())
	assert.Equal(t, transport.UnassignedID, n.m.LocalID())
}

func TestNewRejectsSharedRegistry(t *testing.T) {
	reg := registry.New()
	network := mem.NewNetwork()
	_, err := New(mem.New(network), reg)
	require.NoError(t, err)

	_, err = New(mem.New(network), reg)
	assert.ErrorIs(t, err, ErrRegistryInUse)
}

func TestScenarioServerAssignsFirstID(t *testing.T) {
	network := mem.NewNetwork()
	srv := startServer(t, network)

	var joinedID = transport.UnassignedID
	cli := newNode(t, network)
	cli.m.OnJoined(func(id int) { joinedID = id })
	require.NoError(t, cli.m.StartClient("localhost", testPort, testKey))
	assert.Equal(t, transport.UnassignedID, cli.m.LocalID())

	pump(srv, cli)

	peers := srv.m.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, 0, peers[0].ID)
	assert.Equal(t, 0, cli.m.LocalID())
	assert.Equal(t, 0, joinedID)
	assert.True(t, cli.m.Joined())
	assert.NotNil(t, cli.m.ServerPeer())
	assert.Equal(t, StateServerRunning, srv.m.State())
	assert.Equal(t, StateClientRunning, cli.m.State())
}

func TestScenarioSequentialIDsNotReused(t *testing.T) {
	network := mem.NewNetwork()
	srv := startServer(t, network)

	first := joinClient(t, network, srv)
	second := joinClient(t, network, srv, first)
	assert.Equal(t, 0, first.m.LocalID())
	assert.Equal(t, 1, second.m.LocalID())

	var left []int
	srv.m.OnPeerDisconnected(func(p *transport.Peer, _ transport.DisconnectInfo) { left = append(left, p.ID) })

	first.m.StopAll()
	pump(srv, first, second)

	assert.Equal(t, []int{0}, left)
	peers := srv.m.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, 1, peers[0].ID)
	assert.Equal(t, 1, second.m.LocalID())

	third := joinClient(t, network, srv, second)
	assert.Equal(t, 2, third.m.LocalID())

	// A full reset starts numbering again.
	require.NoError(t, srv.m.StartServer(testPort))
	pump(srv, second, third)
	assert.Empty(t, srv.m.Peers())
	assert.Equal(t, StateIdle, second.m.State())

	fourth := joinClient(t, network, srv)
	assert.Equal(t, 0, fourth.m.LocalID())
}

func TestScenarioSendWhileDisconnected(t *testing.T) {
	network := mem.NewNetwork()
	cli := newNode(t, network)
	require.NoError(t, registry.Register(cli.m.Registry(), "Chat", func(*transport.Peer, chatMessage, transport.Channel) {}))

	err := cli.m.SendToServer("Chat", chatMessage{Text: "hi"}, transport.ChannelReliable)
	assert.ErrorIs(t, err, ErrNotClient)

	err = cli.m.Send("Chat", chatMessage{Text: "hi"}, transport.ChannelReliable, transport.NewPeer("nowhere", nil))
	assert.ErrorIs(t, err, ErrNotRunning)

	// Started, but no server is listening yet: still not connected.
	require.NoError(t, cli.m.StartClient("localhost", testPort, ""))
	err = cli.m.SendToServer("Chat", chatMessage{Text: "hi"}, transport.ChannelReliable)
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.NotPanics(t, func() { pump(cli) })
	assert.Zero(t, cli.tr.sends)
	assert.Equal(t, StateIdle, cli.m.State())
}

func TestScenarioUnknownPacketDoesNotStopPoll(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	network := mem.NewNetwork()
	srv := startServer(t, network)

	var chats []string
	require.NoError(t, registry.Register(srv.m.Registry(), "Chat", func(p *transport.Peer, msg chatMessage, _ transport.Channel) {
		chats = append(chats, msg.Text)
	}))
	var unknown []*registry.UnknownPacketError
	srv.m.OnUnknownPacket(func(err *registry.UnknownPacketError) { unknown = append(unknown, err) })

	cli := joinClient(t, network, srv)
	noop := func(*transport.Peer, chatMessage, transport.Channel) {}
	require.NoError(t, registry.Register(cli.m.Registry(), "Chat", noop))
	require.NoError(t, registry.Register(cli.m.Registry(), "ClientOnly", noop))

	require.NoError(t, cli.m.SendToServer("Chat", chatMessage{Text: "before"}, transport.ChannelReliable))
	require.NoError(t, cli.m.SendToServer("ClientOnly", chatMessage{Text: "mystery"}, transport.ChannelReliable))
	require.NoError(t, cli.m.SendToServer("Chat", chatMessage{Text: "after"}, transport.ChannelUnreliable))

	assert.NotPanics(t, func() { srv.m.Poll() })

	assert.Equal(t, []string{"before", "after"}, chats)
	require.Len(t, unknown, 1)
	assert.Equal(t, packet.ComputeTypeID("ClientOnly"), unknown[0].TypeID)
	require.NotNil(t, unknown[0].Sender)
	assert.Equal(t, 0, unknown[0].Sender.ID)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["type_id"] == packet.ComputeTypeID("ClientOnly").String() {
			warned = true
		}
	}
	assert.True(t, warned)
	assert.Len(t, srv.m.Peers(), 1)
}

func TestSendEmptyPeerSetIsNoop(t *testing.T) {
	network := mem.NewNetwork()
	srv := startServer(t, network)
	sendsBefore := srv.tr.sends

	require.NoError(t, srv.m.Send(packet.StringPacketName, packet.StringPacket{Data: "x"}, transport.ChannelReliable))
	require.NoError(t, srv.m.Broadcast(packet.StringPacketName, packet.StringPacket{Data: "x"}, transport.ChannelReliable))
	assert.Equal(t, sendsBefore, srv.tr.sends)
}

func TestSendUnregisteredNeverReachesTransport(t *testing.T) {
	network := mem.NewNetwork()
	srv := startServer(t, network)
	cli := joinClient(t, network, srv)
	sendsBefore := srv.tr.sends

	err := srv.m.Send("Missing", chatMessage{}, transport.ChannelReliable, srv.m.Peers()...)
	assert.ErrorIs(t, err, registry.ErrNotRegistered)
	err = srv.m.Broadcast("Missing", chatMessage{}, transport.ChannelReliable)
	assert.ErrorIs(t, err, registry.ErrNotRegistered)
	err = cli.m.SendToServer("Missing", chatMessage{}, transport.ChannelReliable)
	assert.ErrorIs(t, err, registry.ErrNotRegistered)
	err = srv.m.Kick("Missing", chatMessage{}, srv.m.Peers()[0])
	assert.ErrorIs(t, err, registry.ErrNotRegistered)

	assert.Equal(t, sendsBefore, srv.tr.sends)
	assert.Zero(t, cli.tr.sends)
	assert.Zero(t, srv.tr.kicks)
}

func TestBroadcastReachesEveryClientOnce(t *testing.T) {
	network := mem.NewNetwork()
	srv := startServer(t, network)
	a := joinClient(t, network, srv)
	b := joinClient(t, network, srv, a)

	received := map[string][]string{}
	for name, n := range map[string]*node{"a": a, "b": b} {
		name := name
		require.NoError(t, registry.Register(n.m.Registry(), "Chat", func(sender *transport.Peer, msg chatMessage, ch transport.Channel) {
			assert.Nil(t, sender)
			assert.Equal(t, transport.ChannelReliable, ch)
			received[name] = append(received[name], msg.Text)
		}))
	}
	require.NoError(t, registry.Register(srv.m.Registry(), "Chat", func(*transport.Peer, chatMessage, transport.Channel) {}))

	require.NoError(t, srv.m.Broadcast("Chat", chatMessage{Text: "hello all"}, transport.ChannelReliable))
	pump(srv, a, b)

	assert.Equal(t, []string{"hello all"}, received["a"])
	assert.Equal(t, []string{"hello all"}, received["b"])
}

func TestServerHandlersReceiveSender(t *testing.T) {
	network := mem.NewNetwork()
	srv := startServer(t, network)
	a := joinClient(t, network, srv)
	b := joinClient(t, network, srv, a)

	var senders []int
	require.NoError(t, registry.Register(srv.m.Registry(), "Chat", func(sender *transport.Peer, _ chatMessage, _ transport.Channel) {
		senders = append(senders, sender.ID)
	}))
	for _, n := range []*node{a, b} {
		require.NoError(t, registry.Register(n.m.Registry(), "Chat", func(*transport.Peer, chatMessage, transport.Channel) {}))
	}

	require.NoError(t, b.m.SendToServer("Chat", chatMessage{Text: "from b"}, transport.ChannelReliable))
	require.NoError(t, a.m.SendToServer("Chat", chatMessage{Text: "from a"}, transport.ChannelReliable))
	pump(srv)

	assert.Equal(t, []int{1, 0}, senders)
}

func TestWrongKeyRejected(t *testing.T) {
	network := mem.NewNetwork()
	srv := startServer(t, network)

	cli := newNode(t, network)
	var infos []transport.DisconnectInfo
	cli.m.OnDisconnected(func(info transport.DisconnectInfo) { infos = append(infos, info) })
	var connected int
	srv.m.OnPeerConnected(func(*transport.Peer) { connected++ })

	require.NoError(t, cli.m.StartClient("localhost", testPort, "wrong"))
	pump(srv, cli)

	assert.Zero(t, connected)
	assert.Empty(t, srv.m.Peers())
	require.Len(t, infos, 1)
	assert.Equal(t, transport.ReasonRejected, infos[0].Reason)
	assert.Equal(t, StateIdle, cli.m.State())
	assert.Equal(t, transport.UnassignedID, cli.m.LocalID())
}

func TestConnectingListenerCanReject(t *testing.T) {
	network := mem.NewNetwork()
	srv := newNode(t, network)
	srv.m.OnServerInit(func(ev *transport.Events) {
		ev.OnConnecting(func(*transport.Candidate) error {
			if len(srv.m.Peers()) >= 1 {
				return assert.AnError
			}
			return nil
		})
	})
	require.NoError(t, srv.m.StartServer(testPort))

	first := newNode(t, network)
	require.NoError(t, first.m.StartClient("localhost", testPort, ""))
	pump(srv, first)
	require.True(t, first.m.Joined())

	second := newNode(t, network)
	require.NoError(t, second.m.StartClient("localhost", testPort, ""))
	pump(srv, first, second)
	assert.Equal(t, StateIdle, second.m.State())
	assert.Len(t, srv.m.Peers(), 1)
}

func TestKickDeliversTypedReason(t *testing.T) {
	network := mem.NewNetwork()
	srv := startServer(t, network)
	cli := joinClient(t, network, srv)

	require.NoError(t, registry.Register(srv.m.Registry(), "KickReason", func(*transport.Peer, kickReason, transport.Channel) {}))

	var order []string
	require.NoError(t, registry.Register(cli.m.Registry(), "KickReason", func(sender *transport.Peer, r kickReason, _ transport.Channel) {
		assert.Nil(t, sender)
		order = append(order, "reason:"+r.Reason)
	}))
	cli.m.OnDisconnected(func(info transport.DisconnectInfo) {
		assert.Equal(t, transport.ReasonKicked, info.Reason)
		order = append(order, "disconnected")
	})
	var srvLeft int
	srv.m.OnPeerDisconnected(func(*transport.Peer, transport.DisconnectInfo) { srvLeft++ })

	require.NoError(t, srv.m.Kick("KickReason", kickReason{Reason: "afk"}, srv.m.Peers()[0]))
	pump(srv, cli)

	assert.Equal(t, []string{"reason:afk", "disconnected"}, order)
	assert.Equal(t, StateIdle, cli.m.State())
	assert.Empty(t, srv.m.Peers())
	assert.Equal(t, 1, srvLeft)
	assert.Equal(t, 1, srv.tr.kicks)
}

func TestKickRequiresServer(t *testing.T) {
	network := mem.NewNetwork()
	srv := startServer(t, network)
	cli := joinClient(t, network, srv)

	err := cli.m.Kick(packet.StringPacketName, packet.StringPacket{}, cli.m.ServerPeer())
	assert.ErrorIs(t, err, ErrNotServer)
	assert.Zero(t, cli.tr.kicks)
}

func TestClientStopsWhenServerStops(t *testing.T) {
	network := mem.NewNetwork()
	srv := startServer(t, network)
	cli := joinClient(t, network, srv)

	var reasons []transport.DisconnectReason
	cli.m.OnDisconnected(func(info transport.DisconnectInfo) { reasons = append(reasons, info.Reason) })

	srv.m.StopAll()
	pump(srv, cli)

	assert.Equal(t, []transport.DisconnectReason{transport.ReasonRemoteClose}, reasons)
	assert.Equal(t, StateIdle, cli.m.State())
	assert.Equal(t, transport.UnassignedID, cli.m.LocalID())
	assert.False(t, cli.m.Joined())
	assert.Nil(t, cli.m.ServerPeer())
}

func TestDoubleDisconnectTolerated(t *testing.T) {
	network := mem.NewNetwork()
	srv := startServer(t, network)
	joinClient(t, network, srv)

	var left int
	srv.m.OnPeerDisconnected(func(*transport.Peer, transport.DisconnectInfo) { left++ })

	p := srv.m.Peers()[0]
	info := transport.DisconnectInfo{Reason: transport.ReasonTimeout}
	assert.NotPanics(t, func() {
		srv.m.serverDisconnected(p, info)
		srv.m.serverDisconnected(p, info)
	})
	assert.Equal(t, 1, left)
	assert.Empty(t, srv.m.Peers())
}

func TestStopAllFromIdleIsNoop(t *testing.T) {
	n := newNode(t, mem.NewNetwork())
	assert.NotPanics(t, func() {
		n.m.StopAll()
		n.m.StopAll()
	})
	assert.Equal(t, StateIdle, n.m.State())
}

func TestRoleSwapResetsEverything(t *testing.T) {
	network := mem.NewNetwork()
	srv := startServer(t, network)
	joinClient(t, network, srv)
	require.Len(t, srv.m.Peers(), 1)

	other := newNode(t, network)
	require.NoError(t, other.m.StartServer(testPort+1))

	require.NoError(t, srv.m.StartClient("localhost", testPort+1, ""))
	assert.Equal(t, StateClientRunning, srv.m.State())
	assert.Empty(t, srv.m.Peers())
	pump(srv, other)
	assert.Equal(t, 0, srv.m.LocalID())
}

func TestInitHooksRunOnEveryStart(t *testing.T) {
	network := mem.NewNetwork()
	n := newNode(t, network)

	var serverInits, clientInits int
	n.m.OnServerInit(func(*transport.Events) { serverInits++ })
	n.m.OnClientInit(func(*transport.Events) { clientInits++ })

	require.NoError(t, n.m.StartServer(testPort))
	require.NoError(t, n.m.StartServer(testPort))
	require.NoError(t, n.m.StartClient("localhost", testPort+5, ""))

	assert.Equal(t, 2, serverInits)
	assert.Equal(t, 1, clientInits)
}

func TestStartServerPortInUse(t *testing.T) {
	network := mem.NewNetwork()
	startServer(t, network)

	n := newNode(t, network)
	err := n.m.StartServer(testPort)
	assert.ErrorIs(t, err, mem.ErrPortInUse)
	assert.Equal(t, StateIdle, n.m.State())
}

func TestDuplicateAssignPlayerIDIgnored(t *testing.T) {
	network := mem.NewNetwork()
	srv := startServer(t, network)
	cli := joinClient(t, network, srv)

	require.NoError(t, srv.m.Send(packet.AssignPlayerIDName, packet.AssignPlayerID{ID: 99}, transport.ChannelReliable, srv.m.Peers()[0]))
	pump(srv, cli)
	assert.Equal(t, 0, cli.m.LocalID())
}

func TestAssignPlayerIDIgnoredOnServer(t *testing.T) {
	network := mem.NewNetwork()
	srv := startServer(t, network)
	cli := joinClient(t, network, srv)

	require.NoError(t, cli.m.SendToServer(packet.AssignPlayerIDName, packet.AssignPlayerID{ID: 5}, transport.ChannelReliable))
	pump(srv, cli)
	assert.Equal(t, transport.UnassignedID, srv.m.LocalID())
}

func TestTransportErrorNotification(t *testing.T) {
	network := mem.NewNetwork()
	cli := newNode(t, network)

	var errs []*transport.Error
	cli.m.OnTransportError(func(err *transport.Error) { errs = append(errs, err) })

	require.NoError(t, cli.m.StartClient("localhost", 1, ""))
	pump(cli)

	require.Len(t, errs, 1)
	assert.Equal(t, transport.KindConnectionRefused, errs[0].Kind)
	assert.Equal(t, StateIdle, cli.m.State())
}
