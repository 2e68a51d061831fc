package quic

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/packetnet/transport"
)

const eventually = 5 * time.Second

// sink collects events. Listeners only run from Poll, but the test reads
// them from require.Eventually's goroutine.
type sink struct {
	mu           sync.Mutex
	connected    []*transport.Peer
	disconnected []transport.DisconnectInfo
	frames       []string
	channels     []transport.Channel
}

func attach(tr *Transport) *sink {
	s := &sink{}
	ev := tr.Events()
	ev.OnConnected(func(p *transport.Peer) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.connected = append(s.connected, p)
	})
	ev.OnDisconnected(func(_ *transport.Peer, info transport.DisconnectInfo) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.disconnected = append(s.disconnected, info)
	})
	ev.OnFrame(func(_ *transport.Peer, data []byte, ch transport.Channel) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.frames = append(s.frames, string(data))
		s.channels = append(s.channels, ch)
	})
	return s
}

func (s *sink) counts() (int, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connected), len(s.disconnected), len(s.frames)
}

// pollUntil polls every transport until cond holds.
func pollUntil(t *testing.T, cond func() bool, trs ...*Transport) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, tr := range trs {
			tr.Poll()
		}
		return cond()
	}, eventually, 10*time.Millisecond)
}

func startPair(t *testing.T, serverKey, clientKey string) (*Transport, *sink, *Transport, *sink) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping QUIC loopback test in short mode")
	}

	srv := New(WithKey(serverKey), WithListenHost("127.0.0.1"), WithHandshakeTimeout(2*time.Second))
	ss := attach(srv)
	require.NoError(t, srv.StartServer(0))
	t.Cleanup(srv.StopAll)

	port := srv.LocalAddr().(*net.UDPAddr).Port
	cli := New(WithHandshakeTimeout(2 * time.Second))
	cs := attach(cli)
	require.NoError(t, cli.StartClient("127.0.0.1", port, clientKey))
	t.Cleanup(cli.StopAll)
	return srv, ss, cli, cs
}

func TestLoopbackExchange(t *testing.T) {
	srv, ss, cli, cs := startPair(t, "k", "k")

	pollUntil(t, func() bool {
		a, _, _ := ss.counts()
		b, _, _ := cs.counts()
		return a == 1 && b == 1
	}, srv, cli)
	assert.True(t, srv.IsServer())
	assert.NotNil(t, cli.ServerPeer())

	require.NoError(t, cli.Send([]byte("hello"), transport.ChannelReliable, cli.ServerPeer()))
	require.NoError(t, srv.Send([]byte("world"), transport.ChannelReliable, ss.connected[0]))

	pollUntil(t, func() bool {
		_, _, a := ss.counts()
		_, _, b := cs.counts()
		return a == 1 && b == 1
	}, srv, cli)
	assert.Equal(t, []string{"hello"}, ss.frames)
	assert.Equal(t, []string{"world"}, cs.frames)

	// Datagrams may be lost, so keep sending until one arrives.
	pollUntil(t, func() bool {
		_ = cli.Send([]byte("dgram"), transport.Channel(2), cli.ServerPeer())
		_, _, n := ss.counts()
		return n > 1
	}, srv, cli)
	ss.mu.Lock()
	assert.Equal(t, transport.Channel(2), ss.channels[1])
	ss.mu.Unlock()
}

func TestLoopbackOrderedReliable(t *testing.T) {
	srv, ss, cli, cs := startPair(t, "", "")
	pollUntil(t, func() bool { n, _, _ := cs.counts(); return n == 1 }, srv, cli)

	want := make([]string, 50)
	for i := range want {
		want[i] = string(rune('a' + i%26))
		require.NoError(t, cli.Send([]byte(want[i]), transport.ChannelReliable, cli.ServerPeer()))
	}
	pollUntil(t, func() bool { _, _, n := ss.counts(); return n == len(want) }, srv, cli)
	assert.Equal(t, want, ss.frames)
}

func TestLoopbackWrongKey(t *testing.T) {
	srv, ss, cli, cs := startPair(t, "right", "wrong")

	pollUntil(t, func() bool { _, n, _ := cs.counts(); return n == 1 }, srv, cli)
	assert.Equal(t, transport.ReasonRejected, cs.disconnected[0].Reason)
	assert.Contains(t, string(cs.disconnected[0].Data), "key mismatch")

	a, _, _ := ss.counts()
	assert.Zero(t, a)
}

func TestLoopbackKick(t *testing.T) {
	srv, ss, cli, cs := startPair(t, "", "")
	pollUntil(t, func() bool {
		a, _, _ := ss.counts()
		b, _, _ := cs.counts()
		return a == 1 && b == 1
	}, srv, cli)

	require.NoError(t, srv.Kick([]byte("reason"), ss.connected[0]))
	pollUntil(t, func() bool {
		_, a, _ := ss.counts()
		_, b, _ := cs.counts()
		return a == 1 && b == 1
	}, srv, cli)

	assert.Equal(t, transport.ReasonKicked, ss.disconnected[0].Reason)
	assert.Equal(t, transport.ReasonKicked, cs.disconnected[0].Reason)
	assert.Equal(t, "reason", string(cs.disconnected[0].Data))
}

func TestLoopbackKickOnAdmit(t *testing.T) {
	srv, ss, cli, cs := startPair(t, "", "")
	srv.Events().OnConnected(func(p *transport.Peer) {
		assert.NoError(t, srv.Kick([]byte("server full"), p))
	})

	pollUntil(t, func() bool { _, n, _ := cs.counts(); return n == 1 }, srv, cli)

	assert.Equal(t, transport.ReasonKicked, cs.disconnected[0].Reason)
	assert.Equal(t, "server full", string(cs.disconnected[0].Data))
	assert.Nil(t, cli.ServerPeer())

	_, n, _ := ss.counts()
	assert.Equal(t, 1, n)
	assert.Equal(t, transport.ReasonKicked, ss.disconnected[0].Reason)
}

func TestLoopbackClientStopBeforePoll(t *testing.T) {
	srv, ss, cli, cs := startPair(t, "", "")

	// The client never polls, so its link is not yet established locally.
	pollUntil(t, func() bool { n, _, _ := ss.counts(); return n == 1 }, srv)
	cli.StopAll()

	pollUntil(t, func() bool { _, n, _ := ss.counts(); return n == 1 }, srv)
	assert.Equal(t, transport.ReasonRemoteClose, ss.disconnected[0].Reason)

	cli.Poll()
	a, b, _ := cs.counts()
	assert.Zero(t, a)
	assert.Zero(t, b)
	assert.Nil(t, cli.ServerPeer())
}

func TestLoopbackServerStop(t *testing.T) {
	srv, ss, cli, cs := startPair(t, "", "")
	pollUntil(t, func() bool { n, _, _ := cs.counts(); return n == 1 }, srv, cli)

	srv.StopAll()
	pollUntil(t, func() bool { _, n, _ := cs.counts(); return n == 1 }, srv, cli)
	assert.Equal(t, transport.ReasonRemoteClose, cs.disconnected[0].Reason)
	assert.Nil(t, cli.ServerPeer())

	_, n, _ := ss.counts()
	assert.Zero(t, n)
}

func TestConnectFailed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping QUIC dial test in short mode")
	}
	cli := New(WithHandshakeTimeout(300 * time.Millisecond))
	cs := attach(cli)
	require.NoError(t, cli.StartClient("127.0.0.1", 9, ""))
	t.Cleanup(cli.StopAll)

	pollUntil(t, func() bool { _, n, _ := cs.counts(); return n == 1 }, cli)
	assert.Equal(t, transport.ReasonConnectFailed, cs.disconnected[0].Reason)
}

func TestKickRequiresServer(t *testing.T) {
	cli := New()
	assert.ErrorIs(t, cli.Kick(nil, transport.NewPeer("x", nil)), transport.ErrWrongRole)
	assert.NoError(t, cli.Send([]byte("x"), transport.ChannelReliable))
	assert.ErrorIs(t, cli.Send([]byte("x"), transport.ChannelReliable, transport.NewPeer("x", nil)), transport.ErrPeerNotConnected)
}
