package quic

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	quicgo "github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/packetnet/limits"
	"github.com/opd-ai/packetnet/transport"
)

const (
	defaultIdleTimeout      = 15 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultSendBuffer       = 256
)

// Option configures a Transport.
type Option func(*Transport)

// WithKey sets the shared key a server requires from connecting clients.
func WithKey(key string) Option {
	return func(t *Transport) { t.key = key }
}

// WithListenHost binds servers to host instead of every interface.
func WithListenHost(host string) Option {
	return func(t *Transport) { t.host = host }
}

// WithIdleTimeout sets how long a silent connection survives. Keep-alives
// are sent at a third of it.
func WithIdleTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.idleTimeout = d
		}
	}
}

// WithHandshakeTimeout bounds the hello exchange, including the time the
// server takes to poll and decide.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.handshakeTimeout = d
		}
	}
}

// WithSendBuffer sets how many reliable frames may wait per connection
// before Send reports transport.ErrSendBufferFull.
func WithSendBuffer(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.sendBuffer = n
		}
	}
}

// link is one established or admitting connection.
type link struct {
	t      *Transport
	gen    uint64
	conn   quicgo.Connection
	stream quicgo.Stream
	reader *bufio.Reader
	peer   *transport.Peer
	out    chan []byte
	once   sync.Once
}

// report queues a single disconnect for the link. Later calls are ignored.
func (l *link) report(info transport.DisconnectInfo, cause error) {
	l.once.Do(func() {
		l.t.queue.Push(l.gen, func() {
			if cause != nil && info.Reason == transport.ReasonNetworkError {
				l.t.events.EmitError(transport.NewError("read", l.peer.Endpoint, cause))
			}
			l.t.lost(l, l.peer, info)
		})
	})
}

// silence suppresses any further disconnect report.
func (l *link) silence() {
	l.once.Do(func() {})
}

func (l *link) start() {
	go l.writeLoop()
	go l.readLoop()
	go l.datagramLoop()
}

func (l *link) writeLoop() {
	done := l.conn.Context().Done()
	for {
		select {
		case <-done:
			return
		case b := <-l.out:
			if _, err := l.stream.Write(b); err != nil {
				l.report(classifyClose(err), err)
				return
			}
		}
	}
}

func (l *link) readLoop() {
	for {
		frame, err := readFrame(l.reader)
		if err != nil {
			if errors.Is(err, limits.ErrFrameTooLarge) || errors.Is(err, limits.ErrFrameEmpty) {
				_ = l.conn.CloseWithError(codeProtocol, err.Error())
			}
			l.report(classifyClose(err), err)
			return
		}
		l.t.queue.Push(l.gen, func() {
			l.t.events.EmitFrame(l.peer, frame, transport.ChannelReliable)
		})
	}
}

func (l *link) datagramLoop() {
	ctx := l.conn.Context()
	for {
		b, err := l.conn.ReceiveDatagram(ctx)
		if err != nil {
			return
		}
		data, ch, ok := decodeDatagram(b)
		if !ok {
			logrus.WithFields(logrus.Fields{
				"function": "quic.datagramLoop",
				"endpoint": l.peer.Endpoint,
				"size":     len(b),
			}).Debug("Dropping malformed datagram")
			continue
		}
		l.t.queue.Push(l.gen, func() {
			l.t.events.EmitFrame(l.peer, data, ch)
		})
	}
}

// Transport is the UDP reference transport built on QUIC. Channel 0 maps
// to one bidirectional stream per connection, so it is reliable and
// ordered; other channels map to QUIC datagrams and may be lost or
// reordered.
type Transport struct {
	key              string
	host             string
	idleTimeout      time.Duration
	handshakeTimeout time.Duration
	sendBuffer       int

	events *transport.Events
	queue  *transport.Queue

	mu         sync.Mutex
	gen        uint64
	cancel     context.CancelFunc
	listener   *quicgo.Listener
	server     bool
	client     bool
	links      map[*transport.Peer]*link
	serverPeer *transport.Peer
}

// New creates an idle transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		idleTimeout:      defaultIdleTimeout,
		handshakeTimeout: defaultHandshakeTimeout,
		sendBuffer:       defaultSendBuffer,
		events:           transport.NewEvents(),
		queue:            transport.NewQueue(),
		links:            make(map[*transport.Peer]*link),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) config() *quicgo.Config {
	return &quicgo.Config{
		EnableDatagrams:      true,
		MaxIdleTimeout:       t.idleTimeout,
		KeepAlivePeriod:      t.idleTimeout / 3,
		HandshakeIdleTimeout: t.handshakeTimeout,
	}
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

// LocalAddr returns the listener's address while serving, or nil.
func (t *Transport) LocalAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// StartServer implements transport.Transport.
func (t *Transport) StartServer(port int) error {
	t.StopAll()

	cert, err := selfSignedCert()
	if err != nil {
		return fmt.Errorf("generate certificate: %w", err)
	}

	addr := net.JoinHostPort(t.host, strconv.Itoa(port))
	ln, err := quicgo.ListenAddr(addr, serverTLS(cert), t.config())
	if err != nil {
		return transport.NewError("listen", addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	t.gen = t.queue.Reset()
	t.cancel = cancel
	t.listener = ln
	t.server = true
	gen := t.gen
	t.mu.Unlock()

	go t.acceptLoop(ctx, ln, gen)

	logrus.WithFields(logrus.Fields{
		"function": "quic.StartServer",
		"address":  ln.Addr().String(),
	}).Info("QUIC server listening")
	return nil
}

func (t *Transport) acceptLoop(ctx context.Context, ln *quicgo.Listener, gen uint64) {
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, quicgo.ErrServerClosed) {
				terr := transport.NewError("accept", ln.Addr().String(), err)
				t.queue.Push(gen, func() { t.events.EmitError(terr) })
			}
			return
		}
		go closeOnStop(ctx, conn)
		go t.handshake(ctx, conn, gen)
	}
}

// closeOnStop closes conn once the session that opened it stops. StopAll
// only sees links already handed to Poll; this covers the rest.
func closeOnStop(ctx context.Context, conn quicgo.Connection) {
	select {
	case <-ctx.Done():
		_ = conn.CloseWithError(codeClosed, "")
	case <-conn.Context().Done():
	}
}

// handshake reads the client's hello and hands the candidate to Poll.
func (t *Transport) handshake(ctx context.Context, conn quicgo.Connection, gen uint64) {
	endpoint := conn.RemoteAddr().String()

	hctx, cancel := context.WithTimeout(ctx, t.handshakeTimeout)
	defer cancel()

	stream, err := conn.AcceptStream(hctx)
	if err != nil {
		_ = conn.CloseWithError(codeProtocol, "no stream")
		return
	}
	_ = stream.SetReadDeadline(time.Now().Add(t.handshakeTimeout))
	reader := bufio.NewReader(stream)
	digest, err := decodeHello(reader)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "quic.handshake",
			"endpoint": endpoint,
			"error":    err.Error(),
		}).Warn("Dropping connection with bad hello")
		_ = conn.CloseWithError(codeProtocol, "bad hello")
		return
	}
	_ = stream.SetReadDeadline(time.Time{})

	l := &link{
		t:      t,
		gen:    gen,
		conn:   conn,
		stream: stream,
		reader: reader,
		out:    make(chan []byte, t.sendBuffer),
	}
	cand := &transport.Candidate{Endpoint: endpoint, KeyDigest: digest}
	if !t.queue.Push(gen, func() { t.admit(l, cand) }) {
		_ = conn.CloseWithError(codeClosed, "server stopped")
	}
}

// admit runs on the server's poll.
func (t *Transport) admit(l *link, cand *transport.Candidate) {
	if err := t.events.Admit(t.key, cand); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "quic.admit",
			"endpoint": cand.Endpoint,
			"error":    err.Error(),
		}).Info("Connection rejected")
		l.silence()
		_ = l.conn.CloseWithError(codeRejected, err.Error())
		return
	}

	l.peer = transport.NewPeer(cand.Endpoint, l)
	l.out <- []byte{ackAccepted}

	t.mu.Lock()
	t.links[l.peer] = l
	t.mu.Unlock()

	l.start()

	logrus.WithFields(logrus.Fields{
		"function": "quic.admit",
		"endpoint": cand.Endpoint,
	}).Info("Peer connected")
	t.events.EmitConnected(l.peer)
}

// StartClient implements transport.Transport.
func (t *Transport) StartClient(address string, port int, key string) error {
	t.StopAll()

	endpoint := net.JoinHostPort(address, strconv.Itoa(port))
	ctx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	t.gen = t.queue.Reset()
	t.cancel = cancel
	t.client = true
	gen := t.gen
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "quic.StartClient",
		"endpoint": endpoint,
	}).Info("QUIC client connecting")

	go t.dial(ctx, endpoint, key, gen)
	return nil
}

func (t *Transport) dial(ctx context.Context, endpoint, key string, gen uint64) {
	fail := func(op string, err error, info transport.DisconnectInfo) {
		terr := transport.NewError(op, endpoint, err)
		if info.Reason == transport.ReasonConnectFailed {
			info.Kind = terr.Kind
		}
		t.queue.Push(gen, func() {
			if info.Reason == transport.ReasonConnectFailed {
				t.events.EmitError(terr)
			}
			t.lost(nil, transport.NewPeer(endpoint, nil), info)
		})
	}

	dctx, cancel := context.WithTimeout(ctx, t.handshakeTimeout)
	defer cancel()

	conn, err := quicgo.DialAddr(dctx, endpoint, clientTLS(), t.config())
	if err != nil {
		if ctx.Err() == nil {
			fail("dial", err, transport.DisconnectInfo{Reason: transport.ReasonConnectFailed})
		}
		return
	}
	go closeOnStop(ctx, conn)

	stream, err := conn.OpenStreamSync(dctx)
	if err != nil {
		_ = conn.CloseWithError(codeClosed, "")
		fail("open stream", err, transport.DisconnectInfo{Reason: transport.ReasonConnectFailed})
		return
	}
	if _, err := stream.Write(encodeHello(transport.KeyDigest(key))); err != nil {
		_ = conn.CloseWithError(codeClosed, "")
		fail("hello", err, transport.DisconnectInfo{Reason: transport.ReasonConnectFailed})
		return
	}

	_ = stream.SetReadDeadline(time.Now().Add(t.handshakeTimeout))
	reader := bufio.NewReader(stream)
	ack, err := reader.ReadByte()
	if err != nil {
		// A kick can land before the ack is read when the server decides
		// right after admitting; it keeps its payload.
		info := classifyClose(err)
		if info.Reason != transport.ReasonRejected && info.Reason != transport.ReasonKicked {
			info = transport.DisconnectInfo{Reason: transport.ReasonConnectFailed}
		}
		_ = conn.CloseWithError(codeClosed, "")
		fail("handshake", err, info)
		return
	}
	if ack != ackAccepted {
		_ = conn.CloseWithError(codeProtocol, "bad ack")
		fail("handshake", fmt.Errorf("%w: 0x%02x", ErrBadAck, ack), transport.DisconnectInfo{Reason: transport.ReasonConnectFailed})
		return
	}
	_ = stream.SetReadDeadline(time.Time{})

	l := &link{
		t:      t,
		gen:    gen,
		conn:   conn,
		stream: stream,
		reader: reader,
		out:    make(chan []byte, t.sendBuffer),
	}
	l.peer = transport.NewPeer(endpoint, l)

	if !t.queue.Push(gen, func() { t.established(l) }) {
		_ = conn.CloseWithError(codeClosed, "")
		return
	}
	l.start()
}

// established runs on the client's poll.
func (t *Transport) established(l *link) {
	t.mu.Lock()
	t.links[l.peer] = l
	t.serverPeer = l.peer
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "quic.established",
		"endpoint": l.peer.Endpoint,
	}).Info("Connected to server")
	t.events.EmitConnected(l.peer)
}

// lost runs on the poll and reports a departed peer.
func (t *Transport) lost(l *link, peer *transport.Peer, info transport.DisconnectInfo) {
	t.mu.Lock()
	if l != nil {
		delete(t.links, l.peer)
	}
	if t.serverPeer == peer {
		t.serverPeer = nil
	}
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "quic.lost",
		"peer":     peer.String(),
		"reason":   info.Reason.String(),
	}).Info("Peer disconnected")
	t.events.EmitDisconnected(peer, info)
}

func (t *Transport) lookup(p *transport.Peer) (*link, error) {
	if p == nil {
		return nil, transport.ErrPeerNotConnected
	}
	t.mu.Lock()
	l, ok := t.links[p]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", transport.ErrPeerNotConnected, p)
	}
	return l, nil
}

// Send implements transport.Transport.
func (t *Transport) Send(data []byte, ch transport.Channel, targets ...*transport.Peer) error {
	if len(targets) == 0 {
		return nil
	}

	var errs []error
	if ch.Reliable() {
		if err := limits.ValidateFrame(data); err != nil {
			return err
		}
		frame := encodeFrame(data)
		for _, p := range targets {
			l, err := t.lookup(p)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			select {
			case l.out <- frame:
			default:
				errs = append(errs, fmt.Errorf("%w: %s", transport.ErrSendBufferFull, p))
			}
		}
		return errors.Join(errs...)
	}

	if err := limits.ValidateDatagram(data); err != nil {
		return err
	}
	dgram := encodeDatagram(data, ch)
	for _, p := range targets {
		l, err := t.lookup(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := l.conn.SendDatagram(dgram); err != nil {
			errs = append(errs, transport.NewError("send datagram", p.Endpoint, err))
		}
	}
	return errors.Join(errs...)
}

// Kick implements transport.Transport. The payload travels as the QUIC
// close reason.
func (t *Transport) Kick(data []byte, target *transport.Peer) error {
	if !t.IsServer() {
		return transport.ErrWrongRole
	}
	if err := limits.ValidateKickPayload(data); err != nil {
		return err
	}
	l, err := t.lookup(target)
	if err != nil {
		return err
	}

	l.report(transport.DisconnectInfo{Reason: transport.ReasonKicked, Data: append([]byte(nil), data...)}, nil)
	return l.conn.CloseWithError(codeKicked, string(data))
}

// StopAll implements transport.Transport.
func (t *Transport) StopAll() {
	t.mu.Lock()
	running := t.server || t.client
	links := make([]*link, 0, len(t.links))
	for _, l := range t.links {
		links = append(links, l)
	}
	cancel := t.cancel
	ln := t.listener

	t.links = make(map[*transport.Peer]*link)
	t.serverPeer = nil
	t.server, t.client = false, false
	t.cancel = nil
	t.listener = nil
	t.gen = t.queue.Reset()
	t.mu.Unlock()

	if !running {
		return
	}
	if cancel != nil {
		cancel()
	}
	for _, l := range links {
		l.silence()
		_ = l.conn.CloseWithError(codeClosed, "")
	}
	if ln != nil {
		_ = ln.Close()
	}

	logrus.WithFields(logrus.Fields{
		"function": "quic.StopAll",
		"peers":    len(links),
	}).Info("QUIC transport stopped")
	t.queue.Notify(t.events.EmitStopped)
}

// Poll implements transport.Transport.
func (t *Transport) Poll() {
	t.queue.Drain()
}
