package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"

	"github.com/opd-ai/packetnet/limits"
	"github.com/opd-ai/packetnet/transport"
)

const (
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

// WithHandshakeTimeout bounds the upgrade, including the time the server
// takes to poll and decide.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.handshakeTimeout = d
		}
	}
}

// WithSendBuffer sets how many frames may wait per connection before Send
// reports transport.ErrSendBufferFull.
func WithSendBuffer(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.sendBuffer = n
		}
	}
}

type link struct {
	t      *Transport
	gen    uint64
	conn   *websocket.Conn
	peer   *transport.Peer
	ctx    context.Context
	cancel context.CancelFunc
	out    chan []byte
	kick   chan []byte
	once   sync.Once
}

func (t *Transport) newLink(ctx context.Context, gen uint64, conn *websocket.Conn) *link {
	lctx, cancel := context.WithCancel(ctx)
	conn.SetReadLimit(int64(limits.MaxFrameSize) + 2)
	return &link{
		t:      t,
		gen:    gen,
		conn:   conn,
		ctx:    lctx,
		cancel: cancel,
		out:    make(chan []byte, t.sendBuffer),
		kick:   make(chan []byte, 1),
	}
}

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

func (l *link) silence() {
	l.once.Do(func() {})
}

func (l *link) writeLoop() {
	for {
		select {
		case <-l.ctx.Done():
			return
		case b := <-l.out:
			if err := l.conn.Write(l.ctx, websocket.MessageBinary, b); err != nil {
				l.report(classifyClose(err), err)
				l.cancel()
				return
			}
		case b := <-l.kick:
			_ = l.conn.Write(l.ctx, websocket.MessageBinary, b)
			_ = l.conn.Close(statusKicked, "kicked")
			l.cancel()
			return
		}
	}
}

func (l *link) readLoop() {
	defer l.cancel()
	for {
		typ, msg, err := l.conn.Read(l.ctx)
		if err != nil {
			l.report(classifyClose(err), err)
			return
		}
		if typ != websocket.MessageBinary {
			_ = l.conn.Close(websocket.StatusUnsupportedData, "binary frames only")
			l.report(transport.DisconnectInfo{Reason: transport.ReasonNetworkError}, errors.New("ws: text message"))
			return
		}

		kind, ch, data, err := decodeMessage(msg)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "ws.readLoop",
				"endpoint": l.peer.Endpoint,
				"error":    err.Error(),
			}).Warn("Dropping malformed message")
			continue
		}
		if kind == kindKick {
			l.report(transport.DisconnectInfo{Reason: transport.ReasonKicked, Data: data}, nil)
			_ = l.conn.Close(websocket.StatusNormalClosure, "")
			return
		}
		l.t.queue.Push(l.gen, func() {
			l.t.events.EmitFrame(l.peer, data, ch)
		})
	}
}

// Transport carries frames over WebSocket binary messages. Every channel
// shares one TCP connection, so unreliable channels are delivered reliably
// and in order, which their contract allows.
type Transport struct {
	key              string
	host             string
	handshakeTimeout time.Duration
	sendBuffer       int

	events *transport.Events
	queue  *transport.Queue

	mu         sync.Mutex
	gen        uint64
	cancel     context.CancelFunc
	httpServer *http.Server
	addr       net.Addr
	server     bool
	client     bool
	links      map[*transport.Peer]*link
	serverPeer *transport.Peer
}

// New creates an idle transport.
func New(opts ...Option) *Transport {
	t := &Transport{
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
	return t.addr
}

// StartServer implements transport.Transport.
func (t *Transport) StartServer(port int) error {
	t.StopAll()

	addr := net.JoinHostPort(t.host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return transport.NewError("listen", addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	t.gen = t.queue.Reset()
	gen := t.gen
	mux := http.NewServeMux()
	mux.HandleFunc(path, t.upgrade(ctx, gen))
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: t.handshakeTimeout,
	}
	t.cancel = cancel
	t.httpServer = srv
	t.addr = ln.Addr()
	t.server = true
	t.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			terr := transport.NewError("serve", ln.Addr().String(), err)
			t.queue.Push(gen, func() { t.events.EmitError(terr) })
		}
	}()

	logrus.WithFields(logrus.Fields{
		"function": "ws.StartServer",
		"address":  ln.Addr().String(),
	}).Info("WebSocket server listening")
	return nil
}

// upgrade admits a candidate through Poll, then serves the connection for
// its whole lifetime.
func (t *Transport) upgrade(ctx context.Context, gen uint64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		digest, err := decodeKeyHeader(r.Header.Get(keyHeader))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		cand := &transport.Candidate{Endpoint: r.RemoteAddr, KeyDigest: digest}
		decision := make(chan error, 1)
		if !t.queue.Push(gen, func() { decision <- t.events.Admit(t.key, cand) }) {
			http.Error(w, "server stopped", http.StatusServiceUnavailable)
			return
		}

		timer := time.NewTimer(t.handshakeTimeout)
		defer timer.Stop()

		select {
		case err = <-decision:
		case <-ctx.Done():
			http.Error(w, "server stopped", http.StatusServiceUnavailable)
			return
		case <-timer.C:
			http.Error(w, "admission timed out", http.StatusServiceUnavailable)
			return
		}
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "ws.upgrade",
				"endpoint": cand.Endpoint,
				"error":    err.Error(),
			}).Info("Connection rejected")
			w.Header().Set(rejectHeader, err.Error())
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols: []string{subprotocol},
		})
		if err != nil {
			terr := transport.NewError("upgrade", cand.Endpoint, err)
			t.queue.Push(gen, func() { t.events.EmitError(terr) })
			return
		}

		l := t.newLink(ctx, gen, conn)
		l.peer = transport.NewPeer(cand.Endpoint, l)
		if !t.queue.Push(gen, func() { t.accepted(l) }) {
			_ = conn.Close(websocket.StatusGoingAway, "server stopped")
			return
		}

		go l.writeLoop()
		l.readLoop()
	}
}

// accepted runs on the server's poll.
func (t *Transport) accepted(l *link) {
	t.mu.Lock()
	t.links[l.peer] = l
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "ws.accepted",
		"endpoint": l.peer.Endpoint,
	}).Info("Peer connected")
	t.events.EmitConnected(l.peer)
}

// StartClient implements transport.Transport.
func (t *Transport) StartClient(address string, port int, key string) error {
	t.StopAll()

	endpoint := fmt.Sprintf("ws://%s%s", net.JoinHostPort(address, strconv.Itoa(port)), path)
	ctx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	t.gen = t.queue.Reset()
	t.cancel = cancel
	t.client = true
	gen := t.gen
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "ws.StartClient",
		"endpoint": endpoint,
	}).Info("WebSocket client connecting")

	go t.dial(ctx, endpoint, key, gen)
	return nil
}

func (t *Transport) dial(ctx context.Context, endpoint, key string, gen uint64) {
	dctx, cancel := context.WithTimeout(ctx, t.handshakeTimeout)
	defer cancel()

	header := http.Header{}
	header.Set(keyHeader, encodeKeyHeader(key))
	conn, resp, err := websocket.Dial(dctx, endpoint, &websocket.DialOptions{
		HTTPHeader:   header,
		Subprotocols: []string{subprotocol},
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		info := transport.DisconnectInfo{Reason: transport.ReasonConnectFailed}
		var terr *transport.Error
		if resp != nil && resp.StatusCode == http.StatusForbidden {
			info = transport.DisconnectInfo{Reason: transport.ReasonRejected, Data: []byte(resp.Header.Get(rejectHeader))}
		} else {
			terr = transport.NewError("dial", endpoint, err)
			info.Kind = terr.Kind
		}
		t.queue.Push(gen, func() {
			if terr != nil {
				t.events.EmitError(terr)
			}
			t.lost(nil, transport.NewPeer(endpoint, nil), info)
		})
		return
	}

	l := t.newLink(ctx, gen, conn)
	l.peer = transport.NewPeer(endpoint, l)
	if !t.queue.Push(gen, func() { t.established(l) }) {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	go l.writeLoop()
	go l.readLoop()
}

// established runs on the client's poll.
func (t *Transport) established(l *link) {
	t.mu.Lock()
	t.links[l.peer] = l
	t.serverPeer = l.peer
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "ws.established",
		"endpoint": l.peer.Endpoint,
	}).Info("Connected to server")
	t.events.EmitConnected(l.peer)
}

// lost runs on the poll. A nil link is a connection attempt that never
// produced a peer.
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
		"function": "ws.lost",
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
	check := limits.ValidateFrame
	if !ch.Reliable() {
		check = limits.ValidateDatagram
	}
	if err := check(data); err != nil {
		return err
	}

	msg := encodeMessage(kindData, ch, data)
	var errs []error
	for _, p := range targets {
		l, err := t.lookup(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		select {
		case l.out <- msg:
		default:
			errs = append(errs, fmt.Errorf("%w: %s", transport.ErrSendBufferFull, p))
		}
	}
	return errors.Join(errs...)
}

// Kick implements transport.Transport. The payload travels in a kick
// message ahead of the close frame.
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

	cp := append([]byte(nil), data...)
	l.report(transport.DisconnectInfo{Reason: transport.ReasonKicked, Data: cp}, nil)
	select {
	case l.kick <- encodeMessage(kindKick, transport.ChannelReliable, cp):
	default:
	}
	return nil
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
	srv := t.httpServer

	t.links = make(map[*transport.Peer]*link)
	t.serverPeer = nil
	t.server, t.client = false, false
	t.cancel = nil
	t.httpServer = nil
	t.addr = nil
	t.gen = t.queue.Reset()
	t.mu.Unlock()

	if !running {
		return
	}

	var wg sync.WaitGroup
	for _, l := range links {
		l.silence()
		wg.Add(1)
		go func(l *link) {
			defer wg.Done()
			_ = l.conn.Close(websocket.StatusGoingAway, "stopped")
		}(l)
	}
	if srv != nil {
		_ = srv.Close()
	}
	if cancel != nil {
		// Cancelling first would turn the going-away close into a policy
		// violation on the remote side.
		go func() {
			wg.Wait()
			cancel()
		}()
	}

	logrus.WithFields(logrus.Fields{
		"function": "ws.StopAll",
		"peers":    len(links),
	}).Info("WebSocket transport stopped")
	t.queue.Notify(t.events.EmitStopped)
}

// Poll implements transport.Transport.
func (t *Transport) Poll() {
	t.queue.Drain()
}
