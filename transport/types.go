package transport

import (
	"fmt"

	"github.com/google/uuid"
)

// Channel selects a delivery class. ChannelReliable (0) is ordered and
// reliable; every other channel is unordered and unreliable. Application
// code picks channels to get these semantics, so the mapping is part of the
// public contract.
type Channel uint8

const (
	// ChannelReliable delivers frames in order with retransmission.
	ChannelReliable Channel = 0
	// ChannelUnreliable is the conventional unreliable channel.
	ChannelUnreliable Channel = 1
)

// Reliable reports whether frames on c are ordered and reliable.
func (c Channel) Reliable() bool {
	return c == ChannelReliable
}

// UnassignedID is the player id of a peer (or of the local client) before
// the session manager has assigned one.
const UnassignedID = -1

// Peer identifies one remote endpoint. ConnID and Handle are owned by the
// transport that created the peer; ID is owned by the session manager.
type Peer struct {
	// ID is the session-local player id, UnassignedID until assigned.
	ID int
	// ConnID is the transport-assigned identity of the underlying connection.
	ConnID uuid.UUID
	// Endpoint describes the remote address for logs.
	Endpoint string
	// Handle is the transport's opaque connection reference.
	Handle any
}

// NewPeer creates an unassigned peer with a fresh connection id.
func NewPeer(endpoint string, handle any) *Peer {
	return &Peer{
		ID:       UnassignedID,
		ConnID:   uuid.New(),
		Endpoint: endpoint,
		Handle:   handle,
	}
}

func (p *Peer) String() string {
	if p == nil {
		return "<server>"
	}
	return fmt.Sprintf("peer(%d %s)", p.ID, p.Endpoint)
}

// Candidate is a connection attempt awaiting admission.
type Candidate struct {
	Endpoint string
	// KeyDigest is the digest of the key presented by the remote side.
	KeyDigest [KeyDigestSize]byte
}

// DisconnectReason classifies why a peer went away.
type DisconnectReason int

const (
	ReasonRemoteClose DisconnectReason = iota
	ReasonLocalClose
	ReasonKicked
	ReasonTimeout
	ReasonRejected
	ReasonConnectFailed
	ReasonNetworkError
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonRemoteClose:
		return "remote_close"
	case ReasonLocalClose:
		return "local_close"
	case ReasonKicked:
		return "kicked"
	case ReasonTimeout:
		return "timeout"
	case ReasonRejected:
		return "rejected"
	case ReasonConnectFailed:
		return "connect_failed"
	case ReasonNetworkError:
		return "network_error"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// DisconnectInfo accompanies every disconnect event.
type DisconnectInfo struct {
	Reason DisconnectReason
	// Kind is the socket-level classification when Reason is
	// ReasonNetworkError or ReasonConnectFailed.
	Kind ErrorKind
	// Data is the payload of a kick, or the rejection message.
	Data []byte
}

// Transport owns raw connections and surfaces everything that happens on
// them as events. Events are queued by the implementation's I/O goroutines
// and only delivered to listeners from inside Poll, on the caller's
// goroutine, so listeners never need their own locking.
type Transport interface {
	// StartServer listens on port. Any prior session is stopped first.
	StartServer(port int) error

	// StartClient begins connecting to address:port presenting key. It does
	// not block; the outcome arrives as a connected or disconnected event.
	StartClient(address string, port int, key string) error

	// StopAll closes every connection and the listener. Safe in any state.
	StopAll()

	// Send delivers data to every target on channel ch. An empty target
	// list is a no-op.
	Send(data []byte, ch Channel, targets ...*Peer) error

	// Kick forcibly disconnects target, delivering data as the reason.
	Kick(data []byte, target *Peer) error

	// Poll delivers queued events to listeners.
	Poll()

	// Events returns the listener registry.
	Events() *Events

	IsServer() bool
	IsClient() bool

	// ServerPeer is the client's handle to its server, nil until connected.
	ServerPeer() *Peer
}
