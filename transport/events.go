package transport

import (
	"fmt"
)

// ConnectingListener decides on a connection attempt. Returning an error
// rejects the candidate with that error as the reason.
type ConnectingListener func(c *Candidate) error

// PeerListener receives a connected peer.
type PeerListener func(p *Peer)

// DisconnectListener receives a departed peer.
type DisconnectListener func(p *Peer, info DisconnectInfo)

// FrameListener receives one inbound frame.
type FrameListener func(p *Peer, data []byte, ch Channel)

// ErrorListener receives a non-fatal transport error.
type ErrorListener func(err *Error)

// Events holds listener registrations for each event kind. Listeners fire
// synchronously in registration order. Transports call the Emit methods
// only from Poll.
type Events struct {
	connecting   []ConnectingListener
	connected    []PeerListener
	disconnected []DisconnectListener
	frame        []FrameListener
	errors       []ErrorListener
	stopped      []func()
}

// NewEvents creates an empty listener registry.
func NewEvents() *Events {
	return &Events{}
}

func (e *Events) OnConnecting(l ConnectingListener)   { e.connecting = append(e.connecting, l) }
func (e *Events) OnConnected(l PeerListener)          { e.connected = append(e.connected, l) }
func (e *Events) OnDisconnected(l DisconnectListener) { e.disconnected = append(e.disconnected, l) }
func (e *Events) OnFrame(l FrameListener)             { e.frame = append(e.frame, l) }
func (e *Events) OnError(l ErrorListener)             { e.errors = append(e.errors, l) }
func (e *Events) OnStopped(l func())                  { e.stopped = append(e.stopped, l) }

// Clear removes every listener.
func (e *Events) Clear() {
	*e = Events{}
}

// Admit applies the shared-key gate for key, then each connecting listener
// in order. The first rejection wins and is returned wrapped in
// ErrConnectionRejected.
func (e *Events) Admit(key string, c *Candidate) error {
	if !VerifyKey(key, c.KeyDigest) {
		return fmt.Errorf("%w: key mismatch", ErrConnectionRejected)
	}
	for _, l := range e.connecting {
		if err := l(c); err != nil {
			return fmt.Errorf("%w: %v", ErrConnectionRejected, err)
		}
	}
	return nil
}

func (e *Events) EmitConnected(p *Peer) {
	for _, l := range e.connected {
		l(p)
	}
}

func (e *Events) EmitDisconnected(p *Peer, info DisconnectInfo) {
	for _, l := range e.disconnected {
		l(p, info)
	}
}

func (e *Events) EmitFrame(p *Peer, data []byte, ch Channel) {
	for _, l := range e.frame {
		l(p, data, ch)
	}
}

func (e *Events) EmitError(err *Error) {
	for _, l := range e.errors {
		l(err)
	}
}

func (e *Events) EmitStopped() {
	for _, l := range e.stopped {
		l()
	}
}
