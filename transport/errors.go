package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

var (
	// ErrConnectionRejected indicates a candidate failed admission.
	ErrConnectionRejected = errors.New("connection rejected")

	// ErrNotRunning indicates the transport has no active session.
	ErrNotRunning = errors.New("transport not running")

	// ErrPeerNotConnected indicates a target peer has no live connection.
	ErrPeerNotConnected = errors.New("peer not connected")

	// ErrSendBufferFull indicates a peer's outbound queue is saturated.
	ErrSendBufferFull = errors.New("send buffer full")

	// ErrWrongRole indicates an operation not valid for the running role.
	ErrWrongRole = errors.New("operation not valid for transport role")
)

// ErrorKind is an OS-level classification of a socket failure.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindTimeout
	KindConnectionRefused
	KindConnectionReset
	KindUnreachable
	KindMessageTooLarge
	KindClosed
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnectionRefused:
		return "connection_refused"
	case KindConnectionReset:
		return "connection_reset"
	case KindUnreachable:
		return "unreachable"
	case KindMessageTooLarge:
		return "message_too_large"
	case KindClosed:
		return "closed"
	default:
		return "other"
	}
}

// Classify maps err to an ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindOther
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return KindConnectionRefused
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return KindConnectionReset
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return KindUnreachable
	case errors.Is(err, syscall.EMSGSIZE):
		return KindMessageTooLarge
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF), errors.Is(err, context.Canceled):
		return KindClosed
	case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindOther
}

// Error is a non-fatal transport failure tied to one remote endpoint.
type Error struct {
	Op       string    // operation that failed
	Endpoint string    // remote endpoint, if known
	Kind     ErrorKind // classification of Err
	Err      error     // underlying error
}

// NewError creates an Error, classifying err.
func NewError(op, endpoint string, err error) *Error {
	return &Error{
		Op:       op,
		Endpoint: endpoint,
		Kind:     Classify(err),
		Err:      err,
	}
}

func (e *Error) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("transport %s %s (%s): %v", e.Op, e.Endpoint, e.Kind, e.Err)
	}
	return fmt.Sprintf("transport %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
