// Package limits provides centralized frame size limits for packetnet.
// This ensures consistent validation across the registry and every transport.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxFrameSize is the largest encoded Envelope any transport accepts on
	// the reliable channel (1MB). It bounds allocation for untrusted input.
	MaxFrameSize = 1024 * 1024

	// MaxDatagramSize is the largest encoded Envelope that fits in a single
	// unreliable datagram after transport overhead. Larger unreliable sends
	// are refused instead of fragmented.
	MaxDatagramSize = 1100

	// MaxKickPayload is the largest disconnect payload carried by Kick.
	// QUIC carries it as the connection close reason, which must fit in a
	// single packet.
	MaxKickPayload = 1000
)

var (
	// ErrFrameEmpty indicates an empty frame was provided
	ErrFrameEmpty = errors.New("empty frame")

	// ErrFrameTooLarge indicates frame exceeds maximum size
	ErrFrameTooLarge = errors.New("frame too large")
)

// ValidateFrameSize validates a frame against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateFrameSize(frame []byte, maxSize int) error {
	if len(frame) == 0 {
		return ErrFrameEmpty
	}
	if len(frame) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrFrameTooLarge, len(frame), maxSize)
	}
	return nil
}

// ValidateFrame validates a reliable-channel frame against MaxFrameSize.
func ValidateFrame(frame []byte) error {
	return ValidateFrameSize(frame, MaxFrameSize)
}

// ValidateDatagram validates an unreliable-channel frame against MaxDatagramSize.
func ValidateDatagram(frame []byte) error {
	return ValidateFrameSize(frame, MaxDatagramSize)
}

// ValidateKickPayload validates a disconnect payload against MaxKickPayload.
// An empty payload is allowed: kicking without a reason is legal.
func ValidateKickPayload(payload []byte) error {
	if len(payload) > MaxKickPayload {
		return fmt.Errorf("%w: kick payload size %d exceeds limit %d", ErrFrameTooLarge, len(payload), MaxKickPayload)
	}
	return nil
}
