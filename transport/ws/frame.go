package ws

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"nhooyr.io/websocket"

	"github.com/opd-ai/packetnet/transport"
)

const (
	// path is the HTTP path the server upgrades on.
	path = "/packetnet"

	subprotocol = "packetnet.v1"

	// keyHeader carries the hex key digest on the upgrade request.
	keyHeader = "Packetnet-Key"

	// rejectHeader carries the rejection reason on a 403 response.
	rejectHeader = "Packetnet-Reject"

	// statusKicked is the close code that follows a kick frame.
	statusKicked websocket.StatusCode = 4000
)

const (
	kindData byte = 0
	kindKick byte = 1
)

// ErrBadKeyHeader indicates a missing or malformed key digest header.
var ErrBadKeyHeader = errors.New("ws: malformed key header")

// encodeMessage builds one binary message: kind, channel, payload.
func encodeMessage(kind byte, ch transport.Channel, data []byte) []byte {
	buf := make([]byte, 2+len(data))
	buf[0] = kind
	buf[1] = byte(ch)
	copy(buf[2:], data)
	return buf
}

func decodeMessage(msg []byte) (kind byte, ch transport.Channel, data []byte, err error) {
	if len(msg) < 2 {
		return 0, 0, nil, fmt.Errorf("ws: short message of %d bytes", len(msg))
	}
	kind, ch, data = msg[0], transport.Channel(msg[1]), msg[2:]
	switch kind {
	case kindData:
		if len(data) == 0 {
			return 0, 0, nil, errors.New("ws: empty data message")
		}
	case kindKick:
	default:
		return 0, 0, nil, fmt.Errorf("ws: unknown message kind %d", kind)
	}
	return kind, ch, data, nil
}

func encodeKeyHeader(key string) string {
	digest := transport.KeyDigest(key)
	return hex.EncodeToString(digest[:])
}

func decodeKeyHeader(v string) ([transport.KeyDigestSize]byte, error) {
	var digest [transport.KeyDigestSize]byte
	raw, err := hex.DecodeString(v)
	if err != nil {
		return digest, fmt.Errorf("%w: %v", ErrBadKeyHeader, err)
	}
	if len(raw) != transport.KeyDigestSize {
		return digest, fmt.Errorf("%w: %d bytes", ErrBadKeyHeader, len(raw))
	}
	copy(digest[:], raw)
	return digest, nil
}

// classifyClose maps the error that ended a connection to a disconnect.
func classifyClose(err error) transport.DisconnectInfo {
	switch status := websocket.CloseStatus(err); {
	case status == statusKicked:
		return transport.DisconnectInfo{Reason: transport.ReasonKicked}
	case status != -1:
		return transport.DisconnectInfo{Reason: transport.ReasonRemoteClose}
	}
	if errors.Is(err, io.EOF) {
		return transport.DisconnectInfo{Reason: transport.ReasonRemoteClose}
	}

	kind := transport.Classify(err)
	if kind == transport.KindTimeout {
		return transport.DisconnectInfo{Reason: transport.ReasonTimeout, Kind: kind}
	}
	return transport.DisconnectInfo{Reason: transport.ReasonNetworkError, Kind: kind}
}
