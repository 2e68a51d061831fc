package quic

import (
	"bufio"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	quicgo "github.com/quic-go/quic-go"

	"github.com/opd-ai/packetnet/limits"
	"github.com/opd-ai/packetnet/transport"
)

// alpn is the TLS application protocol both sides negotiate.
const alpn = "packetnet"

const (
	helloMagic   = "PNET"
	helloVersion = 1
	helloSize    = len(helloMagic) + 1 + transport.KeyDigestSize

	ackAccepted byte = 0x01
)

// Application error codes carried by CONNECTION_CLOSE.
const (
	codeClosed   quicgo.ApplicationErrorCode = 0x00
	codeRejected quicgo.ApplicationErrorCode = 0x01
	codeKicked   quicgo.ApplicationErrorCode = 0x02
	codeProtocol quicgo.ApplicationErrorCode = 0x03
)

var (
	// ErrBadHello indicates a connection opened with something other than a
	// packetnet hello.
	ErrBadHello = errors.New("quic: malformed hello")

	// ErrBadAck indicates the server answered the hello with an unknown byte.
	ErrBadAck = errors.New("quic: malformed handshake ack")
)

func encodeHello(digest [transport.KeyDigestSize]byte) []byte {
	buf := make([]byte, 0, helloSize)
	buf = append(buf, helloMagic...)
	buf = append(buf, helloVersion)
	return append(buf, digest[:]...)
}

func decodeHello(r io.Reader) ([transport.KeyDigestSize]byte, error) {
	var digest [transport.KeyDigestSize]byte

	buf := make([]byte, helloSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return digest, fmt.Errorf("read hello: %w", err)
	}
	if string(buf[:len(helloMagic)]) != helloMagic {
		return digest, fmt.Errorf("%w: bad magic", ErrBadHello)
	}
	if v := buf[len(helloMagic)]; v != helloVersion {
		return digest, fmt.Errorf("%w: version %d", ErrBadHello, v)
	}
	copy(digest[:], buf[len(helloMagic)+1:])
	return digest, nil
}

// encodeFrame length-prefixes a reliable frame for the stream.
func encodeFrame(data []byte) []byte {
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	return buf
}

func readFrame(br *bufio.Reader) ([]byte, error) {
	var lenbuf [4]byte
	if _, err := io.ReadFull(br, lenbuf[:]); err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint32(lenbuf[:]))
	if n == 0 {
		return nil, limits.ErrFrameEmpty
	}
	if n > limits.MaxFrameSize {
		return nil, fmt.Errorf("%w: length prefix %d", limits.ErrFrameTooLarge, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(br, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// encodeDatagram prefixes data with its channel byte.
func encodeDatagram(data []byte, ch transport.Channel) []byte {
	buf := make([]byte, 1+len(data))
	buf[0] = byte(ch)
	copy(buf[1:], data)
	return buf
}

func decodeDatagram(b []byte) ([]byte, transport.Channel, bool) {
	if len(b) < 2 || transport.Channel(b[0]).Reliable() {
		return nil, 0, false
	}
	return b[1:], transport.Channel(b[0]), true
}

// selfSignedCert generates an ephemeral certificate for the listener.
// Clients do not verify it; admission is decided by the key digest.
func selfSignedCert() (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}

func serverTLS(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpn},
		MinVersion:   tls.VersionTLS13,
	}
}

func clientTLS() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{alpn},
		MinVersion:         tls.VersionTLS13,
	}
}

// classifyClose maps the error that ended a connection to a disconnect.
func classifyClose(err error) transport.DisconnectInfo {
	var appErr *quicgo.ApplicationError
	if errors.As(err, &appErr) {
		if !appErr.Remote {
			return transport.DisconnectInfo{Reason: transport.ReasonLocalClose}
		}
		switch appErr.ErrorCode {
		case codeKicked:
			return transport.DisconnectInfo{Reason: transport.ReasonKicked, Data: []byte(appErr.ErrorMessage)}
		case codeRejected:
			return transport.DisconnectInfo{Reason: transport.ReasonRejected, Data: []byte(appErr.ErrorMessage)}
		case codeProtocol:
			return transport.DisconnectInfo{Reason: transport.ReasonNetworkError, Data: []byte(appErr.ErrorMessage)}
		default:
			return transport.DisconnectInfo{Reason: transport.ReasonRemoteClose}
		}
	}

	var idleErr *quicgo.IdleTimeoutError
	if errors.As(err, &idleErr) {
		return transport.DisconnectInfo{Reason: transport.ReasonTimeout, Kind: transport.KindTimeout}
	}
	var hsErr *quicgo.HandshakeTimeoutError
	if errors.As(err, &hsErr) {
		return transport.DisconnectInfo{Reason: transport.ReasonTimeout, Kind: transport.KindTimeout}
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
