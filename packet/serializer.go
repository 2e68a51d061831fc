package packet

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Serializer encodes typed values to bytes and back. Implementations must be
// deterministic (equal values produce equal bytes) and round-trip safe.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// CBOR is a Serializer using CBOR Core Deterministic Encoding (RFC 8949
// section 4.2.1). Decoding is configured for untrusted input: duplicate map
// keys and indefinite-length items are rejected.
type CBOR struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBOR creates the default serializer.
func NewCBOR() (*CBOR, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor encode mode: %w", err)
	}

	dec, err := cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		IndefLength:      cbor.IndefLengthForbidden,
		MaxNestedLevels:  16,
		MaxArrayElements: 65536,
		MaxMapPairs:      65536,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor decode mode: %w", err)
	}

	return &CBOR{enc: enc, dec: dec}, nil
}

// Marshal encodes v.
func (c *CBOR) Marshal(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

// Unmarshal decodes data into v, which must be a non-nil pointer.
func (c *CBOR) Unmarshal(data []byte, v any) error {
	return c.dec.Unmarshal(data, v)
}

var defaultSerializer = mustCBOR()

func mustCBOR() *CBOR {
	c, err := NewCBOR()
	if err != nil {
		panic(err)
	}
	return c
}

// DefaultSerializer returns the shared CBOR serializer.
func DefaultSerializer() Serializer {
	return defaultSerializer
}
