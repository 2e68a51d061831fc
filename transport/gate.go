package transport

import (
	"crypto/subtle"

	"golang.org/x/crypto/blake2b"
)

// KeyDigestSize is the size of the digest a client presents instead of its
// raw key.
const KeyDigestSize = blake2b.Size256

// KeyDigest hashes key for presentation during the handshake. The empty key
// has a digest like any other, so a client without a key can still be
// admitted by a server without one.
func KeyDigest(key string) [KeyDigestSize]byte {
	return blake2b.Sum256([]byte(key))
}

// VerifyKey reports whether a candidate presenting digest may join a server
// configured with key. A server without a key accepts everyone.
func VerifyKey(key string, digest [KeyDigestSize]byte) bool {
	if key == "" {
		return true
	}
	want := KeyDigest(key)
	return subtle.ConstantTimeCompare(want[:], digest[:]) == 1
}
