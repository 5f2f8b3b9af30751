package nodeid

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// KeyLen is the width, in bytes, of a content-addressed record key.
const KeyLen = 32

// Key is a 256-bit content hash identifying a Record.
type Key [KeyLen]byte

// KeyFromContent hashes the canonical form of a record value with
// SHA-3-256. The first 160 bits of the digest double as the record's
// routing key; the full digest is the record's content key.
func KeyFromContent(canonical []byte) Key {
	var k Key
	sum := sha3.Sum256(canonical)
	copy(k[:], sum[:])
	return k
}

// RoutingKey returns the 160-bit routing key carried by a content key,
// i.e. its leading 20 bytes.
func (k Key) RoutingKey() NodeId {
	var id NodeId
	copy(id[:], k[:Len])
	return id
}

// Hex renders the key as lowercase hex, the wire and storage form.
func (k Key) Hex() string {
	return hex.EncodeToString(k[:])
}

// ParseKey decodes a 64-character hex key produced by Hex.
func ParseKey(s string) (Key, bool) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != KeyLen {
		return Key{}, false
	}
	var k Key
	copy(k[:], b)
	return k, true
}
