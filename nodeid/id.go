// Package nodeid implements the 160-bit Kademlia identifier space and the
// key derivation rules used to place contacts and records in it.
package nodeid

import (
	"crypto/sha1"
	"encoding/hex"
)

// Len is the width of a NodeId in bytes (160 bits).
const Len = 20

// Bits is the width of a NodeId in bits.
const Bits = Len * 8

// NodeId is a 160-bit identifier in the Kademlia key space.
type NodeId [Len]byte

// FromIdentity derives a NodeId from the canonical UTF-8 form of an overlay
// identity string.
func FromIdentity(identity string) NodeId {
	sum := sha1.Sum([]byte(identity))
	return NodeId(sum)
}

// FromBytes copies b into a NodeId. b must be exactly Len bytes.
func FromBytes(b []byte) (NodeId, bool) {
	var id NodeId
	if len(b) != Len {
		return id, false
	}
	copy(id[:], b)
	return id, true
}

// Bytes returns the raw 20-byte identifier.
func (id NodeId) Bytes() []byte {
	b := make([]byte, Len)
	copy(b, id[:])
	return b
}

// Hex renders the identifier as lowercase hex, used on the wire.
func (id NodeId) Hex() string {
	return hex.EncodeToString(id[:])
}

// Equal reports whether two ids are identical.
func (id NodeId) Equal(other NodeId) bool {
	return id == other
}

// IsZero reports whether id is the zero value.
func (id NodeId) IsZero() bool {
	return id == NodeId{}
}

// Distance computes the XOR distance between two ids.
func Distance(a, b NodeId) NodeId {
	var d NodeId
	for i := 0; i < Len; i++ {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// Less reports whether a is numerically smaller than b, i.e. a is "closer"
// to the zero id than b. Used to order contacts by distance to a target.
func (a NodeId) Less(b NodeId) bool {
	for i := 0; i < Len; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// PrefixLen returns the position of the highest set bit of the XOR
// distance between self and other, i.e. the k-bucket index that other
// belongs in relative to self. Returns 0 when self equals other; callers
// that need to distinguish the degenerate case should check Equal first.
func PrefixLen(self, other NodeId) int {
	d := Distance(self, other)
	for i := 0; i < Len; i++ {
		if d[i] == 0 {
			continue
		}
		for bit := 7; bit >= 0; bit-- {
			if d[i]&(1<<uint(bit)) != 0 {
				return (Len-1-i)*8 + bit
			}
		}
	}
	return 0
}
