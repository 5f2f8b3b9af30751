package nodeid

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// String renders the identifier as base58, following the
// multiformats/libp2p convention for human-facing ids. The wire and
// storage forms remain raw bytes/hex; this is display-only.
func (id NodeId) String() string {
	return base58.Encode(id[:])
}

// ParseNodeId decodes a base58-rendered NodeId produced by String.
func ParseNodeId(s string) (NodeId, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return NodeId{}, fmt.Errorf("nodeid: invalid base58: %w", err)
	}
	id, ok := FromBytes(b)
	if !ok {
		return NodeId{}, fmt.Errorf("nodeid: decoded %d bytes, want %d", len(b), Len)
	}
	return id, nil
}
