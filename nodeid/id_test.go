package nodeid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromIdentityDeterministic(t *testing.T) {
	a := FromIdentity("overlay://abc123")
	b := FromIdentity("overlay://abc123")
	require.Equal(t, a, b)

	c := FromIdentity("overlay://different")
	require.NotEqual(t, a, c)
}

func TestDistanceIdentity(t *testing.T) {
	a := FromIdentity("a")
	b := FromIdentity("b")
	c := FromIdentity("c")

	require.True(t, Distance(a, a) == NodeId{})
	require.Equal(t, Distance(a, b), Distance(b, a))

	// triangle-style XOR identity: distance(a,b) == distance(a,c) XOR distance(c,b)
	dab := Distance(a, b)
	dac := Distance(a, c)
	dcb := Distance(c, b)
	require.Equal(t, dab, Distance(dac, dcb))
}

func TestPrefixLenZeroWhenEqual(t *testing.T) {
	a := FromIdentity("same")
	require.Equal(t, 0, PrefixLen(a, a))
}

func TestPrefixLenHighestDiffersFirstBucket(t *testing.T) {
	var self, other NodeId
	other[0] = 0x80 // differ only in the top bit of the most-significant byte
	require.Equal(t, Bits-1, PrefixLen(self, other))
}

func TestPrefixLenLowestBit(t *testing.T) {
	var self, other NodeId
	other[Len-1] = 0x01
	require.Equal(t, 0, PrefixLen(self, other))
}

func TestStringRoundTrip(t *testing.T) {
	id := FromIdentity("roundtrip")
	s := id.String()
	parsed, err := ParseNodeId(s)
	require.NoError(t, err)
	require.Equal(t, id, parsed)
}

func TestHexLength(t *testing.T) {
	id := FromIdentity("hex")
	require.Len(t, id.Hex(), Len*2)
}
