package contact

import (
	"testing"
	"time"

	"github.com/neromon/dhtcore/nodeid"
	"github.com/stretchr/testify/require"
)

func TestStateMachineTransitions(t *testing.T) {
	c := New(nodeid.FromIdentity("peer"), "overlay:abc")
	require.Equal(t, Unknown, c.State())

	c = c.BeginProbe()
	require.Equal(t, Probing, c.State())

	now := time.Now()
	c = c.Observe(now)
	require.Equal(t, Active, c.State())
	require.Equal(t, 0, c.FailureCount)

	c = c.RefreshIdle(now.Add(16 * time.Minute))
	require.Equal(t, Inactive, c.State())

	c = c.Observe(now.Add(20 * time.Minute))
	require.Equal(t, Active, c.State())
}

func TestDeadAfterMaxFailures(t *testing.T) {
	c := New(nodeid.FromIdentity("peer"), "overlay:abc")
	c = c.Observe(time.Now())
	for i := 0; i < MaxFailures; i++ {
		c = c.Fail()
	}
	require.True(t, c.IsDead())
}
