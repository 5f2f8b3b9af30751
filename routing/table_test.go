package routing

import (
	"fmt"
	"testing"
	"time"

	"github.com/neromon/dhtcore/contact"
	"github.com/neromon/dhtcore/nodeid"
	"github.com/stretchr/testify/require"
)

func TestObserveAndClosestNoDuplicates(t *testing.T) {
	self := nodeid.FromIdentity("self")
	tbl := New(self)

	for i := 0; i < 200; i++ {
		id := nodeid.FromIdentity(fmt.Sprintf("peer-%d", i))
		tbl.Observe(contact.New(id, fmt.Sprintf("overlay:%d", i)))
	}

	closest := tbl.Closest(self, 20)
	require.LessOrEqual(t, len(closest), 20)

	seen := make(map[nodeid.NodeId]bool)
	for _, c := range closest {
		require.False(t, seen[c.ID], "duplicate contact in closest set")
		seen[c.ID] = true
	}

	// closest set must be sorted by distance to self
	for i := 1; i < len(closest); i++ {
		di := nodeid.Distance(self, closest[i-1].ID)
		dj := nodeid.Distance(self, closest[i].ID)
		require.True(t, di.Less(dj) || di == dj)
	}
}

func TestBucketNeverExceedsCapacity(t *testing.T) {
	self := nodeid.FromIdentity("self")
	tbl := NewSized(self, 20)
	tbl.SetPingFunc(func(c contact.Contact) bool { return true }) // always alive, so full buckets keep incumbents

	for i := 0; i < 2000; i++ {
		id := nodeid.FromIdentity(fmt.Sprintf("id-%d", i))
		tbl.Observe(contact.New(id, "e"))
	}

	for _, b := range tbl.buckets {
		require.LessOrEqual(t, b.contacts.Len(), 20)
	}
}

func TestSelfNeverObserved(t *testing.T) {
	self := nodeid.FromIdentity("self")
	tbl := New(self)
	tbl.Observe(contact.New(self, "e"))
	require.Equal(t, 0, tbl.Size())
}

func TestRefreshIdleDemotesActiveContacts(t *testing.T) {
	self := nodeid.FromIdentity("self")
	tbl := New(self)
	id := nodeid.FromIdentity("peer")

	now := time.Now()
	tbl.Observe(contact.New(id, "e").Observe(now.Add(-time.Hour)))
	require.Equal(t, 1, tbl.CountByState()[contact.Active])

	tbl.RefreshIdle(now)
	require.Equal(t, 1, tbl.CountByState()[contact.Inactive])
}

func TestFailEvictsAfterMaxFailures(t *testing.T) {
	self := nodeid.FromIdentity("self")
	tbl := New(self)
	id := nodeid.FromIdentity("peer")
	tbl.Observe(contact.New(id, "e"))
	require.Equal(t, 1, tbl.Size())

	for i := 0; i < contact.MaxFailures; i++ {
		tbl.Fail(id)
	}
	require.Equal(t, 0, tbl.Size())
}
