// Package routing implements the Kademlia k-bucketed contact table:
// XOR-distance ordering, a replacement cache per bucket, and a
// liveness-driven eviction policy.
package routing

import (
	"sort"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/neromon/dhtcore/contact"
	"github.com/neromon/dhtcore/nodeid"
)

var log = logging.Logger("routing")

// PingFunc issues a liveness check RPC against a contact, returning
// whether it responded. The RoutingTable calls this to decide whether a
// full bucket's least-recent contact is still alive before evicting it in
// favor of a new contact.
type PingFunc func(c contact.Contact) bool

// StaleInterval is how long a bucket can go untouched before it is
// considered stale and due for a refresh.
const StaleInterval = time.Hour

// Table is an ordered sequence of 160 k-buckets.
type Table struct {
	self nodeid.NodeId
	k    int
	ping PingFunc

	mu      sync.RWMutex
	buckets [nodeid.Bits]*bucket
}

// New creates a RoutingTable for self with the default bucket capacity.
func New(self nodeid.NodeId) *Table {
	return NewSized(self, DefaultBucketSize)
}

// NewSized creates a RoutingTable for self with the given bucket capacity k.
func NewSized(self nodeid.NodeId, k int) *Table {
	t := &Table{self: self, k: k}
	for i := range t.buckets {
		t.buckets[i] = newBucket(k)
	}
	return t
}

// SetPingFunc installs the liveness-check callback used to decide whether
// to evict a full bucket's least-recent contact.
func (t *Table) SetPingFunc(p PingFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ping = p
}

func (t *Table) bucketIndex(id nodeid.NodeId) int {
	return nodeid.PrefixLen(t.self, id)
}

// Observe upserts a contact. If the contact's bucket is at
// capacity and its least-recently-seen member fails a liveness probe,
// that member is evicted and the new contact takes its place; otherwise
// the new contact goes to the bucket's replacement cache.
func (t *Table) Observe(c contact.Contact) {
	if c.ID == t.self {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.buckets[t.bucketIndex(c.ID)]
	b.lastTouched = time.Now()

	if i := b.indexOf(c.ID); i >= 0 {
		b.touch(i, c)
		return
	}

	if !b.full() {
		b.contacts.PushBack(c)
		return
	}

	least := b.least()
	ping := t.ping
	t.mu.Unlock()
	alive := ping == nil || ping(least)
	t.mu.Lock()

	// The bucket may have changed while the lock was released for the
	// ping; recheck before seating anyone.
	if i := b.indexOf(c.ID); i >= 0 {
		b.touch(i, c)
		return
	}
	if !alive {
		if i := b.indexOf(least.ID); i >= 0 {
			b.contacts.Remove(i)
		}
	}
	if !b.full() {
		b.contacts.PushBack(c)
		return
	}
	b.pushReplacement(c)
}

// Fail records an RPC failure against a known contact, evicting it from
// its bucket once it reaches contact.MaxFailures.
func (t *Table) Fail(id nodeid.NodeId) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.buckets[t.bucketIndex(id)]
	i := b.indexOf(id)
	if i < 0 {
		return
	}
	c := b.contacts.At(i).Fail()
	if c.IsDead() {
		b.contacts.Remove(i)
		if repl, ok := b.popReplacement(); ok {
			b.contacts.PushBack(repl)
		}
		return
	}
	b.contacts.Set(i, c)
}

// Remove drops a contact from the table unconditionally.
func (t *Table) Remove(id nodeid.NodeId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.buckets[t.bucketIndex(id)]
	if i := b.indexOf(id); i >= 0 {
		b.contacts.Remove(i)
	}
}

// Closest returns up to n contacts ordered by XOR distance to key.
// Ties (only possible post-truncation) break by most-recent
// LastSeen.
func (t *Table) Closest(key nodeid.NodeId, n int) []contact.Contact {
	t.mu.RLock()
	all := make([]contact.Contact, 0, n*2)
	for _, b := range t.buckets {
		all = append(all, b.all()...)
	}
	t.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		di := nodeid.Distance(key, all[i].ID)
		dj := nodeid.Distance(key, all[j].ID)
		if di == dj {
			return all[i].LastSeen.After(all[j].LastSeen)
		}
		return di.Less(dj)
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// RefreshStale returns the bucket indices whose last observation is older
// than interval (a caller should issue FIND_NODE on a
// random id within each returned bucket).
func (t *Table) RefreshStale(interval time.Duration) []int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := time.Now()
	var stale []int
	for i, b := range t.buckets {
		if b.lastTouched.IsZero() || now.Sub(b.lastTouched) > interval {
			stale = append(stale, i)
		}
	}
	return stale
}

// RefreshIdle demotes every Active contact that has gone idle past
// contact.IdleThreshold to Inactive, applied once per maintenance pass.
func (t *Table) RefreshIdle(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range t.buckets {
		for i := 0; i < b.contacts.Len(); i++ {
			b.contacts.Set(i, b.contacts.At(i).RefreshIdle(now))
		}
	}
}

// Size returns the total number of live contacts across all buckets.
func (t *Table) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var n int
	for _, b := range t.buckets {
		n += b.contacts.Len()
	}
	return n
}

// CountByState returns the number of contacts in each liveness state,
// used by the bridge's `status` method and by metrics.
func (t *Table) CountByState() map[contact.State]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	counts := make(map[contact.State]int)
	for _, b := range t.buckets {
		for _, c := range b.all() {
			counts[c.State()]++
		}
	}
	return counts
}

// LongestIdlePerBucket returns, for each non-empty bucket, the contact
// that has gone longest without a response, for the maintenance
// scheduler's peer-health ping.
func (t *Table) LongestIdlePerBucket() []contact.Contact {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []contact.Contact
	for _, b := range t.buckets {
		if b.contacts.Len() == 0 {
			continue
		}
		out = append(out, b.least())
	}
	return out
}
