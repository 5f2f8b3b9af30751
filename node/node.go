// Package node implements the Kademlia protocol engine: the base
// PING/FIND_NODE/FIND_VALUE/STORE RPCs plus the marketplace-specific MAP
// extension, the iterative lookup used to drive Get, and the periodic
// maintenance scheduler.
//
// Node holds a *routing.Table, a *store.Store, and a transport.Dialer
// (inside its outbound session pool), all passed into its constructor;
// the daemon owns every collaborator and passes them in by reference.
package node

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	logging "github.com/ipfs/go-log/v2"

	"github.com/neromon/dhtcore/contact"
	"github.com/neromon/dhtcore/metrics"
	"github.com/neromon/dhtcore/nodeid"
	"github.com/neromon/dhtcore/routing"
	"github.com/neromon/dhtcore/store"
	"github.com/neromon/dhtcore/transport"
)

var log = logging.Logger("node")

const (
	// K is the default k-bucket capacity / lookup fan-in.
	K = routing.DefaultBucketSize
	// Alpha is the iterative lookup's per-round parallelism.
	Alpha = 3
	// RPCDeadline bounds a single outbound RPC.
	RPCDeadline = 5 * time.Second
	// LookupDeadline bounds an entire iterative lookup.
	LookupDeadline = 20 * time.Second
	// MaxRPCPerEndpoint caps concurrent outbound RPCs to a single remote
	// endpoint, limiting the damage a slow peer can do.
	MaxRPCPerEndpoint = 4
)

// Node is the protocol engine: it owns no storage itself, only the
// collaborators needed to answer and issue Kademlia RPCs.
type Node struct {
	Self     nodeid.NodeId
	Endpoint string

	routing *routing.Table
	store   *store.Store
	mapper  MappingSink
	metrics *metrics.Metrics

	sessions *sessionPool

	// replicationHorizon is how many closest contacts receive replicated
	// STOREs; defaults to K.
	replicationHorizon int

	now func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// MappingSink receives MAP hints from peers; implementations may
// rate-limit or ignore them. The daemon wires this to mapping.Index.
type MappingSink interface {
	Map(ctx context.Context, searchTerm string, key nodeid.Key, content string) error
}

// Option configures a Node beyond its required collaborators.
type Option func(*Node)

// WithReplicationHorizon overrides how many closest contacts receive
// replicated STOREs.
func WithReplicationHorizon(horizon int) Option {
	return func(n *Node) {
		if horizon > 0 {
			n.replicationHorizon = horizon
		}
	}
}

// New builds a Node. dialer is used to reach peer endpoints; the overlay
// binary supplies the concrete implementation.
func New(self nodeid.NodeId, endpoint string, rt *routing.Table, st *store.Store, mapper MappingSink, dialer transport.Dialer, m *metrics.Metrics, opts ...Option) *Node {
	n := &Node{
		Self:               self,
		Endpoint:           endpoint,
		routing:            rt,
		store:              st,
		mapper:             mapper,
		metrics:            m,
		sessions:           newSessionPool(dialer),
		replicationHorizon: K,
		now:                time.Now,
		stopCh:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	rt.SetPingFunc(func(c contact.Contact) bool {
		_, err := n.Ping(context.Background(), c)
		return err == nil
	})
	return n
}

// Bootstrap contacts each seed endpoint with a PING (establishing them as
// known contacts) and then runs a FIND_NODE lookup against our own id to
// populate the routing table, per Kademlia's standard join procedure.
func (n *Node) Bootstrap(ctx context.Context, seeds []string) error {
	var errs error
	for _, endpoint := range seeds {
		if endpoint == n.Endpoint {
			continue
		}
		c := contact.New(nodeid.NodeId{}, endpoint)
		resp, err := n.pingEndpoint(ctx, c)
		if err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "node: bootstrap ping %s failed", endpoint))
			continue
		}
		n.routing.Observe(resp.Observe(n.now()))
	}
	if _, err := n.Lookup(ctx, n.Self); err != nil {
		errs = errors.CombineErrors(errs, errors.Wrap(err, "node: bootstrap self-lookup failed"))
	}
	return errs
}

// Close stops the maintenance scheduler and closes all outbound
// connections.
func (n *Node) Close() {
	n.stopOnce.Do(func() { close(n.stopCh) })
	n.wg.Wait()
	n.sessions.closeAll()
}

func (n *Node) recordRPC(ctx context.Context, rpcType string, ok bool) {
	n.metrics.RecordRPC(ctx, rpcType, ok)
}

// randomIDInBucket returns a random id whose PrefixLen relative to self is
// exactly bucket, used by bucket refresh.
func randomIDInBucket(self nodeid.NodeId, bucket int) nodeid.NodeId {
	var id nodeid.NodeId
	rand.Read(id[:])
	// Force the top (Bits-1-bucket) bits to match self, and bit `bucket`
	// to differ, so PrefixLen(self, id) == bucket.
	bitsToMatch := nodeid.Bits - 1 - bucket
	for i := 0; i < bitsToMatch; i++ {
		byteIdx, bitIdx := i/8, 7-(i%8)
		mask := byte(1 << uint(bitIdx))
		if self[byteIdx]&mask != 0 {
			id[byteIdx] |= mask
		} else {
			id[byteIdx] &^= mask
		}
	}
	// The bit that must differ is at distance-bit position `bucket`
	// counting from the least-significant end, i.e. msb-first position
	// Bits-1-bucket.
	p := nodeid.Bits - 1 - bucket
	flipByte, flipBit := p/8, 7-(p%8)
	mask := byte(1 << uint(flipBit))
	if self[flipByte]&mask != 0 {
		id[flipByte] &^= mask
	} else {
		id[flipByte] |= mask
	}
	return id
}
