package node

import (
	"context"
	"time"

	"github.com/neromon/dhtcore/nodeid"
	"github.com/neromon/dhtcore/record"
)

// Put validates and stores a record locally, then replicates it to the k
// closest known contacts. It returns the number of peers that
// acknowledged the STORE in addition to the local store.
func (n *Node) Put(ctx context.Context, key nodeid.Key, value []byte, tag record.Tag, ttl int64) (int, error) {
	ttlDuration := time.Duration(ttl) * time.Second
	if ttlDuration <= 0 {
		ttlDuration = record.DefaultTTL
	}
	r := record.Record{
		Key:   key,
		Value: value,
		Tag:   tag,
		TTL:   ttlDuration,
	}
	if _, err := n.store.Put(r); err != nil {
		return 0, err
	}

	targets := n.routing.Closest(key.RoutingKey(), n.replicationHorizon)
	var acked int
	for _, c := range targets {
		stored, err := n.StoreAt(ctx, c, r)
		if err != nil {
			n.metrics.RecordReplication(ctx, false)
			continue
		}
		if stored {
			acked++
		}
		n.metrics.RecordReplication(ctx, true)
	}
	return acked, nil
}

// Remove evicts key from the local store only; removal never propagates
// to peers.
func (n *Node) Remove(key nodeid.Key) error {
	return n.store.Remove(key)
}
