package node

import (
	"context"
	"time"

	"go.uber.org/multierr"

	"github.com/neromon/dhtcore/record"
	"github.com/neromon/dhtcore/routing"
)

// MaintenanceInterval is how often the scheduler ticks.
const MaintenanceInterval = 60 * time.Second

// RunMaintenance starts the single scheduler goroutine driving bucket
// refresh, the republication sweep, the expiry sweep, and per-bucket
// peer-health pings. It returns immediately; call Close to stop it.
func (n *Node) RunMaintenance() {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ticker := time.NewTicker(MaintenanceInterval)
		defer ticker.Stop()
		for {
			select {
			case <-n.stopCh:
				return
			case <-ticker.C:
				n.runMaintenancePass()
			}
		}
	}()
}

func (n *Node) runMaintenancePass() {
	ctx := context.Background()
	now := n.now()

	n.routing.RefreshIdle(now)
	n.refreshStaleBuckets(ctx)
	n.sweepRepublish(ctx, now)
	n.sweepExpiry(now)
	n.pingLongestIdle(ctx)
	n.reportMetrics()
}

// refreshStaleBuckets issues a FIND_NODE on a random id within each bucket
// untouched longer than routing.StaleInterval.
func (n *Node) refreshStaleBuckets(ctx context.Context) {
	for _, bucket := range n.routing.RefreshStale(routing.StaleInterval) {
		target := randomIDInBucket(n.Self, bucket)
		if _, err := n.Lookup(ctx, target); err != nil {
			log.Debugw("bucket refresh lookup failed", "bucket", bucket, "err", err)
		}
	}
}

// sweepRepublish re-STOREs every record due for republication toward its
// k closest known contacts.
func (n *Node) sweepRepublish(ctx context.Context, now time.Time) {
	due, err := n.store.IterDueForRepublish(now)
	if err != nil {
		log.Warnw("republish sweep failed to list due records", "err", err)
		return
	}
	for _, r := range due {
		n.replicate(ctx, r)
		if err := n.store.MarkRepublished(r.Key, now); err != nil {
			log.Warnw("failed to mark record republished", "key", r.Key.Hex(), "err", err)
		}
	}
}

func (n *Node) sweepExpiry(now time.Time) {
	removed, err := n.store.SweepExpired(now)
	if err != nil {
		log.Warnw("expiry sweep failed", "err", err)
		return
	}
	for _, k := range removed {
		log.Debugw("expired record swept", "key", k.Hex())
	}
}

// pingLongestIdle pings the longest-idle contact in each non-empty
// bucket.
func (n *Node) pingLongestIdle(ctx context.Context) {
	for _, c := range n.routing.LongestIdlePerBucket() {
		if _, err := n.pingEndpoint(ctx, c); err != nil {
			n.routing.Fail(c.ID)
		}
	}
}

func (n *Node) reportMetrics() {
	n.metrics.SetRoutingSize(int64(n.routing.Size()))
	for state, count := range n.routing.CountByState() {
		n.metrics.SetContactState(state.String(), int64(count))
	}
	if size, err := n.store.Size(); err == nil {
		n.metrics.SetStoreSize(size)
	}
}

// replicate issues STORE to the closest known contacts to r's key, up to
// the configured replication horizon, combining every peer error rather
// than losing all but the last.
func (n *Node) replicate(ctx context.Context, r record.Record) error {
	targets := n.routing.Closest(r.Key.RoutingKey(), n.replicationHorizon)
	var errs error
	var success int
	for _, c := range targets {
		stored, err := n.StoreAt(ctx, c, r)
		if err != nil {
			errs = multierr.Append(errs, err)
			n.metrics.RecordReplication(ctx, false)
			continue
		}
		if stored {
			success++
		}
		n.metrics.RecordReplication(ctx, true)
	}
	log.Debugw("replication complete", "key", r.Key.Hex(), "targets", len(targets), "stored", success)
	return errs
}
