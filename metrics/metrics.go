// Package metrics instruments the daemon core with opentelemetry:
// counters for RPC and replication outcomes, a histogram for lookup
// latency, and atomic.Value-backed observable gauges for routing table
// occupancy, contact liveness, store size, and bridge queue depth.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	cmetric "go.opentelemetry.io/otel/metric"
)

// Metrics holds every instrument the daemon reports. A nil *Metrics is
// valid everywhere below: components under test that build without a
// meter simply pass nil and every method becomes a no-op.
type Metrics struct {
	core *coreMetrics
}

// New builds a Metrics bound to meter, registering every instrument and the
// single async callback that serves the gauges.
func New(meter cmetric.Meter) (*Metrics, error) {
	core, err := newCoreMetrics(meter)
	if err != nil {
		return nil, err
	}
	if _, err := meter.RegisterCallback(core.observe, core.observableMetrics()...); err != nil {
		return nil, err
	}
	return &Metrics{core: core}, nil
}

// RecordRPC counts the outcome of one peer RPC.
func (m *Metrics) RecordRPC(ctx context.Context, rpcType string, ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.core.RPCSuccess.Add(ctx, 1, attribute.String("rpc", rpcType))
		return
	}
	m.core.RPCFailure.Add(ctx, 1, attribute.String("rpc", rpcType))
}

// ObserveLookupLatency records the wall-clock duration of one iterative
// lookup.
func (m *Metrics) ObserveLookupLatency(ctx context.Context, ms int64) {
	if m == nil {
		return
	}
	m.core.LookupLatency.Record(ctx, ms)
}

// SetRoutingSize reports the routing table's total live-contact count.
func (m *Metrics) SetRoutingSize(n int64) {
	if m == nil {
		return
	}
	m.core.RoutingSizeValue.Store(n)
}

// SetContactState reports the number of contacts in a single liveness
// state; call once per state after each maintenance pass.
func (m *Metrics) SetContactState(state string, n int64) {
	if m == nil {
		return
	}
	m.core.contactStateMu.Lock()
	m.core.contactStateValue[state] = n
	m.core.contactStateMu.Unlock()
}

// SetStoreSize reports the ContentStore's total bytes on disk.
func (m *Metrics) SetStoreSize(bytes int64) {
	if m == nil {
		return
	}
	m.core.StoreSizeValue.Store(bytes)
}

// SetRecordCount reports the ContentStore's total record count.
func (m *Metrics) SetRecordCount(n int64) {
	if m == nil {
		return
	}
	m.core.RecordCountValue.Store(n)
}

// SetBridgeQueueDepth reports the bridge worker pool's current queue
// depth.
func (m *Metrics) SetBridgeQueueDepth(n int64) {
	if m == nil {
		return
	}
	m.core.BridgeQueueDepthValue.Store(n)
}

// RecordBridgeRequest counts one client bridge request; errKind is empty
// on success or the structured error kind on failure.
func (m *Metrics) RecordBridgeRequest(ctx context.Context, method, errKind string) {
	if m == nil {
		return
	}
	if errKind == "" {
		m.core.BridgeRequests.Add(ctx, 1, attribute.String("method", method))
		return
	}
	m.core.BridgeErrors.Add(ctx, 1, attribute.String("method", method), attribute.String("kind", errKind))
}

// RecordReplication counts one STORE replication fan-out attempt.
func (m *Metrics) RecordReplication(ctx context.Context, ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.core.ReplicationSuccess.Add(ctx, 1)
		return
	}
	m.core.ReplicationFailure.Add(ctx, 1)
}
