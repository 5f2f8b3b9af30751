package metrics

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	cmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/instrument"
	"go.opentelemetry.io/otel/metric/unit"
)

type coreMetrics struct {
	RPCSuccess instrument.Int64Counter
	RPCFailure instrument.Int64Counter

	LookupLatency instrument.Int64Histogram

	ReplicationSuccess instrument.Int64Counter
	ReplicationFailure instrument.Int64Counter

	BridgeRequests instrument.Int64Counter
	BridgeErrors   instrument.Int64Counter

	routingSize     instrument.Int64ObservableGauge
	contactState    instrument.Int64ObservableGauge
	storeSize       instrument.Int64ObservableGauge
	recordCount     instrument.Int64ObservableGauge
	bridgeQueueSize instrument.Int64ObservableGauge

	RoutingSizeValue      atomic.Value
	StoreSizeValue        atomic.Value
	RecordCountValue      atomic.Value
	BridgeQueueDepthValue atomic.Value

	contactStateMu    sync.Mutex
	contactStateValue map[string]int64
}

func newCoreMetrics(meter cmetric.Meter) (*coreMetrics, error) {
	var m coreMetrics
	var err error

	m.RoutingSizeValue.Store(int64(0))
	m.StoreSizeValue.Store(int64(0))
	m.RecordCountValue.Store(int64(0))
	m.BridgeQueueDepthValue.Store(int64(0))
	m.contactStateValue = make(map[string]int64)

	if m.RPCSuccess, err = meter.Int64Counter("core/rpc/success",
		instrument.WithDescription("Number of peer RPCs that completed successfully"),
		instrument.WithUnit(string(unit.Dimensionless))); err != nil {
		return nil, err
	}
	if m.RPCFailure, err = meter.Int64Counter("core/rpc/failure",
		instrument.WithDescription("Number of peer RPCs that timed out or errored"),
		instrument.WithUnit(string(unit.Dimensionless))); err != nil {
		return nil, err
	}
	if m.LookupLatency, err = meter.Int64Histogram("core/lookup_latency",
		instrument.WithUnit(string(unit.Milliseconds)),
		instrument.WithDescription("Wall-clock duration of an iterative FIND_NODE/FIND_VALUE lookup")); err != nil {
		return nil, err
	}
	if m.ReplicationSuccess, err = meter.Int64Counter("core/replication/success",
		instrument.WithDescription("Number of replication STOREs accepted by a peer"),
		instrument.WithUnit(string(unit.Dimensionless))); err != nil {
		return nil, err
	}
	if m.ReplicationFailure, err = meter.Int64Counter("core/replication/failure",
		instrument.WithDescription("Number of replication STOREs that failed"),
		instrument.WithUnit(string(unit.Dimensionless))); err != nil {
		return nil, err
	}
	if m.BridgeRequests, err = meter.Int64Counter("core/bridge/requests",
		instrument.WithDescription("Number of client bridge requests that completed without error"),
		instrument.WithUnit(string(unit.Dimensionless))); err != nil {
		return nil, err
	}
	if m.BridgeErrors, err = meter.Int64Counter("core/bridge/errors",
		instrument.WithDescription("Number of client bridge requests that returned an error"),
		instrument.WithUnit(string(unit.Dimensionless))); err != nil {
		return nil, err
	}
	if m.routingSize, err = meter.Int64ObservableGauge("core/routing/size",
		instrument.WithDescription("Total live contacts across all k-buckets"),
		instrument.WithUnit(string(unit.Dimensionless))); err != nil {
		return nil, err
	}
	if m.contactState, err = meter.Int64ObservableGauge("core/routing/contact_state",
		instrument.WithDescription("Number of contacts per liveness state"),
		instrument.WithUnit(string(unit.Dimensionless))); err != nil {
		return nil, err
	}
	if m.storeSize, err = meter.Int64ObservableGauge("core/store/size_bytes",
		instrument.WithDescription("Bytes of storage used by the content store"),
		instrument.WithUnit(string(unit.Bytes))); err != nil {
		return nil, err
	}
	if m.recordCount, err = meter.Int64ObservableGauge("core/store/record_count",
		instrument.WithDescription("Number of records held by the content store"),
		instrument.WithUnit(string(unit.Dimensionless))); err != nil {
		return nil, err
	}
	if m.bridgeQueueSize, err = meter.Int64ObservableGauge("core/bridge/queue_depth",
		instrument.WithDescription("Current depth of the bridge worker pool queue"),
		instrument.WithUnit(string(unit.Dimensionless))); err != nil {
		return nil, err
	}

	return &m, nil
}

func (m *coreMetrics) observableMetrics() []instrument.Asynchronous {
	return []instrument.Asynchronous{
		m.routingSize,
		m.contactState,
		m.storeSize,
		m.recordCount,
		m.bridgeQueueSize,
	}
}

func (m *coreMetrics) observe(ctx context.Context, o cmetric.Observer) error {
	o.ObserveInt64(m.routingSize, m.RoutingSizeValue.Load().(int64))
	o.ObserveInt64(m.storeSize, m.StoreSizeValue.Load().(int64))
	o.ObserveInt64(m.recordCount, m.RecordCountValue.Load().(int64))
	o.ObserveInt64(m.bridgeQueueSize, m.BridgeQueueDepthValue.Load().(int64))

	m.contactStateMu.Lock()
	defer m.contactStateMu.Unlock()
	for state, n := range m.contactStateValue {
		o.ObserveInt64(m.contactState, n, attribute.String("state", state))
	}
	return nil
}
