// Package bridge implements the JsonRpcBridge client<->daemon boundary:
// a newline-delimited JSON request/response loop over a local stream
// endpoint, backed by a bounded worker pool with a 256-deep request
// queue past which requests are rejected `busy`.
package bridge

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gammazero/workerpool"
	logging "github.com/ipfs/go-log/v2"

	"github.com/neromon/dhtcore/mapping"
	"github.com/neromon/dhtcore/metrics"
	"github.com/neromon/dhtcore/node"
	"github.com/neromon/dhtcore/nodeid"
	"github.com/neromon/dhtcore/record"
)

var log = logging.Logger("bridge")

// DefaultWorkers is the bridge's default bounded worker pool size.
const DefaultWorkers = 16

// MaxQueueDepth is how many requests may queue past the pool's worker
// count before new ones are rejected `busy`.
const MaxQueueDepth = 256

// Request is one line of the newline-delimited JSON request stream.
type Request struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Response is either a success or an error reply to a Request. Exactly
// one of Response/Error is populated.
type Response struct {
	ID       uint64      `json:"id"`
	Response interface{} `json:"response,omitempty"`
	Error    *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody is the structured failure shape returned to clients.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Bridge owns the node, mapping index, and worker pool behind the
// client-facing JSON-RPC loop.
type Bridge struct {
	node     *node.Node
	mapping  *mapping.Index
	metrics  *metrics.Metrics
	pool     *workerpool.WorkerPool
	workers  int
	inflight int32
}

// New builds a Bridge with the default worker count.
func New(n *node.Node, m *mapping.Index, metricsSink *metrics.Metrics) *Bridge {
	return NewSized(n, m, metricsSink, DefaultWorkers)
}

// NewSized builds a Bridge with workers concurrent request handlers.
func NewSized(n *node.Node, m *mapping.Index, metricsSink *metrics.Metrics, workers int) *Bridge {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Bridge{
		node:    n,
		mapping: m,
		metrics: metricsSink,
		pool:    workerpool.New(workers),
		workers: workers,
	}
}

// Close drains in-flight requests and stops the worker pool.
func (b *Bridge) Close() {
	b.pool.StopWait()
}

// ServeConn reads newline-delimited JSON requests from conn and writes
// newline-delimited JSON responses back. Requests may complete out of
// arrival order; each is dispatched to the worker pool and writes its
// own response line as soon as it's ready, so a caller must correlate by
// Request.ID rather than assume FIFO.
func (b *Bridge) ServeConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), record.MaxValueSize*2)
	enc := json.NewEncoder(conn)

	// Worker-pool goroutines and the scanner goroutine all write response
	// lines to the same encoder.
	var encMu sync.Mutex
	write := func(resp Response) {
		encMu.Lock()
		defer encMu.Unlock()
		if err := enc.Encode(resp); err != nil {
			log.Debugw("failed to write bridge response", "err", err)
		}
	}

	limit := int32(b.workers + MaxQueueDepth)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			write(Response{Error: &ErrorBody{Code: "invalid", Message: "malformed request"}})
			continue
		}

		if atomic.LoadInt32(&b.inflight) >= limit {
			write(Response{ID: req.ID, Error: &ErrorBody{Code: "busy", Message: "worker pool saturated"}})
			continue
		}
		atomic.AddInt32(&b.inflight, 1)
		b.pool.Submit(func() {
			defer atomic.AddInt32(&b.inflight, -1)
			b.metrics.SetBridgeQueueDepth(int64(atomic.LoadInt32(&b.inflight)))
			write(b.handle(req))
		})
	}
}

func (b *Bridge) handle(req Request) Response {
	ctx, cancel := context.WithTimeout(context.Background(), node.LookupDeadline+5*time.Second)
	defer cancel()

	result, err := b.dispatch(ctx, req)
	if err != nil {
		kind, msg := classifyError(err)
		b.metrics.RecordBridgeRequest(ctx, req.Method, kind)
		return Response{ID: req.ID, Error: &ErrorBody{Code: kind, Message: msg}}
	}
	b.metrics.RecordBridgeRequest(ctx, req.Method, "")
	return Response{ID: req.ID, Response: result}
}

func (b *Bridge) dispatch(ctx context.Context, req Request) (interface{}, error) {
	switch req.Method {
	case "put":
		return b.handlePut(ctx, req.Params)
	case "get":
		return b.handleGet(ctx, req.Params)
	case "remove":
		return b.handleRemove(ctx, req.Params)
	case "map":
		return b.handleMap(ctx, req.Params)
	case "search":
		return b.handleSearch(ctx, req.Params)
	case "status":
		return b.handleStatus(ctx)
	case "clear":
		return b.handleClear(ctx)
	default:
		return nil, errors.Newf("bridge: unknown method %q", req.Method)
	}
}

func classifyError(err error) (kind, message string) {
	switch {
	case errors.Is(err, node.ErrNotFound):
		return "not_found", err.Error()
	case errors.Is(err, record.ErrInvalid):
		return "invalid", err.Error()
	case errors.Is(err, node.ErrExpired):
		return "expired", err.Error()
	case errors.Is(err, node.ErrBusy):
		return "busy", err.Error()
	case errors.Is(err, node.ErrTimeout):
		return "timeout", err.Error()
	case errors.Is(err, node.ErrTransport):
		return "transport", err.Error()
	case errors.Is(err, node.ErrStorage):
		return "storage", err.Error()
	default:
		return "invalid", err.Error()
	}
}

func parseKey(hexKey string) (nodeid.Key, error) {
	b, err := hex.DecodeString(hexKey)
	if err != nil {
		return nodeid.Key{}, errors.Mark(errors.Wrap(err, "bridge: invalid hex key"), record.ErrInvalid)
	}
	if len(b) != nodeid.KeyLen {
		return nodeid.Key{}, errors.Mark(errors.Newf("bridge: key must be %d bytes, got %d", nodeid.KeyLen, len(b)), record.ErrInvalid)
	}
	var k nodeid.Key
	copy(k[:], b)
	return k, nil
}
