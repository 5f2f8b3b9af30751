package bridge

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/neromon/dhtcore/metrics"
	"github.com/neromon/dhtcore/node"
	"github.com/neromon/dhtcore/nodeid"
	"github.com/neromon/dhtcore/record"
	"github.com/neromon/dhtcore/routing"
	"github.com/neromon/dhtcore/store"
	"github.com/neromon/dhtcore/store/memory"
	"github.com/neromon/dhtcore/transport"
)

func testBridge(t *testing.T) (*Bridge, net.Conn) {
	t.Helper()
	self := nodeid.FromIdentity(fmt.Sprintf("bridge-test-%d", time.Now().UnixNano()))
	factory := transport.NetListenerFactory{}
	ln, err := factory.Listen("127.0.0.1:0")
	require.NoError(t, err)

	rt := routing.New(self)
	backend := memory.New()
	st := store.New(backend, record.NewValidator())
	var m *metrics.Metrics

	n := node.New(self, ln.Addr().String(), rt, st, nil, transport.NetDialer{}, m)
	go n.Serve(ln)
	t.Cleanup(func() {
		ln.Close()
		n.Close()
	})

	b := New(n, nil, m)
	t.Cleanup(b.Close)

	client, server := net.Pipe()
	go b.ServeConn(server)
	t.Cleanup(func() { client.Close() })
	return b, client
}

func roundtrip(t *testing.T, conn net.Conn, req Request) Response {
	t.Helper()
	enc := json.NewEncoder(conn)
	require.NoError(t, enc.Encode(req))

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(line, &resp))
	return resp
}

func TestPutGetRemoveOverBridge(t *testing.T) {
	_, conn := testBridge(t)

	value := []byte(`{"metadata":"listing","id":"u-1","seller_id":"s1","quantity":1,"price":1,"currency":"XMR","condition":"new","date":"2026-01-01","product":{"name":"n","description":"d","category":"c"},"signature":"sig"}`)
	canon, err := record.Canonical(value)
	require.NoError(t, err)
	key := nodeid.KeyFromContent(canon)

	putResp := roundtrip(t, conn, Request{ID: 1, Method: "put", Params: mustJSON(t, putParams{
		Key:   key.Hex(),
		Value: string(value),
		Tag:   string(record.TagListing),
		TTL:   3600,
	})})
	require.Nil(t, putResp.Error)

	getResp := roundtrip(t, conn, Request{ID: 2, Method: "get", Params: mustJSON(t, getParams{Key: key.Hex()})})
	require.Nil(t, getResp.Error)

	var gr getResult
	remarshal(t, getResp.Response, &gr)
	require.Equal(t, string(value), gr.Value)

	removeResp := roundtrip(t, conn, Request{ID: 3, Method: "remove", Params: mustJSON(t, removeParams{Key: key.Hex()})})
	require.Nil(t, removeResp.Error)

	missResp := roundtrip(t, conn, Request{ID: 4, Method: "get", Params: mustJSON(t, getParams{Key: key.Hex()})})
	require.NotNil(t, missResp.Error)
	require.Equal(t, "not_found", missResp.Error.Code)
}

func TestHashMismatchRejected(t *testing.T) {
	_, conn := testBridge(t)

	bogusKey := nodeid.KeyFromContent([]byte("something else"))
	resp := roundtrip(t, conn, Request{ID: 1, Method: "put", Params: mustJSON(t, putParams{
		Key:   bogusKey.Hex(),
		Value: "hello",
		TTL:   3600,
	})})
	require.NotNil(t, resp.Error)
	require.Equal(t, "invalid", resp.Error.Code)
}

func TestStatusOverBridge(t *testing.T) {
	_, conn := testBridge(t)

	resp := roundtrip(t, conn, Request{ID: 1, Method: "status"})
	require.Nil(t, resp.Error)

	var st node.Status
	remarshal(t, resp.Response, &st)
	require.Equal(t, 0, st.ConnectedPeers)
}

func TestClearOverBridge(t *testing.T) {
	_, conn := testBridge(t)

	value := []byte(`{"metadata":"listing","id":"u-2","seller_id":"s1","quantity":1,"price":1,"currency":"XMR","condition":"new","date":"2026-01-01","product":{"name":"n","description":"d","category":"c"},"signature":"sig"}`)
	canon, err := record.Canonical(value)
	require.NoError(t, err)
	key := nodeid.KeyFromContent(canon)
	putResp := roundtrip(t, conn, Request{ID: 1, Method: "put", Params: mustJSON(t, putParams{
		Key:   key.Hex(),
		Value: string(value),
		Tag:   string(record.TagListing),
		TTL:   3600,
	})})
	require.Nil(t, putResp.Error)

	clearResp := roundtrip(t, conn, Request{ID: 2, Method: "clear"})
	require.Nil(t, clearResp.Error)

	getResp := roundtrip(t, conn, Request{ID: 3, Method: "get", Params: mustJSON(t, getParams{Key: key.Hex()})})
	require.NotNil(t, getResp.Error)
}

func TestUnknownMethodRejected(t *testing.T) {
	_, conn := testBridge(t)

	resp := roundtrip(t, conn, Request{ID: 1, Method: "bogus"})
	require.NotNil(t, resp.Error)
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func remarshal(t *testing.T, from interface{}, to interface{}) {
	t.Helper()
	b, err := json.Marshal(from)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, to))
}
