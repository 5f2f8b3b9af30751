package client

import (
	"encoding/json"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/neromon/dhtcore/bridge"
	"github.com/neromon/dhtcore/mapping"
	"github.com/neromon/dhtcore/node"
	"github.com/neromon/dhtcore/nodeid"
	"github.com/neromon/dhtcore/record"
	"github.com/neromon/dhtcore/routing"
	"github.com/neromon/dhtcore/store"
	"github.com/neromon/dhtcore/store/memory"
	"github.com/neromon/dhtcore/transport"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	self := nodeid.FromIdentity(fmt.Sprintf("client-test-%d", time.Now().UnixNano()))
	factory := transport.NetListenerFactory{}
	ln, err := factory.Listen("127.0.0.1:0")
	require.NoError(t, err)

	idx, err := mapping.Open(filepath.Join(t.TempDir(), "data.sqlite3"))
	require.NoError(t, err)

	rt := routing.New(self)
	st := store.New(memory.New(), record.NewValidator())
	n := node.New(self, ln.Addr().String(), rt, st, idx, transport.NetDialer{}, nil)
	go n.Serve(ln)

	b := bridge.New(n, idx, nil)
	clientConn, serverConn := net.Pipe()
	go b.ServeConn(serverConn)

	t.Cleanup(func() {
		clientConn.Close()
		b.Close()
		ln.Close()
		n.Close()
		idx.Close()
	})
	return NewClient(clientConn)
}

func listingValue(id string) string {
	return fmt.Sprintf(`{"metadata":"listing","id":%q,"seller_id":"s1","quantity":1,"price":1,"currency":"XMR","condition":"new","date":"2026-01-01","product":{"name":"n","description":"d","category":"c"},"signature":"sig"}`, id)
}

func keyFor(t *testing.T, value string) string {
	t.Helper()
	canon, err := record.Canonical([]byte(value))
	require.NoError(t, err)
	return nodeid.KeyFromContent(canon).Hex()
}

func TestPutGetRemove(t *testing.T) {
	c := testClient(t)

	value := listingValue("l-1")
	key := keyFor(t, value)

	stored, err := c.Put(key, value, "listing", 3600)
	require.NoError(t, err)
	require.GreaterOrEqual(t, stored, 1)

	got, err := c.Get(key)
	require.NoError(t, err)
	require.Equal(t, value, got)

	require.NoError(t, c.Remove(key))

	_, err = c.Get(key)
	require.Error(t, err)
	require.True(t, IsNotFound(err))
}

func TestHashMismatchSurfacesInvalid(t *testing.T) {
	c := testClient(t)

	bogus := keyFor(t, `{"other":"content"}`)
	_, err := c.Put(bogus, "hello", "listing", 3600)
	require.Error(t, err)
	var be *Error
	require.ErrorAs(t, err, &be)
	require.Equal(t, "invalid", be.Code)
}

func TestMapAndSearch(t *testing.T) {
	c := testClient(t)

	value := listingValue("l-search")
	key := keyFor(t, value)

	require.NoError(t, c.Map("wownero", key, "listing"))

	hits, err := c.Search("wownero")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, key, hits[0].Key)

	// Purging the key drops the mapping row, per the remove contract.
	_, err = c.Put(key, value, "listing", 3600)
	require.NoError(t, err)
	require.NoError(t, c.Remove(key))

	hits, err = c.Search("wownero")
	require.NoError(t, err)
	require.Empty(t, hits)
}

func TestStatusAndClear(t *testing.T) {
	c := testClient(t)

	value := listingValue("l-status")
	key := keyFor(t, value)
	_, err := c.Put(key, value, "listing", 3600)
	require.NoError(t, err)

	s, err := c.Status()
	require.NoError(t, err)
	require.Equal(t, int64(1), s.DataCount)

	require.NoError(t, c.Clear())

	s, err = c.Status()
	require.NoError(t, err)
	require.Equal(t, int64(0), s.DataCount)
}

func TestOutOfOrderResponsesCorrelated(t *testing.T) {
	c := testClient(t)

	values := make([]string, 5)
	for i := range values {
		values[i] = listingValue(fmt.Sprintf("l-%d", i))
		_, err := c.Put(keyFor(t, values[i]), values[i], "listing", 3600)
		require.NoError(t, err)
	}

	// Issue several requests back to back before reading any reply; the
	// bridge may complete them in any order, and readUntil must park
	// mismatched ids. Replies are read back in reverse request order.
	ids := make([]uint64, len(values))
	for i, value := range values {
		c.nextID++
		ids[i] = c.nextID
		require.NoError(t, c.enc.Encode(request{ID: ids[i], Method: "get", Params: map[string]string{"key": keyFor(t, value)}}))
	}
	for i := len(values) - 1; i >= 0; i-- {
		resp, err := c.readUntil(ids[i])
		require.NoError(t, err)
		require.Nil(t, resp.Error)
		var got struct {
			Value string `json:"value"`
		}
		require.NoError(t, json.Unmarshal(resp.Response, &got))
		require.Equal(t, values[i], got.Value)
	}
}
