// Package client is the Go client library for the daemon's JSON bridge:
// newline-delimited JSON requests over a local stream endpoint, one
// request per line, responses correlated by id. The library is
// single-threaded request/response; a Client is not safe for concurrent
// use.
package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Error is a structured bridge failure, carrying the daemon's error
// kind in Code.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsNotFound reports whether err is a bridge not_found error.
func IsNotFound(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Code == "not_found"
}

// IsBusy reports whether err is a bridge busy rejection, which callers
// should retry with backoff.
func IsBusy(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Code == "busy"
}

type request struct {
	ID     uint64      `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params"`
}

type response struct {
	ID       uint64          `json:"id"`
	Response json.RawMessage `json:"response"`
	Error    *Error          `json:"error"`
}

// Client speaks the bridge protocol over one connection.
type Client struct {
	conn    net.Conn
	enc     *json.Encoder
	scanner *bufio.Scanner
	nextID  uint64

	// Responses may arrive out of request order; replies read
	// while waiting for a different id are parked here.
	parked map[uint64]response

	// Timeout bounds one round trip. Zero means no deadline.
	Timeout time.Duration
}

// Dial connects to the daemon's bridge endpoint: a UNIX socket when
// endpoint names a filesystem path ("unix:" prefix or a path separator),
// a TCP address otherwise.
func Dial(endpoint string) (*Client, error) {
	network, addr := "tcp", endpoint
	if strings.HasPrefix(endpoint, "unix:") {
		network, addr = "unix", strings.TrimPrefix(endpoint, "unix:")
	} else if strings.ContainsRune(endpoint, os.PathSeparator) {
		network, addr = "unix", endpoint
	}
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, errors.Wrap(err, "client: cannot reach daemon bridge")
	}
	return NewClient(conn), nil
}

// NewClient wraps an already-connected stream.
func NewClient(conn net.Conn) *Client {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Client{
		conn:    conn,
		enc:     json.NewEncoder(conn),
		scanner: scanner,
		parked:  make(map[uint64]response),
		Timeout: 30 * time.Second,
	}
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) call(method string, params, result interface{}) error {
	c.nextID++
	id := c.nextID
	if params == nil {
		params = struct{}{}
	}
	if c.Timeout > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(c.Timeout)); err != nil {
			return errors.Wrap(err, "client: cannot set deadline")
		}
	}
	if err := c.enc.Encode(request{ID: id, Method: method, Params: params}); err != nil {
		return errors.Wrap(err, "client: write request failed")
	}

	resp, err := c.readUntil(id)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result != nil {
		if err := json.Unmarshal(resp.Response, result); err != nil {
			return errors.Wrap(err, "client: malformed response body")
		}
	}
	return nil
}

func (c *Client) readUntil(id uint64) (response, error) {
	if resp, ok := c.parked[id]; ok {
		delete(c.parked, id)
		return resp, nil
	}
	for c.scanner.Scan() {
		var resp response
		if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
			return response{}, errors.Wrap(err, "client: malformed response line")
		}
		if resp.ID == id {
			return resp, nil
		}
		c.parked[resp.ID] = resp
	}
	if err := c.scanner.Err(); err != nil {
		return response{}, errors.Wrap(err, "client: read failed")
	}
	return response{}, errors.New("client: connection closed by daemon")
}

// Put publishes a record under key and returns the number of successful
// stores (local plus replicas).
func (c *Client) Put(key, value, tag string, ttlSeconds int64) (int, error) {
	var result struct {
		Stored int `json:"stored"`
	}
	err := c.call("put", map[string]interface{}{
		"key": key, "value": value, "tag": tag, "ttl": ttlSeconds,
	}, &result)
	return result.Stored, err
}

// Get resolves key locally or via iterative lookup and returns the value.
func (c *Client) Get(key string) (string, error) {
	var result struct {
		Value string `json:"value"`
	}
	err := c.call("get", map[string]string{"key": key}, &result)
	return result.Value, err
}

// Remove purges key from the daemon's local store and mappings.
func (c *Client) Remove(key string) error {
	return c.call("remove", map[string]string{"key": key}, nil)
}

// Map inserts a mapping row linking searchTerm to key.
func (c *Client) Map(searchTerm, key, content string) error {
	return c.call("map", map[string]string{
		"search_term": searchTerm, "key": key, "content": content,
	}, nil)
}

// SearchHit is one mapping row matched by Search.
type SearchHit struct {
	SearchTerm string `json:"search_term"`
	Key        string `json:"key"`
	Content    string `json:"content"`
}

// Search runs a full-text query against the daemon's local mappings index.
func (c *Client) Search(query string) ([]SearchHit, error) {
	var result struct {
		Hits []SearchHit `json:"hits"`
	}
	err := c.call("search", map[string]string{"query": query}, &result)
	return result.Hits, err
}

// PeerStatus mirrors the status response's peers[] entries.
type PeerStatus struct {
	ID       string `json:"id"`
	Endpoint string `json:"endpoint"`
	Status   int    `json:"status"`
}

// Status is the daemon introspection response.
type Status struct {
	ConnectedPeers int          `json:"connected_peers"`
	ActivePeers    int          `json:"active_peers"`
	IdlePeers      int          `json:"idle_peers"`
	DataCount      int64        `json:"data_count"`
	DataRAMUsage   int64        `json:"data_ram_usage"`
	Host           string       `json:"host"`
	Peers          []PeerStatus `json:"peers"`
}

// Status returns the daemon's routing and storage introspection.
func (c *Client) Status() (Status, error) {
	var s Status
	err := c.call("status", nil, &s)
	return s, err
}

// Clear truncates the daemon's local content store (debug).
func (c *Client) Clear() error {
	return c.call("clear", nil, nil)
}
