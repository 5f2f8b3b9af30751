// Package transport abstracts the anonymity-preserving overlay network
// the daemon runs over: opaque endpoint strings, a length-prefixed frame
// codec, and a long-lived accept loop plus an on-demand outbound
// connection cache. The overlay itself is an external collaborator; this
// package only knows how to dial, listen, and frame bytes over whatever
// net.Conn-like thing the overlay hands back.
package transport

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("transport")

// MaxFrameSize bounds a single frame to guard against a malicious or
// buggy peer claiming an unbounded length prefix.
const MaxFrameSize = 8 * 1024 * 1024

// Dialer opens outbound connections to opaque overlay endpoints. The
// overlay binary supplies the concrete implementation (e.g. a Tor/I2P
// socket factory); this package only depends on the net.Conn contract.
type Dialer interface {
	Dial(endpoint string) (net.Conn, error)
}

// Listener accepts inbound connections on an opaque local endpoint.
type Listener interface {
	Accept() (net.Conn, error)
	Close() error
	Addr() net.Addr
}

// ListenerFactory creates a Listener bound to endpoint.
type ListenerFactory interface {
	Listen(endpoint string) (Listener, error)
}

// NetDialer adapts net.Dial to Dialer for endpoints that are actually
// reachable as plain TCP/Unix addresses (used by tests and by daemons
// running without an anonymity overlay).
type NetDialer struct {
	Network string
	Timeout time.Duration
}

// Dial implements Dialer.
func (d NetDialer) Dial(endpoint string) (net.Conn, error) {
	network := d.Network
	if network == "" {
		network = "tcp"
	}
	timeout := d.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	conn, err := net.DialTimeout(network, endpoint, timeout)
	if err != nil {
		return nil, errors.Wrap(err, "transport: dial failed")
	}
	return conn, nil
}

// NetListenerFactory adapts net.Listen to ListenerFactory.
type NetListenerFactory struct {
	Network string
}

// Listen implements ListenerFactory.
func (f NetListenerFactory) Listen(endpoint string) (Listener, error) {
	network := f.Network
	if network == "" {
		network = "tcp"
	}
	ln, err := net.Listen(network, endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "transport: listen failed")
	}
	return netListener{ln}, nil
}

type netListener struct{ net.Listener }

func (n netListener) Accept() (net.Conn, error) { return n.Listener.Accept() }

// WriteFrame writes a length-prefixed frame: a 4-byte big-endian length
// followed by payload.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return errors.Newf("transport: frame of %d bytes exceeds max %d", len(payload), MaxFrameSize)
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "transport: write frame header failed")
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Wrap(err, "transport: write frame payload failed")
	}
	return nil
}

// ReadFrame reads one length-prefixed frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, errors.Wrap(err, "transport: read frame header failed")
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, errors.Newf("transport: frame of %d bytes exceeds max %d", n, MaxFrameSize)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errors.Wrap(err, "transport: read frame payload failed")
	}
	return payload, nil
}

// Conn wraps a net.Conn with buffered frame read/write.
type Conn struct {
	raw net.Conn
	r   *bufio.Reader
}

// WrapConn buffers raw for frame I/O.
func WrapConn(raw net.Conn) *Conn {
	return &Conn{raw: raw, r: bufio.NewReader(raw)}
}

// Send writes one frame, honoring deadline if non-zero.
func (c *Conn) Send(frame []byte, deadline time.Time) error {
	if !deadline.IsZero() {
		if err := c.raw.SetWriteDeadline(deadline); err != nil {
			return errors.Wrap(err, "transport: set write deadline failed")
		}
	}
	return WriteFrame(c.raw, frame)
}

// Recv reads one frame, honoring deadline if non-zero.
func (c *Conn) Recv(deadline time.Time) ([]byte, error) {
	if !deadline.IsZero() {
		if err := c.raw.SetReadDeadline(deadline); err != nil {
			return nil, errors.Wrap(err, "transport: set read deadline failed")
		}
	}
	return ReadFrame(c.r)
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.raw.Close() }

// Endpoint is the remote address string, opaque to the core.
func (c *Conn) Endpoint() string { return c.raw.RemoteAddr().String() }

// ConnCache is the lock-free outbound connection cache keyed by
// endpoint; entries are created idempotently.
type ConnCache struct {
	dialer Dialer
	conns  sync.Map // endpoint string -> *Conn
}

// NewConnCache creates a ConnCache that dials new connections via dialer.
func NewConnCache(dialer Dialer) *ConnCache {
	return &ConnCache{dialer: dialer}
}

// Get returns an existing connection to endpoint, dialing a new one if
// none is cached yet. A cached connection is not checked for liveness;
// it stays in the cache until Drop evicts it.
func (c *ConnCache) Get(endpoint string) (*Conn, error) {
	if v, ok := c.conns.Load(endpoint); ok {
		return v.(*Conn), nil
	}
	raw, err := c.dialer.Dial(endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "transport: dial failed")
	}
	conn := WrapConn(raw)
	actual, loaded := c.conns.LoadOrStore(endpoint, conn)
	if loaded {
		conn.Close()
		return actual.(*Conn), nil
	}
	return conn, nil
}

// Drop closes and evicts the cached connection for endpoint, if any. A
// caller does this after a send/recv failure so the next Get redials.
func (c *ConnCache) Drop(endpoint string) {
	if v, ok := c.conns.LoadAndDelete(endpoint); ok {
		if err := v.(*Conn).Close(); err != nil {
			log.Debugw("error closing dropped connection", "endpoint", endpoint, "err", err)
		}
	}
}

// CloseAll closes every cached outbound connection.
func (c *ConnCache) CloseAll() {
	c.conns.Range(func(key, value interface{}) bool {
		value.(*Conn).Close()
		c.conns.Delete(key)
		return true
	})
}

// AcceptLoop runs ln's accept loop until it returns an error (typically
// because ln was closed), calling handle for each inbound connection on
// its own goroutine.
func AcceptLoop(ln Listener, handle func(*Conn)) error {
	for {
		raw, err := ln.Accept()
		if err != nil {
			return errors.Wrap(err, "transport: accept failed")
		}
		go handle(WrapConn(raw))
	}
}
