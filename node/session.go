package node

import (
	"math/rand"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gammazero/workerpool"

	"github.com/neromon/dhtcore/transport"
	"github.com/neromon/dhtcore/wire"
)

// session multiplexes one outbound transport.Conn across concurrently
// in-flight RPCs, demuxing responses by request id. Within a
// single connection responses return in request-id order but not
// necessarily arrival order, so a reader goroutine fans each response out
// to the caller waiting on that id rather than assuming FIFO.
type session struct {
	endpoint string
	conn     *transport.Conn

	mu      sync.Mutex
	pending map[uint64]chan wire.Message
	closed  bool

	limiter *workerpool.WorkerPool
}

func newSession(endpoint string, conn *transport.Conn) *session {
	s := &session{
		endpoint: endpoint,
		conn:     conn,
		pending:  make(map[uint64]chan wire.Message),
		// Per-remote-endpoint RPC concurrency cap.
		limiter: workerpool.New(MaxRPCPerEndpoint),
	}
	go s.readLoop()
	return s
}

func (s *session) readLoop() {
	for {
		frame, err := s.conn.Recv(time.Time{})
		if err != nil {
			s.failAll(err)
			return
		}
		msg, err := wire.Decode(frame)
		if err != nil {
			log.Warnw("dropping malformed frame", "endpoint", s.endpoint, "err", err)
			continue
		}
		s.mu.Lock()
		ch, ok := s.pending[msg.ID]
		if ok {
			delete(s.pending, msg.ID)
		}
		s.mu.Unlock()
		if !ok {
			// Unsolicited message on an outbound connection; the server
			// side handles inbound RPCs on its own accept-loop connections.
			continue
		}
		ch <- msg
	}
}

func (s *session) failAll(err error) {
	s.mu.Lock()
	s.closed = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
	_ = err
}

// call sends req and blocks until the matching response arrives or
// deadline elapses.
func (s *session) call(req wire.Message, deadline time.Time) (wire.Message, error) {
	ch := make(chan wire.Message, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return wire.Message{}, errors.New("node: session closed")
	}
	s.pending[req.ID] = ch
	s.mu.Unlock()

	frame, err := wire.Encode(req)
	if err != nil {
		return wire.Message{}, errors.Wrap(err, "node: encode request failed")
	}
	if err := s.conn.Send(frame, deadline); err != nil {
		s.mu.Lock()
		delete(s.pending, req.ID)
		s.mu.Unlock()
		return wire.Message{}, errors.Wrap(err, "node: send request failed")
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case resp, ok := <-ch:
		if !ok {
			return wire.Message{}, errors.New("node: session closed while waiting for response")
		}
		return resp, nil
	case <-timer.C:
		s.mu.Lock()
		delete(s.pending, req.ID)
		s.mu.Unlock()
		return wire.Message{}, errors.Mark(errors.New("node: rpc timed out"), ErrTimeout)
	}
}

// submit runs fn bounded by the session's per-endpoint concurrency cap.
func (s *session) submit(fn func()) {
	s.limiter.Submit(fn)
}

func (s *session) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.conn.Close()
	s.limiter.StopWait()
}

// sessionPool owns one session per remote endpoint, dialed lazily.
type sessionPool struct {
	dialer transport.Dialer

	mu       sync.Mutex
	sessions map[string]*session
}

func newSessionPool(dialer transport.Dialer) *sessionPool {
	return &sessionPool{dialer: dialer, sessions: make(map[string]*session)}
}

func (p *sessionPool) get(endpoint string) (*session, error) {
	p.mu.Lock()
	if s, ok := p.sessions[endpoint]; ok {
		p.mu.Unlock()
		return s, nil
	}
	p.mu.Unlock()

	raw, err := p.dialer.Dial(endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "node: dial failed")
	}
	s := newSession(endpoint, transport.WrapConn(raw))

	p.mu.Lock()
	if existing, ok := p.sessions[endpoint]; ok {
		p.mu.Unlock()
		s.close()
		return existing, nil
	}
	p.sessions[endpoint] = s
	p.mu.Unlock()
	return s, nil
}

func (p *sessionPool) drop(endpoint string) {
	p.mu.Lock()
	s, ok := p.sessions[endpoint]
	delete(p.sessions, endpoint)
	p.mu.Unlock()
	if ok {
		s.close()
	}
}

func (p *sessionPool) closeAll() {
	p.mu.Lock()
	sessions := p.sessions
	p.sessions = make(map[string]*session)
	p.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
}

func newRequestID() uint64 {
	return rand.Uint64()
}
