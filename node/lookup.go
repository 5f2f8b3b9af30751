package node

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gammazero/workerpool"

	"github.com/neromon/dhtcore/contact"
	"github.com/neromon/dhtcore/nodeid"
	"github.com/neromon/dhtcore/record"
)

// queryResult is what one peer query contributes to an iterative lookup.
type queryResult struct {
	queried  contact.Contact
	err      error
	found    bool
	value    record.Record
	contacts []contact.Contact
}

// shortlist tracks the candidate set of an iterative lookup: contacts
// known so far, ordered by distance to target, with which ones have
// already been queried.
type shortlist struct {
	target  nodeid.NodeId
	mu      sync.Mutex
	entries []contact.Contact
	queried map[nodeid.NodeId]bool
}

func newShortlist(target nodeid.NodeId, seed []contact.Contact) *shortlist {
	s := &shortlist{target: target, queried: make(map[nodeid.NodeId]bool)}
	s.merge(seed)
	return s
}

func (s *shortlist) merge(cs []contact.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[nodeid.NodeId]bool, len(s.entries))
	for _, c := range s.entries {
		seen[c.ID] = true
	}
	for _, c := range cs {
		if !seen[c.ID] {
			seen[c.ID] = true
			s.entries = append(s.entries, c)
		}
	}
	sortByDistance(s.entries, s.target)
}

func (s *shortlist) closest(n int) []contact.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) > n {
		return append([]contact.Contact(nil), s.entries[:n]...)
	}
	return append([]contact.Contact(nil), s.entries...)
}

// nextToQuery returns up to n not-yet-queried contacts from the closest
// end of the shortlist, marking them queried.
func (s *shortlist) nextToQuery(n int) []contact.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []contact.Contact
	for _, c := range s.entries {
		if len(out) >= n {
			break
		}
		if !s.queried[c.ID] {
			s.queried[c.ID] = true
			out = append(out, c)
		}
	}
	return out
}

func (s *shortlist) allQueriedWithin(n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit := n
	if limit > len(s.entries) {
		limit = len(s.entries)
	}
	for _, c := range s.entries[:limit] {
		if !s.queried[c.ID] {
			return false
		}
	}
	return true
}

func sortByDistance(cs []contact.Contact, target nodeid.NodeId) {
	for i := 1; i < len(cs); i++ {
		for j := i; j > 0; j-- {
			if nodeid.Distance(target, cs[j].ID).Less(nodeid.Distance(target, cs[j-1].ID)) {
				cs[j], cs[j-1] = cs[j-1], cs[j]
			} else {
				break
			}
		}
	}
}

// Lookup runs the iterative FIND_NODE lookup: starting from the k
// closest local contacts, it queries alpha
// not-yet-queried closest candidates per round, merges in whatever they
// return, and stops when the k closest have all been queried or a round
// learns no closer node. A contact whose query fails counts as queried
// and stays in the candidate set.
func (n *Node) Lookup(ctx context.Context, target nodeid.NodeId) ([]contact.Contact, error) {
	ctx, cancel := context.WithTimeout(ctx, LookupDeadline)
	defer cancel()

	sl := newShortlist(target, n.routing.Closest(target, K))

	for {
		batch := sl.nextToQuery(Alpha)
		if len(batch) == 0 {
			// Nothing left unqueried: the lookup terminates here even
			// below K candidates.
			break
		}
		prev := sl.closest(1)

		results := n.queryBatch(ctx, batch, func(ctx context.Context, c contact.Contact) queryResult {
			found, err := n.FindNode(ctx, c, target)
			return queryResult{queried: c, err: err, contacts: found}
		})

		for _, r := range results {
			if r.err != nil {
				n.routing.Fail(r.queried.ID)
				continue
			}
			n.routing.Observe(contact.New(r.queried.ID, r.queried.Endpoint).Observe(n.now()))
			sl.merge(r.contacts)
		}

		if sl.allQueriedWithin(K) {
			break
		}
		if best := sl.closest(1); len(prev) > 0 &&
			!nodeid.Distance(target, best[0].ID).Less(nodeid.Distance(target, prev[0].ID)) {
			// This round learned no node closer than the closest already known.
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	return sl.closest(K), nil
}

// Get resolves key via the local ContentStore first, then an iterative
// FIND_VALUE lookup. On a hit, the winning value is cached at the k-1
// nearest responders that did not hold it.
func (n *Node) Get(ctx context.Context, key nodeid.Key) (record.Record, bool, error) {
	if r, found, err := n.store.Get(key); err != nil {
		return record.Record{}, false, errors.Mark(err, ErrStorage)
	} else if found {
		return r, true, nil
	}

	ctx, cancel := context.WithTimeout(ctx, LookupDeadline)
	defer cancel()

	target := key.RoutingKey()
	sl := newShortlist(target, n.routing.Closest(target, K))

	var missedBy []contact.Contact
	var winner record.Record
	var hit bool

	for !hit {
		batch := sl.nextToQuery(Alpha)
		if len(batch) == 0 {
			break
		}

		results := n.queryBatch(ctx, batch, func(ctx context.Context, c contact.Contact) queryResult {
			res, err := n.FindValue(ctx, c, key)
			return queryResult{queried: c, err: err, found: res.Found, value: record.Record{Value: res.Value, Tag: res.Tag, TTL: res.TTL, Key: key}, contacts: res.Contacts}
		})

		for _, r := range results {
			if r.err != nil {
				n.routing.Fail(r.queried.ID)
				continue
			}
			n.routing.Observe(contact.New(r.queried.ID, r.queried.Endpoint).Observe(n.now()))
			if r.found && !hit {
				hit = true
				winner = r.value
				continue
			}
			if !r.found {
				missedBy = append(missedBy, r.queried)
			}
			sl.merge(r.contacts)
		}

		if hit {
			break
		}
		if sl.allQueriedWithin(K) {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	if !hit {
		return record.Record{}, false, nil
	}

	go n.cacheAtMissers(context.Background(), winner, missedBy)
	return winner, true, nil
}

// cacheAtMissers instructs the k-1 nearest responders that didn't hold
// the value to cache it.
func (n *Node) cacheAtMissers(ctx context.Context, r record.Record, missed []contact.Contact) {
	sortByDistance(missed, r.Key.RoutingKey())
	if len(missed) > K-1 {
		missed = missed[:K-1]
	}
	for _, c := range missed {
		if _, err := n.StoreAt(ctx, c, r); err != nil {
			log.Debugw("cache-at-misser store failed", "endpoint", c.Endpoint, "err", err)
		}
	}
}

// queryBatch runs fn against each contact in batch concurrently, bounded
// by Alpha, and returns once every call has completed or ctx is done.
func (n *Node) queryBatch(ctx context.Context, batch []contact.Contact, fn func(context.Context, contact.Contact) queryResult) []queryResult {
	wp := workerpool.New(Alpha)
	defer wp.StopWait()

	var mu sync.Mutex
	results := make([]queryResult, 0, len(batch))
	var wg sync.WaitGroup
	for _, c := range batch {
		c := c
		wg.Add(1)
		wp.Submit(func() {
			defer wg.Done()
			r := fn(ctx, c)
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		})
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		deadline := time.Now().Add(RPCDeadline)
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
		}
	}
	return results
}
