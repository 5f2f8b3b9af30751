package node

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/neromon/dhtcore/contact"
	"github.com/neromon/dhtcore/nodeid"
	"github.com/neromon/dhtcore/record"
	"github.com/neromon/dhtcore/wire"
)

func (n *Node) sender() wire.Sender {
	return wire.Sender{ID: n.Self, Endpoint: n.Endpoint}
}

func (n *Node) call(ctx context.Context, endpoint string, typ wire.Type, body interface{}) (wire.Message, error) {
	s, err := n.sessions.get(endpoint)
	if err != nil {
		return wire.Message{}, errors.Mark(err, ErrTransport)
	}

	req, err := wire.New(typ, newRequestID(), n.sender(), body)
	if err != nil {
		return wire.Message{}, err
	}

	deadline, ok := ctx.Deadline()
	if !ok || deadline.IsZero() {
		deadline = time.Now().Add(RPCDeadline)
	}

	var resp wire.Message
	var callErr error
	done := make(chan struct{})
	s.submit(func() {
		resp, callErr = s.call(req, deadline)
		close(done)
	})
	select {
	case <-done:
	case <-ctx.Done():
		return wire.Message{}, errors.Mark(ctx.Err(), ErrTimeout)
	}
	if callErr != nil {
		n.sessions.drop(endpoint)
		if errors.Is(callErr, ErrTimeout) {
			return wire.Message{}, callErr
		}
		return wire.Message{}, errors.Mark(callErr, ErrTransport)
	}
	if resp.Type == wire.TypeError {
		var eb wire.ErrorBody
		if err := resp.DecodeBody(&eb); err == nil {
			return resp, errors.Newf("node: peer error %s: %s", eb.Code, eb.Message)
		}
	}
	return resp, nil
}

// Ping issues a PING RPC, returning the responder's
// observed contact.
func (n *Node) Ping(ctx context.Context, c contact.Contact) (contact.Contact, error) {
	return n.pingEndpoint(ctx, c)
}

func (n *Node) pingEndpoint(ctx context.Context, c contact.Contact) (contact.Contact, error) {
	c = c.BeginProbe()
	resp, err := n.call(ctx, c.Endpoint, wire.TypePing, wire.PingBody{})
	if err != nil {
		n.recordRPC(ctx, "ping", false)
		return contact.Contact{}, err
	}
	n.recordRPC(ctx, "ping", true)
	return contact.New(resp.Sender.ID, c.Endpoint), nil
}

// FindNode issues a FIND_NODE RPC for target.
func (n *Node) FindNode(ctx context.Context, c contact.Contact, target nodeid.NodeId) ([]contact.Contact, error) {
	resp, err := n.call(ctx, c.Endpoint, wire.TypeFindNode, wire.FindNodeBody{Target: target})
	if err != nil {
		n.recordRPC(ctx, "find_node", false)
		return nil, err
	}
	n.recordRPC(ctx, "find_node", true)
	var body wire.NodesBody
	if err := resp.DecodeBody(&body); err != nil {
		return nil, err
	}
	return contactsFromWire(body.Contacts), nil
}

// findValueResult is the outcome of a single FIND_VALUE RPC: either a hit
// (Found=true, Value populated) or a miss with the closest contacts known.
type findValueResult struct {
	Found    bool
	Value    []byte
	Tag      record.Tag
	TTL      time.Duration
	Contacts []contact.Contact
}

// FindValue issues a FIND_VALUE RPC for key.
func (n *Node) FindValue(ctx context.Context, c contact.Contact, key nodeid.Key) (findValueResult, error) {
	resp, err := n.call(ctx, c.Endpoint, wire.TypeFindValue, wire.FindValueBody{Key: key})
	if err != nil {
		n.recordRPC(ctx, "find_value", false)
		return findValueResult{}, err
	}
	n.recordRPC(ctx, "find_value", true)

	switch resp.Type {
	case wire.TypeValue:
		var body wire.ValueBody
		if err := resp.DecodeBody(&body); err != nil {
			return findValueResult{}, err
		}
		return findValueResult{Found: true, Value: body.Value, Tag: record.Tag(body.Tag), TTL: time.Duration(body.TTL) * time.Second}, nil
	case wire.TypeNodes:
		var body wire.NodesBody
		if err := resp.DecodeBody(&body); err != nil {
			return findValueResult{}, err
		}
		return findValueResult{Contacts: contactsFromWire(body.Contacts)}, nil
	default:
		return findValueResult{}, errors.Newf("node: unexpected response type %s to FIND_VALUE", resp.Type)
	}
}

// StoreAt issues a STORE RPC against a single contact.
func (n *Node) StoreAt(ctx context.Context, c contact.Contact, r record.Record) (bool, error) {
	resp, err := n.call(ctx, c.Endpoint, wire.TypeStore, wire.StoreBody{
		Key:   r.Key,
		Value: r.Value,
		Tag:   string(r.Tag),
		TTL:   int64(r.TTL / time.Second),
	})
	if err != nil {
		n.recordRPC(ctx, "store", false)
		return false, err
	}
	n.recordRPC(ctx, "store", true)
	var body wire.StoreAckBody
	if err := resp.DecodeBody(&body); err != nil {
		return false, err
	}
	return body.Stored, nil
}

// MapAt issues a MAP hint to a single contact.
func (n *Node) MapAt(ctx context.Context, c contact.Contact, searchTerm string, key nodeid.Key, tag record.Tag) (bool, error) {
	resp, err := n.call(ctx, c.Endpoint, wire.TypeMap, wire.MapBody{SearchTerm: searchTerm, Key: key, Tag: string(tag)})
	if err != nil {
		n.recordRPC(ctx, "map", false)
		return false, err
	}
	n.recordRPC(ctx, "map", true)
	var body wire.MapAckBody
	if err := resp.DecodeBody(&body); err != nil {
		return false, err
	}
	return body.Accepted, nil
}

func contactsFromWire(in []wire.ContactInfo) []contact.Contact {
	out := make([]contact.Contact, 0, len(in))
	for _, c := range in {
		out = append(out, contact.New(c.ID, c.Endpoint))
	}
	return out
}

func contactsToWire(in []contact.Contact) []wire.ContactInfo {
	out := make([]wire.ContactInfo, 0, len(in))
	for _, c := range in {
		out = append(out, wire.ContactInfo{ID: c.ID, Endpoint: c.Endpoint})
	}
	return out
}
