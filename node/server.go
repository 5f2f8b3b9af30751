package node

import (
	"context"
	"time"

	"github.com/neromon/dhtcore/contact"
	"github.com/neromon/dhtcore/record"
	"github.com/neromon/dhtcore/transport"
	"github.com/neromon/dhtcore/wire"
)

// Serve runs ln's accept loop, dispatching every inbound frame to
// HandleMessage.
func (n *Node) Serve(ln transport.Listener) error {
	return transport.AcceptLoop(ln, n.serveConn)
}

func (n *Node) serveConn(conn *transport.Conn) {
	defer conn.Close()
	for {
		frame, err := conn.Recv(time.Time{})
		if err != nil {
			return
		}
		msg, err := wire.Decode(frame)
		if err != nil {
			log.Debugw("dropping malformed inbound frame", "err", err)
			continue
		}
		resp := n.HandleMessage(context.Background(), msg)
		out, err := wire.Encode(resp)
		if err != nil {
			log.Warnw("failed to encode response", "err", err)
			continue
		}
		if err := conn.Send(out, time.Now().Add(RPCDeadline)); err != nil {
			return
		}
	}
}

// HandleMessage dispatches one inbound RPC to its handler. Every inbound
// message observes its sender in the routing table before the handler
// runs.
func (n *Node) HandleMessage(ctx context.Context, msg wire.Message) wire.Message {
	sender := contact.New(msg.Sender.ID, msg.Sender.Endpoint).Observe(n.now())
	n.routing.Observe(sender)

	var body interface{}
	var err error
	switch msg.Type {
	case wire.TypePing:
		body, err = n.handlePing(ctx, msg)
	case wire.TypeFindNode:
		body, err = n.handleFindNode(ctx, msg)
	case wire.TypeFindValue:
		body, err = n.handleFindValue(ctx, msg)
	case wire.TypeStore:
		body, err = n.handleStore(ctx, msg)
	case wire.TypeMap:
		body, err = n.handleMap(ctx, msg)
	default:
		body, err = wire.ErrorBody{Code: "invalid", Message: "unknown rpc type"}, nil
	}
	if err != nil {
		respMsg, encErr := wire.New(wire.TypeError, msg.ID, n.sender(), wire.ErrorBody{Code: "invalid", Message: err.Error()})
		if encErr != nil {
			log.Errorw("failed to encode error response", "err", encErr)
		}
		return respMsg
	}

	respType := responseTypeFor(msg.Type)
	if override, ok := body.(nodesBodyOverride); ok {
		respType = wire.TypeNodes
		body = override.NodesBody
	}
	respMsg, err := wire.New(respType, msg.ID, n.sender(), body)
	if err != nil {
		log.Errorw("failed to encode response body", "err", err)
	}
	return respMsg
}

func responseTypeFor(reqType wire.Type) wire.Type {
	switch reqType {
	case wire.TypePing:
		return wire.TypePong
	case wire.TypeFindNode:
		return wire.TypeNodes
	case wire.TypeFindValue:
		return wire.TypeValue // overridden to TypeNodes on miss in handleFindValue's caller
	case wire.TypeStore:
		return wire.TypeStoreAck
	case wire.TypeMap:
		return wire.TypeMapAck
	default:
		return wire.TypeError
	}
}

func (n *Node) handlePing(ctx context.Context, msg wire.Message) (interface{}, error) {
	return wire.PongBody{}, nil
}

func (n *Node) handleFindNode(ctx context.Context, msg wire.Message) (interface{}, error) {
	var body wire.FindNodeBody
	if err := msg.DecodeBody(&body); err != nil {
		return nil, err
	}
	closest := n.routing.Closest(body.Target, K)
	return wire.NodesBody{Contacts: contactsToWire(closest)}, nil
}

func (n *Node) handleFindValue(ctx context.Context, msg wire.Message) (interface{}, error) {
	var body wire.FindValueBody
	if err := msg.DecodeBody(&body); err != nil {
		return nil, err
	}
	r, found, err := n.store.Get(body.Key)
	if err != nil {
		return nil, err
	}
	if found {
		return wire.ValueBody{Key: r.Key, Value: r.Value, Tag: string(r.Tag), TTL: int64(r.TTL / time.Second)}, nil
	}
	closest := n.routing.Closest(body.Key.RoutingKey(), K)
	return nodesBodyOverride{wire.NodesBody{Contacts: contactsToWire(closest)}}, nil
}

// nodesBodyOverride marks a body that must be sent as TypeNodes even when
// the request type's default response is TypeValue (FIND_VALUE miss).
type nodesBodyOverride struct {
	wire.NodesBody
}

func (n *Node) handleStore(ctx context.Context, msg wire.Message) (interface{}, error) {
	var body wire.StoreBody
	if err := msg.DecodeBody(&body); err != nil {
		return nil, err
	}
	r := record.Record{
		Key:    body.Key,
		Value:  body.Value,
		Tag:    record.Tag(body.Tag),
		TTL:    time.Duration(body.TTL) * time.Second,
		Origin: msg.Sender.ID,
	}
	stored, err := n.store.Put(r)
	if err != nil {
		return wire.StoreAckBody{Stored: false, Reason: err.Error()}, nil
	}
	if stored {
		go n.replicate(context.Background(), r)
	}
	return wire.StoreAckBody{Stored: stored}, nil
}

func (n *Node) handleMap(ctx context.Context, msg wire.Message) (interface{}, error) {
	var body wire.MapBody
	if err := msg.DecodeBody(&body); err != nil {
		return nil, err
	}
	if n.mapper == nil {
		return wire.MapAckBody{Accepted: false}, nil
	}
	if err := n.mapper.Map(ctx, body.SearchTerm, body.Key, body.Tag); err != nil {
		return wire.MapAckBody{Accepted: false}, nil
	}
	return wire.MapAckBody{Accepted: true}, nil
}
