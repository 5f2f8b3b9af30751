// Package wire defines the peer-to-peer request/response envelope: a
// length-prefixed JSON message carrying a version, an RPC type, a
// request id, the sender's identity, and a type-specific body. The
// envelope stays flat; each body is parsed separately by RPC type.
package wire

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/neromon/dhtcore/nodeid"
)

// Version is the only wire protocol version this daemon speaks.
const Version uint8 = 1

// Type identifies the kind of RPC carried by a Message.
type Type string

const (
	TypePing       Type = "PING"
	TypeFindNode   Type = "FIND_NODE"
	TypeFindValue  Type = "FIND_VALUE"
	TypeStore      Type = "STORE"
	TypeMap        Type = "MAP"
	TypePong       Type = "PONG"
	TypeNodes      Type = "NODES"
	TypeValue      Type = "VALUE"
	TypeStoreAck   Type = "STORE_ACK"
	TypeMapAck     Type = "MAP_ACK"
	TypeError      Type = "ERROR"
)

// Sender identifies the originator of a Message.
type Sender struct {
	ID       nodeid.NodeId `json:"id"`
	Endpoint string        `json:"endpoint"`
}

// Message is the top-level envelope exchanged between peers. Body is
// kept as raw JSON and decoded by the caller according to Type.
type Message struct {
	Version uint8           `json:"version"`
	Type    Type            `json:"type"`
	ID      uint64          `json:"id"`
	Sender  Sender          `json:"sender"`
	Body    json.RawMessage `json:"body"`
}

// New builds a Message with the current wire Version, encoding body as the
// envelope's Body field.
func New(typ Type, id uint64, sender Sender, body interface{}) (Message, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Message{}, errors.Wrap(err, "wire: cannot encode body")
	}
	return Message{Version: Version, Type: typ, ID: id, Sender: sender, Body: raw}, nil
}

// DecodeBody unmarshals m.Body into dst.
func (m Message) DecodeBody(dst interface{}) error {
	if err := json.Unmarshal(m.Body, dst); err != nil {
		return errors.Wrap(err, "wire: cannot decode body")
	}
	return nil
}

// Encode marshals a Message to its JSON wire form, suitable for framing
// via transport.WriteFrame.
func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "wire: encode failed")
	}
	return b, nil
}

// Decode unmarshals a framed payload into a Message and validates its
// envelope.
func Decode(frame []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(frame, &m); err != nil {
		return Message{}, errors.Wrap(err, "wire: decode failed")
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Validate checks the envelope's required top-level fields.
func (m Message) Validate() error {
	if m.Version != Version {
		return errors.Newf("wire: unsupported version %d", m.Version)
	}
	if m.Type == "" {
		return errors.New("wire: missing type")
	}
	if m.Sender.Endpoint == "" {
		return errors.New("wire: missing sender endpoint")
	}
	return nil
}

// Contact bodies

// PingBody carries no fields; liveness is established by the envelope
// alone.
type PingBody struct{}

// PongBody answers a PING.
type PongBody struct{}

// FindNodeBody requests the contacts closest to Target.
type FindNodeBody struct {
	Target nodeid.NodeId `json:"target"`
}

// FindValueBody requests the value for Key, or the closest contacts if
// the responder does not hold it.
type FindValueBody struct {
	Key nodeid.Key `json:"key"`
}

// StoreBody asks the responder to insert a record.
type StoreBody struct {
	Key   nodeid.Key `json:"key"`
	Value []byte     `json:"value"`
	Tag   string     `json:"tag"`
	TTL   int64      `json:"ttl_seconds"`
}

// MapBody hints the responder to add a local search-term mapping.
type MapBody struct {
	SearchTerm string     `json:"search_term"`
	Key        nodeid.Key `json:"key"`
	Tag        string     `json:"tag"`
}

// ContactInfo is the wire shape of a Contact, used in NodesBody.
type ContactInfo struct {
	ID       nodeid.NodeId `json:"id"`
	Endpoint string        `json:"endpoint"`
}

// NodesBody answers FIND_NODE (and FIND_VALUE misses) with the closest
// known contacts.
type NodesBody struct {
	Contacts []ContactInfo `json:"contacts"`
}

// ValueBody answers a FIND_VALUE hit.
type ValueBody struct {
	Key   nodeid.Key `json:"key"`
	Value []byte     `json:"value"`
	Tag   string     `json:"tag"`
	TTL   int64      `json:"ttl_seconds"`
}

// StoreAckBody answers STORE.
type StoreAckBody struct {
	Stored bool   `json:"stored"`
	Reason string `json:"reason,omitempty"`
}

// MapAckBody answers MAP.
type MapAckBody struct {
	Accepted bool `json:"accepted"`
}

// ErrorBody carries a structured failure for any RPC; Code is one of
// the bridge error kinds.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
