package nodeid

import (
	"encoding/hex"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// NodeId and Key travel as lowercase hex strings in JSON, the form the
// bridge and peer protocols use for `key` and `sender.id` fields.

// MarshalJSON implements json.Marshaler.
func (id NodeId) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.Hex())
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *NodeId) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.Wrap(err, "nodeid: id is not a JSON string")
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return errors.Wrap(err, "nodeid: id is not hex")
	}
	parsed, ok := FromBytes(raw)
	if !ok {
		return errors.Newf("nodeid: id is %d bytes, want %d", len(raw), Len)
	}
	*id = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (k Key) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.Hex())
}

// UnmarshalJSON implements json.Unmarshaler.
func (k *Key) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.Wrap(err, "nodeid: key is not a JSON string")
	}
	parsed, ok := ParseKey(s)
	if !ok {
		return errors.New("nodeid: malformed hex key")
	}
	*k = parsed
	return nil
}
