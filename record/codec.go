package record

import (
	"bytes"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/multiformats/go-varint"
	"github.com/neromon/dhtcore/nodeid"
)

// Codec marshals and unmarshals a Record to the binary envelope used by
// the persistent stores: fixed-width key and origin, then
// varint-length-prefixed fields. The envelope wraps the opaque value
// bytes rather than parsing them.
type Codec struct{}

// Marshal serializes a Record for storage.
func (Codec) Marshal(r Record) ([]byte, error) {
	tag := []byte(r.Tag)
	val := r.Value

	var buf bytes.Buffer
	buf.Write(r.Key[:])
	buf.Write(r.Origin[:])
	buf.Write(varint.ToUvarint(uint64(r.Timestamp.UnixNano())))
	buf.Write(varint.ToUvarint(uint64(r.TTL)))
	buf.Write(varint.ToUvarint(uint64(r.RepublishAt.UnixNano())))
	buf.Write(varint.ToUvarint(uint64(len(tag))))
	buf.Write(tag)
	buf.Write(varint.ToUvarint(uint64(len(val))))
	buf.Write(val)
	return buf.Bytes(), nil
}

// Unmarshal deserializes a Record previously produced by Marshal.
func (Codec) Unmarshal(b []byte) (Record, error) {
	var r Record
	buf := bytes.NewBuffer(b)

	if buf.Len() < nodeid.KeyLen+nodeid.Len {
		return r, errors.New("record: codec: truncated envelope")
	}
	copy(r.Key[:], buf.Next(nodeid.KeyLen))
	copy(r.Origin[:], buf.Next(nodeid.Len))

	ts, err := varint.ReadUvarint(buf)
	if err != nil {
		return r, errors.Wrap(err, "record: codec: timestamp")
	}
	r.Timestamp = time.Unix(0, int64(ts)).UTC()

	ttl, err := varint.ReadUvarint(buf)
	if err != nil {
		return r, errors.Wrap(err, "record: codec: ttl")
	}
	r.TTL = time.Duration(ttl)

	republish, err := varint.ReadUvarint(buf)
	if err != nil {
		return r, errors.Wrap(err, "record: codec: republish_at")
	}
	r.RepublishAt = time.Unix(0, int64(republish)).UTC()

	tagLen, err := varint.ReadUvarint(buf)
	if err != nil {
		return r, errors.Wrap(err, "record: codec: tag length")
	}
	if int(tagLen) > buf.Len() {
		return r, errors.New("record: codec: tag overflow")
	}
	r.Tag = Tag(buf.Next(int(tagLen)))

	valLen, err := varint.ReadUvarint(buf)
	if err != nil {
		return r, errors.Wrap(err, "record: codec: value length")
	}
	if int(valLen) > buf.Len() {
		return r, errors.New("record: codec: value overflow")
	}
	value := make([]byte, valLen)
	copy(value, buf.Next(int(valLen)))
	r.Value = value

	if buf.Len() != 0 {
		return r, errors.Newf("record: codec: %d trailing bytes", buf.Len())
	}
	return r, nil
}
