// Package pebble implements a cockroachdb/pebble-backed store.Backend,
// the primary production ContentStore engine.
//
// Keys are laid out in three namespaces so that IterDueForRepublish and
// IterExpired are bounded range scans rather than full-table walks:
//
//	r<key>                         -> encoded record.Record
//	p<republish_at><key>           -> key (republish-due index)
//	x<expires_at><key>             -> key (expiry index)
//
// <republish_at> and <expires_at> are big-endian uint64 nanosecond
// timestamps so lexicographic byte order matches time order.
package pebble

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/neromon/dhtcore/nodeid"
	"github.com/neromon/dhtcore/record"
	"github.com/neromon/dhtcore/store"
)

const (
	prefixRecord    byte = 'r'
	prefixRepublish byte = 'p'
	prefixExpiry    byte = 'x'
)

var _ store.Backend = (*Backend)(nil)

// keyBufPool reuses index-key scratch buffers across Put/Touch/Remove
// calls.
var keyBufPool = sync.Pool{
	New: func() interface{} { return make([]byte, 0, 1+8+nodeid.KeyLen) },
}

// Backend is a durable, crash-safe store.Backend.
type Backend struct {
	db    *pebble.DB
	codec record.Codec
}

// Open opens or creates a pebble database rooted at dir.
func Open(dir string) (*Backend, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "pebble: open failed")
	}
	return &Backend{db: db}, nil
}

func recordKey(k nodeid.Key) []byte {
	buf := make([]byte, 0, 1+nodeid.KeyLen)
	buf = append(buf, prefixRecord)
	buf = append(buf, k[:]...)
	return buf
}

func indexKey(buf []byte, prefix byte, ts time.Time, k nodeid.Key) []byte {
	buf = buf[:0]
	buf = append(buf, prefix)
	var tsb [8]byte
	binary.BigEndian.PutUint64(tsb[:], uint64(ts.UnixNano()))
	buf = append(buf, tsb[:]...)
	buf = append(buf, k[:]...)
	return buf
}

func keyFromIndexKey(ik []byte) (nodeid.Key, bool) {
	if len(ik) != 1+8+nodeid.KeyLen {
		return nodeid.Key{}, false
	}
	var k nodeid.Key
	copy(k[:], ik[1+8:])
	return k, true
}

// Put stores r, replacing any stale republish/expiry index entries left
// over from a previous version of the same key.
func (b *Backend) Put(r record.Record) error {
	batch := b.db.NewBatch()
	defer batch.Close()

	if existing, found, err := b.Get(r.Key); err == nil && found {
		pbuf := keyBufPool.Get().([]byte)
		xbuf := keyBufPool.Get().([]byte)
		_ = batch.Delete(indexKey(pbuf, prefixRepublish, existing.RepublishAt, existing.Key), nil)
		_ = batch.Delete(indexKey(xbuf, prefixExpiry, existing.ExpiresAt(), existing.Key), nil)
		keyBufPool.Put(pbuf[:0])
		keyBufPool.Put(xbuf[:0])
	}

	enc, err := b.codec.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "pebble: marshal record failed")
	}
	if err := batch.Set(recordKey(r.Key), enc, nil); err != nil {
		return errors.Wrap(err, "pebble: set record failed")
	}

	pbuf := keyBufPool.Get().([]byte)
	xbuf := keyBufPool.Get().([]byte)
	defer func() {
		keyBufPool.Put(pbuf[:0])
		keyBufPool.Put(xbuf[:0])
	}()
	if err := batch.Set(indexKey(pbuf, prefixRepublish, r.RepublishAt, r.Key), r.Key[:], nil); err != nil {
		return errors.Wrap(err, "pebble: set republish index failed")
	}
	if err := batch.Set(indexKey(xbuf, prefixExpiry, r.ExpiresAt(), r.Key), r.Key[:], nil); err != nil {
		return errors.Wrap(err, "pebble: set expiry index failed")
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return errors.Wrap(err, "pebble: commit failed")
	}
	return nil
}

// Get returns the record for key, if present.
func (b *Backend) Get(key nodeid.Key) (record.Record, bool, error) {
	v, closer, err := b.db.Get(recordKey(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return record.Record{}, false, nil
	}
	if err != nil {
		return record.Record{}, false, errors.Wrap(err, "pebble: get failed")
	}
	defer closer.Close()

	r, err := b.codec.Unmarshal(v)
	if err != nil {
		return record.Record{}, false, errors.Wrap(err, "pebble: unmarshal record failed")
	}
	return r, true, nil
}

// Remove deletes key along with its index entries.
func (b *Backend) Remove(key nodeid.Key) error {
	existing, found, err := b.Get(key)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	batch := b.db.NewBatch()
	defer batch.Close()
	_ = batch.Delete(recordKey(key), nil)
	_ = batch.Delete(indexKey(make([]byte, 0, 1+8+nodeid.KeyLen), prefixRepublish, existing.RepublishAt, key), nil)
	_ = batch.Delete(indexKey(make([]byte, 0, 1+8+nodeid.KeyLen), prefixExpiry, existing.ExpiresAt(), key), nil)
	if err := batch.Commit(pebble.Sync); err != nil {
		return errors.Wrap(err, "pebble: remove commit failed")
	}
	return nil
}

// Touch updates a record's RepublishAt by reading the record and putting
// it back, which rewrites the record and relocates its republish index
// entry.
func (b *Backend) Touch(key nodeid.Key, republishAt time.Time) error {
	r, found, err := b.Get(key)
	if err != nil || !found {
		return err
	}
	r.RepublishAt = republishAt
	return b.Put(r)
}

func (b *Backend) scan(prefix byte, upper time.Time) ([]record.Record, error) {
	lo := []byte{prefix}
	// upper bound is exclusive in pebble iterators; bump the timestamp by
	// one nanosecond so every key with timestamp == upper is included.
	hi := indexKey(make([]byte, 0, 1+8+nodeid.KeyLen), prefix, upper.Add(time.Nanosecond), nodeid.Key{})

	iter := b.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	defer iter.Close()

	var out []record.Record
	for iter.SeekGE(lo); iter.Valid(); iter.Next() {
		k, ok := keyFromIndexKey(iter.Key())
		if !ok {
			continue
		}
		r, found, err := b.Get(k)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, r)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "pebble: iteration error")
	}
	return out, nil
}

// IterDueForRepublish returns records whose RepublishAt has passed, via a
// bounded scan of the republish index up to now.
func (b *Backend) IterDueForRepublish(now time.Time) ([]record.Record, error) {
	return b.scan(prefixRepublish, now)
}

// IterExpired returns records past TTL, via a bounded scan of the expiry
// index up to now.
func (b *Backend) IterExpired(now time.Time) ([]record.Record, error) {
	return b.scan(prefixExpiry, now)
}

// Size estimates on-disk bytes used by the record namespace.
func (b *Backend) Size() (int64, error) {
	lo := []byte{prefixRecord}
	hi := []byte{prefixRecord + 1}
	n, err := b.db.EstimateDiskUsage(lo, hi)
	if err != nil {
		return 0, errors.Wrap(err, "pebble: size estimate failed")
	}
	return int64(n), nil
}

// Count returns the number of persisted records via a bounded scan of
// the record namespace.
func (b *Backend) Count() (int64, error) {
	lo := []byte{prefixRecord}
	hi := []byte{prefixRecord + 1}
	iter := b.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	defer iter.Close()

	var n int64
	for iter.SeekGE(lo); iter.Valid(); iter.Next() {
		n++
	}
	if err := iter.Error(); err != nil {
		return 0, errors.Wrap(err, "pebble: count iteration error")
	}
	return n, nil
}

// Clear removes every record along with both secondary indices.
func (b *Backend) Clear() error {
	lo := []byte{0}
	hi := []byte{prefixExpiry + 1}
	if err := b.db.DeleteRange(lo, hi, pebble.Sync); err != nil {
		return errors.Wrap(err, "pebble: clear failed")
	}
	return nil
}

// Flush forces a memtable flush to stable storage.
func (b *Backend) Flush() error {
	if err := b.db.Flush(); err != nil {
		return errors.Wrap(err, "pebble: flush failed")
	}
	return nil
}

// Close releases the underlying database handle.
func (b *Backend) Close() error {
	return b.db.Close()
}
