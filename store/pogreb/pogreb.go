// Package pogreb implements an akrylysov/pogreb-backed store.Backend: a
// lighter-weight alternative to store/pebble for deployments that don't
// need pebble's LSM compaction machinery.
//
// pogreb is a plain hash table with no ordered iteration, so unlike
// store/pebble this backend can't keep a range-scannable secondary index
// for IterDueForRepublish/IterExpired; both walk every record instead,
// the same linear-scan shape as store/memory.
package pogreb

import (
	"time"

	"github.com/akrylysov/pogreb"
	"github.com/cockroachdb/errors"
	"github.com/gammazero/keymutex"

	"github.com/neromon/dhtcore/nodeid"
	"github.com/neromon/dhtcore/record"
	"github.com/neromon/dhtcore/store"
)

var _ store.Backend = (*Backend)(nil)

// DefaultSyncInterval is the background fsync cadence.
const DefaultSyncInterval = time.Second

// Backend is a pogreb-backed store.Backend.
type Backend struct {
	db    *pogreb.DB
	codec record.Codec
	locks *keymutex.KeyMutex
}

// Open opens or creates a pogreb database rooted at dir.
func Open(dir string) (*Backend, error) {
	db, err := pogreb.Open(dir, &pogreb.Options{BackgroundSyncInterval: DefaultSyncInterval})
	if err != nil {
		return nil, errors.Wrap(err, "pogreb: open failed")
	}
	return &Backend{db: db, locks: keymutex.New(256)}, nil
}

func (b *Backend) Put(r record.Record) error {
	b.locks.LockBytes(r.Key[:])
	defer b.locks.UnlockBytes(r.Key[:])

	enc, err := b.codec.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "pogreb: marshal record failed")
	}
	if err := b.db.Put(r.Key[:], enc); err != nil {
		return errors.Wrap(err, "pogreb: put failed")
	}
	return nil
}

func (b *Backend) Get(key nodeid.Key) (record.Record, bool, error) {
	v, err := b.db.Get(key[:])
	if err != nil {
		return record.Record{}, false, errors.Wrap(err, "pogreb: get failed")
	}
	if v == nil {
		return record.Record{}, false, nil
	}
	r, err := b.codec.Unmarshal(v)
	if err != nil {
		return record.Record{}, false, errors.Wrap(err, "pogreb: unmarshal record failed")
	}
	return r, true, nil
}

func (b *Backend) Remove(key nodeid.Key) error {
	b.locks.LockBytes(key[:])
	defer b.locks.UnlockBytes(key[:])
	if err := b.db.Delete(key[:]); err != nil {
		return errors.Wrap(err, "pogreb: delete failed")
	}
	return nil
}

func (b *Backend) Touch(key nodeid.Key, republishAt time.Time) error {
	r, found, err := b.Get(key)
	if err != nil || !found {
		return err
	}
	r.RepublishAt = republishAt
	return b.Put(r)
}

func (b *Backend) forEach(fn func(record.Record) error) error {
	it := b.db.Items()
	for {
		_, v, err := it.Next()
		if err != nil {
			if errors.Is(err, pogreb.ErrIterationDone) {
				return nil
			}
			return errors.Wrap(err, "pogreb: iteration failed")
		}
		r, err := b.codec.Unmarshal(v)
		if err != nil {
			return errors.Wrap(err, "pogreb: unmarshal record failed")
		}
		if err := fn(r); err != nil {
			return err
		}
	}
}

func (b *Backend) filter(pred func(record.Record) bool) ([]record.Record, error) {
	var out []record.Record
	err := b.forEach(func(r record.Record) error {
		if pred(r) {
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

// IterDueForRepublish returns records whose RepublishAt has passed.
func (b *Backend) IterDueForRepublish(now time.Time) ([]record.Record, error) {
	return b.filter(func(r record.Record) bool { return r.DueForRepublish(now) })
}

// IterExpired returns records past TTL.
func (b *Backend) IterExpired(now time.Time) ([]record.Record, error) {
	return b.filter(func(r record.Record) bool { return r.Expired(now) })
}

// Count returns the number of persisted records.
func (b *Backend) Count() (int64, error) {
	return int64(b.db.Count()), nil
}

// Clear removes every persisted record by deleting each key in place,
// since pogreb has no bulk-truncate primitive.
func (b *Backend) Clear() error {
	var keys [][]byte
	it := b.db.Items()
	for {
		k, _, err := it.Next()
		if err != nil {
			if errors.Is(err, pogreb.ErrIterationDone) {
				break
			}
			return errors.Wrap(err, "pogreb: clear iteration failed")
		}
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := b.db.Delete(k); err != nil {
			return errors.Wrap(err, "pogreb: clear delete failed")
		}
	}
	return nil
}

// Size estimates on-disk bytes used by the database file set.
func (b *Backend) Size() (int64, error) {
	sz, err := b.db.FileSize()
	if err != nil {
		return 0, errors.Wrap(err, "pogreb: file size failed")
	}
	return sz, nil
}

// Flush forces pending writes to stable storage.
func (b *Backend) Flush() error {
	if err := b.db.Sync(); err != nil {
		return errors.Wrap(err, "pogreb: sync failed")
	}
	return nil
}

// Close releases the underlying database handle.
func (b *Backend) Close() error {
	return b.db.Close()
}
