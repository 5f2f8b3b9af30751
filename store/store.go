package store

import (
	"bytes"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gammazero/keymutex"
	logging "github.com/ipfs/go-log/v2"
	"github.com/neromon/dhtcore/nodeid"
	"github.com/neromon/dhtcore/record"
)

var log = logging.Logger("store")

// Sentinel rejection reasons. All are marked as record.ErrInvalid, so
// callers can match either the specific reason or the general kind.
var (
	ErrHashMismatch = errors.Mark(errors.New("store: key/value hash mismatch"), record.ErrInvalid)
	ErrTooLarge     = errors.Mark(errors.Newf("store: value exceeds %d bytes", record.MaxValueSize), record.ErrInvalid)
	ErrTTLTooLong   = errors.Mark(errors.Newf("store: ttl exceeds %s", record.MaxTTL), record.ErrInvalid)
)

// Store is the ContentStore: a Backend plus the validation,
// content-addressing, and TTL-acceptance policy that every backend
// shares.
type Store struct {
	backend   Backend
	validator *record.Validator
	locks     *keymutex.KeyMutex
	now       func() time.Time
}

// New wraps backend with the shared ContentStore policy.
func New(backend Backend, validator *record.Validator) *Store {
	return &Store{
		backend:   backend,
		validator: validator,
		locks:     keymutex.New(256),
		now:       time.Now,
	}
}

// Put validates and stores r. It rejects hash mismatches, oversized
// values, excessive TTLs, and structural validation failures. When a
// record already exists under r.Key, the stored value must be
// byte-identical (content-addressed integrity); the accepted TTL is the
// minimum of the two, and Timestamp is not reset so churn does not reset
// the record's age for replication purposes.
func (s *Store) Put(r record.Record) (stored bool, err error) {
	if len(r.Value) > record.MaxValueSize {
		return false, ErrTooLarge
	}
	if r.TTL > record.MaxTTL {
		return false, ErrTTLTooLong
	}

	canon, err := record.Canonical(r.Value)
	if err != nil {
		return false, errors.Mark(errors.Wrap(err, "store: cannot canonicalize value"), record.ErrInvalid)
	}
	if want := nodeid.KeyFromContent(canon); want != r.Key {
		return false, ErrHashMismatch
	}

	if s.validator != nil {
		if err := s.validator.Validate(r.Tag, r.Value); err != nil {
			return false, err
		}
	}

	keyBytes := r.Key[:]
	s.locks.LockBytes(keyBytes)
	defer s.locks.UnlockBytes(keyBytes)

	now := s.now()
	if r.RepublishAt.IsZero() {
		r.RepublishAt = record.NextRepublishAt(now)
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = now
	}

	existing, found, err := s.backend.Get(r.Key)
	if err != nil {
		return false, errors.Wrap(err, "store: read before put failed")
	}
	if found {
		if !bytes.Equal(existing.Value, r.Value) {
			return false, errors.Mark(errors.New("store: value differs from stored content-addressed record"), record.ErrInvalid)
		}
		if existing.TTL < r.TTL {
			r.TTL = existing.TTL
		}
		if existing.Timestamp.Before(r.Timestamp) {
			r.Timestamp = existing.Timestamp
		}
	}

	if err := s.backend.Put(r); err != nil {
		return false, errors.Wrap(err, "store: backend put failed")
	}
	return true, nil
}

// Get returns the current value for key if present and not expired.
func (s *Store) Get(key nodeid.Key) (record.Record, bool, error) {
	r, found, err := s.backend.Get(key)
	if err != nil || !found {
		return record.Record{}, false, err
	}
	if r.Expired(s.now()) {
		return record.Record{}, false, nil
	}
	return r, true, nil
}

// Remove performs a local-only eviction; removal never propagates to
// peers.
func (s *Store) Remove(key nodeid.Key) error {
	return s.backend.Remove(key)
}

// IterDueForRepublish returns records whose RepublishAt has passed.
func (s *Store) IterDueForRepublish(now time.Time) ([]record.Record, error) {
	return s.backend.IterDueForRepublish(now)
}

// SweepExpired removes every record past TTL, returning the keys
// removed.
func (s *Store) SweepExpired(now time.Time) ([]nodeid.Key, error) {
	expired, err := s.backend.IterExpired(now)
	if err != nil {
		return nil, errors.Wrap(err, "store: expiry sweep failed")
	}
	keys := make([]nodeid.Key, 0, len(expired))
	for _, r := range expired {
		if err := s.backend.Remove(r.Key); err != nil {
			log.Warnw("failed to remove expired record", "key", r.Key.Hex(), "err", err)
			continue
		}
		keys = append(keys, r.Key)
	}
	return keys, nil
}

// MarkRepublished records that key was just republished.
func (s *Store) MarkRepublished(key nodeid.Key, now time.Time) error {
	return s.backend.Touch(key, record.NextRepublishAt(now))
}

// Size returns the total bytes used by persisted records.
func (s *Store) Size() (int64, error) {
	return s.backend.Size()
}

// Count returns the number of persisted records, reported as data_count
// by the status bridge method.
func (s *Store) Count() (int64, error) {
	return s.backend.Count()
}

// Clear truncates the store (debug).
func (s *Store) Clear() error {
	return s.backend.Clear()
}

// Flush commits any pending changes to persistent storage.
func (s *Store) Flush() error {
	return s.backend.Flush()
}

// Close releases the backend's resources.
func (s *Store) Close() error {
	return s.backend.Close()
}
