// Package store implements the ContentStore: a validated record set
// with TTL expiry, replication-friendly republication scheduling, and a
// pluggable value-validation hook.
//
// Backend (implemented by store/memory, store/pebble, store/pogreb)
// handles raw persistence; Store layers the validation and immutability
// policy on top.
package store

import (
	"time"

	"github.com/neromon/dhtcore/nodeid"
	"github.com/neromon/dhtcore/record"
)

// Backend is implemented by each storage engine. It performs no
// validation: Store is responsible for every policy decision before
// calling into a Backend.
type Backend interface {
	// Put unconditionally stores r, overwriting any existing record
	// under the same key.
	Put(r record.Record) error
	// Get returns the record for key if present, expired or not; Store
	// is responsible for TTL interpretation.
	Get(key nodeid.Key) (record.Record, bool, error)
	// Remove deletes key if present; a missing key is not an error.
	Remove(key nodeid.Key) error
	// IterDueForRepublish returns every record whose RepublishAt has
	// passed.
	IterDueForRepublish(now time.Time) ([]record.Record, error)
	// IterExpired returns every record whose TTL has passed.
	IterExpired(now time.Time) ([]record.Record, error)
	// Touch updates a record's RepublishAt without altering its value,
	// used after a maintenance sweep republishes it.
	Touch(key nodeid.Key, republishAt time.Time) error
	// Size returns the total bytes of storage used for persisted
	// records.
	Size() (int64, error)
	// Count returns the number of persisted records, used by the
	// status bridge method's data_count field.
	Count() (int64, error)
	// Clear removes every persisted record, used by the debug clear
	// bridge method.
	Clear() error
	Flush() error
	Close() error
}
