// Package record implements the Record type stored in the DHT: its wire/
// storage codec and the structural validation hook.
package record

import (
	"time"

	"github.com/neromon/dhtcore/nodeid"
)

// Tag identifies the kind of document carried in a Record's value.
type Tag string

const (
	TagUser          Tag = "user"
	TagListing       Tag = "listing"
	TagProductRating Tag = "product_rating"
	TagSellerRating  Tag = "seller_rating"
	TagMessage       Tag = "message"
)

// DefaultTTL is the default TTL for ephemeral records.
const DefaultTTL = time.Hour

// MaxTTL is the maximum TTL any record may carry.
const MaxTTL = 30 * 24 * time.Hour

// MaxValueSize is the maximum size, in bytes, of a record value.
const MaxValueSize = 4 * 1024 * 1024

// RepublishInterval is how often a holder re-STOREs every record it
// holds.
const RepublishInterval = time.Hour

// StaleAfter is how long a record can go untouched before it is expired
// unless republished.
const StaleAfter = 24 * time.Hour

// Record is a stored value keyed by a 32-byte content hash.
type Record struct {
	Key         nodeid.Key
	Value       []byte
	Tag         Tag
	Timestamp   time.Time
	TTL         time.Duration
	RepublishAt time.Time
	Origin      nodeid.NodeId
}

// ExpiresAt returns the wall-clock instant this record's TTL elapses.
func (r Record) ExpiresAt() time.Time {
	return r.Timestamp.Add(r.TTL)
}

// Expired reports whether the record's TTL has passed as of now.
func (r Record) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt())
}

// DueForRepublish reports whether this record should be re-STOREd as of
// now.
func (r Record) DueForRepublish(now time.Time) bool {
	return !r.RepublishAt.After(now)
}

// NextRepublishAt computes the next republication deadline from now.
func NextRepublishAt(now time.Time) time.Time {
	return now.Add(RepublishInterval)
}
