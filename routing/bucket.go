package routing

import (
	"time"

	"github.com/gammazero/deque"
	"github.com/neromon/dhtcore/contact"
	"github.com/neromon/dhtcore/nodeid"
)

// DefaultBucketSize is the default k-bucket capacity.
const DefaultBucketSize = 20

// bucket holds the live contacts sharing a given bit-prefix length with
// self, ordered least-recently-seen first, plus a bounded replacement
// cache.
type bucket struct {
	size        int
	contacts    *deque.Deque[contact.Contact]
	replacement *deque.Deque[contact.Contact]
	lastTouched time.Time
}

func newBucket(size int) *bucket {
	return &bucket{
		size:        size,
		contacts:    deque.New[contact.Contact](size),
		replacement: deque.New[contact.Contact](size),
	}
}

func (b *bucket) indexOf(id nodeid.NodeId) int {
	for i := 0; i < b.contacts.Len(); i++ {
		if b.contacts.At(i).ID == id {
			return i
		}
	}
	return -1
}

func (b *bucket) indexOfReplacement(id nodeid.NodeId) int {
	for i := 0; i < b.replacement.Len(); i++ {
		if b.replacement.At(i).ID == id {
			return i
		}
	}
	return -1
}

// full reports whether the bucket is at capacity.
func (b *bucket) full() bool {
	return b.contacts.Len() >= b.size
}

// touch moves the contact at index i to the back (most-recently-seen end).
func (b *bucket) touch(i int, c contact.Contact) {
	b.contacts.Remove(i)
	b.contacts.PushBack(c)
}

// least returns the least-recently-seen contact (the eviction candidate).
func (b *bucket) least() contact.Contact {
	return b.contacts.Front()
}

func (b *bucket) all() []contact.Contact {
	out := make([]contact.Contact, b.contacts.Len())
	for i := 0; i < b.contacts.Len(); i++ {
		out[i] = b.contacts.At(i)
	}
	return out
}

func (b *bucket) pushReplacement(c contact.Contact) {
	if i := b.indexOfReplacement(c.ID); i >= 0 {
		b.replacement.Remove(i)
	}
	b.replacement.PushBack(c)
	for b.replacement.Len() > b.size {
		b.replacement.PopFront()
	}
}

func (b *bucket) popReplacement() (contact.Contact, bool) {
	if b.replacement.Len() == 0 {
		return contact.Contact{}, false
	}
	return b.replacement.PopBack(), true
}
