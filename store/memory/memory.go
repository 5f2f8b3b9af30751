// Package memory implements an in-memory store.Backend.
//
// The record set stored here is not persisted. It is primarily useful for
// testing and for simulated-network tests.
package memory

import (
	"sync"
	"time"

	"github.com/gammazero/radixtree"
	"github.com/neromon/dhtcore/nodeid"
	"github.com/neromon/dhtcore/record"
)

// backend is a radixtree-based store.Backend: a single-mutex-guarded
// radixtree.Tree keyed by content hash, one Record per key.
type backend struct {
	mu    sync.Mutex
	rtree *radixtree.Tree
}

// New creates a new in-memory store.Backend.
func New() *backend {
	return &backend{rtree: radixtree.New()}
}

func (b *backend) Put(r record.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := r
	cp.Value = append([]byte(nil), r.Value...)
	b.rtree.Put(string(r.Key[:]), &cp)
	return nil
}

func (b *backend) Get(key nodeid.Key) (record.Record, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, found := b.rtree.Get(string(key[:]))
	if !found {
		return record.Record{}, false, nil
	}
	return *(v.(*record.Record)), true, nil
}

func (b *backend) Remove(key nodeid.Key) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rtree.Delete(string(key[:]))
	return nil
}

func (b *backend) IterDueForRepublish(now time.Time) ([]record.Record, error) {
	return b.filter(func(r record.Record) bool { return r.DueForRepublish(now) })
}

func (b *backend) IterExpired(now time.Time) ([]record.Record, error) {
	return b.filter(func(r record.Record) bool { return r.Expired(now) })
}

func (b *backend) filter(pred func(record.Record) bool) ([]record.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []record.Record
	b.rtree.Walk("", func(k string, v interface{}) bool {
		r := *(v.(*record.Record))
		if pred(r) {
			out = append(out, r)
		}
		return false
	})
	return out, nil
}

func (b *backend) Touch(key nodeid.Key, republishAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, found := b.rtree.Get(string(key[:]))
	if !found {
		return nil
	}
	r := v.(*record.Record)
	r.RepublishAt = republishAt
	return nil
}

func (b *backend) Size() (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var size int64
	b.rtree.Walk("", func(k string, v interface{}) bool {
		size += int64(len(v.(*record.Record).Value))
		return false
	})
	return size, nil
}

func (b *backend) Count() (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n int64
	b.rtree.Walk("", func(k string, v interface{}) bool {
		n++
		return false
	})
	return n, nil
}

func (b *backend) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rtree = radixtree.New()
	return nil
}

func (b *backend) Flush() error { return nil }
func (b *backend) Close() error { return nil }
