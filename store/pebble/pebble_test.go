package pebble

import (
	"testing"
	"time"

	"github.com/neromon/dhtcore/nodeid"
	"github.com/neromon/dhtcore/record"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestPutGetRemove(t *testing.T) {
	b := openTest(t)
	val := []byte(`{"metadata":"listing"}`)
	r := record.Record{
		Key:       nodeid.KeyFromContent(val),
		Value:     val,
		Tag:       record.TagListing,
		Timestamp: time.Now(),
		TTL:       record.DefaultTTL,
	}

	require.NoError(t, b.Put(r))

	got, found, err := b.Get(r.Key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, r.Value, got.Value)

	require.NoError(t, b.Remove(r.Key))
	_, found, err = b.Get(r.Key)
	require.NoError(t, err)
	require.False(t, found)
}

func TestIterDueForRepublishAndExpired(t *testing.T) {
	b := openTest(t)
	now := time.Now()

	due := record.Record{
		Key:         nodeid.KeyFromContent([]byte("due")),
		Value:       []byte("due"),
		Timestamp:   now.Add(-2 * time.Hour),
		TTL:         time.Hour,
		RepublishAt: now.Add(-time.Minute),
	}
	notDue := record.Record{
		Key:         nodeid.KeyFromContent([]byte("not-due")),
		Value:       []byte("not-due"),
		Timestamp:   now,
		TTL:         time.Hour,
		RepublishAt: now.Add(time.Hour),
	}
	require.NoError(t, b.Put(due))
	require.NoError(t, b.Put(notDue))

	dueList, err := b.IterDueForRepublish(now)
	require.NoError(t, err)
	require.Len(t, dueList, 1)
	require.Equal(t, due.Key, dueList[0].Key)

	expiredList, err := b.IterExpired(now)
	require.NoError(t, err)
	require.Len(t, expiredList, 1)
	require.Equal(t, due.Key, expiredList[0].Key)
}

func TestTouchRelocatesRepublishIndex(t *testing.T) {
	b := openTest(t)
	now := time.Now()

	r := record.Record{
		Key:         nodeid.KeyFromContent([]byte("touch-me")),
		Value:       []byte("touch-me"),
		Timestamp:   now,
		TTL:         time.Hour,
		RepublishAt: now.Add(-time.Minute),
	}
	require.NoError(t, b.Put(r))

	due, err := b.IterDueForRepublish(now)
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, b.Touch(r.Key, now.Add(time.Hour)))

	due, err = b.IterDueForRepublish(now)
	require.NoError(t, err)
	require.Len(t, due, 0)

	got, found, err := b.Get(r.Key)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, got.RepublishAt.After(now))
}

func TestCountAndClear(t *testing.T) {
	b := openTest(t)
	for _, s := range []string{"a", "b", "c"} {
		r := record.Record{
			Key:         nodeid.KeyFromContent([]byte(s)),
			Value:       []byte(s),
			Timestamp:   time.Now(),
			TTL:         time.Hour,
			RepublishAt: time.Now().Add(time.Hour),
		}
		require.NoError(t, b.Put(r))
	}

	n, err := b.Count()
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	require.NoError(t, b.Clear())
	n, err = b.Count()
	require.NoError(t, err)
	require.EqualValues(t, 0, n)
}

func TestSizeReflectsStoredRecords(t *testing.T) {
	b := openTest(t)
	r := record.Record{
		Key:         nodeid.KeyFromContent([]byte("sized")),
		Value:       []byte("sized"),
		Timestamp:   time.Now(),
		TTL:         time.Hour,
		RepublishAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, b.Put(r))
	require.NoError(t, b.Flush())

	sz, err := b.Size()
	require.NoError(t, err)
	require.GreaterOrEqual(t, sz, int64(0))
}
