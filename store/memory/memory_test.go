package memory

import (
	"testing"
	"time"

	"github.com/neromon/dhtcore/nodeid"
	"github.com/neromon/dhtcore/record"
	"github.com/stretchr/testify/require"
)

func TestPutGetRemove(t *testing.T) {
	b := New()
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
	b := New()
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

func TestCountAndClear(t *testing.T) {
	b := New()
	for _, s := range []string{"a", "b", "c"} {
		r := record.Record{
			Key:       nodeid.KeyFromContent([]byte(s)),
			Value:     []byte(s),
			Timestamp: time.Now(),
			TTL:       record.DefaultTTL,
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
