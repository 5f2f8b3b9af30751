package store

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/neromon/dhtcore/nodeid"
	"github.com/neromon/dhtcore/record"
	"github.com/neromon/dhtcore/store/memory"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return New(memory.New(), nil)
}

func makeRecord(t *testing.T, doc string, ttl time.Duration) record.Record {
	t.Helper()
	canon, err := record.Canonical([]byte(doc))
	require.NoError(t, err)
	return record.Record{
		Key:   nodeid.KeyFromContent(canon),
		Value: []byte(doc),
		Tag:   record.TagListing,
		TTL:   ttl,
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := testStore(t)
	r := makeRecord(t, `{"id":"l-1"}`, time.Hour)

	stored, err := s.Put(r)
	require.NoError(t, err)
	require.True(t, stored)

	got, found, err := s.Get(r.Key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, r.Value, got.Value)
}

func TestHashMismatchRejected(t *testing.T) {
	s := testStore(t)
	r := makeRecord(t, `{"id":"l-1"}`, time.Hour)
	r.Value = []byte(`{"id":"l-2"}`)

	_, err := s.Put(r)
	require.ErrorIs(t, err, record.ErrInvalid)
}

func TestNonJSONValueRejected(t *testing.T) {
	s := testStore(t)
	r := record.Record{
		Key:   nodeid.KeyFromContent([]byte("whatever")),
		Value: []byte("not json"),
		TTL:   time.Hour,
	}
	_, err := s.Put(r)
	require.ErrorIs(t, err, record.ErrInvalid)
}

func TestTTLTooLongRejected(t *testing.T) {
	s := testStore(t)
	r := makeRecord(t, `{"id":"l-1"}`, record.MaxTTL+time.Hour)
	_, err := s.Put(r)
	require.ErrorIs(t, err, ErrTTLTooLong)
}

func TestOversizedValueRejected(t *testing.T) {
	s := testStore(t)
	r := record.Record{
		Key:   nodeid.Key{},
		Value: make([]byte, record.MaxValueSize+1),
		TTL:   time.Hour,
	}
	_, err := s.Put(r)
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestRePutKeepsMinTTL(t *testing.T) {
	s := testStore(t)
	r := makeRecord(t, `{"id":"l-1"}`, time.Hour)
	_, err := s.Put(r)
	require.NoError(t, err)

	// The same content arriving again with a longer TTL must not extend
	// the stored record's life.
	longer := r
	longer.TTL = 10 * time.Hour
	stored, err := s.Put(longer)
	require.NoError(t, err)
	require.True(t, stored)

	got, found, err := s.Get(r.Key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, time.Hour, got.TTL)
}

func TestRePutDifferingValueRejected(t *testing.T) {
	s := testStore(t)
	r := makeRecord(t, `{"id":"l-1"}`, time.Hour)
	_, err := s.Put(r)
	require.NoError(t, err)

	// Force a differing value under the stored key past the hash check by
	// writing the conflicting record straight into the backend is not
	// possible from here; instead verify the content-addressed guard: a
	// record whose key matches other content never reaches the backend.
	other := makeRecord(t, `{"id":"l-2"}`, time.Hour)
	other.Key = r.Key
	_, err = s.Put(other)
	require.ErrorIs(t, err, record.ErrInvalid)

	got, _, err := s.Get(r.Key)
	require.NoError(t, err)
	require.Equal(t, r.Value, got.Value)
}

func TestExpiry(t *testing.T) {
	s := testStore(t)
	now := time.Now()
	s.now = func() time.Time { return now }

	r := makeRecord(t, `{"id":"l-1"}`, 2*time.Second)
	_, err := s.Put(r)
	require.NoError(t, err)

	now = now.Add(time.Second)
	_, found, err := s.Get(r.Key)
	require.NoError(t, err)
	require.True(t, found)

	now = now.Add(2 * time.Second)
	_, found, err = s.Get(r.Key)
	require.NoError(t, err)
	require.False(t, found)

	removed, err := s.SweepExpired(now)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	require.Equal(t, r.Key, removed[0])
}

func TestIterDueForRepublish(t *testing.T) {
	s := testStore(t)
	now := time.Now()
	s.now = func() time.Time { return now }

	r := makeRecord(t, `{"id":"l-1"}`, 48*time.Hour)
	_, err := s.Put(r)
	require.NoError(t, err)

	due, err := s.IterDueForRepublish(now)
	require.NoError(t, err)
	require.Empty(t, due)

	due, err = s.IterDueForRepublish(now.Add(record.RepublishInterval + time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, s.MarkRepublished(r.Key, now.Add(record.RepublishInterval+time.Minute)))
	due, err = s.IterDueForRepublish(now.Add(record.RepublishInterval + 2*time.Minute))
	require.NoError(t, err)
	require.Empty(t, due)
}

func TestValidatorConsulted(t *testing.T) {
	s := New(memory.New(), record.NewValidator())
	r := makeRecord(t, `{"id":"l-1"}`, time.Hour)

	// Structurally incomplete for the listing tag: validator must reject.
	_, err := s.Put(r)
	require.ErrorIs(t, err, record.ErrInvalid)
	require.True(t, errors.Is(err, record.ErrInvalid))
}

func TestRemoveThenGetMisses(t *testing.T) {
	s := testStore(t)
	r := makeRecord(t, `{"id":"l-1"}`, time.Hour)
	_, err := s.Put(r)
	require.NoError(t, err)

	require.NoError(t, s.Remove(r.Key))
	_, found, err := s.Get(r.Key)
	require.NoError(t, err)
	require.False(t, found)
}
