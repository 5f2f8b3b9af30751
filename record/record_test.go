package record

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/neromon/dhtcore/nodeid"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	r := Record{
		Key:         nodeid.KeyFromContent([]byte(`{"a":1}`)),
		Value:       []byte(`{"a":1}`),
		Tag:         TagListing,
		Timestamp:   now,
		TTL:         DefaultTTL,
		RepublishAt: now.Add(RepublishInterval),
		Origin:      nodeid.FromIdentity("origin"),
	}

	b, err := Codec{}.Marshal(r)
	require.NoError(t, err)

	got, err := Codec{}.Unmarshal(b)
	require.NoError(t, err)
	require.Equal(t, r.Key, got.Key)
	require.Equal(t, r.Value, got.Value)
	require.Equal(t, r.Tag, got.Tag)
	require.Equal(t, r.Timestamp.Unix(), got.Timestamp.Unix())
	require.Equal(t, r.TTL, got.TTL)
	require.Equal(t, r.Origin, got.Origin)
}

func TestValidateListingRequiresFields(t *testing.T) {
	v := NewValidator()
	err := v.Validate(TagListing, []byte(`{"id":"x"}`))
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestValidateListingAccepted(t *testing.T) {
	v := NewValidator()
	doc := `{"id":"l1","seller_id":"s1","quantity":1,"price":1.0,"currency":"XMR",
		"condition":"new","date":"2026-01-01","product":{"name":"n","description":"d","category":"c"},
		"signature":"sig"}`
	require.NoError(t, v.Validate(TagListing, []byte(doc)))
}

func TestValidateRatingStarsXorScore(t *testing.T) {
	v := NewValidator()
	require.NoError(t, v.Validate(TagProductRating, []byte(`{"rater_id":"r1","signature":"s","stars":5}`)))
	require.NoError(t, v.Validate(TagSellerRating, []byte(`{"rater_id":"r1","signature":"s","score":1}`)))
	require.Error(t, v.Validate(TagProductRating, []byte(`{"rater_id":"r1","signature":"s","stars":6}`)))
	require.Error(t, v.Validate(TagProductRating, []byte(`{"rater_id":"r1","signature":"s","stars":1,"score":0}`)))
}

func TestValidateSignatureVerifierCalled(t *testing.T) {
	var called bool
	v := NewValidator(WithSignatureVerifier(func(tag Tag, doc map[string]json.RawMessage) error {
		called = true
		return nil
	}))
	doc := `{"rater_id":"r1","signature":"s","stars":5}`
	require.NoError(t, v.Validate(TagProductRating, []byte(doc)))
	require.True(t, called)
}

func TestCanonicalSortsKeys(t *testing.T) {
	a, err := Canonical([]byte(`{"b":1,"a":2}`))
	require.NoError(t, err)
	b, err := Canonical([]byte(`{"a":2,"b":1}`))
	require.NoError(t, err)
	require.Equal(t, a, b)
}
