package mapping

import (
	"context"
	"testing"

	"github.com/neromon/dhtcore/nodeid"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Index {
	t.Helper()
	idx, err := Open("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestMapAndLookup(t *testing.T) {
	idx := openTest(t)
	ctx := context.Background()
	key := nodeid.KeyFromContent([]byte("k1"))

	require.NoError(t, idx.Map(ctx, "wownero", key, "listing"))

	rows, err := idx.Lookup(ctx, "wownero")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, key.Hex(), rows[0].Key)

	require.NoError(t, idx.RemoveKey(ctx, key))
	rows, err = idx.Lookup(ctx, "wownero")
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestMapIsIdempotent(t *testing.T) {
	idx := openTest(t)
	ctx := context.Background()
	key := nodeid.KeyFromContent([]byte("k2"))

	require.NoError(t, idx.Map(ctx, "term", key, "listing"))
	require.NoError(t, idx.Map(ctx, "term", key, "listing"))

	rows, err := idx.Lookup(ctx, "term")
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestSearchFullText(t *testing.T) {
	idx := openTest(t)
	ctx := context.Background()
	key := nodeid.KeyFromContent([]byte("k3"))
	require.NoError(t, idx.Map(ctx, "wownero coin", key, "listing"))

	rows, err := idx.Search(ctx, "wownero")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, key.Hex(), rows[0].Key)
}

func TestCartAndFavorites(t *testing.T) {
	idx := openTest(t)
	ctx := context.Background()
	listing := nodeid.KeyFromContent([]byte("listing-1"))

	require.NoError(t, idx.AddToCart(ctx, "cart-1", "user-1"))
	require.NoError(t, idx.AddCartItem(ctx, "cart-1", listing, 2))

	items, err := idx.ListCart(ctx, "cart-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, 2, items[0].Quantity)

	require.NoError(t, idx.RemoveFromCart(ctx, "cart-1"))
	items, err = idx.ListCart(ctx, "cart-1")
	require.NoError(t, err)
	require.Empty(t, items)

	require.NoError(t, idx.AddFavorite(ctx, "user-1", listing))
	favs, err := idx.ListFavorites(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, []string{listing.Hex()}, favs)

	require.NoError(t, idx.RemoveFavorite(ctx, "user-1", listing))
	favs, err = idx.ListFavorites(ctx, "user-1")
	require.NoError(t, err)
	require.Empty(t, favs)
}
