package piecehash

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashIdempotentAndReassembles(t *testing.T) {
	data := make([]byte, 300*1024) // picks the 128 KiB piece size tier
	_, err := rand.Read(data)
	require.NoError(t, err)

	fp1, err := Hash(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	fp2, err := Hash(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	require.Equal(t, fp1.PieceSize, fp2.PieceSize)
	require.Equal(t, len(fp1.Pieces), len(fp2.Pieces))
	for i := range fp1.Pieces {
		require.True(t, fp1.Pieces[i].Hash.B58String() == fp2.Pieces[i].Hash.B58String())
	}
	require.Equal(t, int64(len(data)), fp1.TotalLength())
}

func TestPieceSizeTiers(t *testing.T) {
	cases := []struct {
		size int64
		want int64
	}{
		{2 * 1024 * 1024, 1024 * 1024},
		{1024 * 1024, 512 * 1024},
		{512 * 1024, 256 * 1024},
		{256 * 1024, 128 * 1024},
		{128 * 1024, 64 * 1024},
		{64 * 1024, 32 * 1024},
		{1024, 16 * 1024},
	}
	for _, c := range cases {
		data := make([]byte, c.size)
		fp, err := Hash(bytes.NewReader(data), c.size)
		require.NoError(t, err)
		require.Equal(t, c.want, fp.PieceSize)
	}
}

func TestEmptySource(t *testing.T) {
	fp, err := Hash(bytes.NewReader(nil), 0)
	require.NoError(t, err)
	require.Empty(t, fp.Pieces)
}

func TestLastPieceShort(t *testing.T) {
	data := make([]byte, 72*1024) // 32 KiB piece size tier, one short trailing piece
	fp, err := Hash(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Equal(t, int64(32*1024), fp.PieceSize)
	require.Len(t, fp.Pieces, 3)
	require.Equal(t, int64(8*1024), fp.Pieces[2].Length)
}
