// Package piecehash splits large binary record fields into fixed-size
// pieces and fingerprints each one.
package piecehash

import (
	"io"
	"sync"

	"github.com/cockroachdb/errors"
	logging "github.com/ipfs/go-log/v2"
	"github.com/minio/sha256-simd"
	"github.com/multiformats/go-multihash"
)

var log = logging.Logger("piecehash")

// Piece is one fixed-size slice of a hashed payload.
type Piece struct {
	Index int
	// Offset and Length describe the piece's byte range within the source.
	Offset int64
	Length int64
	// Hash is the self-describing sha2-256 multihash of the piece's bytes.
	Hash multihash.Multihash
}

// Fingerprint is the ordered set of piece hashes that, together with the
// piece size, identifies a hashed payload.
type Fingerprint struct {
	PieceSize int64
	Pieces    []Piece
}

// bufPool reuses read buffers across Hash calls.
var bufPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, maxPieceSize)
		return &b
	},
}

const (
	minPieceSize = 16 * 1024
	maxPieceSize = 1024 * 1024
)

// pieceSizeFor chooses a piece size from the source length.
func pieceSizeFor(sourceLen int64) int64 {
	switch {
	case sourceLen >= 2*1024*1024:
		return 1024 * 1024
	case sourceLen >= 1024*1024:
		return 512 * 1024
	case sourceLen >= 512*1024:
		return 256 * 1024
	case sourceLen >= 256*1024:
		return 128 * 1024
	case sourceLen >= 128*1024:
		return 64 * 1024
	case sourceLen >= 64*1024:
		return 32 * 1024
	default:
		return minPieceSize
	}
}

// Hash reads r, which must yield exactly sourceLen bytes, and returns its
// piece fingerprint. A read failure returns an empty Fingerprint and a
// non-fatal error.
func Hash(r io.Reader, sourceLen int64) (Fingerprint, error) {
	if sourceLen <= 0 {
		return Fingerprint{}, nil
	}

	pieceSize := pieceSizeFor(sourceLen)
	bufp := bufPool.Get().(*[]byte)
	buf := (*bufp)[:pieceSize]
	defer bufPool.Put(bufp)

	var (
		fp     Fingerprint
		offset int64
		index  int
	)
	fp.PieceSize = pieceSize

	for offset < sourceLen {
		want := pieceSize
		if remaining := sourceLen - offset; remaining < want {
			want = remaining
		}
		n, err := io.ReadFull(r, buf[:want])
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			log.Warnw("failed to read piece", "index", index, "err", err)
			return Fingerprint{}, errors.Wrap(err, "piecehash: read failed")
		}
		if int64(n) != want {
			return Fingerprint{}, errors.Newf("piecehash: short read at piece %d: got %d want %d", index, n, want)
		}

		sum := sha256.Sum256(buf[:n])
		mh, err := multihash.Encode(sum[:], multihash.SHA2_256)
		if err != nil {
			return Fingerprint{}, errors.Wrap(err, "piecehash: multihash encode failed")
		}

		fp.Pieces = append(fp.Pieces, Piece{
			Index:  index,
			Offset: offset,
			Length: int64(n),
			Hash:   mh,
		})

		offset += int64(n)
		index++
	}

	return fp, nil
}

// TotalLength returns the sum of all piece lengths, which must equal the
// source length.
func (f Fingerprint) TotalLength() int64 {
	var total int64
	for _, p := range f.Pieces {
		total += p.Length
	}
	return total
}
