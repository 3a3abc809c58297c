// Package verify checks recovered piece bytes against both the torrent's
// declared SHA-1 digest and an optional reference binary, the two
// verification layers spec.md §8 exercises. Grounded on the teacher's
// internal/torrent/generator.go, which hashes piece data with crypto/sha1
// the same way during torrent creation.
package verify

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"io"
	"os"
)

// Digest returns the SHA-1 digest of data, in the same [20]byte shape
// torrentfile.Descriptor.HashForPiece returns so the two compare directly.
func Digest(data []byte) [20]byte {
	return sha1.Sum(data)
}

// VerifyAgainstTorrent reports whether data's SHA-1 digest matches want,
// the digest the torrent's info dictionary declares for this piece index.
func VerifyAgainstTorrent(data []byte, want [20]byte) bool {
	got := Digest(data)
	return bytes.Equal(got[:], want[:])
}

// BinaryMatch reports whether data is byte-for-byte identical to the slice
// of referencePath a piece at this index and pieceLength would occupy —
// reference_file[index*pieceLength : index*pieceLength+len(data)] — the
// operator-supplied known-good binary spec.md §8's "binary mismatch"
// scenario compares against. A missing or unreadable reference file, or an
// offset that falls outside the reference file entirely, is surfaced as an
// error, not a silent false.
func BinaryMatch(data []byte, index int, pieceLength int64, referencePath string) (bool, error) {
	ref, err := os.ReadFile(referencePath)
	if err != nil {
		return false, fmt.Errorf("reading reference binary %s: %w", referencePath, err)
	}

	start := int64(index) * pieceLength
	end := start + int64(len(data))
	if start < 0 || end > int64(len(ref)) {
		return false, fmt.Errorf("piece %d spans [%d:%d), outside reference binary %s (%d bytes)", index, start, end, referencePath, len(ref))
	}

	return bytes.Equal(data, ref[start:end]), nil
}

// CopyDigest hashes data read from r without buffering the whole stream
// in memory twice, for callers that already have an io.Reader over piece
// bytes (e.g. a file written to disk with piece_download enabled).
func CopyDigest(r io.Reader) ([20]byte, error) {
	h := sha1.New()
	if _, err := io.Copy(h, r); err != nil {
		return [20]byte{}, err
	}
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}
