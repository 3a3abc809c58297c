package verify

import (
	"bytes"
	"crypto/sha1"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVerifyAgainstTorrentHappyPath(t *testing.T) {
	data := []byte("genuine piece bytes from the swarm")
	want := sha1.Sum(data)
	require.True(t, VerifyAgainstTorrent(data, want))
}

func TestVerifyAgainstTorrentHashMismatch(t *testing.T) {
	data := []byte("tampered piece bytes")
	want := sha1.Sum([]byte("original piece bytes"))
	require.False(t, VerifyAgainstTorrent(data, want))
}

func TestBinaryMatchIdentical(t *testing.T) {
	data := []byte("exact reference content!")
	path := filepath.Join(t.TempDir(), "reference.bin")
	require.NoError(t, os.WriteFile(path, data, 0644))

	ok, err := BinaryMatch(data, 0, int64(len(data)), path)
	require.NoError(t, err)
	require.True(t, ok)
}

// TestBinaryMatchSlicesByPieceOffset is the spec's literal happy path: a
// 16-byte-piece torrent whose piece 2 is genuinely authentic must
// match the slice of the reference file at [2*16:2*16+len(data)), not the
// whole reference file.
func TestBinaryMatchSlicesByPieceOffset(t *testing.T) {
	const pieceLength = int64(16)
	ref := []byte("0123456789abcdefghijklmnopqrstuvwxyz012345678901") // 48 bytes: 3 pieces worth
	path := filepath.Join(t.TempDir(), "reference.bin")
	require.NoError(t, os.WriteFile(path, ref, 0644))

	index := 2
	start := int64(index) * pieceLength
	piece := ref[start : start+pieceLength]

	ok, err := BinaryMatch(piece, index, pieceLength, path)
	require.NoError(t, err)
	require.True(t, ok, "a genuine piece must match its own slice of the reference file, not the whole file")

	require.False(t, bytes.Equal(piece, ref), "sanity check: the piece must not equal the whole reference file")
}

func TestBinaryMatchMismatch(t *testing.T) {
	const pieceLength = int64(16)
	ref := make([]byte, 64)
	path := filepath.Join(t.TempDir(), "reference.bin")
	require.NoError(t, os.WriteFile(path, ref, 0644))

	ok, err := BinaryMatch([]byte("tampered bytes!!"), 1, pieceLength, path)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBinaryMatchOffsetBeyondReferenceIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reference.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 16), 0644))

	_, err := BinaryMatch(make([]byte, 16), 5, 16, path)
	require.Error(t, err)
}

func TestBinaryMatchMissingReference(t *testing.T) {
	_, err := BinaryMatch([]byte("data"), 0, 16, filepath.Join(t.TempDir(), "missing.bin"))
	require.Error(t, err)
}

func TestCopyDigestMatchesDigest(t *testing.T) {
	data := []byte("stream this through io.Copy")
	want := Digest(data)

	got, err := CopyDigest(&sliceReader{data: data})
	require.NoError(t, err)
	require.Equal(t, want, got)
}

type sliceReader struct {
	data []byte
	pos  int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
