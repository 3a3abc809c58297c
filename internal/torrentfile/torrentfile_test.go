package torrentfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/stretchr/testify/require"
)

func writeSampleTorrent(t *testing.T, pieceData [][]byte, name string) string {
	t.Helper()

	info := metainfo.Info{
		Name:        name,
		PieceLength: 16,
	}
	for _, p := range pieceData {
		sum := metainfo.HashBytes(p)
		info.Pieces = append(info.Pieces, sum[:]...)
	}
	info.Length = int64(len(pieceData)) * info.PieceLength

	infoBytes, err := bencode.Marshal(info)
	require.NoError(t, err)

	mi := metainfo.MetaInfo{
		Announce: "udp://tracker.example.org:6969/announce",
		InfoBytes: infoBytes,
	}
	mi.AnnounceList = [][]string{{"udp://tracker2.example.org:80/announce"}}

	raw, err := bencode.Marshal(mi)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "sample.torrent")
	require.NoError(t, os.WriteFile(path, raw, 0644))
	return path
}

func TestLoadParsesBasicFields(t *testing.T) {
	pieces := [][]byte{
		[]byte("0123456789abcdef"),
		[]byte("fedcba9876543210"),
	}
	path := writeSampleTorrent(t, pieces, "evidence-payload")

	d, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "evidence-payload", d.Name)
	require.Equal(t, int64(16), d.PieceLength)
	require.Equal(t, 2, d.NumPieces)
	require.Equal(t, int64(32), d.TotalSize)
	require.Len(t, d.InfoHashHex(), 40)
}

func TestHashForPieceMatchesDeclaredDigest(t *testing.T) {
	pieces := [][]byte{[]byte("aaaaaaaaaaaaaaaa")}
	path := writeSampleTorrent(t, pieces, "single-piece")

	d, err := Load(path)
	require.NoError(t, err)

	want := metainfo.HashBytes(pieces[0])
	got := d.HashForPiece(0)
	require.Equal(t, [20]byte(want), got)
}

func TestTrackersDeduplicatesAnnounceAndAnnounceList(t *testing.T) {
	path := writeSampleTorrent(t, [][]byte{[]byte("0123456789abcdef")}, "trackers-test")

	d, err := Load(path)
	require.NoError(t, err)

	trackers := d.Trackers()
	require.Contains(t, trackers, "udp://tracker.example.org:6969/announce")
	require.Contains(t, trackers, "udp://tracker2.example.org:80/announce")
	require.Len(t, trackers, 2)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.torrent"))
	require.Error(t, err)
}
