package ipfilter

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDenyAllBlocksEverything(t *testing.T) {
	rs := NewDenyAll()
	_, blocked := rs.Lookup(net.ParseIP("8.8.8.8"))
	require.True(t, blocked)
	_, blocked = rs.Lookup(net.ParseIP("::1"))
	require.True(t, blocked)
}

func TestAllowAllBlocksNothing(t *testing.T) {
	rs := NewAllowAll()
	_, blocked := rs.Lookup(net.ParseIP("203.0.113.7"))
	require.False(t, blocked)
}

func TestNarrowToPeerAllowsOnlyThatAddress(t *testing.T) {
	rs := NewDenyAll()
	peer := net.ParseIP("198.51.100.23")
	require.NoError(t, rs.NarrowToPeer(peer, nil))

	_, blocked := rs.Lookup(peer)
	require.False(t, blocked, "the narrowed peer must not be blocked")

	_, blocked = rs.Lookup(net.ParseIP("198.51.100.24"))
	require.True(t, blocked, "every other address must remain blocked")
}

// TestNarrowToPeerAllowsTrackersToo covers the effective allow set the
// per-peer probe needs: {trackers} ∪ {the one target peer}, nothing else.
func TestNarrowToPeerAllowsTrackersToo(t *testing.T) {
	rs := NewDenyAll()
	peer := net.ParseIP("198.51.100.23")
	trackers := []net.IP{net.ParseIP("203.0.113.5"), net.ParseIP("203.0.113.6")}
	require.NoError(t, rs.NarrowToPeer(peer, trackers))

	_, blocked := rs.Lookup(peer)
	require.False(t, blocked, "the narrowed peer must not be blocked")

	for _, tracker := range trackers {
		_, blocked := rs.Lookup(tracker)
		require.False(t, blocked, "a resolved tracker address must not be blocked")
	}

	_, blocked = rs.Lookup(net.ParseIP("198.51.100.24"))
	require.True(t, blocked, "an address outside {trackers} ∪ {peer} must remain blocked")
	_, blocked = rs.Lookup(net.ParseIP("203.0.113.7"))
	require.True(t, blocked, "an unresolved tracker neighbor must remain blocked")
}

func TestComposePeerOnlyIsPureAndInspectable(t *testing.T) {
	peer := net.ParseIP("198.51.100.23")
	trackers := []net.IP{net.ParseIP("203.0.113.5")}

	rules, err := ComposePeerOnly(peer, trackers)
	require.NoError(t, err)
	require.Len(t, rules, 4) // peer + 1 tracker + 2 deny-all (v4, v6)
	require.False(t, rules[0].Blocked)
	require.False(t, rules[1].Blocked)
	require.True(t, rules[2].Blocked)
	require.True(t, rules[3].Blocked)
}

func TestWidenClearsAllRules(t *testing.T) {
	rs := NewDenyAll()
	rs.Widen()
	_, blocked := rs.Lookup(net.ParseIP("1.2.3.4"))
	require.False(t, blocked)
	require.Empty(t, rs.Rules())
}

func TestMutationIsVisibleThroughSamePointer(t *testing.T) {
	rs := NewDenyAll()
	var ranger = rs // simulates the reference torrent.NewClient would retain

	peer := net.ParseIP("10.0.0.5")
	require.NoError(t, rs.NarrowToPeer(peer, nil))

	_, blocked := ranger.Lookup(peer)
	require.False(t, blocked, "mutation through rs must be visible via any held reference")
}

func TestLoadRangesParsesCIDRsAndBareIPs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipv4.txt")
	contents := "# comment\n\n203.0.113.0/24\n198.51.100.42\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	rl, err := LoadRanges(path)
	require.NoError(t, err)
	require.Equal(t, 2, rl.Len())
	require.True(t, rl.Contains(net.ParseIP("203.0.113.99")))
	require.True(t, rl.Contains(net.ParseIP("198.51.100.42")))
	require.False(t, rl.Contains(net.ParseIP("8.8.8.8")))
}

func TestLoadRangesSkipsGarbageLinesSilently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.txt")
	require.NoError(t, os.WriteFile(path, []byte("not-an-ip\n203.0.113.0/24\n"), 0644))

	rl, err := LoadRanges(path)
	require.NoError(t, err)
	require.Equal(t, 1, rl.Len())
}

func TestLoadRangesMissingFileYieldsEmptyList(t *testing.T) {
	rl, err := LoadRanges(filepath.Join(t.TempDir(), "does-not-exist.txt"))
	require.NoError(t, err)
	require.Equal(t, 0, rl.Len())
}
