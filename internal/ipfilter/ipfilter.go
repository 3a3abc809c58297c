// Package ipfilter implements the allow/deny IP filter that gates which
// peers the embedded torrent engine is permitted to talk to. It is the Go
// equivalent of the original collector's lt.ip_filter: a deny-all base rule
// that individual callers narrow by adding explicit allow rules, grounded on
// the teacher's internal/torrent/tracker.go IP-handling idioms and on
// iplist.Ranger as used by the pack's anacrolix/torrent vendor copies
// (other_examples/*-config.go.go, *-client.go.go).
//
// RuleSet satisfies iplist.Ranger and is designed to be mutated in place
// after it has been handed to torrent.NewClient: anacrolix/torrent captures
// ClientConfig.IPBlocklist once at construction and never re-reads the
// field, so the only way to change a running session's filter is to mutate
// the same Ranger object the client is already holding.
package ipfilter

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/anacrolix/torrent/iplist"
)

// Rule is one allow or deny entry over a CIDR range.
type Rule struct {
	Net     *net.IPNet
	Blocked bool
	Reason  string
}

// RuleSet is a mutable, concurrency-safe iplist.Ranger. An empty RuleSet
// blocks nothing. Rules are evaluated in order; the first matching rule
// wins, so narrowing a session to a single peer means prepending an allow
// rule ahead of the existing deny-all.
type RuleSet struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewDenyAll returns a RuleSet whose only rule blocks every address,
// matching C4's "installs a deny-all base filter immediately" contract.
func NewDenyAll() *RuleSet {
	rs := &RuleSet{}
	_, all4, _ := net.ParseCIDR("0.0.0.0/0")
	_, all6, _ := net.ParseCIDR("::/0")
	rs.rules = []Rule{
		{Net: all4, Blocked: true, Reason: "deny-all base filter"},
		{Net: all6, Blocked: true, Reason: "deny-all base filter"},
	}
	return rs
}

// NewAllowAll returns a RuleSet with no rules at all, i.e. nothing blocked.
// The swarm enumerator and full download driver widen to this immediately
// after opening a session, since both need to reach the general swarm.
func NewAllowAll() *RuleSet {
	return &RuleSet{}
}

// Lookup implements iplist.Ranger. ok=true means the address is blocked.
func (rs *RuleSet) Lookup(ip net.IP) (r iplist.Range, ok bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	for _, rule := range rs.rules {
		if rule.Net.Contains(ip) {
			if rule.Blocked {
				return iplist.Range{Description: rule.Reason}, true
			}
			return iplist.Range{}, false
		}
	}
	return iplist.Range{}, false
}

// ComposePeerOnly builds the ordered rule list the per-peer probe needs:
// deny the entire v4 and v6 address space, but allow the target peer and
// every one of its resolved tracker addresses ahead of that deny-all, so
// the probe's session can still announce while talking to exactly one
// peer. It's a pure builder — kept separate from NarrowToPeer so tests can
// inspect the composed rules without a live RuleSet.
func ComposePeerOnly(peer net.IP, trackerIPs []net.IP) ([]Rule, error) {
	peerNet, err := singleHostNet(peer)
	if err != nil {
		return nil, err
	}

	rules := []Rule{{Net: peerNet, Blocked: false, Reason: "narrowed peer allow"}}
	for _, ip := range trackerIPs {
		n, err := singleHostNet(ip)
		if err != nil {
			continue
		}
		rules = append(rules, Rule{Net: n, Blocked: false, Reason: "tracker allow"})
	}

	_, all4, _ := net.ParseCIDR("0.0.0.0/0")
	_, all6, _ := net.ParseCIDR("::/0")
	rules = append(rules,
		Rule{Net: all4, Blocked: true, Reason: "deny-all base filter"},
		Rule{Net: all6, Blocked: true, Reason: "deny-all base filter"},
	)
	return rules, nil
}

// NarrowToPeer replaces the rule set with ComposePeerOnly(peer, trackerIPs)
// — the per-peer probe's C4 contract: allow exactly {trackers} ∪ {the one
// target peer}, deny everything else. The single-IP allow rules are /32
// (or /128 for IPv6) so each matches exactly one host.
func (rs *RuleSet) NarrowToPeer(peer net.IP, trackerIPs []net.IP) error {
	rules, err := ComposePeerOnly(peer, trackerIPs)
	if err != nil {
		return err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.rules = rules
	return nil
}

// Widen replaces the rule set with no rules, i.e. allow everything.
func (rs *RuleSet) Widen() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.rules = nil
}

// Rules returns a snapshot of the current rules, for tests and logging.
func (rs *RuleSet) Rules() []Rule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make([]Rule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

func singleHostNet(ip net.IP) (*net.IPNet, error) {
	if ip4 := ip.To4(); ip4 != nil {
		return &net.IPNet{IP: ip4, Mask: net.CIDRMask(32, 32)}, nil
	}
	ip16 := ip.To16()
	if ip16 == nil {
		return nil, fmt.Errorf("invalid IP address: %v", ip)
	}
	return &net.IPNet{IP: ip16, Mask: net.CIDRMask(128, 128)}, nil
}

// RangeList is the static allow-list loaded from the ipv4.txt/ipv6.txt
// config files (spec.md §6), used by the swarm enumerator to decide
// whether a discovered peer is even eligible for examination.
type RangeList struct {
	nets []*net.IPNet
}

// LoadRanges reads one CIDR per line from path, skipping blank lines and
// #-comments in the teacher's config-file idiom. A missing file is
// CONFIG_MISSING (spec.md §7): it yields an empty, non-nil list rather
// than an error, since an absent allow-list means "no peers eligible", not
// "run failed". Malformed lines within an existing file are skipped
// silently, per spec.md §6.
func LoadRanges(path string) (*RangeList, error) {
	rl := &RangeList{}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return rl, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open allow-list %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		_, ipnet, err := net.ParseCIDR(line)
		if err != nil {
			// A bare IP without a prefix is also accepted as a /32 or /128.
			ip := net.ParseIP(line)
			if ip == nil {
				continue
			}
			ipnet, err = singleHostNet(ip)
			if err != nil {
				continue
			}
		}
		rl.nets = append(rl.nets, ipnet)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rl, nil
}

// Contains reports whether ip falls within any range in the list. An empty
// list contains no address.
func (rl *RangeList) Contains(ip net.IP) bool {
	for _, n := range rl.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Len reports how many ranges were loaded.
func (rl *RangeList) Len() int {
	return len(rl.nets)
}

// Merge returns a new RangeList containing the union of rl and other's
// networks, used to combine the v4 and v6 allow-lists into the single list
// the swarm enumerator checks each peer against.
func (rl *RangeList) Merge(other *RangeList) *RangeList {
	merged := &RangeList{}
	merged.nets = append(merged.nets, rl.nets...)
	if other != nil {
		merged.nets = append(merged.nets, other.nets...)
	}
	return merged
}
