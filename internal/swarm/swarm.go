// Package swarm implements the peer discovery pass (C5): open a session
// widened to the whole swarm, poll its known-peer list until either
// maxPeers eligible peers are found or a retry budget is exhausted, and
// return every eligible candidate in discovery order with the collector's
// own addresses and anything outside the configured allow-lists excluded.
//
// The ten-retry, one-second-sleep polling loop is grounded on the original
// collector's __wait_for_download (original_source/torrent/client.py).
// Every poll counts against the budget, whether or not the swarm is empty.
package swarm

import (
	"context"
	"net"
	"time"

	"github.com/omnicloud/swarmproof/internal/engine"
	"github.com/omnicloud/swarmproof/internal/ipfilter"
	"github.com/omnicloud/swarmproof/internal/runlog"
	"github.com/omnicloud/swarmproof/internal/torrentfile"
)

const (
	maxRetries   = 10
	pollInterval = 1 * time.Second
)

// SelfAddresses carries the collector's own public addresses so discovered
// peers that are actually this host get excluded.
type SelfAddresses struct {
	V4 net.IP
	V6 net.IP
}

// Enumerate opens a session under dataDir, widens it, attaches d, and polls
// KnownSwarm up to maxRetries times (sleeping pollInterval after each
// poll), returning every eligible peer in the order it was first
// discovered. allow, if non-nil, restricts results to addresses it
// contains, so an empty list admits no peer; self excludes the collector's own v4 address
// exactly and its own v6 address by /64 prefix.
func Enumerate(ctx context.Context, d *torrentfile.Descriptor, dataDir string, allow *ipfilter.RangeList, self SelfAddresses, maxPeers int) ([]engine.Peer, error) {
	log := runlog.New("swarm")

	sess, err := engine.Open(dataDir)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	sess.Widen()

	h, err := sess.Attach(ctx, d, dataDir)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var ordered []engine.Peer

	retries := 0
	for retries < maxRetries {
		for _, p := range h.KnownSwarm() {
			key := p.String()
			if seen[key] {
				continue
			}
			if isSelf(p.IP, self) {
				continue
			}
			if allow != nil && !allow.Contains(p.IP) {
				continue
			}
			seen[key] = true
			ordered = append(ordered, p)
			log.Printf("discovered peer %s (%d/%d)", key, len(ordered), maxPeers)
		}

		if maxPeers > 0 && len(ordered) >= maxPeers {
			break
		}

		retries++

		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return ordered, ctx.Err()
		}
	}

	if maxPeers > 0 && len(ordered) > maxPeers {
		log.Printf("capping discovered peers at %d (found %d)", maxPeers, len(ordered))
		ordered = ordered[:maxPeers]
	}

	return ordered, nil
}

func isSelf(ip net.IP, self SelfAddresses) bool {
	if self.V4 != nil && ip.Equal(self.V4) {
		return true
	}
	if self.V6 != nil && ip.To4() == nil {
		mask := net.CIDRMask(64, 128)
		if ip.Mask(mask).Equal(self.V6.Mask(mask)) {
			return true
		}
	}
	return false
}
