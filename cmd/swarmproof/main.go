// Command swarmproof is the CLI orchestrator (C12): it loads configuration,
// parses the target .torrent, downloads the reference payload if needed,
// enumerates swarm peers, and runs the per-peer piece probe against each
// one, persisting evidence as it goes. Grounded on the teacher's
// cmd/omnicloud/main.go bootstrap sequence: resolve a config path relative
// to the working directory with a parent-directory fallback, load it, and
// log.Fatalf only on the handful of conditions that should abort the run:
// unloadable configuration, an unparseable torrent, an evidence root that
// cannot be created, or a probe session that cannot be opened.
package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/omnicloud/swarmproof/internal/config"
	"github.com/omnicloud/swarmproof/internal/engine"
	"github.com/omnicloud/swarmproof/internal/evidence"
	"github.com/omnicloud/swarmproof/internal/fetch"
	"github.com/omnicloud/swarmproof/internal/ipfilter"
	"github.com/omnicloud/swarmproof/internal/probe"
	"github.com/omnicloud/swarmproof/internal/publicip"
	"github.com/omnicloud/swarmproof/internal/runlog"
	"github.com/omnicloud/swarmproof/internal/swarm"
	"github.com/omnicloud/swarmproof/internal/torrentfile"
	"github.com/omnicloud/swarmproof/internal/whois"
)

func main() {
	logger := runlog.New("main")

	workDir, _ := os.Getwd()
	configPath := filepath.Join(workDir, "swarmproof.config")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// Fall back to a config in the working directory's parent
		// directory, matching the teacher's auth.config lookup.
		configPath = filepath.Join(filepath.Dir(workDir), "swarmproof.config")
	}

	if len(os.Args) > 1 {
		os.Setenv("TORRENT_PATH", os.Args[1])
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	descriptor, err := torrentfile.Load(cfg.TorrentPath)
	if err != nil {
		log.Fatalf("failed to parse torrent %s: %v", cfg.TorrentPath, err)
	}
	logger.Printf("loaded %s (%d pieces, %d bytes, info_hash=%s)",
		descriptor.Name, descriptor.NumPieces, descriptor.TotalSize, descriptor.InfoHashHex())

	ctx := context.Background()

	ipClient := publicip.New()
	self := resolveSelf(ipClient, logger)

	allowV4, allowV6 := loadAllowLists(cfg, logger)

	referencePath := filepath.Join(cfg.SaveRoot, descriptor.Name)
	if cfg.SkipFullDownload {
		logger.Printf("skip_full_download set, leaving full-swarm download untouched")
	} else if _, err := fetch.DownloadAll(ctx, descriptor, cfg.SaveRoot, 1*time.Second); err != nil {
		logger.Printf("full download did not complete cleanly: %v", err)
	}

	mergedAllow := mergeAllow(allowV4, allowV6)
	peers, err := swarm.Enumerate(ctx, descriptor, filepath.Join(cfg.SaveRoot, ".swarm-scratch"), mergedAllow, self, cfg.MaxPeers)
	if err != nil {
		logger.Printf("swarm enumeration ended early: %v", err)
	}
	logger.Printf("enumerated %d eligible peer(s)", len(peers))

	writer, err := evidence.New(cfg.SaveRoot)
	if err != nil {
		log.Fatalf("failed to initialize evidence writer: %v", err)
	}

	trackerIPs := engine.ResolveTrackers(ctx, descriptor.Trackers())
	logger.Printf("resolved %d tracker address(es) from %d announce URL(s)", len(trackerIPs), len(descriptor.Trackers()))

	for _, peer := range peers {
		org := whois.Lookup(ctx, peer.IP)

		workDir, err := engine.MakeTempDataDir(filepath.Join(cfg.SaveRoot, ".probe-scratch"))
		if err != nil {
			logger.Printf("peer %s: failed to create scratch directory: %v", peer, err)
			continue
		}

		sess, err := engine.Open(filepath.Join(cfg.SaveRoot, ".probe-session"))
		if err != nil {
			os.RemoveAll(workDir)
			log.Fatalf("failed to open probe session: %v", err)
		}

		rec, err := probe.Run(ctx, sess, probe.Options{
			Peer:          peer,
			Descriptor:    descriptor,
			WorkDir:       workDir,
			ReferencePath: referencePath,
			VersionTag:    cfg.VersionTag,
			Organization:  org,
			SavePieces:    cfg.PieceDownload,
			TrackerIPs:    trackerIPs,
		})
		sess.Close()
		os.RemoveAll(workDir)

		if err != nil {
			logger.Printf("peer %s: probe failed: %v", peer, err)
			continue
		}

		if err := writer.Write(rec); err != nil {
			logger.Printf("peer %s: failed to write evidence: %v", peer, err)
		}
	}

	logger.Printf("run complete: %d peer(s) probed", len(peers))
}

func resolveSelf(c *publicip.Client, logger *log.Logger) swarm.SelfAddresses {
	var self swarm.SelfAddresses
	if v4, err := c.V4(); err != nil {
		logger.Printf("public IPv4 probe failed, proceeding without v4 self-exclusion: %v", err)
	} else {
		self.V4 = v4
	}
	if v6, err := c.V6(); err != nil {
		logger.Printf("public IPv6 probe failed, proceeding without v6 self-exclusion: %v", err)
	} else {
		self.V6 = v6
	}
	return self
}

func loadAllowLists(cfg *config.Config, logger *log.Logger) (*ipfilter.RangeList, *ipfilter.RangeList) {
	v4, err := ipfilter.LoadRanges(cfg.IPv4ListPath)
	if err != nil {
		logger.Printf("ipv4 allow-list unreadable, treating as empty: %v", err)
		v4 = &ipfilter.RangeList{}
	}
	v6, err := ipfilter.LoadRanges(cfg.IPv6ListPath)
	if err != nil {
		logger.Printf("ipv6 allow-list unreadable, treating as empty: %v", err)
		v6 = &ipfilter.RangeList{}
	}
	logger.Printf("loaded %d v4 range(s), %d v6 range(s)", v4.Len(), v6.Len())
	return v4, v6
}

// mergeAllow combines the v4 and v6 range lists into the single list
// swarm.Enumerate checks peers against; an address only needs to satisfy
// one of the two per-family lists.
func mergeAllow(v4, v6 *ipfilter.RangeList) *ipfilter.RangeList {
	return v4.Merge(v6)
}
