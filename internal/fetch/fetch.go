// Package fetch implements the full-swarm download driver (C6): skip work
// entirely when the payload is already on disk, otherwise open a widened
// session and download every piece, grounded on the teacher's
// StartDownload/DownloadAll flow (internal/torrent/client.go) and on the
// original collector's download(), which also polls is_seeding to detect
// completion (original_source/torrent/client.py).
package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/omnicloud/swarmproof/internal/engine"
	"github.com/omnicloud/swarmproof/internal/runlog"
	"github.com/omnicloud/swarmproof/internal/torrentfile"
)

// downloadSkipSentinel is an operator-placed marker: if it exists in
// saveDir, DownloadAll returns immediately without touching the network at
// all, not even to check whether the payload is already on disk. This is
// distinct from completionMarker below, which the tool writes itself once
// a download finishes.
const downloadSkipSentinel = ".download_skip"

// completionMarker is the marker file DownloadAll writes on success so
// re-runs of the collector against the same save root short-circuit
// instead of re-fetching the entire payload.
const completionMarker = ".swarmproof-complete"

// SkipSentinelPresent reports whether the operator has placed the
// .download_skip sentinel in saveDir, the literal pre-run network-skip
// marker described alongside the full download driver.
func SkipSentinelPresent(saveDir string) bool {
	_, err := os.Stat(filepath.Join(saveDir, downloadSkipSentinel))
	return err == nil
}

// AlreadyComplete reports whether saveDir already holds a finished
// download: a directory matching d.Name whose total size equals the
// torrent's declared length, or the completion marker from a prior run.
func AlreadyComplete(d *torrentfile.Descriptor, saveDir string) bool {
	if completionMarkerPresent(saveDir) {
		return true
	}

	payloadPath := filepath.Join(saveDir, d.Name)
	size, err := directorySize(payloadPath)
	if err != nil {
		return false
	}
	return size == d.TotalSize
}

func completionMarkerPresent(saveDir string) bool {
	_, err := os.Stat(filepath.Join(saveDir, completionMarker))
	return err == nil
}

func directorySize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// Result reports the outcome of a DownloadAll run.
type Result struct {
	Skipped        bool
	BytesCompleted int64
	TotalBytes     int64
	PollCount      int
}

// DownloadAll fetches the entire payload into saveDir unless it is already
// complete, polling progress every pollInterval and writing the
// completion marker on success. The poll loop checks Seeding() rather than
// BytesCompleted()==TotalLength() because a torrent can finish verifying
// its last piece and flip to seeding in the same tick the byte counters
// are read, which is the same race the original implementation avoids by
// polling is_seeding directly.
func DownloadAll(ctx context.Context, d *torrentfile.Descriptor, saveDir string, pollInterval time.Duration) (*Result, error) {
	log := runlog.New("fetch")

	if SkipSentinelPresent(saveDir) {
		log.Printf("%s sentinel present in %s, skipping download without touching the network", downloadSkipSentinel, saveDir)
		return &Result{Skipped: true, TotalBytes: d.TotalSize}, nil
	}

	if AlreadyComplete(d, saveDir) {
		log.Printf("%s already complete under %s, skipping download", d.Name, saveDir)
		return &Result{Skipped: true, TotalBytes: d.TotalSize, BytesCompleted: d.TotalSize}, nil
	}

	if err := os.MkdirAll(saveDir, 0755); err != nil {
		return nil, fmt.Errorf("creating save directory %s: %w", saveDir, err)
	}

	sess, err := engine.Open(saveDir)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	sess.Widen()

	h, err := sess.Attach(ctx, d, saveDir)
	if err != nil {
		return nil, err
	}
	h.DownloadAll()

	res := &Result{TotalBytes: h.TotalLength()}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		res.BytesCompleted = h.BytesCompleted()
		res.PollCount++
		log.Printf("%s progress: %d/%d bytes, %d peer(s) connected", d.Name, res.BytesCompleted, res.TotalBytes, h.PeerCount())

		if h.Seeding() {
			break
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return res, ctx.Err()
		}
	}

	if err := os.WriteFile(filepath.Join(saveDir, completionMarker), []byte(time.Now().UTC().Format(time.RFC3339)), 0644); err != nil {
		log.Printf("failed to write completion marker in %s: %v", saveDir, err)
	}

	return res, nil
}
