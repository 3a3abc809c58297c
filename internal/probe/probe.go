// Package probe implements the per-peer piece probe (C7), the hardest part
// of the collector: narrow a session to exactly one peer, fetch exactly
// one piece directly from it, verify the bytes two ways, and hand the
// result to the evidence writer. It composes ipfilter, engine, verify, and
// evidence the way spec.md §4.7's state machine describes:
//
//	IDLE -> FILTER_NARROWED -> HANDLE_ATTACHED -> PIECE_CHOSEN
//	     -> READ_REQUESTED -> (ALERT_DRAINING)x<=10
//	     -> { BYTES_RECEIVED -> VERIFIED -> EMITTED }
//	     | { TIMEOUT -> EMITTED (blank error) }
//
// Grounded on the teacher's internal/torrent/client.go attach/priority/read
// flow and on the original collector's download_piece
// (original_source/torrent/client.py), which is the direct ancestor of
// this state machine.
package probe

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/omnicloud/swarmproof/internal/engine"
	"github.com/omnicloud/swarmproof/internal/evidence"
	"github.com/omnicloud/swarmproof/internal/runlog"
	"github.com/omnicloud/swarmproof/internal/torrentfile"
	"github.com/omnicloud/swarmproof/internal/verify"
)

const drainIterations = 10

// Options configures one probe run against one peer.
type Options struct {
	Peer          engine.Peer
	Descriptor    *torrentfile.Descriptor
	WorkDir       string // fresh scratch directory for this probe's attachment
	ReferencePath string // reference payload for binary_match; empty = uncheckable
	VersionTag    string
	Organization  string
	SavePieces    bool

	// TrackerIPs are the addresses Descriptor.Trackers() resolved to
	// (engine.ResolveTrackers), allowed alongside Peer when the filter is
	// narrowed so the session can still announce during the probe.
	TrackerIPs []net.IP

	// PieceIndex, when non-nil, pins the chosen piece instead of sampling
	// it — the hook spec.md §9 asks for so tests can pin an index.
	PieceIndex *int
	// Rand, when non-nil, is used instead of the package-level source.
	Rand *rand.Rand

	DrainTimeout time.Duration // per-iteration sleep; defaults to 1s
}

// Run executes one full probe against a session that has already been
// opened with a deny-all base filter (engine.Open), narrowing it to opt.Peer,
// attaching the torrent, choosing and fetching a piece, verifying it, and
// returning the resulting evidence.Record. Run never returns an error for
// an ordinary BLANK/FALSE/INVALID outcome — those are valid records, not
// failures — it only errors when narrowing the filter or attaching the
// torrent fails; the CLI logs such an error and moves on to the next peer.
func Run(ctx context.Context, sess *engine.Session, opt Options) (evidence.Record, error) {
	log := runlog.New("probe")

	// FILTER_NARROWED
	if err := sess.NarrowToPeer(opt.Peer, opt.TrackerIPs); err != nil {
		return evidence.Record{}, fmt.Errorf("narrowing filter to %s: %w", opt.Peer, err)
	}
	log.Printf("filter narrowed to peer %s (%d tracker address(es) also allowed)", opt.Peer, len(opt.TrackerIPs))

	// HANDLE_ATTACHED
	h, err := sess.Attach(ctx, opt.Descriptor, opt.WorkDir)
	if err != nil {
		return evidence.Record{}, fmt.Errorf("attaching torrent for peer %s: %w", opt.Peer, err)
	}

	// PIECE_CHOSEN
	index := choosePieceIndex(opt)
	h.SetPieceOnly(index)
	log.Printf("piece %d chosen for peer %s", index, opt.Peer)

	rec := evidence.Record{
		Peer:         opt.Peer,
		PieceIndex:   index,
		InfoHashHex:  opt.Descriptor.InfoHashHex(),
		PayloadName:  opt.Descriptor.Name,
		VersionTag:   opt.VersionTag,
		Organization: opt.Organization,
		SavePieces:   opt.SavePieces,
	}

	interval := opt.DrainTimeout
	if interval <= 0 {
		interval = time.Second
	}

	// READ_REQUESTED + ALERT_DRAINING
	data, completedAt, timedOut := drainForPiece(ctx, h, index, interval)
	rec.CompletedAt = completedAt

	if timedOut {
		rec.Kind = evidence.Blank
		log.Printf("peer %s timed out waiting for piece %d", opt.Peer, index)
		return rec, nil
	}

	// VERIFIED
	want := opt.Descriptor.HashForPiece(index)
	if !verify.VerifyAgainstTorrent(data, want) {
		rec.Kind = evidence.HashMismatch
		rec.PieceBytes = data
		log.Printf("peer %s piece %d failed hash verification", opt.Peer, index)
		return rec, nil
	}

	if opt.ReferencePath != "" {
		matched, err := verify.BinaryMatch(data, index, opt.Descriptor.PieceLength, opt.ReferencePath)
		if err != nil {
			log.Printf("binary match against %s unavailable: %v", opt.ReferencePath, err)
		} else if !matched {
			rec.Kind = evidence.BinaryMismatch
			rec.PieceBytes = data
			log.Printf("peer %s piece %d failed binary match", opt.Peer, index)
			return rec, nil
		}
	}

	rec.Kind = evidence.OK
	rec.PieceBytes = data
	log.Printf("peer %s piece %d verified", opt.Peer, index)
	return rec, nil
}

func choosePieceIndex(opt Options) int {
	if opt.PieceIndex != nil {
		return *opt.PieceIndex
	}
	r := opt.Rand
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return r.Intn(opt.Descriptor.NumPieces)
}

// drainForPiece polls for up to drainIterations intervals for the chosen
// piece to complete and be readable, mirroring ALERT_DRAINING. completedAt
// is sampled once, the instant the loop exits — on success or timeout —
// per spec.md §4.7's "not at emit time" requirement.
func drainForPiece(ctx context.Context, h *engine.Handle, index int, interval time.Duration) (data []byte, completedAt time.Time, timedOut bool) {
	for i := 0; i < drainIterations; i++ {
		iterCtx, cancel := context.WithTimeout(ctx, interval)
		alert, err := h.DrainPieceAlerts(iterCtx, index, 0)
		cancel()

		if err == nil {
			return alert.Data, time.Now(), false
		}
		if ctx.Err() != nil {
			return nil, time.Now(), true
		}
	}
	return nil, time.Now(), true
}
