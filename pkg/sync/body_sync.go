package sync

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/dennisvanderpool/mwc-node/pkg/chain"
	"github.com/dennisvanderpool/mwc-node/pkg/p2p"
	"go.uber.org/zap"
)

// blockSlot is one entry of BodySync's request_series window.
type blockSlot struct {
	Hash   chain.Hash
	Height chain.Height
}

// BodySyncConfig bounds the download window and per-peer/global caps.
type BodySyncConfig struct {
	// WindowSize is the maximum number of blocks request_series may
	// track ahead of the fork point, bounded by the in-memory cache
	// budget (spec.md §4.7, §9).
	WindowSize int
	// PerPeerCap is BLOCKS_REQUEST_PER_PEER.
	PerPeerCap int
	// GlobalCap is BLOCKS_REQUEST_LIMIT.
	GlobalCap      int
	RequestTimeout time.Duration
}

// DefaultBodySyncConfig derives the window size from
// chain.ApproxBlockSizeBytes, reproducing the historical 500-block/
// 750MB figure while sourcing the size bound from a named constant
// rather than a hardcoded comment (spec.md §9 Open Question).
func DefaultBodySyncConfig() BodySyncConfig {
	const cacheBudgetBytes = 750 * 1000 * 1000
	window := cacheBudgetBytes / chain.ApproxBlockSizeBytes
	return BodySyncConfig{
		WindowSize:     window,
		PerPeerCap:     10,
		GlobalCap:      100,
		RequestTimeout: 30 * time.Second,
	}
}

// BodySync downloads full blocks from the archive height (or genesis
// in archive mode) to header_head, unsticking orphans along the way
// (spec.md §4.7).
type BodySync struct {
	cfg BodySyncConfig
	log *zap.Logger

	tracker       *RequestTracker[chain.Hash]
	requestSeries []blockSlot
}

// NewBodySync builds a fresh BodySync.
func NewBodySync(cfg BodySyncConfig, log *zap.Logger) *BodySync {
	return &BodySync{
		cfg:     cfg,
		log:     log,
		tracker: NewRequestTracker[chain.Hash](),
	}
}

// InflightRequests reports the number of outstanding block requests
// this syncer has registered with its tracker.
func (b *BodySync) InflightRequests() int {
	return b.tracker.GetRequestsNum()
}

// Reset discards tracked requests and the download window.
func (b *BodySync) Reset() {
	b.tracker.Reset()
	b.requestSeries = nil
}

// refillWindow extends request_series up to cfg.WindowSize entries
// past the fork point, consulting Chain for each candidate height's
// header and hash. It stops at header_head since there's nothing
// further to request.
func (b *BodySync) refillWindow(c chain.Chain, forkPoint chain.Tip, headerHead chain.Height) {
	if len(b.requestSeries) >= b.cfg.WindowSize {
		return
	}
	nextHeight := forkPoint.Height + 1
	if len(b.requestSeries) > 0 {
		nextHeight = b.requestSeries[len(b.requestSeries)-1].Height + 1
	}
	for len(b.requestSeries) < b.cfg.WindowSize && nextHeight <= headerHead {
		hdr, err := c.GetHeaderByHeight(nextHeight)
		if err != nil || hdr == nil {
			break
		}
		b.requestSeries = append(b.requestSeries, blockSlot{Hash: hdr.Hash, Height: nextHeight})
		nextHeight++
	}
}

// windowNeedsRefill reports whether the window's tail has already been
// satisfied (present in Chain, or already held as an orphan),
// distinguishing the two refill triggers the original
// implementation keeps separate (spec.md §9 supplemented feature).
func (b *BodySync) windowNeedsRefill(c chain.Chain) bool {
	if len(b.requestSeries) == 0 {
		return true
	}
	tail := b.requestSeries[len(b.requestSeries)-1]
	if c.BlockExists(tail.Hash) {
		return true
	}
	if c.IsOrphan(tail.Hash) {
		return true
	}
	return false
}

// tryOrphanKickThrough attempts to advance the fork point by
// processing an already-received orphan sitting immediately above it,
// breaking deadlocks where sibling blocks arrived out of order
// (spec.md §4.7). It returns the (possibly advanced) fork point.
func (b *BodySync) tryOrphanKickThrough(c chain.Chain, forkPoint chain.Tip) chain.Tip {
	for {
		orphan, ok := c.GetOrphan(orphanHashAt(c, forkPoint.Height+1))
		if !ok || orphan.Block == nil {
			return forkPoint
		}
		if err := c.ProcessBlock(orphan.Block, chain.ProcessOptions{SyncMode: true}); err != nil {
			return forkPoint
		}
		next, err := c.ForkPoint()
		if err != nil || next.Height <= forkPoint.Height {
			return forkPoint
		}
		forkPoint = next
	}
}

// orphanHashAt resolves the header hash expected at height h, used
// only to look up a candidate orphan; absence simply yields the zero
// hash, which no orphan will match.
func orphanHashAt(c chain.Chain, h chain.Height) chain.Hash {
	hdr, err := c.GetHeaderByHeight(h)
	if err != nil || hdr == nil {
		return chain.Hash{}
	}
	return hdr.Hash
}

// Request drives one tick of the body sync stage.
func (b *BodySync) Request(now time.Time, peers []p2p.Peer, c chain.Chain, archiveHeight chain.Height, sp *SyncPeers) SyncRequestResponses {
	forkPoint, err := c.ForkPoint()
	if err != nil {
		if b.log != nil {
			b.log.Error("fork point lookup failed", zap.Error(err))
		}
		return Syncing
	}

	forkPoint = b.tryOrphanKickThrough(c, forkPoint)

	if !c.ArchiveMode() && forkPoint.Height < archiveHeight {
		return BadState
	}

	head := c.Head()
	headerHead := c.HeaderHead()
	if head.Height >= headerHead.Height {
		return BodyReady
	}

	required := p2p.CapBlockHist
	qualified := filterQualified(peers, required)
	if len(qualified) == 0 {
		qualified = filterQualified(peers, p2p.CapUnknown)
	}
	if len(qualified) == 0 {
		return WaitingForPeers
	}

	b.tracker.RetainExpired(b.cfg.RequestTimeout, now, sp)

	if b.windowNeedsRefill(c) {
		b.refillWindow(c, forkPoint, headerHead.Height)
	}
	b.pruneSatisfied(c)

	b.issueRequests(now, qualified, c)

	return Syncing
}

// pruneSatisfied drops request_series entries that are already present
// in Chain, keeping the window from growing stale.
func (b *BodySync) pruneSatisfied(c chain.Chain) {
	out := b.requestSeries[:0]
	for _, slot := range b.requestSeries {
		if c.BlockExists(slot.Hash) {
			continue
		}
		out = append(out, slot)
	}
	b.requestSeries = out
}

// issueRequests walks request_series from tail toward head --
// downloading distant blocks first smooths orphan assembly -- issuing
// one request per not-yet-requested, not-orphaned, not-present block,
// to a uniformly random qualified peer.
func (b *BodySync) issueRequests(now time.Time, peers []p2p.Peer, c chain.Chain) {
	excluded := 0
	for _, p := range peers {
		if b.tracker.QueueDepth(p.Info().Addr) >= b.cfg.PerPeerCap {
			excluded++
		}
	}
	need := b.tracker.CalculateNeededRequests(len(peers), excluded, b.cfg.PerPeerCap, b.cfg.GlobalCap)

	for i := len(b.requestSeries) - 1; i >= 0 && need > 0; i-- {
		slot := b.requestSeries[i]
		if b.tracker.HasRequest(slot.Hash) || c.IsOrphan(slot.Hash) || c.BlockExists(slot.Hash) {
			continue
		}
		peer := peers[rand.Intn(len(peers))]
		if err := peer.SendBlockRequest(slot.Hash, p2p.SendOptions{Sync: true}); err != nil {
			continue
		}
		b.tracker.RegisterRequest(slot.Hash, peer.Info().Addr, "block", now)
		need--
	}
}

// ReceiveBlockReporting ingests the outcome of one block request: it
// frees the tracked slot, credits or charges the reporting peer, and
// opportunistically refills the window once the refill countdown
// elapses (spec.md §4.7).
func (b *BodySync) ReceiveBlockReporting(accepted bool, hash chain.Hash, reporter p2p.PeerAddr, sp *SyncPeers, refillNow time.Time, peers []p2p.Peer, c chain.Chain) {
	owner, tracked := b.tracker.RemoveRequest(hash)
	if tracked {
		if accepted && owner == reporter {
			sp.ReportOkResponse(reporter)
		} else if !accepted {
			sp.ReportErrorResponse(reporter, fmt.Sprintf("Get bad block %s for peer %s", hash, reporter))
		}
	}
	b.tracker.NoteResponse()
	if b.tracker.GetUpdateRequestsToNextAsk() == 0 {
		b.tracker.ResetNextAsk(len(peers))
		qualified := filterQualified(peers, p2p.CapBlockHist)
		b.issueRequests(refillNow, qualified, c)
	}
}

func filterQualified(peers []p2p.Peer, required p2p.Capabilities) []p2p.Peer {
	var out []p2p.Peer
	for _, p := range peers {
		if p.Info().Capabilities.QualifiesFor(required) {
			out = append(out, p)
		}
	}
	return out
}
