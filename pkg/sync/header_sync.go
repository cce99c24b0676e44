package sync

import (
	"time"

	"github.com/dennisvanderpool/mwc-node/pkg/chain"
	"github.com/dennisvanderpool/mwc-node/pkg/difficulty"
	"github.com/dennisvanderpool/mwc-node/pkg/p2p"
	"github.com/dennisvanderpool/mwc-node/pkg/pow"
	"go.uber.org/zap"
)

// HeaderBatchKey identifies an in-flight header batch request by its
// starting height.
type HeaderBatchKey chain.Height

// HeaderSyncConfig bounds batch size and request policy.
type HeaderSyncConfig struct {
	BatchSize      int
	PerPeerCap     int
	GlobalCap      int
	RequestTimeout time.Duration
	// ConsecutiveFailureLimit is the number of consecutive rejected
	// batches, from any peers, after which HeaderSync suspects the
	// committed root is bad and asks the manager to revote.
	ConsecutiveFailureLimit int
}

// DefaultHeaderSyncConfig returns sane defaults.
func DefaultHeaderSyncConfig() HeaderSyncConfig {
	return HeaderSyncConfig{
		BatchSize:               512,
		PerPeerCap:              4,
		GlobalCap:               16,
		RequestTimeout:          30 * time.Second,
		ConsecutiveFailureLimit: 3,
	}
}

// HeaderSync appends headers from local tip to archive_height,
// verifying PoW, difficulty, and the rolling hash chain against the
// committed headers_hash_root (spec.md §4.5).
type HeaderSync struct {
	cfg HeaderSyncConfig
	log *zap.Logger
	pow pow.Verifier
	dif *difficulty.Engine

	tracker          *RequestTracker[HeaderBatchKey]
	archiveHeight    chain.Height
	consecutiveFails int
	pibdActive       bool
}

// NewHeaderSync builds a fresh HeaderSync.
func NewHeaderSync(cfg HeaderSyncConfig, verifier pow.Verifier, dif *difficulty.Engine, log *zap.Logger) *HeaderSync {
	return &HeaderSync{
		cfg:     cfg,
		log:     log,
		pow:     verifier,
		dif:     dif,
		tracker: NewRequestTracker[HeaderBatchKey](),
	}
}

// SetArchiveHeight tells HeaderSync the height it must reach before
// reporting ready.
func (h *HeaderSync) SetArchiveHeight(height chain.Height) {
	h.archiveHeight = height
}

// SetPibdActive toggles whether the PIBD path is in play; it changes
// which terminal ready variant Request returns.
func (h *HeaderSync) SetPibdActive(active bool) {
	h.pibdActive = active
}

// InflightRequests reports the number of outstanding header-batch
// requests this syncer has registered with its tracker.
func (h *HeaderSync) InflightRequests() int {
	return h.tracker.GetRequestsNum()
}

// Reset discards tracked requests and failure counters, e.g. after a
// root revote.
func (h *HeaderSync) Reset() {
	h.tracker.Reset()
	h.consecutiveFails = 0
}

// HeaderWindowFunc returns the trailing difficulty window for the
// retarget check at the given height.
type HeaderWindowFunc func(upto chain.Height) []difficulty.HeaderDifficultyInfo

// ReceiveHeaders validates a contiguous, strictly ascending batch of
// headers against PoW, the rolling hash chain (via verifyChain), and
// the difficulty engine, then persists via chain. Any validation
// failure charges the sending peer and frees the slot for
// reassignment; a failure inside the chain's own processing does not
// charge the peer.
func (h *HeaderSync) ReceiveHeaders(
	peer p2p.PeerAddr,
	fromHeight chain.Height,
	headers []*chain.Block,
	committedRoot chain.Hash,
	verifyChain func([]*chain.Block, chain.Hash) bool,
	windowFor HeaderWindowFunc,
	c chain.Chain,
	sp *SyncPeers,
) error {
	key := HeaderBatchKey(fromHeight)
	owner, tracked := h.tracker.RemoveRequest(key)
	if !tracked || owner != peer {
		return nil
	}
	h.tracker.NoteResponse()

	if !isContiguousAscending(fromHeight, headers) {
		sp.ReportErrorResponse(peer, "non-contiguous header batch")
		h.consecutiveFails++
		return ErrNonContiguousBatch
	}
	for _, hdr := range headers {
		if err := h.pow.Verify(headerBytesFor(hdr), pow.Proof{}, hdr.Difficulty); err != nil {
			sp.ReportErrorResponse(peer, "invalid PoW: "+err.Error())
			h.consecutiveFails++
			return ErrPoWInvalid
		}
	}
	if !verifyChain(headers, committedRoot) {
		sp.ReportErrorResponse(peer, "header batch fails committed root check")
		h.consecutiveFails++
		return ErrRootMismatch
	}
	if windowFor != nil && h.dif != nil {
		for _, hdr := range headers {
			window := windowFor(hdr.Height)
			want := h.dif.NextDifficulty(window)
			if want.Difficulty.ToNum() != hdr.Difficulty {
				sp.ReportErrorResponse(peer, "difficulty mismatch")
				h.consecutiveFails++
				return ErrDifficultyMismatch
			}
		}
	}
	for _, hdr := range headers {
		if err := c.ProcessBlock(hdr, chain.ProcessOptions{SyncMode: true}); err != nil {
			if h.log != nil {
				h.log.Error("chain rejected header", zap.Error(err))
			}
			return err
		}
	}
	sp.ReportOkResponse(peer)
	h.consecutiveFails = 0
	return nil
}

func isContiguousAscending(fromHeight chain.Height, headers []*chain.Block) bool {
	expect := fromHeight
	for _, hdr := range headers {
		if hdr.Height != expect {
			return false
		}
		expect++
	}
	return true
}

// headerBytesFor is a placeholder serialization hook; a real
// implementation would canonically encode the header for PoW hashing.
func headerBytesFor(b *chain.Block) []byte {
	return b.Hash[:]
}

// Request drives one tick of the header sync stage.
func (h *HeaderSync) Request(now time.Time, peers []p2p.Peer, c chain.Chain, sp *SyncPeers) SyncRequestResponses {
	if h.consecutiveFails >= h.cfg.ConsecutiveFailureLimit {
		h.consecutiveFails = 0
		return WaitingForPeers
	}

	headHeight := c.HeaderHead().Height
	if headHeight >= h.archiveHeight {
		if h.pibdActive {
			return HeadersPibdReady
		}
		return HeadersReady
	}
	if len(peers) == 0 {
		return WaitingForPeers
	}

	h.tracker.RetainExpired(h.cfg.RequestTimeout, now, sp)

	excluded := 0
	for _, p := range peers {
		if h.tracker.QueueDepth(p.Info().Addr) >= h.cfg.PerPeerCap {
			excluded++
		}
	}
	need := h.tracker.CalculateNeededRequests(len(peers), excluded, h.cfg.PerPeerCap, h.cfg.GlobalCap)

	for from := headHeight; need > 0 && from < h.archiveHeight; from += chain.Height(h.cfg.BatchSize) {
		key := HeaderBatchKey(from)
		if h.tracker.HasRequest(key) {
			continue
		}
		peer := pickQualifiedPeer(peers, p2p.CapHeaderHist, h.tracker)
		if peer == nil {
			break
		}
		count := h.cfg.BatchSize
		if remaining := int(h.archiveHeight - from); remaining < count {
			count = remaining
		}
		if err := peer.SendHeaderRequest(p2p.HeaderRequest{FromHeight: from, Count: count}); err != nil {
			sp.ReportErrorResponse(peer.Info().Addr, "send header request failed: "+err.Error())
			continue
		}
		h.tracker.RegisterRequest(key, peer.Info().Addr, "header batch", now)
		need--
	}
	return Syncing
}
