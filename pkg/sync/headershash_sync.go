package sync

import (
	"math/rand"
	"time"

	"github.com/dennisvanderpool/mwc-node/pkg/chain"
	"github.com/dennisvanderpool/mwc-node/pkg/p2p"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

// hashSyncStage is the internal state machine of HeadersHashSync:
// AwaitingRootVotes -> RootCommitted -> SegmentsDownloading ->
// HeadersHashReady.
type hashSyncStage int

const (
	stageAwaitingRootVotes hashSyncStage = iota
	stageRootCommitted
	stageSegmentsDownloading
	stageHeadersHashReady
)

// archiveVote is one peer's advertised archive header hash root.
type archiveVote struct {
	height chain.Height
	root   chain.Hash
}

// HeadersHashSyncConfig bounds the quorum and request policy.
type HeadersHashSyncConfig struct {
	// HashRootQuorum is the number of matching votes required to
	// commit a root. Default 3 per spec.md §9's Open Question
	// resolution.
	HashRootQuorum int
	PerPeerCap     int
	GlobalCap      int
	RequestTimeout time.Duration
}

// DefaultHeadersHashSyncConfig returns sane defaults.
func DefaultHeadersHashSyncConfig() HeadersHashSyncConfig {
	return HeadersHashSyncConfig{
		HashRootQuorum: 3,
		PerPeerCap:     4,
		GlobalCap:      32,
		RequestTimeout: 30 * time.Second,
	}
}

// HeadersHashSync obtains and commits to a single headers_hash_root by
// majority vote of peers' advertised archive header hash, then
// downloads the header-hash MMR in segments so HeaderSync can verify
// individual header batches against it (spec.md §4.4).
type HeadersHashSync struct {
	cfg HeadersHashSyncConfig
	log *zap.Logger

	stage hashSyncStage

	votes           map[p2p.PeerAddr]archiveVote
	alternateVotes  map[p2p.PeerAddr][]archiveVote
	committedRoot   chain.Hash
	committedHeight chain.Height

	// speculativeBans records peers banned on a root we committed to,
	// so the ban can be undone if that root is later contradicted.
	speculativeBans map[p2p.PeerAddr]bool

	tracker       *RequestTracker[SegmentID]
	segmentsTotal uint64
	segmentsDone  uint64

	validatedSegments *lru.Cache
}

// NewHeadersHashSync builds a fresh HeadersHashSync.
func NewHeadersHashSync(cfg HeadersHashSyncConfig, log *zap.Logger) *HeadersHashSync {
	cache, _ := lru.New(256)
	return &HeadersHashSync{
		cfg:               cfg,
		log:               log,
		stage:             stageAwaitingRootVotes,
		votes:             make(map[p2p.PeerAddr]archiveVote),
		alternateVotes:    make(map[p2p.PeerAddr][]archiveVote),
		speculativeBans:   make(map[p2p.PeerAddr]bool),
		tracker:           NewRequestTracker[SegmentID](),
		validatedSegments: cache,
	}
}

// ReceiveArchiveVote records a peer's declared (archive_height, root).
func (h *HeadersHashSync) ReceiveArchiveVote(peer p2p.PeerAddr, height chain.Height, root chain.Hash) {
	if h.stage != stageAwaitingRootVotes {
		h.ReceiveAnotherArchiveHeader(peer, height, root)
		return
	}
	h.votes[peer] = archiveVote{height: height, root: root}
}

// ReceiveAnotherArchiveHeader records an alternate-height proposal
// received after root commitment, allowing later failover if the
// committed root produces inconsistent segments.
func (h *HeadersHashSync) ReceiveAnotherArchiveHeader(peer p2p.PeerAddr, height chain.Height, root chain.Hash) {
	h.alternateVotes[peer] = append(h.alternateVotes[peer], archiveVote{height: height, root: root})
}

// tryCommitRoot looks for a root with at least cfg.HashRootQuorum
// matching votes and, if found, commits it. Each dissenting peer is
// charged one error response through sp and recorded in
// speculativeBans; no ban is applied here, a peer is marked for ban
// only once its error count reaches the SyncPeers threshold.
func (h *HeadersHashSync) tryCommitRoot(sp *SyncPeers) bool {
	counts := make(map[chain.Hash]int)
	heights := make(map[chain.Hash]chain.Height)
	for _, v := range h.votes {
		counts[v.root]++
		heights[v.root] = v.height
	}
	var bestRoot chain.Hash
	bestCount := 0
	for root, c := range counts {
		if c > bestCount {
			bestCount = c
			bestRoot = root
		}
	}
	if bestCount < h.cfg.HashRootQuorum {
		return false
	}
	h.committedRoot = bestRoot
	h.committedHeight = heights[bestRoot]
	h.stage = stageRootCommitted
	if h.log != nil {
		h.log.Info("committed headers hash root",
			zap.String("root", bestRoot.String()), zap.Uint64("height", uint64(h.committedHeight)), zap.Int("votes", bestCount))
	}
	if sp != nil {
		for peer, v := range h.votes {
			if v.root != bestRoot {
				sp.ReportErrorResponse(peer, "voted for non-committed headers hash root")
				h.speculativeBans[peer] = true
			}
		}
	}
	return true
}

// ResetBanCommittedToHash calls SyncPeers.ResetBan for every peer
// recorded in speculativeBans and clears that record, for use when the
// committed root is later contradicted by downstream validation.
func (h *HeadersHashSync) ResetBanCommittedToHash(sp *SyncPeers) {
	for peer := range h.speculativeBans {
		sp.ResetBan(peer)
	}
	h.speculativeBans = make(map[p2p.PeerAddr]bool)
}

// ResetHashData discards the committed root and segment progress,
// restarting the vote from scratch.
func (h *HeadersHashSync) ResetHashData() {
	h.stage = stageAwaitingRootVotes
	h.votes = make(map[p2p.PeerAddr]archiveVote)
	h.alternateVotes = make(map[p2p.PeerAddr][]archiveVote)
	h.committedRoot = chain.Hash{}
	h.committedHeight = 0
	h.tracker.Reset()
	h.segmentsDone = 0
	h.segmentsTotal = 0
	h.validatedSegments.Purge()
}

// CommittedRoot returns the committed headers_hash_root, or the zero
// hash if no root is committed yet.
func (h *HeadersHashSync) CommittedRoot() (chain.Hash, bool) {
	if h.stage == stageAwaitingRootVotes {
		return chain.Hash{}, false
	}
	return h.committedRoot, true
}

// ReceiveSegment validates a header-hash segment against the committed
// root and, on success, advances progress. On mismatch the sender is
// charged and the slot is freed for reassignment.
func (h *HeadersHashSync) ReceiveSegment(peer p2p.PeerAddr, seg Segment[chain.Hash], verifyRoot func(Segment[chain.Hash], chain.Hash) bool, sp *SyncPeers) {
	owner, tracked := h.tracker.RemoveRequest(seg.ID)
	if !tracked || owner != peer {
		return
	}
	if h.validatedSegments.Contains(seg.ID) {
		sp.ReportOkResponse(peer)
		return
	}
	if !verifyRoot(seg, h.committedRoot) {
		sp.ReportErrorResponse(peer, "invalid header-hash segment "+seg.ID.String())
		return
	}
	h.validatedSegments.Add(seg.ID, struct{}{})
	sp.ReportOkResponse(peer)
	h.segmentsDone++
	if h.segmentsTotal > 0 && h.segmentsDone >= h.segmentsTotal {
		h.stage = stageHeadersHashReady
	}
}

// SetSegmentsTotal is called once the committed archive header tells
// us how many header-hash segments exist. It only has effect the first
// time it runs after a root commits (stage == stageRootCommitted);
// later calls with the same value are harmless no-ops rather than
// rewinding progress already made.
func (h *HeadersHashSync) SetSegmentsTotal(n uint64) {
	if h.stage != stageRootCommitted {
		return
	}
	h.segmentsTotal = n
	if n == 0 {
		h.stage = stageHeadersHashReady
	} else {
		h.stage = stageSegmentsDownloading
	}
}

// CommittedHeight returns the archive height of the committed root, or
// zero if nothing has committed yet.
func (h *HeadersHashSync) CommittedHeight() chain.Height {
	return h.committedHeight
}

// InflightRequests reports the number of outstanding segment requests
// this syncer has registered with its tracker.
func (h *HeadersHashSync) InflightRequests() int {
	return h.tracker.GetRequestsNum()
}

// HeaderHashLeavesPerSegment bounds how many header-hash MMR leaves one
// segment carries, used to translate a committed archive height into a
// segment count.
const HeaderHashLeavesPerSegment = 1024

// Progress reports (completed, total) header-hash segments for status
// reporting.
func (h *HeadersHashSync) Progress() (uint64, uint64) {
	return h.segmentsDone, h.segmentsTotal
}

// Request drives one tick of the header-hash sync stage.
func (h *HeadersHashSync) Request(now time.Time, peers []p2p.Peer, sp *SyncPeers) SyncRequestResponses {
	switch h.stage {
	case stageAwaitingRootVotes:
		if len(peers) == 0 {
			return WaitingForPeers
		}
		if !h.tryCommitRoot(sp) {
			return WaitingForHeadersHash
		}
		return HeadersHashReady
	case stageRootCommitted, stageSegmentsDownloading:
		if len(peers) == 0 {
			return WaitingForPeers
		}
		h.tracker.RetainExpired(h.cfg.RequestTimeout, now, sp)
		h.issueSegmentRequests(now, peers)
		if h.stage == stageHeadersHashReady {
			return HeadersHashReady
		}
		return Syncing
	case stageHeadersHashReady:
		return HeadersHashReady
	default:
		return WaitingForHeadersHash
	}
}

func (h *HeadersHashSync) issueSegmentRequests(now time.Time, peers []p2p.Peer) {
	excluded := 0
	for _, p := range peers {
		if h.tracker.QueueDepth(p.Info().Addr) >= h.cfg.PerPeerCap {
			excluded++
		}
	}
	need := h.tracker.CalculateNeededRequests(len(peers), excluded, h.cfg.PerPeerCap, h.cfg.GlobalCap)
	for id := uint64(0); need > 0 && id < h.segmentsTotal; id++ {
		segID := SegmentID{MMRType: "header_hash", Ident: id}
		if h.tracker.HasRequest(segID) || h.validatedSegments.Contains(segID) {
			continue
		}
		peer := pickQualifiedPeer(peers, p2p.CapHeaderHist, h.tracker)
		if peer == nil {
			break
		}
		if err := peer.SendSegmentRequest(p2p.SegmentRequest{MMRType: "header_hash", Ident: id}); err != nil {
			continue
		}
		h.tracker.RegisterRequest(segID, peer.Info().Addr, "header_hash segment", now)
		need--
	}
}

// pickQualifiedPeer chooses a random peer whose capabilities qualify
// for required and whose queue depth is below its per-peer cap,
// favoring lower-queue-depth peers as spec.md §9 prescribes
// ("tie-break among qualified peers by (queue_depth ascending,
// random)").
func pickQualifiedPeer[K comparable](peers []p2p.Peer, required p2p.Capabilities, tracker *RequestTracker[K]) p2p.Peer {
	var best []p2p.Peer
	bestDepth := -1
	for _, p := range peers {
		info := p.Info()
		if !info.Capabilities.QualifiesFor(required) {
			continue
		}
		d := tracker.QueueDepth(info.Addr)
		if bestDepth == -1 || d < bestDepth {
			bestDepth = d
			best = []p2p.Peer{p}
		} else if d == bestDepth {
			best = append(best, p)
		}
	}
	if len(best) == 0 {
		return nil
	}
	return best[rand.Intn(len(best))]
}
