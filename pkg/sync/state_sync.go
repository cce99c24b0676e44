package sync

import (
	"time"

	"github.com/dennisvanderpool/mwc-node/pkg/chain"
	"github.com/dennisvanderpool/mwc-node/pkg/p2p"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

// mmrKind names one of the four MMRs PIBD downloads in parallel.
type mmrKind string

const (
	mmrBitmap      mmrKind = "bitmap"
	mmrOutput      mmrKind = "output"
	mmrRangeProof  mmrKind = "rangeproof"
	mmrKernel      mmrKind = "kernel"
)

// stateSyncStage is StateSync's sub-state machine, one stage shared by
// all four MMR types
// (spec.md §4.6): WaitingForStatus -> Downloading ->
// ValidatingKernelHistory -> ValidatingHeaders -> ValidatingKernelPos
// -> ValidatingRangeProofs -> ValidatingKernels -> StatePibdReady.
type stateSyncStage int

const (
	stateWaitingForStatus stateSyncStage = iota
	stateDownloading
	stateValidatingKernelHistory
	stateValidatingHeaders
	stateValidatingKernelPos
	stateValidatingRangeProofs
	stateValidatingKernels
	stateStatePibdReady
)

// statusVote is one peer's declared PIBD status.
type statusVote struct {
	headerHash     chain.Hash
	headerHeight   chain.Height
	outputBMRoot   chain.Hash
}

// desegmenter accumulates validated segments for one MMR type until
// it is whole. Held in owned buffers so a reset can discard it
// wholesale (spec.md design note: "staged reset on root invalidation").
type desegmenter struct {
	total uint64
	done  uint64
}

func (d *desegmenter) whole() bool { return d.total > 0 && d.done >= d.total }

// StateSyncConfig bounds PIBD request policy.
type StateSyncConfig struct {
	StatusQuorum   int
	PerPeerCap     int
	GlobalCap      int
	RequestTimeout time.Duration
}

// DefaultStateSyncConfig returns sane defaults.
func DefaultStateSyncConfig() StateSyncConfig {
	return StateSyncConfig{
		StatusQuorum:   3,
		PerPeerCap:     4,
		GlobalCap:      64,
		RequestTimeout: 45 * time.Second,
	}
}

// ValidationFuncs lets the manager wire StateSync to the external
// Chain's multi-phase txhashset validation pipeline without StateSync
// importing chain internals directly.
type ValidationFuncs struct {
	ValidateKernelHistory func() error
	ValidateHeaders       func() (done, total uint64, err error)
	ValidateKernelPos     func() (done, total uint64, err error)
	ValidateRangeProofs   func() (done, total uint64, err error)
	ValidateKernels       func() (done, total uint64, err error)
}

// StateSync drives PIBD: downloads bitmap, output, range-proof, and
// kernel MMRs as segments under roots committed in the archive header,
// then runs the external Chain's multi-phase validation pipeline
// (spec.md §4.6).
type StateSync struct {
	cfg StateSyncConfig
	log *zap.Logger

	stage stateSyncStage

	votes         map[p2p.PeerAddr]statusVote
	committedRoot chain.Hash
	committed     bool

	trackers map[mmrKind]*RequestTracker[SegmentID]
	mmrs     map[mmrKind]*desegmenter

	validated *lru.Cache

	lastStatus Status
}

// NewStateSync builds a fresh StateSync.
func NewStateSync(cfg StateSyncConfig, log *zap.Logger) *StateSync {
	cache, _ := lru.New(512)
	s := &StateSync{
		cfg:       cfg,
		log:       log,
		stage:     stateWaitingForStatus,
		votes:     make(map[p2p.PeerAddr]statusVote),
		trackers:  make(map[mmrKind]*RequestTracker[SegmentID]),
		mmrs:      make(map[mmrKind]*desegmenter),
		validated: cache,
	}
	for _, k := range []mmrKind{mmrBitmap, mmrOutput, mmrRangeProof, mmrKernel} {
		s.trackers[k] = NewRequestTracker[SegmentID]()
		s.mmrs[k] = &desegmenter{}
	}
	return s
}

// ReceivePibdStatus registers a peer's declared state; a matching
// quorum commits output_bitmap_root.
func (s *StateSync) ReceivePibdStatus(peer p2p.PeerAddr, headerHash chain.Hash, headerHeight chain.Height, outputBitmapRoot chain.Hash) {
	if s.committed {
		return
	}
	s.votes[peer] = statusVote{headerHash: headerHash, headerHeight: headerHeight, outputBMRoot: outputBitmapRoot}

	counts := make(map[chain.Hash]int)
	for _, v := range s.votes {
		counts[v.outputBMRoot]++
	}
	for root, c := range counts {
		if c >= s.cfg.StatusQuorum {
			s.committedRoot = root
			s.committed = true
			s.stage = stateDownloading
			if s.log != nil {
				s.log.Info("committed PIBD output bitmap root", zap.String("root", root.String()))
			}
			return
		}
	}
}

// SetSegmentTotals tells StateSync how many segments exist per MMR
// type, learned from the committed archive header.
func (s *StateSync) SetSegmentTotals(totals map[string]uint64) {
	for k, total := range totals {
		if d, ok := s.mmrs[mmrKind(k)]; ok {
			d.total = total
		}
	}
}

func (s *StateSync) receiveSegment(kind mmrKind, peer p2p.PeerAddr, seg SegmentID, verify func() bool, sp *SyncPeers) {
	tr := s.trackers[kind]
	owner, tracked := tr.RemoveRequest(seg)
	if !tracked || owner != peer {
		return
	}
	if s.validated.Contains(seg) {
		sp.ReportOkResponse(peer)
		return
	}
	if !verify() {
		sp.ReportErrorResponse(peer, "invalid "+string(kind)+" segment "+seg.String())
		return
	}
	s.validated.Add(seg, struct{}{})
	sp.ReportOkResponse(peer)
	s.mmrs[kind].done++
}

// ReceiveBitmapSegment handles an inbound bitmap MMR segment.
func (s *StateSync) ReceiveBitmapSegment(peer p2p.PeerAddr, seg SegmentID, verify func() bool, sp *SyncPeers) {
	s.receiveSegment(mmrBitmap, peer, seg, verify, sp)
}

// ReceiveOutputSegment handles an inbound output MMR segment.
func (s *StateSync) ReceiveOutputSegment(peer p2p.PeerAddr, seg SegmentID, verify func() bool, sp *SyncPeers) {
	s.receiveSegment(mmrOutput, peer, seg, verify, sp)
}

// ReceiveRangeproofSegment handles an inbound range-proof MMR segment.
func (s *StateSync) ReceiveRangeproofSegment(peer p2p.PeerAddr, seg SegmentID, verify func() bool, sp *SyncPeers) {
	s.receiveSegment(mmrRangeProof, peer, seg, verify, sp)
}

// ReceiveKernelSegment handles an inbound kernel MMR segment.
func (s *StateSync) ReceiveKernelSegment(peer p2p.PeerAddr, seg SegmentID, verify func() bool, sp *SyncPeers) {
	s.receiveSegment(mmrKernel, peer, seg, verify, sp)
}

// allMMRsWhole reports whether every desegmenter has collected all of
// its segments.
func (s *StateSync) allMMRsWhole() bool {
	for _, d := range s.mmrs {
		if !d.whole() {
			return false
		}
	}
	return true
}

// ResetDesegmenterData wipes partial MMR progress and the committed
// root, used on any validation failure (spec.md §4.6).
func (s *StateSync) ResetDesegmenterData() {
	s.stage = stateWaitingForStatus
	s.votes = make(map[p2p.PeerAddr]statusVote)
	s.committed = false
	s.committedRoot = chain.Hash{}
	for _, k := range []mmrKind{mmrBitmap, mmrOutput, mmrRangeProof, mmrKernel} {
		s.trackers[k].Reset()
		s.mmrs[k] = &desegmenter{}
	}
	s.validated.Purge()
}

// Status returns the current progress as a Status value for upward
// reporting.
func (s *StateSync) Status() Status {
	switch s.stage {
	case stateDownloading:
		var done, total uint64
		for _, d := range s.mmrs {
			done += d.done
			total += d.total
		}
		return Status{Kind: StatusTxHashsetPibd, PibdReceived: done, PibdTotal: total}
	case stateValidatingKernelHistory:
		return Status{Kind: StatusValidatingKernelsHistory}
	case stateValidatingHeaders:
		return Status{Kind: StatusTxHashsetHeadersValidation, ValDone: s.lastStatus.ValDone, ValTotal: s.lastStatus.ValTotal}
	case stateValidatingKernelPos:
		return Status{Kind: StatusTxHashsetKernelsPosValidation, ValDone: s.lastStatus.ValDone, ValTotal: s.lastStatus.ValTotal}
	case stateValidatingRangeProofs:
		return Status{Kind: StatusTxHashsetRangeProofsValidation, ValDone: s.lastStatus.ValDone, ValTotal: s.lastStatus.ValTotal}
	case stateValidatingKernels:
		return Status{Kind: StatusTxHashsetKernelsValidation, ValDone: s.lastStatus.ValDone, ValTotal: s.lastStatus.ValTotal}
	default:
		return Status{Kind: StatusAwaitingPeers}
	}
}

// InflightRequests reports the number of outstanding segment requests
// across all four MMR trackers.
func (s *StateSync) InflightRequests() int {
	total := 0
	for _, tr := range s.trackers {
		total += tr.GetRequestsNum()
	}
	return total
}

// Request drives one tick of the state (PIBD) sync stage.
func (s *StateSync) Request(now time.Time, peers []p2p.Peer, sp *SyncPeers, vf ValidationFuncs) SyncRequestResponses {
	switch s.stage {
	case stateWaitingForStatus:
		if len(peers) == 0 {
			return WaitingForPeers
		}
		return Syncing
	case stateDownloading:
		if len(peers) == 0 {
			return WaitingForPeers
		}
		for kind, tr := range s.trackers {
			tr.RetainExpired(s.cfg.RequestTimeout, now, sp)
			s.issueSegmentRequests(kind, tr, now, peers)
		}
		if s.allMMRsWhole() {
			s.stage = stateValidatingKernelHistory
		}
		return Syncing
	case stateValidatingKernelHistory:
		if vf.ValidateKernelHistory == nil {
			s.stage = stateValidatingHeaders
			return Syncing
		}
		if err := vf.ValidateKernelHistory(); err != nil {
			s.ResetDesegmenterData()
			return BadState
		}
		s.stage = stateValidatingHeaders
		return Syncing
	case stateValidatingHeaders:
		return s.runValidation(vf.ValidateHeaders, stateValidatingKernelPos)
	case stateValidatingKernelPos:
		return s.runValidation(vf.ValidateKernelPos, stateValidatingRangeProofs)
	case stateValidatingRangeProofs:
		return s.runValidation(vf.ValidateRangeProofs, stateValidatingKernels)
	case stateValidatingKernels:
		return s.runValidation(vf.ValidateKernels, stateStatePibdReady)
	case stateStatePibdReady:
		return StatePibdReady
	default:
		return WaitingForPeers
	}
}

func (s *StateSync) runValidation(fn func() (uint64, uint64, error), next stateSyncStage) SyncRequestResponses {
	if fn == nil {
		s.stage = next
		if next == stateStatePibdReady {
			return StatePibdReady
		}
		return Syncing
	}
	done, total, err := fn()
	s.lastStatus.ValDone, s.lastStatus.ValTotal = done, total
	if err != nil {
		s.ResetDesegmenterData()
		return BadState
	}
	if done < total {
		return Syncing
	}
	s.stage = next
	if next == stateStatePibdReady {
		return StatePibdReady
	}
	return Syncing
}

func (s *StateSync) issueSegmentRequests(kind mmrKind, tr *RequestTracker[SegmentID], now time.Time, peers []p2p.Peer) {
	d := s.mmrs[kind]
	if d.total == 0 {
		return
	}
	excluded := 0
	for _, p := range peers {
		if tr.QueueDepth(p.Info().Addr) >= s.cfg.PerPeerCap {
			excluded++
		}
	}
	need := tr.CalculateNeededRequests(len(peers), excluded, s.cfg.PerPeerCap, s.cfg.GlobalCap)
	for id := uint64(0); need > 0 && id < d.total; id++ {
		segID := SegmentID{MMRType: string(kind), Ident: id}
		if tr.HasRequest(segID) || s.validated.Contains(segID) {
			continue
		}
		peer := pickQualifiedPeer(peers, p2p.CapPIBDHist, tr)
		if peer == nil {
			break
		}
		if err := peer.SendSegmentRequest(p2p.SegmentRequest{MMRType: string(kind), Ident: id}); err != nil {
			continue
		}
		tr.RegisterRequest(segID, peer.Info().Addr, string(kind)+" segment", now)
		need--
	}
}
