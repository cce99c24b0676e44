package sync

import (
	"sync"

	"github.com/dennisvanderpool/mwc-node/pkg/metrics"
	"github.com/dennisvanderpool/mwc-node/pkg/p2p"
	"go.uber.org/zap"
)

// maxStoredErrors caps accumulated per-peer error strings so a
// misbehaving peer can't grow SyncPeers without bound.
const maxStoredErrors = 8

// defaultBanThreshold is the error count at which a peer is marked for
// ban.
const defaultBanThreshold = 10

type peerCounters struct {
	ok, err int
	errMsgs []string
	banned  bool
}

// SyncPeers tracks ok/err counters per peer for one sync stage and
// marks peers for ban once their error count crosses a threshold
// (spec.md §4.2). It is owned by exactly one syncer and never shared.
type SyncPeers struct {
	mu           sync.Mutex
	counters     map[p2p.PeerAddr]*peerCounters
	banThreshold int
	log          *zap.Logger
}

// NewSyncPeers builds a ledger with the default ban threshold.
func NewSyncPeers(log *zap.Logger) *SyncPeers {
	return &SyncPeers{
		counters:     make(map[p2p.PeerAddr]*peerCounters),
		banThreshold: defaultBanThreshold,
		log:          log,
	}
}

func (s *SyncPeers) counterFor(peer p2p.PeerAddr) *peerCounters {
	c, ok := s.counters[peer]
	if !ok {
		c = &peerCounters{}
		s.counters[peer] = c
	}
	return c
}

// ReportOkResponse increments peer's ok counter.
func (s *SyncPeers) ReportOkResponse(peer p2p.PeerAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counterFor(peer).ok++
}

// ReportErrorResponse increments peer's err counter, appends msg
// (capped), and marks the peer for ban once the threshold is crossed.
func (s *SyncPeers) ReportErrorResponse(peer p2p.PeerAddr, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counterFor(peer)
	c.err++
	if len(c.errMsgs) >= maxStoredErrors {
		c.errMsgs = c.errMsgs[1:]
	}
	c.errMsgs = append(c.errMsgs, msg)
	if c.err >= s.banThreshold && !c.banned {
		c.banned = true
		if s.log != nil {
			s.log.Warn("peer crossed error threshold, marked for ban",
				zap.String("peer", peer.String()), zap.Int("errors", c.err))
		}
	}
}

// Counts returns a peer's (ok, err) counters.
func (s *SyncPeers) Counts(peer p2p.PeerAddr) (ok, err int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, found := s.counters[peer]
	if !found {
		return 0, 0
	}
	return c.ok, c.err
}

// pendingBans returns the addresses marked for ban and clears the
// pending marker so ApplyPeersStatus doesn't double-ban.
func (s *SyncPeers) pendingBans() []p2p.PeerAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []p2p.PeerAddr
	for addr, c := range s.counters {
		if c.banned {
			out = append(out, addr)
			c.banned = false
		}
	}
	return out
}

// ApplyPeersStatus pushes any pending bans through to the transport
// layer.
func (s *SyncPeers) ApplyPeersStatus(peers p2p.Peers) {
	for _, addr := range s.pendingBans() {
		peers.BanPeer(addr, "exceeded sync error threshold")
		metrics.IncPeersBanned()
	}
}

// ResetBan clears the banned marker for a single peer without
// clearing its counters, used when a speculative ban (e.g. from a
// header-hash root vote later contradicted) must be undone.
func (s *SyncPeers) ResetBan(peer p2p.PeerAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.counters[peer]; ok {
		c.banned = false
	}
}

// Reset clears all counters, used when a stage rolls back (e.g.
// WaitingForPeers from header sync).
func (s *SyncPeers) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = make(map[p2p.PeerAddr]*peerCounters)
}
