package sync

import (
	"time"

	"github.com/dennisvanderpool/mwc-node/pkg/p2p"
)

// requestRecord is the tracker's per-key bookkeeping (spec.md §3).
type requestRecord struct {
	peer     p2p.PeerAddr
	label    string
	issuedAt time.Time
}

// RequestTracker holds inflight per-peer requests with timeouts, queue
// depth accounting, and expiration sweep. It is a pure data structure:
// no goroutines, no channels, consulted by its owning syncer on each
// tick (spec.md §4.1).
type RequestTracker[K comparable] struct {
	requests map[K]requestRecord
	depth    map[p2p.PeerAddr]int

	// nextAskCountdown implements get_update_requests_to_next_ask: it
	// decrements on each response and resets when a refill runs.
	nextAskCountdown int
}

// NewRequestTracker builds an empty tracker.
func NewRequestTracker[K comparable]() *RequestTracker[K] {
	return &RequestTracker[K]{
		requests: make(map[K]requestRecord),
		depth:    make(map[p2p.PeerAddr]int),
	}
}

// RegisterRequest inserts a new record and increments the peer's queue
// depth. It is a no-op (fails silently) if key is already tracked; the
// caller must not double-issue a key.
func (t *RequestTracker[K]) RegisterRequest(key K, peer p2p.PeerAddr, label string, now time.Time) {
	if _, ok := t.requests[key]; ok {
		return
	}
	t.requests[key] = requestRecord{peer: peer, label: label, issuedAt: now}
	t.depth[peer]++
}

// RemoveRequest removes key and returns the peer that owed the
// response, decrementing its queue depth. It returns false if key was
// not tracked.
func (t *RequestTracker[K]) RemoveRequest(key K) (p2p.PeerAddr, bool) {
	rec, ok := t.requests[key]
	if !ok {
		var zero p2p.PeerAddr
		return zero, false
	}
	delete(t.requests, key)
	t.decrementDepth(rec.peer)
	return rec.peer, true
}

func (t *RequestTracker[K]) decrementDepth(peer p2p.PeerAddr) {
	if d, ok := t.depth[peer]; ok {
		if d <= 1 {
			delete(t.depth, peer)
		} else {
			t.depth[peer] = d - 1
		}
	}
}

// HasRequest reports whether key is currently tracked.
func (t *RequestTracker[K]) HasRequest(key K) bool {
	_, ok := t.requests[key]
	return ok
}

// GetRequestsNum returns the number of currently tracked requests.
func (t *RequestTracker[K]) GetRequestsNum() int {
	return len(t.requests)
}

// GetPeersQueueSize returns a snapshot of per-peer queue depth.
func (t *RequestTracker[K]) GetPeersQueueSize() map[p2p.PeerAddr]int {
	out := make(map[p2p.PeerAddr]int, len(t.depth))
	for k, v := range t.depth {
		out[k] = v
	}
	return out
}

// QueueDepth returns the current queue depth for a single peer.
func (t *RequestTracker[K]) QueueDepth(peer p2p.PeerAddr) int {
	return t.depth[peer]
}

// RetainExpired scans for records older than timeout, removes them,
// and charges an error response to each owing peer via sp.
func (t *RequestTracker[K]) RetainExpired(timeout time.Duration, now time.Time, sp *SyncPeers) int {
	var expired []K
	for k, rec := range t.requests {
		if now.Sub(rec.issuedAt) >= timeout {
			expired = append(expired, k)
		}
	}
	for _, k := range expired {
		rec := t.requests[k]
		delete(t.requests, k)
		t.decrementDepth(rec.peer)
		if sp != nil {
			sp.ReportErrorResponse(rec.peer, "request expired: "+rec.label)
		}
	}
	return len(expired)
}

// CalculateNeededRequests returns how many new requests may be issued
// this tick: min(globalCap - currentInflight, peerCount*perPeerCap -
// excluded), clamped non-negative. excluded counts peers temporarily
// over their per-peer quota.
func (t *RequestTracker[K]) CalculateNeededRequests(peerCount, excluded, perPeerCap, globalCap int) int {
	byGlobal := globalCap - t.GetRequestsNum()
	byPeers := peerCount*perPeerCap - excluded
	need := byGlobal
	if byPeers < need {
		need = byPeers
	}
	if need < 0 {
		need = 0
	}
	return need
}

// GetUpdateRequestsToNextAsk returns the current countdown used to
// decide when a response-driven opportunistic refill fires.
func (t *RequestTracker[K]) GetUpdateRequestsToNextAsk() int {
	return t.nextAskCountdown
}

// NoteResponse decrements the refill countdown; callers invoke this
// once per ingested response.
func (t *RequestTracker[K]) NoteResponse() {
	if t.nextAskCountdown > 0 {
		t.nextAskCountdown--
	}
}

// ResetNextAsk resets the refill countdown after a refill pass runs.
func (t *RequestTracker[K]) ResetNextAsk(n int) {
	t.nextAskCountdown = n
}

// Reset discards all tracked requests and depth counters, used when a
// stage rolls back wholesale.
func (t *RequestTracker[K]) Reset() {
	t.requests = make(map[K]requestRecord)
	t.depth = make(map[p2p.PeerAddr]int)
	t.nextAskCountdown = 0
}
