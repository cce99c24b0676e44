package sync

import (
	"testing"
	"time"

	"github.com/dennisvanderpool/mwc-node/pkg/p2p"
	"github.com/stretchr/testify/require"
)

func TestRequestTrackerRegisterAndRemoveRoundTrip(t *testing.T) {
	tr := NewRequestTracker[string]()
	peer := p2p.PeerAddr{Host: "10.0.0.1", Port: 3414}
	now := time.Now()

	tr.RegisterRequest("key-a", peer, "header batch", now)
	require.True(t, tr.HasRequest("key-a"))
	require.Equal(t, 1, tr.GetRequestsNum())
	require.Equal(t, 1, tr.QueueDepth(peer))

	owner, ok := tr.RemoveRequest("key-a")
	require.True(t, ok)
	require.Equal(t, peer, owner)
	require.False(t, tr.HasRequest("key-a"))
	require.Equal(t, 0, tr.GetRequestsNum())
	require.Equal(t, 0, tr.QueueDepth(peer))
}

func TestRequestTrackerRemoveUnknownKeyFails(t *testing.T) {
	tr := NewRequestTracker[string]()
	_, ok := tr.RemoveRequest("missing")
	require.False(t, ok)
}

func TestRequestTrackerRegisterIsIdempotentForSameKey(t *testing.T) {
	tr := NewRequestTracker[string]()
	peerA := p2p.PeerAddr{Host: "a", Port: 1}
	peerB := p2p.PeerAddr{Host: "b", Port: 2}
	now := time.Now()

	tr.RegisterRequest("k", peerA, "label", now)
	tr.RegisterRequest("k", peerB, "label", now)

	owner, ok := tr.RemoveRequest("k")
	require.True(t, ok)
	require.Equal(t, peerA, owner, "a second register for the same key must not steal ownership")
}

func TestRequestTrackerQueueDepthTracksMultipleKeys(t *testing.T) {
	tr := NewRequestTracker[int]()
	peer := p2p.PeerAddr{Host: "p", Port: 1}
	now := time.Now()

	tr.RegisterRequest(1, peer, "l", now)
	tr.RegisterRequest(2, peer, "l", now)
	tr.RegisterRequest(3, peer, "l", now)
	require.Equal(t, 3, tr.QueueDepth(peer))

	tr.RemoveRequest(2)
	require.Equal(t, 2, tr.QueueDepth(peer))

	sizes := tr.GetPeersQueueSize()
	require.Equal(t, 2, sizes[peer])
}

func TestRequestTrackerRetainExpiredChargesOwner(t *testing.T) {
	tr := NewRequestTracker[string]()
	peer := p2p.PeerAddr{Host: "slow", Port: 1}
	issued := time.Now().Add(-time.Minute)
	tr.RegisterRequest("k", peer, "block", issued)

	sp := NewSyncPeers(nil)
	expired := tr.RetainExpired(30*time.Second, time.Now(), sp)
	require.Equal(t, 1, expired)
	require.False(t, tr.HasRequest("k"))

	_, errCount := sp.Counts(peer)
	require.Equal(t, 1, errCount)
}

func TestRequestTrackerRetainExpiredKeepsFreshRequests(t *testing.T) {
	tr := NewRequestTracker[string]()
	peer := p2p.PeerAddr{Host: "fast", Port: 1}
	tr.RegisterRequest("k", peer, "block", time.Now())

	sp := NewSyncPeers(nil)
	expired := tr.RetainExpired(30*time.Second, time.Now(), sp)
	require.Equal(t, 0, expired)
	require.True(t, tr.HasRequest("k"))
}

func TestRequestTrackerCalculateNeededRequestsClampsNonNegative(t *testing.T) {
	tr := NewRequestTracker[string]()
	require.Equal(t, 0, tr.CalculateNeededRequests(1, 5, 2, 10))
	require.Equal(t, 4, tr.CalculateNeededRequests(2, 0, 2, 10))

	peer := p2p.PeerAddr{Host: "p", Port: 1}
	for i := 0; i < 8; i++ {
		tr.RegisterRequest(string(rune('a'+i)), peer, "l", time.Now())
	}
	require.Equal(t, 2, tr.CalculateNeededRequests(4, 0, 4, 10))
}

func TestRequestTrackerNextAskCountdown(t *testing.T) {
	tr := NewRequestTracker[string]()
	tr.ResetNextAsk(3)
	require.Equal(t, 3, tr.GetUpdateRequestsToNextAsk())
	tr.NoteResponse()
	tr.NoteResponse()
	require.Equal(t, 1, tr.GetUpdateRequestsToNextAsk())
	tr.NoteResponse()
	tr.NoteResponse()
	require.Equal(t, 0, tr.GetUpdateRequestsToNextAsk(), "countdown must not go negative")
}

func TestRequestTrackerReset(t *testing.T) {
	tr := NewRequestTracker[string]()
	peer := p2p.PeerAddr{Host: "p", Port: 1}
	tr.RegisterRequest("k", peer, "l", time.Now())
	tr.ResetNextAsk(5)

	tr.Reset()
	require.Equal(t, 0, tr.GetRequestsNum())
	require.Equal(t, 0, tr.QueueDepth(peer))
	require.Equal(t, 0, tr.GetUpdateRequestsToNextAsk())
}
