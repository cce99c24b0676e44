package sync

import (
	"testing"
	"time"

	"github.com/dennisvanderpool/mwc-node/internal/fakepeers"
	"github.com/dennisvanderpool/mwc-node/pkg/chain"
	"github.com/dennisvanderpool/mwc-node/pkg/p2p"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHeadersHashSyncCommitsOnQuorum(t *testing.T) {
	h := NewHeadersHashSync(DefaultHeadersHashSyncConfig(), zap.NewNop())
	root := hashAt(9)

	for i := 0; i < 2; i++ {
		h.ReceiveArchiveVote(p2p.PeerAddr{Host: "p", Port: uint16(i)}, 500, root)
	}
	h.tryCommitRoot(nil)
	_, committed := h.CommittedRoot()
	require.False(t, committed, "two votes is below the default quorum of three")

	h.ReceiveArchiveVote(p2p.PeerAddr{Host: "p", Port: 2}, 500, root)
	h.tryCommitRoot(nil)
	got, committed := h.CommittedRoot()
	require.True(t, committed)
	require.Equal(t, root, got)
	require.Equal(t, chain.Height(500), h.CommittedHeight())
}

func TestHeadersHashSyncDissentersAreChargedOnCommit(t *testing.T) {
	h := NewHeadersHashSync(DefaultHeadersHashSyncConfig(), zap.NewNop())
	sp := NewSyncPeers(nil)
	majority := hashAt(1)
	dissenter := p2p.PeerAddr{Host: "dissent", Port: 1}

	h.ReceiveArchiveVote(dissenter, 500, hashAt(2))
	h.ReceiveArchiveVote(p2p.PeerAddr{Host: "a", Port: 1}, 500, majority)
	h.ReceiveArchiveVote(p2p.PeerAddr{Host: "b", Port: 1}, 500, majority)
	require.False(t, h.tryCommitRoot(sp))

	h.ReceiveArchiveVote(p2p.PeerAddr{Host: "c", Port: 1}, 500, majority)
	require.True(t, h.tryCommitRoot(sp))

	_, errCount := sp.Counts(dissenter)
	require.Equal(t, 1, errCount)
}

func TestHeadersHashSyncZeroSegmentsReadiesImmediately(t *testing.T) {
	h := NewHeadersHashSync(DefaultHeadersHashSyncConfig(), zap.NewNop())
	root := hashAt(3)
	for i := 0; i < 3; i++ {
		h.ReceiveArchiveVote(p2p.PeerAddr{Host: "p", Port: uint16(i)}, 10, root)
	}
	peers := []p2p.Peer{fakepeers.NewFakePeer(p2p.PeerAddr{Host: "a", Port: 1}, p2p.CapHeaderHist, true)}
	resp := h.Request(time.Now(), peers, NewSyncPeers(nil))
	require.Equal(t, HeadersHashReady, resp)

	h.SetSegmentsTotal(0)
	resp = h.Request(time.Now(), peers, NewSyncPeers(nil))
	require.Equal(t, HeadersHashReady, resp)
}

func TestHeadersHashSyncDownloadsAndVerifiesSegments(t *testing.T) {
	h := NewHeadersHashSync(DefaultHeadersHashSyncConfig(), zap.NewNop())
	root := hashAt(3)
	peers := fakepeers.NewFakePeers()
	fps := []*fakepeers.FakePeer{
		fakepeers.NewFakePeer(p2p.PeerAddr{Host: "a", Port: 1}, p2p.CapHeaderHist, true),
		fakepeers.NewFakePeer(p2p.PeerAddr{Host: "b", Port: 1}, p2p.CapHeaderHist, true),
		fakepeers.NewFakePeer(p2p.PeerAddr{Host: "c", Port: 1}, p2p.CapHeaderHist, true),
	}
	for _, p := range fps {
		peers.Add(p)
		h.ReceiveArchiveVote(p.Info().Addr, 10, root)
	}
	sp := NewSyncPeers(nil)
	resp := h.Request(time.Now(), peers.Connected(), sp)
	require.Equal(t, HeadersHashReady, resp, "commit itself always reports ready, independent of segment progress")

	h.SetSegmentsTotal(2)
	resp = h.Request(time.Now(), peers.Connected(), sp)
	require.Equal(t, Syncing, resp, "two segments are still outstanding")

	verifyOk := func(Segment[chain.Hash], chain.Hash) bool { return true }
	for id := uint64(0); id < 2; id++ {
		seg := Segment[chain.Hash]{ID: SegmentID{MMRType: "header_hash", Ident: id}}
		for _, p := range fps {
			h.ReceiveSegment(p.Info().Addr, seg, verifyOk, sp)
		}
	}

	resp = h.Request(time.Now(), peers.Connected(), sp)
	require.Equal(t, HeadersHashReady, resp)
}
