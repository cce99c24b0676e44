package sync

import (
	"testing"

	"github.com/dennisvanderpool/mwc-node/internal/fakepeers"
	"github.com/dennisvanderpool/mwc-node/pkg/p2p"
	"github.com/stretchr/testify/require"
)

func TestSyncPeersCountsAccumulate(t *testing.T) {
	sp := NewSyncPeers(nil)
	peer := p2p.PeerAddr{Host: "1.2.3.4", Port: 1}

	sp.ReportOkResponse(peer)
	sp.ReportOkResponse(peer)
	sp.ReportErrorResponse(peer, "bad header")

	ok, err := sp.Counts(peer)
	require.Equal(t, 2, ok)
	require.Equal(t, 1, err)
}

func TestSyncPeersBansAfterThreshold(t *testing.T) {
	sp := NewSyncPeers(nil)
	peer := p2p.PeerAddr{Host: "bad", Port: 1}

	for i := 0; i < defaultBanThreshold-1; i++ {
		sp.ReportErrorResponse(peer, "err")
	}
	require.Empty(t, sp.pendingBans())

	sp.ReportErrorResponse(peer, "the one that tips it over")
	require.Equal(t, []p2p.PeerAddr{peer}, sp.pendingBans())
}

func TestSyncPeersApplyPeersStatusBansAndClearsPending(t *testing.T) {
	sp := NewSyncPeers(nil)
	peer := p2p.PeerAddr{Host: "bad", Port: 1}
	for i := 0; i < defaultBanThreshold; i++ {
		sp.ReportErrorResponse(peer, "err")
	}

	peers := fakepeers.NewFakePeers()
	sp.ApplyPeersStatus(peers)

	reason, banned := peers.Banned[peer]
	require.True(t, banned)
	require.NotEmpty(t, reason)
	require.Empty(t, sp.pendingBans(), "a second ApplyPeersStatus call must not re-ban")
}

func TestSyncPeersResetBanUndoesSpeculativeBan(t *testing.T) {
	sp := NewSyncPeers(nil)
	peer := p2p.PeerAddr{Host: "disputed", Port: 1}
	for i := 0; i < defaultBanThreshold; i++ {
		sp.ReportErrorResponse(peer, "voted for non-committed root")
	}
	require.NotEmpty(t, sp.pendingBans())

	sp.ResetBan(peer)
	require.Empty(t, sp.pendingBans())

	ok, err := sp.Counts(peer)
	require.Equal(t, 0, ok)
	require.Equal(t, defaultBanThreshold, err, "undoing a ban must not erase the error counters")
}

func TestSyncPeersReset(t *testing.T) {
	sp := NewSyncPeers(nil)
	peer := p2p.PeerAddr{Host: "p", Port: 1}
	sp.ReportOkResponse(peer)

	sp.Reset()
	ok, err := sp.Counts(peer)
	require.Zero(t, ok)
	require.Zero(t, err)
}
