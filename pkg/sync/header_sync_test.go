package sync

import (
	"testing"
	"time"

	"github.com/dennisvanderpool/mwc-node/internal/fakechain"
	"github.com/dennisvanderpool/mwc-node/internal/fakepeers"
	"github.com/dennisvanderpool/mwc-node/pkg/chain"
	"github.com/dennisvanderpool/mwc-node/pkg/difficulty"
	"github.com/dennisvanderpool/mwc-node/pkg/p2p"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHeaderSyncReadyWhenAlreadyAtArchiveHeight(t *testing.T) {
	fc := fakechain.New()
	fc.PutHeader(&chain.Block{Hash: hashAt(10), Height: 10})

	hs := NewHeaderSync(DefaultHeaderSyncConfig(), stubVerifier{}, difficulty.NewEngine(8), zap.NewNop())
	hs.SetArchiveHeight(5)

	resp := hs.Request(time.Now(), nil, fc, NewSyncPeers(nil))
	require.Equal(t, HeadersReady, resp)
}

func TestHeaderSyncReportsPibdReadyWhenPibdActive(t *testing.T) {
	fc := fakechain.New()
	fc.PutHeader(&chain.Block{Hash: hashAt(10), Height: 10})

	hs := NewHeaderSync(DefaultHeaderSyncConfig(), stubVerifier{}, difficulty.NewEngine(8), zap.NewNop())
	hs.SetArchiveHeight(5)
	hs.SetPibdActive(true)

	resp := hs.Request(time.Now(), nil, fc, NewSyncPeers(nil))
	require.Equal(t, HeadersPibdReady, resp)
}

func TestHeaderSyncIssuesBatchRequestsTowardArchiveHeight(t *testing.T) {
	fc := fakechain.New()

	hs := NewHeaderSync(DefaultHeaderSyncConfig(), stubVerifier{}, difficulty.NewEngine(8), zap.NewNop())
	hs.SetArchiveHeight(2000)

	peer := fakepeers.NewFakePeer(p2p.PeerAddr{Host: "p", Port: 1}, p2p.CapHeaderHist, true)
	resp := hs.Request(time.Now(), []p2p.Peer{peer}, fc, NewSyncPeers(nil))

	require.Equal(t, Syncing, resp)
	require.NotEmpty(t, peer.HeaderRequests)
	require.Equal(t, chain.Height(0), peer.HeaderRequests[0].FromHeight)
}

func TestHeaderSyncReceiveHeadersRejectsNonContiguousBatch(t *testing.T) {
	fc := fakechain.New()
	hs := NewHeaderSync(DefaultHeaderSyncConfig(), stubVerifier{}, difficulty.NewEngine(8), zap.NewNop())
	peerAddr := p2p.PeerAddr{Host: "p", Port: 1}
	hs.tracker.RegisterRequest(HeaderBatchKey(0), peerAddr, "header batch", time.Now())

	sp := NewSyncPeers(nil)
	headers := []*chain.Block{
		{Hash: hashAt(0), Height: 0},
		{Hash: hashAt(2), Height: 2},
	}
	err := hs.ReceiveHeaders(peerAddr, 0, headers, chain.Hash{}, nil, nil, fc, sp)
	require.ErrorIs(t, err, ErrNonContiguousBatch)

	_, errCount := sp.Counts(peerAddr)
	require.Equal(t, 1, errCount)
}

func TestHeaderSyncReceiveHeadersAcceptsGoodBatch(t *testing.T) {
	fc := fakechain.New()
	hs := NewHeaderSync(DefaultHeaderSyncConfig(), stubVerifier{}, difficulty.NewEngine(8), zap.NewNop())
	peerAddr := p2p.PeerAddr{Host: "p", Port: 1}
	hs.tracker.RegisterRequest(HeaderBatchKey(0), peerAddr, "header batch", time.Now())

	sp := NewSyncPeers(nil)
	headers := []*chain.Block{
		{Hash: hashAt(0), Height: 0},
		{Hash: hashAt(1), PrevHash: hashAt(0), Height: 1},
	}
	verifyChain := func([]*chain.Block, chain.Hash) bool { return true }
	err := hs.ReceiveHeaders(peerAddr, 0, headers, chain.Hash{}, verifyChain, nil, fc, sp)
	require.NoError(t, err)

	ok, errCount := sp.Counts(peerAddr)
	require.Equal(t, 1, ok)
	require.Equal(t, 0, errCount)
	require.True(t, fc.BlockExists(hashAt(1)))
}
