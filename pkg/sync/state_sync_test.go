package sync

import (
	"errors"
	"testing"
	"time"

	"github.com/dennisvanderpool/mwc-node/internal/fakepeers"
	"github.com/dennisvanderpool/mwc-node/pkg/p2p"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStateSyncCommitsOutputBitmapRootOnQuorum(t *testing.T) {
	s := NewStateSync(DefaultStateSyncConfig(), zap.NewNop())
	root := hashAt(7)

	for i := 0; i < 2; i++ {
		s.ReceivePibdStatus(p2p.PeerAddr{Host: "p", Port: uint16(i)}, hashAt(100), 100, root)
	}
	require.False(t, s.committed, "two votes is below the default quorum of three")

	s.ReceivePibdStatus(p2p.PeerAddr{Host: "p", Port: 2}, hashAt(100), 100, root)
	require.True(t, s.committed)
	require.Equal(t, root, s.committedRoot)
	require.Equal(t, stateDownloading, s.stage)
}

func TestStateSyncWaitingForStatusWithNoPeers(t *testing.T) {
	s := NewStateSync(DefaultStateSyncConfig(), zap.NewNop())
	resp := s.Request(time.Now(), nil, NewSyncPeers(nil), ValidationFuncs{})
	require.Equal(t, WaitingForPeers, resp)
}

func TestStateSyncDownloadsAllFourMMRsThenValidates(t *testing.T) {
	s := NewStateSync(DefaultStateSyncConfig(), zap.NewNop())
	root := hashAt(7)
	for i := 0; i < 3; i++ {
		s.ReceivePibdStatus(p2p.PeerAddr{Host: "p", Port: uint16(i)}, hashAt(100), 100, root)
	}
	require.Equal(t, stateDownloading, s.stage)

	s.SetSegmentTotals(map[string]uint64{
		"bitmap": 1, "output": 1, "rangeproof": 1, "kernel": 1,
	})

	peers := fakepeers.NewFakePeers()
	fp := fakepeers.NewFakePeer(p2p.PeerAddr{Host: "a", Port: 1}, p2p.CapPIBDHist, true)
	peers.Add(fp)
	sp := NewSyncPeers(nil)

	resp := s.Request(time.Now(), peers.Connected(), sp, ValidationFuncs{})
	require.Equal(t, Syncing, resp)
	require.Len(t, fp.SegmentRequests, 4, "one segment per MMR kind should be requested")

	verifyOk := func() bool { return true }
	for _, kind := range []mmrKind{mmrBitmap, mmrOutput, mmrRangeProof, mmrKernel} {
		seg := SegmentID{MMRType: string(kind), Ident: 0}
		s.receiveSegment(kind, fp.Info().Addr, seg, verifyOk, sp)
	}
	require.True(t, s.allMMRsWhole())

	resp = s.Request(time.Now(), peers.Connected(), sp, ValidationFuncs{})
	require.Equal(t, stateValidatingKernelHistory, s.stage)
	require.Equal(t, Syncing, resp)
}

func TestStateSyncValidationPipelineStepsThroughToPibdReady(t *testing.T) {
	s := NewStateSync(DefaultStateSyncConfig(), zap.NewNop())
	s.stage = stateValidatingKernelHistory

	headersCalls := 0
	vf := ValidationFuncs{
		ValidateKernelHistory: func() error { return nil },
		ValidateHeaders: func() (uint64, uint64, error) {
			headersCalls++
			if headersCalls < 2 {
				return 50, 100, nil
			}
			return 100, 100, nil
		},
		ValidateKernelPos:   func() (uint64, uint64, error) { return 10, 10, nil },
		ValidateRangeProofs: func() (uint64, uint64, error) { return 10, 10, nil },
		ValidateKernels:     func() (uint64, uint64, error) { return 10, 10, nil },
	}

	resp := s.Request(time.Now(), nil, NewSyncPeers(nil), vf)
	require.Equal(t, Syncing, resp)
	require.Equal(t, stateValidatingHeaders, s.stage)

	resp = s.Request(time.Now(), nil, NewSyncPeers(nil), vf)
	require.Equal(t, Syncing, resp, "headers validation is still in progress (50/100)")
	require.Equal(t, stateValidatingHeaders, s.stage)

	resp = s.Request(time.Now(), nil, NewSyncPeers(nil), vf)
	require.Equal(t, Syncing, resp)
	require.Equal(t, stateValidatingKernelPos, s.stage)

	resp = s.Request(time.Now(), nil, NewSyncPeers(nil), vf)
	require.Equal(t, Syncing, resp)
	require.Equal(t, stateValidatingRangeProofs, s.stage)

	resp = s.Request(time.Now(), nil, NewSyncPeers(nil), vf)
	require.Equal(t, Syncing, resp)
	require.Equal(t, stateValidatingKernels, s.stage)

	resp = s.Request(time.Now(), nil, NewSyncPeers(nil), vf)
	require.Equal(t, StatePibdReady, resp)
	require.Equal(t, stateStatePibdReady, s.stage)
}

func TestStateSyncValidationFailureResetsDesegmenterData(t *testing.T) {
	s := NewStateSync(DefaultStateSyncConfig(), zap.NewNop())
	s.committed = true
	s.stage = stateValidatingKernelHistory

	vf := ValidationFuncs{
		ValidateKernelHistory: func() error { return errors.New("kernel history mismatch") },
	}
	resp := s.Request(time.Now(), nil, NewSyncPeers(nil), vf)
	require.Equal(t, BadState, resp)
	require.Equal(t, stateWaitingForStatus, s.stage)
	require.False(t, s.committed)
}
