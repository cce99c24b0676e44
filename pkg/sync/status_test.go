package sync

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusStringRendersValidationPercent(t *testing.T) {
	kernels := Status{Kind: StatusTxHashsetKernelsValidation, ValDone: 201, ValTotal: 5000}
	require.Contains(t, kernels.String(), "4%")

	rangeProofs := Status{Kind: StatusTxHashsetRangeProofsValidation, ValDone: 643, ValTotal: 1000}
	require.Contains(t, rangeProofs.String(), "64%")
}

func TestStatusStringZeroTotalNeverDivides(t *testing.T) {
	s := Status{Kind: StatusTxHashsetHeadersValidation, ValDone: 0, ValTotal: 0}
	require.Contains(t, s.String(), "0%")
}

func TestStatusStringCoversEveryKind(t *testing.T) {
	kinds := []StatusKind{
		StatusInitial, StatusNoSync, StatusAwaitingPeers, StatusHeaderHashSync,
		StatusHeaderSync, StatusTxHashsetPibd, StatusValidatingKernelsHistory,
		StatusTxHashsetHeadersValidation, StatusTxHashsetKernelsPosValidation,
		StatusTxHashsetRangeProofsValidation, StatusTxHashsetKernelsValidation,
		StatusBodySync, StatusShutdown,
	}
	for _, k := range kinds {
		s := Status{Kind: k}.String()
		require.NotEmpty(t, s)
		require.False(t, strings.EqualFold(s, "unknown"), "kind %d should have a dedicated rendering", k)
	}
}

func TestStatusStringBodySyncPercent(t *testing.T) {
	s := Status{Kind: StatusBodySync, BodyArchive: 100, BodyCurrent: 150, BodyHighest: 200}
	rendered := s.String()
	require.Contains(t, rendered, "150/100")
	require.Contains(t, rendered, "50%")
}
