// Package sync implements the chain synchronization core: the staged
// sync state machine (header-hash sync -> header sync -> state/PIBD
// sync -> block-body sync), the generic request tracker, and the
// peer-scoring ledger shared by the staged syncers.
package sync

import (
	"fmt"

	"github.com/dennisvanderpool/mwc-node/pkg/chain"
)

// SegmentID identifies a sub-range of an MMR within a particular MMR
// type (bitmap, output, range-proof, kernel, or header-hash).
type SegmentID struct {
	MMRType string
	Ident   uint64
}

func (s SegmentID) String() string {
	return fmt.Sprintf("%s#%d", s.MMRType, s.Ident)
}

// Segment is a sub-range of an MMR of T with sibling hashes sufficient
// to prove its membership under a committed root.
type Segment[T any] struct {
	ID       SegmentID
	Leaves   []T
	Siblings []chain.Hash
}

// SyncRequestResponses is what each syncer returns from a Request call.
type SyncRequestResponses int

const (
	WaitingForPeers SyncRequestResponses = iota
	Syncing
	WaitingForHeadersHash
	WaitingForHeaders
	HeadersHashReady
	HeadersPibdReady
	HeadersReady
	StatePibdReady
	BodyReady
	SyncDone
	BadState
	// Shutdown is returned once StopState reports the node is
	// stopping; terminal (spec.md §7).
	Shutdown
)

func (r SyncRequestResponses) String() string {
	switch r {
	case WaitingForPeers:
		return "WaitingForPeers"
	case Syncing:
		return "Syncing"
	case WaitingForHeadersHash:
		return "WaitingForHeadersHash"
	case WaitingForHeaders:
		return "WaitingForHeaders"
	case HeadersHashReady:
		return "HeadersHashReady"
	case HeadersPibdReady:
		return "HeadersPibdReady"
	case HeadersReady:
		return "HeadersReady"
	case StatePibdReady:
		return "StatePibdReady"
	case BodyReady:
		return "BodyReady"
	case SyncDone:
		return "SyncDone"
	case BadState:
		return "BadState"
	case Shutdown:
		return "Shutdown"
	default:
		return fmt.Sprintf("SyncRequestResponses(%d)", int(r))
	}
}

// StatusKind discriminates the SyncStatus union reported upward for
// UI/telemetry.
type StatusKind int

const (
	StatusInitial StatusKind = iota
	StatusNoSync
	StatusAwaitingPeers
	StatusHeaderHashSync
	StatusHeaderSync
	StatusTxHashsetPibd
	StatusValidatingKernelsHistory
	StatusTxHashsetHeadersValidation
	StatusTxHashsetKernelsPosValidation
	StatusTxHashsetRangeProofsValidation
	StatusTxHashsetKernelsValidation
	StatusBodySync
	StatusShutdown
)

// Status is the discriminated union reported upward for UI/telemetry
// (spec.md §3 SyncStatus).
type Status struct {
	Kind StatusKind

	// HeaderHashSync
	HHCompleted, HHTotal uint64

	// HeaderSync
	HeaderCurrent, HeaderArchive chain.Height

	// TxHashsetPibd
	PibdReceived, PibdTotal uint64

	// TxHashsetHeadersValidation / KernelsPosValidation /
	// RangeProofsValidation / KernelsValidation all share the same
	// (done, total) progress-counter shape.
	ValDone, ValTotal uint64

	// BodySync
	BodyArchive, BodyCurrent, BodyHighest chain.Height
}

// percent renders a done/total progress pair as spec.md's BodySync
// formula generalizes: (done-base)*100/(total-base), zero denominator
// yields 0%.
func percent(done, total uint64) int {
	if total == 0 {
		return 0
	}
	return int(done * 100 / total)
}

// String renders a human-readable status line, matching the percent
// formulas pinned by spec.md §8 scenario S7.
func (s Status) String() string {
	switch s.Kind {
	case StatusInitial:
		return "Initializing"
	case StatusNoSync:
		return "Running"
	case StatusAwaitingPeers:
		return "Waiting for peers"
	case StatusHeaderHashSync:
		return fmt.Sprintf("Sync hashes headers: %d/%d", s.HHCompleted, s.HHTotal)
	case StatusHeaderSync:
		return fmt.Sprintf("Sync headers: %d/%d", s.HeaderCurrent, s.HeaderArchive)
	case StatusTxHashsetPibd:
		return fmt.Sprintf("Sync state (PIBD): %d/%d", s.PibdReceived, s.PibdTotal)
	case StatusValidatingKernelsHistory:
		return "Validating kernels history"
	case StatusTxHashsetHeadersValidation:
		return fmt.Sprintf("Validating headers: %d%%", percent(s.ValDone, s.ValTotal))
	case StatusTxHashsetKernelsPosValidation:
		return fmt.Sprintf("Validating kernels position: %d%%", percent(s.ValDone, s.ValTotal))
	case StatusTxHashsetRangeProofsValidation:
		return fmt.Sprintf("Validating range proofs: %d%%", percent(s.ValDone, s.ValTotal))
	case StatusTxHashsetKernelsValidation:
		return fmt.Sprintf("Validating kernels: %d%%", percent(s.ValDone, s.ValTotal))
	case StatusBodySync:
		var pct int
		if s.BodyHighest > s.BodyArchive {
			pct = percent(uint64(s.BodyCurrent-s.BodyArchive), uint64(s.BodyHighest-s.BodyArchive))
		}
		return fmt.Sprintf("Sync block bodies: %d/%d, highest %d (%d%%)", s.BodyCurrent, s.BodyArchive, s.BodyHighest, pct)
	case StatusShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}
