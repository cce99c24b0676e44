package sync

import "errors"

// Sentinel errors for the taxonomy in spec.md §7. Per-peer issues are
// absorbed locally (charged via SyncPeers); these are returned only
// where a caller needs to distinguish the failure kind.
var (
	// ErrNonContiguousBatch is returned when a header or block batch
	// is not strictly ascending and contiguous.
	ErrNonContiguousBatch = errors.New("sync: non-contiguous batch")
	// ErrRootMismatch is returned when a segment or header fails to
	// verify against its committed root.
	ErrRootMismatch = errors.New("sync: root mismatch")
	// ErrPoWInvalid is returned when a header's proof of work fails
	// verification.
	ErrPoWInvalid = errors.New("sync: invalid proof of work")
	// ErrDifficultyMismatch is returned when a header's declared
	// difficulty disagrees with the difficulty engine's computation.
	ErrDifficultyMismatch = errors.New("sync: difficulty mismatch")
	// ErrUnknownPeer describes a response for a key with no registered
	// request. RequestTracker.RemoveRequest does not return it; it
	// reports that case through its boolean result.
	ErrUnknownPeer = errors.New("sync: no request registered for key")
	// ErrDuplicateRequest describes a second request for a key that is
	// already tracked. RequestTracker.RegisterRequest does not return
	// it; callers must not double-issue.
	ErrDuplicateRequest = errors.New("sync: request already registered")
)
