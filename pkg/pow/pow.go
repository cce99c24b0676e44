// Package pow defines the Cuckatoo proof-of-work verifier consumed by
// HeaderSync. Cycle-finding itself is out of scope for the sync core
// (spec.md §1); this package only states the collaborator's contract.
package pow

import "errors"

// Sentinel errors a Verifier may return, shaped after the original
// implementation's core/src/pow/error.rs variants.
var (
	ErrInvalidCycle  = errors.New("pow: cycle does not satisfy difficulty target")
	ErrLowEdgeBits   = errors.New("pow: edge bits below minimum for height")
	ErrTooBigEdgeBits = errors.New("pow: edge bits above maximum for height")
)

// Proof is the Cuckatoo solution attached to a header: the cycle edge
// bits and the nonces forming the cycle.
type Proof struct {
	EdgeBits uint8
	Nonces   []uint64
}

// Verifier validates that a header's attached Proof solves a Cuckatoo
// cycle meeting the header's declared difficulty. Implementations are
// pure functions of (header bytes, proof, target difficulty).
type Verifier interface {
	Verify(headerBytes []byte, proof Proof, targetDifficulty uint64) error
}
