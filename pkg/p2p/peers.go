// Package p2p defines the Peers external collaborator: transport-level
// connection management, message send, and ban execution. The sync core
// only ever enumerates and scores peers through this interface.
package p2p

import (
	"fmt"
	"sync"

	"github.com/dennisvanderpool/mwc-node/pkg/chain"
)

// Capabilities is a bitmask of protocol features a peer advertises.
// A peer qualifies for a stage iff (peer.Caps & required) == required.
type Capabilities uint32

const (
	CapUnknown Capabilities = 1 << iota
	CapHeaderHist
	CapBlockHist
	CapPIBDHist
)

// QualifiesFor reports whether c is a superset of required.
func (c Capabilities) QualifiesFor(required Capabilities) bool {
	return c&required == required
}

// PeerAddr is an opaque, comparable transport endpoint usable as a map
// key.
type PeerAddr struct {
	Host string
	Port uint16
}

func (a PeerAddr) String() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// LiveInfo is the mutable, frequently-updated half of a peer's
// advertised state.
type LiveInfo struct {
	Height          chain.Height
	TotalDifficulty uint64
}

// PeerInfo is the static identity plus live state of a connected peer.
type PeerInfo struct {
	Addr         PeerAddr
	Capabilities Capabilities
	Outbound     bool

	mu   sync.RWMutex
	live LiveInfo
}

// Live returns a snapshot of the peer's live info.
func (p *PeerInfo) Live() LiveInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.live
}

// SetLive updates the peer's live info; called by the transport layer
// on receipt of a version/ping-like message.
func (p *PeerInfo) SetLive(l LiveInfo) {
	p.mu.Lock()
	p.live = l
	p.mu.Unlock()
}

// SegmentRequest describes a PIBD segment request for bitmap, output,
// range-proof, or kernel MMRs.
type SegmentRequest struct {
	MMRType string
	Ident   uint64 // segment id
}

// HeaderRequest bounds a batch of headers to fetch.
type HeaderRequest struct {
	FromHeight chain.Height
	Count      int
}

// SendOptions tags an outbound request, e.g. SYNC vs. user-initiated.
type SendOptions struct {
	Sync bool
}

// Peer is the sendable surface of a single connected peer.
type Peer interface {
	Info() *PeerInfo
	SendBlockRequest(hash chain.Hash, opts SendOptions) error
	SendHeaderRequest(req HeaderRequest) error
	SendSegmentRequest(req SegmentRequest) error
}

// Peers is the external collaborator managing the full peer set: an
// iterator over connected peers (optionally outbound-only) and ban
// execution. The sync core never opens or closes a connection itself.
type Peers interface {
	Connected() []Peer
	Outbound() []Peer
	BanPeer(addr PeerAddr, reason string)
}

// StaticPeer is a minimal Peer implementation suitable for embedding
// in transport adapters that already own the socket; it only carries
// identity/live info and delegates sends to a function field so a real
// transport can plug in without re-implementing this type.
type StaticPeer struct {
	info            *PeerInfo
	sendBlockFn     func(chain.Hash, SendOptions) error
	sendHeaderFn    func(HeaderRequest) error
	sendSegmentFn   func(SegmentRequest) error
}

// NewStaticPeer builds a StaticPeer around the given identity and send
// callbacks.
func NewStaticPeer(info *PeerInfo, sendBlock func(chain.Hash, SendOptions) error, sendHeader func(HeaderRequest) error, sendSegment func(SegmentRequest) error) *StaticPeer {
	return &StaticPeer{
		info:          info,
		sendBlockFn:   sendBlock,
		sendHeaderFn:  sendHeader,
		sendSegmentFn: sendSegment,
	}
}

func (p *StaticPeer) Info() *PeerInfo { return p.info }

func (p *StaticPeer) SendBlockRequest(hash chain.Hash, opts SendOptions) error {
	return p.sendBlockFn(hash, opts)
}

func (p *StaticPeer) SendHeaderRequest(req HeaderRequest) error {
	return p.sendHeaderFn(req)
}

func (p *StaticPeer) SendSegmentRequest(req SegmentRequest) error {
	return p.sendSegmentFn(req)
}
