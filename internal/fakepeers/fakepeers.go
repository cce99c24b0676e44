// Package fakepeers provides an in-memory p2p.Peers/p2p.Peer
// implementation for use in pkg/sync tests.
package fakepeers

import (
	"sync"

	"github.com/dennisvanderpool/mwc-node/pkg/chain"
	"github.com/dennisvanderpool/mwc-node/pkg/p2p"
)

// FakePeer records every send it was asked to make so tests can assert
// on request traffic without a real transport.
type FakePeer struct {
	info *p2p.PeerInfo

	mu             sync.Mutex
	BlockRequests  []chain.Hash
	HeaderRequests []p2p.HeaderRequest
	SegmentRequests []p2p.SegmentRequest

	SendBlockErr   error
	SendHeaderErr  error
	SendSegmentErr error
}

// NewFakePeer builds a connected peer with the given identity.
func NewFakePeer(addr p2p.PeerAddr, caps p2p.Capabilities, outbound bool) *FakePeer {
	return &FakePeer{
		info: &p2p.PeerInfo{Addr: addr, Capabilities: caps, Outbound: outbound},
	}
}

func (p *FakePeer) Info() *p2p.PeerInfo { return p.info }

func (p *FakePeer) SendBlockRequest(hash chain.Hash, opts p2p.SendOptions) error {
	if p.SendBlockErr != nil {
		return p.SendBlockErr
	}
	p.mu.Lock()
	p.BlockRequests = append(p.BlockRequests, hash)
	p.mu.Unlock()
	return nil
}

func (p *FakePeer) SendHeaderRequest(req p2p.HeaderRequest) error {
	if p.SendHeaderErr != nil {
		return p.SendHeaderErr
	}
	p.mu.Lock()
	p.HeaderRequests = append(p.HeaderRequests, req)
	p.mu.Unlock()
	return nil
}

func (p *FakePeer) SendSegmentRequest(req p2p.SegmentRequest) error {
	if p.SendSegmentErr != nil {
		return p.SendSegmentErr
	}
	p.mu.Lock()
	p.SegmentRequests = append(p.SegmentRequests, req)
	p.mu.Unlock()
	return nil
}

// FakePeers is a mutable, test-controlled p2p.Peers set.
type FakePeers struct {
	mu      sync.Mutex
	peers   []*FakePeer
	Banned  map[p2p.PeerAddr]string
}

// NewFakePeers builds an empty set.
func NewFakePeers() *FakePeers {
	return &FakePeers{Banned: make(map[p2p.PeerAddr]string)}
}

// Add registers a peer as connected.
func (ps *FakePeers) Add(p *FakePeer) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.peers = append(ps.peers, p)
}

func (ps *FakePeers) Connected() []p2p.Peer {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	out := make([]p2p.Peer, 0, len(ps.peers))
	for _, p := range ps.peers {
		if _, banned := ps.Banned[p.Info().Addr]; !banned {
			out = append(out, p)
		}
	}
	return out
}

func (ps *FakePeers) Outbound() []p2p.Peer {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	out := make([]p2p.Peer, 0, len(ps.peers))
	for _, p := range ps.peers {
		if _, banned := ps.Banned[p.Info().Addr]; banned {
			continue
		}
		if p.Info().Outbound {
			out = append(out, p)
		}
	}
	return out
}

func (ps *FakePeers) BanPeer(addr p2p.PeerAddr, reason string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.Banned[addr] = reason
}
