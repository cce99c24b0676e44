package p2p

import "sync"

// Manager is a transport-agnostic peer table: it tracks the set of
// connected StaticPeer adapters and executes bans, deferring the actual
// socket lifecycle to whatever transport constructs each StaticPeer.
// It is the Peers implementation a real transport wires in; tests use
// the lighter internal/fakepeers.FakePeers instead.
type Manager struct {
	mu     sync.RWMutex
	peers  map[PeerAddr]*StaticPeer
	banned map[PeerAddr]string
}

// NewManager builds an empty peer table.
func NewManager() *Manager {
	return &Manager{
		peers:  make(map[PeerAddr]*StaticPeer),
		banned: make(map[PeerAddr]string),
	}
}

// AddPeer registers a newly connected peer, e.g. once a transport
// completes its handshake.
func (m *Manager) AddPeer(p *StaticPeer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers[p.Info().Addr] = p
}

// RemovePeer drops a peer, e.g. on disconnect.
func (m *Manager) RemovePeer(addr PeerAddr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peers, addr)
}

// IsBanned reports whether addr is currently banned.
func (m *Manager) IsBanned(addr PeerAddr) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.banned[addr]
	return ok
}

// Connected returns every non-banned peer.
func (m *Manager) Connected() []Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Peer, 0, len(m.peers))
	for addr, p := range m.peers {
		if _, banned := m.banned[addr]; !banned {
			out = append(out, p)
		}
	}
	return out
}

// Outbound returns every non-banned outbound peer.
func (m *Manager) Outbound() []Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Peer, 0, len(m.peers))
	for addr, p := range m.peers {
		if _, banned := m.banned[addr]; banned {
			continue
		}
		if p.Info().Outbound {
			out = append(out, p)
		}
	}
	return out
}

// BannedAddrs returns every address currently banned, with its reason.
func (m *Manager) BannedAddrs() map[PeerAddr]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[PeerAddr]string, len(m.banned))
	for addr, reason := range m.banned {
		out[addr] = reason
	}
	return out
}

// BanPeer marks addr as banned and drops it from the peer table; a
// transport observing the ban is expected to close the underlying
// connection on its own next housekeeping pass.
func (m *Manager) BanPeer(addr PeerAddr, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.banned[addr] = reason
	delete(m.peers, addr)
}
