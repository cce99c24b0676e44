package sync

import (
	"sync"
	"time"

	"github.com/dennisvanderpool/mwc-node/pkg/chain"
	"github.com/dennisvanderpool/mwc-node/pkg/difficulty"
	"github.com/dennisvanderpool/mwc-node/pkg/p2p"
	"github.com/dennisvanderpool/mwc-node/pkg/pow"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// syncDoneCacheWindow is how long a SyncDone response is cached before
// the manager re-evaluates peers (spec.md §4.8 step 1).
const syncDoneCacheWindow = 180 * time.Second

// StopState reports whether the node is shutting down; polled at every
// tick (spec.md §5).
type StopState interface {
	IsStopped() bool
}

// ManagerConfig bundles the per-stage configuration.
type ManagerConfig struct {
	HeadersHash HeadersHashSyncConfig
	Header      HeaderSyncConfig
	State       StateSyncConfig
	Body        BodySyncConfig
}

// DefaultManagerConfig returns sane defaults for every stage.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		HeadersHash: DefaultHeadersHashSyncConfig(),
		Header:      DefaultHeaderSyncConfig(),
		State:       DefaultStateSyncConfig(),
		Body:        DefaultBodySyncConfig(),
	}
}

// Manager is the single cooperatively-driven state machine (C8): on
// each tick it consults the four staged syncers in fixed order and
// returns a SyncRequestResponses describing what it is currently
// doing (spec.md §4.8).
type Manager struct {
	mu sync.Mutex

	chain chain.Chain
	stop  StopState
	log   *zap.Logger

	headerHashPeers *SyncPeers
	bodyPeers       *SyncPeers

	headersHash *HeadersHashSync
	header      *HeaderSync
	state       *StateSync
	body        *BodySync

	validation ValidationFuncs

	lastDone    time.Time
	hasLastDone bool
	lastStatus  Status
	shutdown    atomic.Bool
}

// NewManager constructs a Manager bound to chain for the lifetime of
// the process, as described in spec.md §3's Lifecycle note.
func NewManager(c chain.Chain, stop StopState, verifier pow.Verifier, cfg ManagerConfig, vf ValidationFuncs, log *zap.Logger) *Manager {
	dif := difficulty.NewEngine(64)
	return &Manager{
		chain:           c,
		stop:            stop,
		log:             log,
		headerHashPeers: NewSyncPeers(log),
		bodyPeers:       NewSyncPeers(log),
		headersHash:     NewHeadersHashSync(cfg.HeadersHash, log),
		header:          NewHeaderSync(cfg.Header, verifier, dif, log),
		state:           NewStateSync(cfg.State, log),
		body:            NewBodySync(cfg.Body, log),
		validation:      vf,
	}
}

// bestHeight determines the maximum live_info.height among
// outbound-connected peers with height > 0, falling back to inbound
// (here: all connected) if none qualify.
func bestHeight(peers p2p.Peers) (chain.Height, bool) {
	var best chain.Height
	found := false
	for _, p := range peers.Outbound() {
		h := p.Info().Live().Height
		if h > 0 && (!found || h > best) {
			best = h
			found = true
		}
	}
	if found {
		return best, true
	}
	for _, p := range peers.Connected() {
		h := p.Info().Live().Height
		if h > 0 && (!found || h > best) {
			best = h
			found = true
		}
	}
	return best, found
}

// Request runs one full orchestration tick, consulting the four staged
// syncers in fixed order (spec.md §4.8). It acquires the manager's
// lock for its duration, matching the reference implementation's
// exclusive-lock-per-call policy (spec.md §5).
func (m *Manager) Request(peers p2p.Peers) SyncRequestResponses {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stop != nil && m.stop.IsStopped() {
		m.drainAll()
		return Shutdown
	}

	now := time.Now()
	if m.hasLastDone && now.Sub(m.lastDone) < syncDoneCacheWindow {
		return SyncDone
	}

	m.headerHashPeers.ApplyPeersStatus(peers)
	m.bodyPeers.ApplyPeersStatus(peers)

	connected := peers.Connected()
	if _, ok := bestHeight(peers); !ok {
		return WaitingForPeers
	}

	hhResp := m.headersHash.Request(now, connected, m.headerHashPeers)
	if hhResp != HeadersPibdReady && hhResp != HeadersHashReady {
		m.setLastStatus(hhResp, StatusHeaderHashSync)
		return hhResp
	}

	if _, haveRoot := m.headersHash.CommittedRoot(); haveRoot {
		segments := (uint64(m.headersHash.CommittedHeight()) + HeaderHashLeavesPerSegment - 1) / HeaderHashLeavesPerSegment
		m.headersHash.SetSegmentsTotal(segments)
		m.header.SetArchiveHeight(m.chain.HeightToArchiveHeight(bestHeightOrZero(peers)))
		m.header.SetPibdActive(true)
	}

	hResp := m.header.Request(now, connected, m.chain, m.headerHashPeers)
	switch hResp {
	case WaitingForPeers:
		m.headersHash.ResetHashData()
		m.headerHashPeers.Reset()
		return WaitingForPeers
	case HeadersPibdReady:
		m.headersHash.ResetHashData()
	case HeadersReady:
		// no-PIBD path complete through headers; fall through to the
		// state stage and then body.
	default:
		m.setLastStatus(hResp, StatusHeaderSync)
		return hResp
	}

	if hResp == HeadersPibdReady || hResp == HeadersReady {
		sResp := m.state.Request(now, connected, m.bodyPeers, m.validation)
		if sResp != StatePibdReady {
			if sResp == BadState {
				m.state.ResetDesegmenterData()
			}
			m.setLastStatus(sResp, StatusTxHashsetPibd)
			return sResp
		}
	}

	archiveHeight := m.chain.HeightToArchiveHeight(bestHeightOrZero(peers))
	bResp := m.body.Request(now, connected, m.chain, archiveHeight, m.bodyPeers)
	switch bResp {
	case BodyReady:
		if hResp == HeadersReady || hResp == HeadersPibdReady {
			m.lastDone = now
			m.hasLastDone = true
			m.setLastStatus(SyncDone, StatusNoSync)
			return SyncDone
		}
		return Syncing
	case BadState:
		m.state.ResetDesegmenterData()
		m.setLastStatus(BadState, StatusAwaitingPeers)
		return BadState
	default:
		m.setLastStatus(bResp, StatusBodySync)
		return bResp
	}
}

func bestHeightOrZero(peers p2p.Peers) chain.Height {
	h, _ := bestHeight(peers)
	return h
}

// setLastStatus records the current stage for Status() and logs the
// stage and response when the stage differs from the last recorded one.
func (m *Manager) setLastStatus(resp SyncRequestResponses, kind StatusKind) {
	if m.lastStatus.Kind != kind {
		if m.log != nil {
			m.log.Info("sync stage changed", zap.String("stage", kind.string()), zap.String("response", resp.String()))
		}
	}
	m.lastStatus = Status{Kind: kind}
}

func (m *Manager) drainAll() {
	m.headersHash.tracker.Reset()
	m.header.tracker.Reset()
	for _, t := range m.state.trackers {
		t.Reset()
	}
	m.body.tracker.Reset()
	m.shutdown.Store(true)
}

// Status returns the most recently observed stage for UI/telemetry.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown.Load() {
		return Status{Kind: StatusShutdown}
	}
	return m.lastStatus
}

// InflightRequests sums outstanding requests across all four staged
// syncers, for telemetry.
func (m *Manager) InflightRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.headersHash.InflightRequests() + m.header.InflightRequests() +
		m.state.InflightRequests() + m.body.InflightRequests()
}

// string renders a StatusKind's identifier, used only for log fields.
func (k StatusKind) string() string {
	names := map[StatusKind]string{
		StatusInitial:                        "Initial",
		StatusNoSync:                         "NoSync",
		StatusAwaitingPeers:                  "AwaitingPeers",
		StatusHeaderHashSync:                 "HeaderHashSync",
		StatusHeaderSync:                     "HeaderSync",
		StatusTxHashsetPibd:                  "TxHashsetPibd",
		StatusValidatingKernelsHistory:       "ValidatingKernelsHistory",
		StatusTxHashsetHeadersValidation:     "TxHashsetHeadersValidation",
		StatusTxHashsetKernelsPosValidation:  "TxHashsetKernelsPosValidation",
		StatusTxHashsetRangeProofsValidation: "TxHashsetRangeProofsValidation",
		StatusTxHashsetKernelsValidation:     "TxHashsetKernelsValidation",
		StatusBodySync:                       "BodySync",
		StatusShutdown:                       "Shutdown",
	}
	return names[k]
}
