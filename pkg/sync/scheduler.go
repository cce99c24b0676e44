package sync

import (
	"time"

	"github.com/dennisvanderpool/mwc-node/pkg/p2p"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Scheduler ticks Manager.Request on a plain time.Ticker goroutine.
// The sync state machine itself contains no suspension points or
// goroutines (spec.md §5, §9 "Cooperative scheduling over async"); the
// Scheduler is the one place a background goroutine exists, and it
// does nothing but call into the single-threaded Manager.
type Scheduler struct {
	manager  *Manager
	peers    p2p.Peers
	interval time.Duration
	log      *zap.Logger

	started *atomic.Bool
	quit    chan struct{}
	done    chan struct{}
}

// NewScheduler builds a Scheduler that ticks every interval.
func NewScheduler(manager *Manager, peers p2p.Peers, interval time.Duration, log *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Scheduler{
		manager:  manager,
		peers:    peers,
		interval: interval,
		log:      log,
		started:  atomic.NewBool(false),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins ticking in a background goroutine; it is idempotent.
func (s *Scheduler) Start() {
	if !s.started.CAS(false, true) {
		return
	}
	go s.run()
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(s.done)

	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			resp := s.manager.Request(s.peers)
			if resp == Shutdown {
				return
			}
			if s.log != nil {
				s.log.Debug("sync tick", zap.String("response", resp.String()))
			}
		}
	}
}

// Stop signals the scheduler to exit and waits for it to do so.
func (s *Scheduler) Stop() {
	if s.started.Load() {
		close(s.quit)
		<-s.done
	}
}
