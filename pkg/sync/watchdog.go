package sync

import (
	"errors"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Watchdog watches a Manager's Status for forward progress and signals
// a restart once it has gone quiet for longer than Threshold. It is
// the sync-side analogue of a consensus liveness watchdog: rather than
// trusting the tick loop to notice it is stuck, an independent timer
// polls Status() and raises an alarm.
type Watchdog struct {
	WatchdogConfig

	log      *zap.Logger
	started  *atomic.Bool
	quit     chan struct{}
	finished chan struct{}

	lastKind   StatusKind
	lastChange time.Time
}

// WatchdogConfig configures a Watchdog.
type WatchdogConfig struct {
	Logger *zap.Logger
	// Manager is polled for Status() on every Interval tick.
	Manager *Manager
	// Interval is how often Status is sampled.
	Interval time.Duration
	// Threshold is how long Status.Kind may stay unchanged before a
	// restart signal fires.
	Threshold time.Duration
	// RestartChan receives a signal when the threshold is exceeded; the
	// caller decides what a restart means (e.g. tearing down and
	// rebuilding the Manager's peer connections).
	RestartChan chan struct{}
}

// NewWatchdog validates cfg and builds a Watchdog.
func NewWatchdog(cfg WatchdogConfig) (*Watchdog, error) {
	if cfg.Logger == nil {
		return nil, errors.New("sync: watchdog requires a logger")
	}
	if cfg.Manager == nil {
		return nil, errors.New("sync: watchdog requires a manager")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 10 * time.Minute
	}
	return &Watchdog{
		WatchdogConfig: cfg,
		log:            cfg.Logger,
		started:        atomic.NewBool(false),
		quit:           make(chan struct{}),
		finished:       make(chan struct{}),
	}, nil
}

// Start begins polling in a background goroutine; idempotent.
func (w *Watchdog) Start() {
	if w.started.CAS(false, true) {
		w.log.Info("starting sync watchdog")
		go w.eventLoop()
	}
}

func (w *Watchdog) eventLoop() {
	defer close(w.finished)

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	w.lastKind = w.Manager.Status().Kind
	w.lastChange = time.Now()

	for {
		select {
		case <-w.quit:
			return
		case <-ticker.C:
			now := time.Now()
			kind := w.Manager.Status().Kind
			if kind != w.lastKind {
				w.lastKind = kind
				w.lastChange = now
				continue
			}
			if kind == StatusShutdown {
				continue
			}
			if now.Sub(w.lastChange) >= w.Threshold {
				w.log.Warn("sync made no progress past threshold, signalling restart",
					zap.String("stage", kind.string()),
					zap.Duration("stalled for", now.Sub(w.lastChange)))
				w.lastChange = now
				select {
				case w.RestartChan <- struct{}{}:
				default:
				}
			}
		}
	}
}

// Name identifies the watchdog for service-registry logging.
func (w *Watchdog) Name() string {
	return "sync watchdog"
}

// Shutdown stops the polling goroutine and waits for it to exit.
func (w *Watchdog) Shutdown() {
	if w.started.Load() {
		close(w.quit)
		<-w.finished
	}
}
