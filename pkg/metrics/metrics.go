// Package metrics exposes sync progress as Prometheus collectors.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	syncHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Help:      "Local chain head height",
		Name:      "sync_head_height",
		Namespace: "mwc",
	})

	syncHeaderHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Help:      "Local header head height",
		Name:      "sync_header_head_height",
		Namespace: "mwc",
	})

	syncStage = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Help:      "Current sync stage, one gauge per StatusKind set to 1",
		Name:      "sync_stage",
		Namespace: "mwc",
	}, []string{"stage"})

	peersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Help:      "Number of connected peers",
		Name:      "peers_connected",
		Namespace: "mwc",
	})

	inflightRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Help:      "Outstanding per-peer sync requests across all staged syncers",
		Name:      "sync_inflight_requests",
		Namespace: "mwc",
	})

	peersBanned = prometheus.NewCounter(prometheus.CounterOpts{
		Help:      "Total peers banned since startup",
		Name:      "peers_banned_total",
		Namespace: "mwc",
	})

	difficultyRetargets = prometheus.NewCounter(prometheus.CounterOpts{
		Help:      "Total difficulty retarget computations",
		Name:      "difficulty_retargets_total",
		Namespace: "mwc",
	})

	currentDifficulty = prometheus.NewGauge(prometheus.GaugeOpts{
		Help:      "Most recently computed next-window difficulty",
		Name:      "difficulty_current",
		Namespace: "mwc",
	})
)

func init() {
	prometheus.MustRegister(
		syncHeight,
		syncHeaderHeight,
		syncStage,
		peersConnected,
		inflightRequests,
		peersBanned,
		difficultyRetargets,
		currentDifficulty,
	)
}

// SetChainHeights records the local head and header-head heights.
func SetChainHeights(head, headerHead uint64) {
	syncHeight.Set(float64(head))
	syncHeaderHeight.Set(float64(headerHead))
}

// SetStage zeroes every known stage gauge then raises the active one,
// so only a single stage label reads 1 at any time.
func SetStage(active string, known []string) {
	for _, k := range known {
		syncStage.WithLabelValues(k).Set(0)
	}
	syncStage.WithLabelValues(active).Set(1)
}

// SetPeersConnected records the current connected-peer count.
func SetPeersConnected(n int) {
	peersConnected.Set(float64(n))
}

// SetInflightRequests records the total outstanding requests across
// every staged syncer's tracker.
func SetInflightRequests(n int) {
	inflightRequests.Set(float64(n))
}

// IncPeersBanned increments the lifetime ban counter.
func IncPeersBanned() {
	peersBanned.Inc()
}

// RecordDifficultyRetarget records a completed retarget computation and
// its resulting difficulty.
func RecordDifficultyRetarget(next uint64) {
	difficultyRetargets.Inc()
	currentDifficulty.Set(float64(next))
}
