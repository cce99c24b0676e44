package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dennisvanderpool/mwc-node/pkg/api"
	"github.com/dennisvanderpool/mwc-node/pkg/chain"
	"github.com/dennisvanderpool/mwc-node/pkg/config"
	"github.com/dennisvanderpool/mwc-node/pkg/metrics"
	"github.com/dennisvanderpool/mwc-node/pkg/p2p"
	"github.com/dennisvanderpool/mwc-node/pkg/pow"
	"github.com/dennisvanderpool/mwc-node/pkg/sync"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// knownSyncStages lists every sync.Status.String() rendering, so
// metrics.SetStage can zero stale gauges when the active stage changes.
var knownSyncStages = []string{
	"Initializing", "Running", "Waiting for peers",
	"Sync hashes headers", "Sync headers", "Sync state (PIBD)",
	"Validating kernels history", "Validating headers",
	"Validating kernels position", "Validating range proofs",
	"Validating kernels", "Sync block bodies", "Shutdown",
}

// stageLabel trims Status.String()'s progress suffix (": 3/10", " 42%")
// down to a stable Prometheus label matching knownSyncStages.
func stageLabel(s sync.Status) string {
	full := s.String()
	if i := strings.IndexAny(full, ":"); i >= 0 {
		return full[:i]
	}
	return full
}

// reportMetrics polls chain heights, sync stage, and peer count on a
// fixed interval for as long as ctx is alive.
func reportMetrics(ctx context.Context, c chain.Chain, mgr *sync.Manager, peers *p2p.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			head := c.Head()
			headerHead := c.HeaderHead()
			metrics.SetChainHeights(uint64(head.Height), uint64(headerHead.Height))
			metrics.SetStage(stageLabel(mgr.Status()), knownSyncStages)
			metrics.SetPeersConnected(len(peers.Connected()))
			metrics.SetInflightRequests(mgr.InflightRequests())
		}
	}
}

var configFlag = &cli.StringFlag{
	Name:  "config-path",
	Usage: "path to mwc-server.toml",
	Value: config.DefaultConfigPath,
}

var dumpConfigYAMLFlag = &cli.BoolFlag{
	Name:  "dump-config-yaml",
	Usage: "print the loaded config as YAML and exit, without starting the node",
}

func newServerCommand() *cli.Command {
	return &cli.Command{
		Name:      "server",
		Usage:     "Start an mwc-node",
		UsageText: "mwc-node server [--config-path path] [--dump-config-yaml]",
		Action:    startServer,
		Flags:     []cli.Flag{configFlag, dumpConfigYAMLFlag},
	}
}

// acceptAllVerifier is the reference pow.Verifier used when no real
// Cuckatoo cycle verifier is wired in; it never rejects a proof. A
// production deployment must replace it before connecting to mainnet.
type acceptAllVerifier struct{}

func (acceptAllVerifier) Verify([]byte, pow.Proof, uint64) error { return nil }

// runningStop adapts a context's cancellation into sync.StopState.
type runningStop struct{ ctx context.Context }

func (r runningStop) IsStopped() bool {
	select {
	case <-r.ctx.Done():
		return true
	default:
		return false
	}
}

func startServer(cliCtx *cli.Context) error {
	cfg, err := config.Load(cliCtx.String("config-path"))
	if err != nil {
		return cli.Exit(err, 1)
	}

	if cliCtx.Bool("dump-config-yaml") {
		out, err := cfg.DumpYAML()
		if err != nil {
			return cli.Exit(err, 1)
		}
		fmt.Fprint(cliCtx.App.Writer, out)
		return nil
	}

	log, err := zap.NewProduction()
	if err != nil {
		return cli.Exit(fmt.Errorf("failed to build logger: %w", err), 1)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := newGraceContext()
	defer cancel()

	c := chain.NewMemChain()
	peers := p2p.NewManager()

	mgrCfg := sync.DefaultManagerConfig()
	mgrCfg.HeadersHash.HashRootQuorum = cfg.Server.HashRootQuorum

	mgr := sync.NewManager(c, runningStop{ctx: ctx}, acceptAllVerifier{}, mgrCfg, sync.ValidationFuncs{}, log)

	sched := sync.NewScheduler(mgr, peers, cfg.P2P.SyncPollInterval, log)
	sched.Start()
	defer sched.Stop()

	restartCh := make(chan struct{}, 1)
	watchdog, err := sync.NewWatchdog(sync.WatchdogConfig{
		Logger:      log,
		Manager:     mgr,
		RestartChan: restartCh,
	})
	if err != nil {
		return cli.Exit(fmt.Errorf("failed to start sync watchdog: %w", err), 1)
	}
	watchdog.Start()
	defer watchdog.Shutdown()

	go reportMetrics(ctx, c, mgr, peers, cfg.P2P.SyncPollInterval)

	registry := api.NewRegistry()
	nodeID := registry.Register(api.Node{Manager: mgr, Chain: c, Peers: peers, Pool: api.NopPool{}})
	defer registry.Unregister(nodeID)

	apiServer := api.NewServer(cfg.API.ListenAddr, registry, nodeID,
		api.Credentials{User: cfg.API.OwnerUser, PassHash: cfg.API.OwnerPassHash},
		cfg.API.ForeignEnabled, log)

	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error("api server failed", zap.Error(err))
	case <-restartCh:
		log.Warn("sync watchdog requested a restart; exiting for supervisor restart")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return apiServer.Shutdown(shutdownCtx)
}

func newGraceContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()
	return ctx, cancel
}
