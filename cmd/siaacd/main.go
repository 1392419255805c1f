// Command siaacd runs the shielded-intent authorization and aggregation
// service: it loads a key pool, registers it with the authorization
// service, and starts the per-chain flush tick loop against a configured
// executor.
//
// Usage:
//
//	siaacd [flags]
//
// Flags:
//
//	--keypool.size       Number of keys to provision in the startup pool (default: 1024)
//	--keypool.w          Winternitz parameter w: 4, 16, or 256 (default: 16)
//	--batch.maxsize      Max intents per batch (default: 100)
//	--batch.maxwaitms    Max wait before a size-short batch flushes (default: 60000)
//	--batch.minsize      Min intents before a time-triggered flush (default: 1)
//	--flushtickms        Flush-condition evaluation interval (default: 1000)
//	--anonpool.depth     Anonymity pool Merkle tree depth (default: 20)
//	--anonpool.rootwindow Rolling accepted-root window size (default: 32)
//	--metrics.addr       Prometheus listen address (default: :9464)
//	--version            Print version and exit
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/obscura-network/siaac/aggregator"
	"github.com/obscura-network/siaac/anonpool"
	"github.com/obscura-network/siaac/authz"
	"github.com/obscura-network/siaac/config"
	"github.com/obscura-network/siaac/external"
	"github.com/obscura-network/siaac/keypool"
	"github.com/obscura-network/siaac/log"
	"github.com/obscura-network/siaac/metrics"
)

// Exit codes, per §6.6.
const (
	exitOK                  = 0
	exitInvalidConfig       = 2
	exitInvalidInput        = 3
	exitInternalCorruption  = 4
	exitExecutorUnreachable = 5
)

var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, exit, code := parseFlags(args)
	if exit {
		return code
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return exitInvalidConfig
	}

	logger := log.New(parseLevel(cfg.LogLevel))
	logger.Info("siaacd starting", "version", version, "commit", commit,
		"batchMaxSize", cfg.BatchMaxSize, "keyPoolSize", cfg.KeyPoolSize, "winternitzW", cfg.WinternitzW)

	pool, err := keypool.Create("startup-pool", keypool.CreateOptions{KeyCount: cfg.KeyPoolSize, W: cfg.WinternitzW})
	if err != nil {
		logger.Error("failed to provision key pool", "err", err)
		return exitInvalidInput
	}

	authSvc := authz.NewService(logger)
	if err := authSvc.RegisterPool(pool.MerkleRoot(), pool.Params(), pool.TotalKeys(), "startup"); err != nil {
		logger.Error("failed to register startup key pool", "err", err)
		return exitInternalCorruption
	}

	anon := anonpool.New(cfg.AnonymityPoolDepth, cfg.RootWindow, logger)

	agg := aggregator.New(authSvc, external.StubExecutor{}, aggregator.Config{
		DefaultChain: "default",
		DefaultSettings: aggregator.Settings{
			MaxBatchSize: cfg.BatchMaxSize,
			MaxWaitMs:    cfg.BatchMaxWaitMs,
			MinBatchSize: cfg.BatchMinSize,
		},
	}, logger)

	reg := prometheus.NewRegistry()
	m := metrics.New("siaac", reg)
	pool.SetMetrics(m)
	authSvc.SetMetrics(m)
	agg.SetMetrics(m)
	anon.SetMetrics(m, "default")

	metricsSrv := &http.Server{Addr: cfg.MetricsListenAddr, Handler: metrics.Handler(reg)}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped unexpectedly", "err", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	agg.StartFlushLoop(ctx, []string{"default"}, time.Duration(cfg.FlushTickMs)*time.Millisecond)

	logger.Info("siaacd ready; registered pool", "merkleRoot", pool.MerkleRoot(), "totalKeys", pool.TotalKeys(),
		"metricsAddr", cfg.MetricsListenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig.String())

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	return exitOK
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// parseFlags parses CLI arguments into a Config. Returns the config,
// whether the caller should exit immediately, and the exit code.
func parseFlags(args []string) (config.Config, bool, int) {
	cfg := config.DefaultConfig()
	fs := newFlagSet(&cfg)

	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cfg, true, 2
	}

	if *showVersion {
		fmt.Printf("siaacd %s (commit %s)\n", version, commit)
		return cfg, true, 0
	}

	return cfg, false, 0
}

// newFlagSet creates a flag.FlagSet that binds all CLI flags to the given
// Config. The FlagSet uses ContinueOnError so callers control the error
// handling behavior.
func newFlagSet(cfg *config.Config) *flagSet {
	fs := newCustomFlagSet("siaacd")
	fs.IntVar(&cfg.KeyPoolSize, "keypool.size", cfg.KeyPoolSize, "number of keys to provision in the startup pool")
	fs.IntVar(&cfg.WinternitzW, "keypool.w", cfg.WinternitzW, "Winternitz parameter w (4, 16, or 256)")
	fs.IntVar(&cfg.BatchMaxSize, "batch.maxsize", cfg.BatchMaxSize, "max intents per batch")
	fs.Int64Var(&cfg.BatchMaxWaitMs, "batch.maxwaitms", cfg.BatchMaxWaitMs, "max wait before a size-short batch flushes")
	fs.IntVar(&cfg.BatchMinSize, "batch.minsize", cfg.BatchMinSize, "min intents before a time-triggered flush")
	fs.Int64Var(&cfg.FlushTickMs, "flushtickms", cfg.FlushTickMs, "flush-condition evaluation interval")
	fs.IntVar(&cfg.AnonymityPoolDepth, "anonpool.depth", cfg.AnonymityPoolDepth, "anonymity pool Merkle tree depth")
	fs.IntVar(&cfg.RootWindow, "anonpool.rootwindow", cfg.RootWindow, "rolling accepted-root window size")
	fs.StringVar(&cfg.MetricsListenAddr, "metrics.addr", cfg.MetricsListenAddr, "Prometheus listen address")
	fs.StringVar(&cfg.LogLevel, "loglevel", cfg.LogLevel, "log level (debug, info, warn, error)")
	return fs
}
