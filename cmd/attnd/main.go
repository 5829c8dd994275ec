// Package main — cmd/attnd/main.go
//
// attnd daemon entrypoint.
//
// Startup sequence:
//  1. Load and validate config from ~/.config/attnd/config.yaml.
//  2. Initialise structured logger (zap; JSON, or console when log_format is "console").
//  3. Load or generate the Ed25519 identity key.
//  4. Open the BoltDB audit ledger.
//  5. Prune stale ledger entries.
//  6. Start the Prometheus metrics server (127.0.0.1:9091).
//  7. Construct the AttentionBattery and Correlation Core.
//  8. Start the Correlation Core's analysis loop.
//  9. Start the FileMonitor.
// 10. Start the Sensor Intake server.
// 11. Start the Ticket Service.
// 12. Register SIGHUP handler that re-reads, validates and logs the config.
// 13. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Stop the FileMonitor gracefully, logging its exit stats, and wait
//     until its drained events have been forwarded to the Core.
//  2. Cancel the root context (propagates to all goroutines).
//  3. Close the audit ledger.
//  4. Flush the logger.
//  5. Exit 0.
//
// On config validation failure: exit 1 immediately.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/attnd/attnd/internal/battery"
	"github.com/attnd/attnd/internal/config"
	"github.com/attnd/attnd/internal/core"
	"github.com/attnd/attnd/internal/identity"
	"github.com/attnd/attnd/internal/ledger"
	"github.com/attnd/attnd/internal/observability"
	"github.com/attnd/attnd/internal/sensor"
	"github.com/attnd/attnd/internal/ticket"
	"github.com/attnd/attnd/internal/watcher"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", defaultConfigPath(), "Path to config.yaml")
	printVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *printVersion {
		fmt.Printf("attnd %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("attnd starting",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.String("watch_root", cfg.Daemon.WatchRoot),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, err := identity.Load(cfg.Daemon.KeyDir, log)
	if err != nil {
		log.Fatal("identity load failed", zap.Error(err), zap.String("key_dir", cfg.Daemon.KeyDir))
	}
	log.Info("identity loaded", zap.String("public_key", id.PublicKeyHex()))

	ledgerDB, err := ledger.Open(cfg.Ledger.DBPath, cfg.Ledger.RetentionDays)
	if err != nil {
		log.Fatal("ledger open failed", zap.Error(err), zap.String("path", cfg.Ledger.DBPath))
	}
	defer ledgerDB.Close() //nolint:errcheck
	log.Info("audit ledger opened", zap.String("path", cfg.Ledger.DBPath))

	if pruned, err := ledgerDB.Prune(); err != nil {
		log.Warn("ledger pruning failed", zap.Error(err))
	} else {
		log.Info("ledger pruned", zap.Int("deleted_buckets", pruned))
	}

	metrics := observability.NewMetrics()
	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	batt := battery.New(cfg.Battery.Capacity, cfg.Battery.LeakRatePerSec, cfg.Battery.Jumpstart, time.Now)

	coreCfg := core.Config{
		WatchRoot:        cfg.Daemon.WatchRoot,
		RingSize:         cfg.Kinematics.RingSize,
		MinSamples:       cfg.Kinematics.MinSamples,
		SyntheticCVLimit: cfg.Kinematics.SyntheticCVLimit,
		AnalysisTick:     cfg.Core.AnalysisTick,
		NoveltyEMARho:    cfg.Core.NoveltyEMARho,
		CouplingEMARho:   cfg.Core.CouplingEMARho,
		ScoreHistoryCap:  cfg.Core.ScoreHistoryCap,
		MinEntropy:       cfg.Complexity.MinEntropy,
		PasteThresholds:  cfg.Complexity.PasteThresholds,
		RepoContextTTL:   cfg.Complexity.RepoContextTTL,
		RepoContextFiles: cfg.Complexity.RepoContextFiles,
	}
	corr := core.New(coreCfg, batt, metrics, log)
	go corr.Run(ctx)
	log.Info("correlation core started")

	watchPolicy := watcher.Policy{
		RawChannelCapacity:     cfg.Watcher.RawChannelCapacity,
		OutChannelCapacity:     cfg.Watcher.OutChannelCapacity,
		DebounceWindow:         cfg.Watcher.DebounceWindow,
		EvictEvery:             cfg.Watcher.EvictEvery,
		EvictAgeMultiple:       cfg.Watcher.EvictAgeMultiple,
		IgnoreDirs:             toSet(cfg.Watcher.IgnoreDirs),
		IgnoreExtensions:       toSet(cfg.Watcher.IgnoreExtensions),
		GracefulDrainMax:       cfg.Watcher.GracefulDrainMax,
		GracefulDrainMaxEvents: cfg.Watcher.GracefulDrainMaxEvents,
	}
	mon, err := watcher.New(cfg.Daemon.WatchRoot, watchPolicy, log)
	if err != nil {
		log.Fatal("watcher construction failed", zap.Error(err), zap.String("root", cfg.Daemon.WatchRoot))
	}
	if err := mon.Start(ctx); err != nil {
		log.Fatal("watcher start failed", zap.Error(err))
	}
	forwardDone := make(chan struct{})
	go func() {
		forwardFileEvents(ctx, mon.Events(), corr.FileChan(), metrics)
		close(forwardDone)
	}()
	log.Info("file monitor started", zap.String("root", cfg.Daemon.WatchRoot))

	sensorSrv := sensor.NewServer(cfg.Sensor.SocketPath, corr.SensorChan(), corr.BatteryLevel, metrics, log)
	go func() {
		if err := sensorSrv.ListenAndServe(ctx); err != nil {
			log.Fatal("sensor server error", zap.Error(err))
		}
	}()
	log.Info("sensor intake started", zap.String("socket", cfg.Sensor.SocketPath))

	ticketSrv := ticket.NewServer(cfg.Daemon.TicketSocketPath, corr, id, ledgerDB, metrics, log, cfg.Complexity.MinEntropy)
	go func() {
		if err := ticketSrv.ListenAndServe(ctx); err != nil {
			log.Fatal("ticket server error", zap.Error(err))
		}
	}()
	log.Info("ticket service started", zap.String("socket", cfg.Daemon.TicketSocketPath))

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received — reloading config...")
			newCfg, err := config.Load(*configPath)
			if err != nil {
				log.Error("config hot-reload failed — retaining previous config", zap.Error(err))
				continue
			}
			log.Info("config hot-reload successful",
				zap.Float64("new_leak_rate_per_sec", newCfg.Battery.LeakRatePerSec),
				zap.String("new_log_level", newCfg.Observability.LogLevel),
			)
			// The reloaded config is only validated and logged: no field
			// (thresholds, weights, log level, paths) is applied to the
			// running components; new values take effect at the next start.
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	// Stop the FileMonitor first: it drains its pending raw backlog and
	// closes Events() itself, so forwardFileEvents (still reading ctx,
	// uncancelled) forwards every gracefully-drained event before it sees
	// the channel close. Only once it has returned is the root context
	// cancelled, which unwinds every other goroutine.
	stats := mon.Stop(watcher.ShutdownGraceful)
	<-forwardDone
	log.Info("file monitor stopped",
		zap.Int64("emitted", stats.Emitted),
		zap.Int64("debounced", stats.Debounced),
		zap.Int64("raw_dropped", stats.RawDroppedOverflow),
		zap.Int64("out_dropped", stats.OutDroppedOverflow),
	)

	cancel()

	log.Info("attnd shutdown complete")
}

// forwardFileEvents relays FileMonitor EditEvents into the Correlation
// Core's file channel, counting overflow drops into metrics.
func forwardFileEvents(ctx context.Context, in <-chan watcher.EditEvent, out chan<- watcher.EditEvent, metrics *observability.Metrics) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			metrics.WatcherEventsEmittedTotal.Inc()
			select {
			case out <- ev:
			default:
				metrics.WatcherEventsDroppedTotal.WithLabelValues("core_file_channel").Inc()
			}
		}
	}
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return home + "/.config/attnd/config.yaml"
}

func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
