package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/kstaniek/go-canfd-console/internal/metrics"
	"github.com/kstaniek/go-canfd-console/internal/scheduler"
)

func main() {
	cfg, showVersion, err := parseFlags(os.Args[1:])
	if showVersion {
		fmt.Printf("canfd-console %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	board, cleanup, err := initBackend(ctx, cfg, l, &wg)
	if err != nil {
		l.Error("backend_init_error", "error", err)
		cancel()
		wg.Wait()
		os.Exit(1)
	}

	sched := scheduler.New(board, scheduler.Config{
		SendTimeout:    cfg.sendTimeout,
		Idle:           cfg.loopIdle,
		RejectRecovery: cfg.txRejectRecover,
		FIFOCapacity:   cfg.rxFIFODepth,
		Logger:         l.With("component", "scheduler"),
	})
	sched.Start()
	wireReset(board, sched)

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
		startDiscovery(ctx, cfg, l)
	}

	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		l.Error("scheduler_error", "error", err)
	}
	l.Info("shutdown")
	cleanup()
	wg.Wait()
}

// startDiscovery advertises the metrics endpoint until ctx is done.
func startDiscovery(ctx context.Context, cfg *appConfig, l *slog.Logger) {
	if !cfg.mdnsEnable {
		return
	}
	port, err := portOf(cfg.metricsAddr)
	if err != nil {
		l.Warn("mdns_start_failed", "error", err)
		return
	}
	if _, err := startMDNS(ctx, cfg, port); err != nil {
		l.Warn("mdns_start_failed", "error", err)
		return
	}
	l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", port)
}
