package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-canfd-console/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"can_tx_submitted", snap.TxSubmitted,
					"can_tx_rejected", snap.TxRejected,
					"can_tx_ok", snap.TxOK,
					"can_tx_failed", snap.TxFailed,
					"can_rx_frames", snap.RxFrames,
					"invalid_commands", snap.Invalid,
					"rate_changes", snap.RateChanges,
					"led_toggles", snap.LEDToggles,
					"text_bytes", snap.TextBytes,
					"bridge_bytes", snap.BridgeBytes,
					"loop_iterations", snap.Iterations,
					"send_timeouts", snap.SendTimeouts,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
