package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/kstaniek/go-canfd-console/internal/hostboard"
	"github.com/kstaniek/go-canfd-console/internal/metrics"
	"github.com/kstaniek/go-canfd-console/internal/platform"
	"github.com/kstaniek/go-canfd-console/internal/scheduler"
	"github.com/kstaniek/go-canfd-console/internal/serial"
	"github.com/kstaniek/go-canfd-console/internal/sim"
	"github.com/kstaniek/go-canfd-console/internal/socketcan"
)

// Hooks for tests (overridden in unit tests).
var (
	openSerialPort           = serial.Open
	openCANDevice            = func(iface string) (socketcan.Dev, error) { return socketcan.Open(iface) }
	simStdin       io.Reader = os.Stdin
	simStdout      io.Writer = os.Stdout
)

// initBackend selects the board, starts its goroutines and returns it with
// a cleanup function. Errors are returned instead of exiting so the caller
// can log them.
func initBackend(ctx context.Context, cfg *appConfig, l *slog.Logger, wg *sync.WaitGroup) (platform.Board, func(), error) {
	switch cfg.backend {
	case "host":
		return initHostBackend(ctx, cfg, l)
	case "sim":
		return initSimBackend(ctx, l, wg), func() {}, nil
	default:
		return nil, func() {}, fmt.Errorf("unknown backend %q (use host|sim)", cfg.backend)
	}
}

func initHostBackend(ctx context.Context, cfg *appConfig, l *slog.Logger) (platform.Board, func(), error) {
	debug, err := openSerialPort(cfg.debugSerial, cfg.baud, cfg.serialReadTO)
	if err != nil {
		return nil, func() {}, fmt.Errorf("open debug serial: %w", err)
	}
	l.Info("serial_open", "channel", "debug", "device", cfg.debugSerial, "baud", cfg.baud)
	peer, err := openSerialPort(cfg.peerSerial, cfg.peerBaud, cfg.serialReadTO)
	if err != nil {
		_ = debug.Close()
		return nil, func() {}, fmt.Errorf("open peer serial: %w", err)
	}
	l.Info("serial_open", "channel", "peer", "device", cfg.peerSerial, "baud", cfg.peerBaud)
	dev, err := openCANDevice(cfg.canIf)
	if err != nil {
		_ = debug.Close()
		_ = peer.Close()
		return nil, func() {}, fmt.Errorf("socketcan open %s: %w", cfg.canIf, err)
	}
	l.Info("socketcan_open", "if", cfg.canIf)
	b, err := hostboard.New(ctx, hostboard.Config{
		Debug:      debug,
		Peer:       peer,
		CAN:        dev,
		RxBufferID: cfg.rxBufferID,
		FIFODepth:  cfg.rxFIFODepth,
		Logger:     l.With("component", "hostboard"),
	})
	if err != nil {
		_ = debug.Close()
		_ = peer.Close()
		_ = dev.Close()
		return nil, func() {}, err
	}
	return b, b.Close, nil
}

// initSimBackend runs the in-memory board with CAN loopback: the debug
// console is stdio, peer output is discarded, the trigger is a signal.
func initSimBackend(ctx context.Context, l *slog.Logger, wg *sync.WaitGroup) platform.Board {
	b := sim.New()
	b.Loopback = true
	b.SetWriter(platform.Debug, simStdout)
	b.SetWriter(platform.Peer, io.Discard)
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.RunTimer(ctx)
	}()
	// not tracked: a read blocked on a terminal cannot be interrupted
	go pumpInput(ctx, b, simStdin, l)
	notifyTrigger(ctx, wg, b.FireEdge)
	l.Info("sim_backend", "loopback", true)
	return b
}

// wireReset lets boards that cannot reboot the process (sim) restart the
// console in place. The host board re-executes instead.
func wireReset(board platform.Board, s *scheduler.Scheduler) bool {
	r, ok := board.(interface{ OnReset(func()) })
	if ok {
		r.OnReset(s.Restart)
	}
	return ok
}

// pumpInput feeds r into the sim debug channel until EOF or ctx is done.
func pumpInput(ctx context.Context, b *sim.Board, r io.Reader, l *slog.Logger) {
	buf := make([]byte, 64)
	for ctx.Err() == nil {
		n, err := r.Read(buf)
		if n > 0 {
			b.Input(platform.Debug, buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				metrics.IncError(metrics.ErrSerialRead)
				l.Warn("stdin_read_error", "error", err)
			}
			return
		}
	}
}
