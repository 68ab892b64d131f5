// Package scheduler runs the single cooperative main loop. Each iteration
// drains the handshake cells once and feeds the snapshot to the CAN state
// machine, the text bridge and the rate controller, in that order.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/kstaniek/go-canfd-console/internal/can"
	"github.com/kstaniek/go-canfd-console/internal/canapp"
	"github.com/kstaniek/go-canfd-console/internal/handshake"
	"github.com/kstaniek/go-canfd-console/internal/logging"
	"github.com/kstaniek/go-canfd-console/internal/metrics"
	"github.com/kstaniek/go-canfd-console/internal/platform"
	"github.com/kstaniek/go-canfd-console/internal/rate"
	"github.com/kstaniek/go-canfd-console/internal/textchan"
)

const banner = "\r\n ------------------------------------------------ \r\n" +
	"     CAN-FD & Peer Link Console               \r\n" +
	" ------------------------------------------------ \r\n\r\n"

// Config tunes the loop and the components it owns.
type Config struct {
	// SendTimeout bounds every text send; zero waits forever.
	SendTimeout time.Duration
	// Idle is slept after an iteration that found no work; zero spins.
	Idle time.Duration
	// RejectRecovery returns the CAN machine to awaiting input after a
	// synchronous submission refusal.
	RejectRecovery bool
	// FIFOCapacity overrides the per-FIFO reception memory, in elements.
	FIFOCapacity int
	Logger       *slog.Logger
}

// Scheduler wires a board to the application components.
type Scheduler struct {
	board platform.Board
	sig   handshake.Signals
	text  *textchan.Pair
	can   *canapp.Controller
	rate  *rate.Controller
	idle  time.Duration
	log   *slog.Logger
}

// New builds the components on b. Only the text channels register their
// DMA completions here; everything else waits for Start.
func New(b platform.Board, cfg Config) *Scheduler {
	s := &Scheduler{board: b, idle: cfg.Idle, log: cfg.Logger}
	if s.log == nil {
		s.log = logging.Component("scheduler")
	}
	s.text = textchan.NewPair(b, textchan.WithTimeout(cfg.SendTimeout))
	opts := []canapp.Option{
		canapp.WithRejectRecovery(cfg.RejectRecovery),
		canapp.WithLogger(cfg.Logger),
	}
	if cfg.FIFOCapacity > 0 {
		opts = append(opts,
			canapp.WithFIFOCapacity(can.RxFIFO0, cfg.FIFOCapacity),
			canapp.WithFIFOCapacity(can.RxFIFO1, cfg.FIFOCapacity))
	}
	s.can = canapp.New(b, b, s.text, &s.sig, opts...)
	s.rate = rate.New(b, b, s.text)
	return s
}

// CAN exposes the state machine for inspection.
func (s *Scheduler) CAN() *canapp.Controller { return s.can }

// Rate exposes the rate controller for inspection.
func (s *Scheduler) Rate() *rate.Controller { return s.rate }

// Start registers every interrupt-side callback, starts the periodic timer
// and prints the banner and menu. Callbacks only touch handshake cells.
func (s *Scheduler) Start() {
	s.board.OnEdge(s.sig.Trigger.Set)
	s.board.OnCompare(s.sig.TimerMatch.Set)
	s.can.Register()
	s.rate.Start()
	s.text.Print(banner)
	s.can.Menu()
	s.log.Info("scheduler_started", "tier", s.rate.Current().Name)
}

// Restart brings the application back to its power-on view without
// re-registering callbacks: first rate tier, banner and menu. Boards that
// cannot reboot the process call it from Reset, on the loop goroutine.
func (s *Scheduler) Restart() {
	s.rate.Reset()
	s.text.Print(banner)
	s.can.Menu()
	s.log.Info("scheduler_restarted")
}

// Iterate runs one loop pass and reports whether it found any work.
func (s *Scheduler) Iterate() bool {
	snap := s.sig.Drain()
	s.can.Step(snap)
	bridged := s.bridge()
	s.rate.Step(snap)
	metrics.IncIteration()
	return bridged || !snap.Empty()
}

// bridge relays at most one byte each way. Debug bytes are also operator
// commands; peer bytes are only displayed.
func (s *Scheduler) bridge() bool {
	worked := false
	if c, ok := s.board.ReadByte(platform.Debug); ok {
		worked = true
		s.relay(platform.Peer, c, "debug_to_peer")
		s.can.Command(c)
	}
	if c, ok := s.board.ReadByte(platform.Peer); ok {
		worked = true
		s.relay(platform.Debug, c, "peer_to_debug")
	}
	return worked
}

func (s *Scheduler) relay(to platform.Channel, c byte, dir string) {
	if _, err := s.board.Write(to, []byte{c}); err != nil {
		metrics.IncError(metrics.ErrSerialWrite)
		s.log.Warn("bridge_write_error", "to", to.String(), "error", err)
		return
	}
	metrics.AddBridgeBytes(dir, 1)
}

// Run loops until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	var t *time.Timer
	if s.idle > 0 {
		t = time.NewTimer(s.idle)
		defer t.Stop()
	}
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler_stopped")
			return ctx.Err()
		default:
		}
		if s.Iterate() || t == nil {
			continue
		}
		t.Reset(s.idle)
		select {
		case <-ctx.Done():
		case <-t.C:
		}
	}
}
