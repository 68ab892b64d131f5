// Package textchan implements blocking text output over DMA-driven UARTs.
//
// Send looks synchronous but is built from a DMA transfer plus a completion
// flag raised by the DMA interrupt; the caller spins until the flag comes
// back. It must only be called from the main loop: an interrupt-side caller
// would wait forever for a completion that cannot be delivered.
package textchan

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/kstaniek/go-canfd-console/internal/handshake"
	"github.com/kstaniek/go-canfd-console/internal/logging"
	"github.com/kstaniek/go-canfd-console/internal/metrics"
	"github.com/kstaniek/go-canfd-console/internal/platform"
)

// ErrSendTimeout is returned when a bounded send sees no DMA completion.
var ErrSendTimeout = errors.New("textchan: send timeout")

// ErrTransfer wraps a DMA start failure.
var ErrTransfer = errors.New("textchan: transfer")

// Channel is one DMA-backed text output.
type Channel struct {
	id      platform.Channel
	dma     platform.DMA
	done    handshake.Flag // raised by the DMA completion interrupt; true while idle
	timeout time.Duration
	buf     []byte
	now     func() time.Time
}

// Option configures a Channel.
type Option func(*Channel)

// WithTimeout bounds the completion wait. Zero (the default) waits forever.
func WithTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New binds a channel to its DMA path and registers the completion handler.
func New(id platform.Channel, dma platform.DMA, opts ...Option) *Channel {
	c := &Channel{id: id, dma: dma, buf: make([]byte, 0, 512), now: time.Now}
	for _, o := range opts {
		o(c)
	}
	c.done.Set()
	dma.OnComplete(id, c.done.Set)
	return c
}

// ID returns the channel identity.
func (c *Channel) ID() platform.Channel { return c.id }

// Idle reports whether no transfer is outstanding.
func (c *Channel) Idle() bool { return c.done.IsSet() }

// Send transfers b and waits for the DMA completion interrupt.
func (c *Channel) Send(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	c.done.Clear()
	if err := c.dma.Transfer(c.id, b); err != nil {
		c.done.Set()
		return fmt.Errorf("%w: %s: %w", ErrTransfer, c.id, err)
	}
	var start time.Time
	if c.timeout > 0 {
		start = c.now()
	}
	for !c.done.IsSet() {
		if c.timeout > 0 && c.now().Sub(start) > c.timeout {
			// the stalled transfer may still own b
			c.buf = nil
			return fmt.Errorf("%w: %s after %s", ErrSendTimeout, c.id, c.timeout)
		}
		runtime.Gosched()
	}
	metrics.AddTextBytes(c.id.String(), len(b))
	return nil
}

// Printf formats into the channel's buffer and sends it.
func (c *Channel) Printf(format string, args ...any) error {
	c.buf = fmt.Appendf(c.buf[:0], format, args...)
	return c.Send(c.buf)
}

// Pair mirrors every message to the debug console and the peer link.
// Failures are logged and counted; they never reach the caller.
type Pair struct {
	Debug *Channel
	Peer  *Channel
	log   *slog.Logger
}

// NewPair creates both channels on dma with the same options.
func NewPair(dma platform.DMA, opts ...Option) *Pair {
	return &Pair{
		Debug: New(platform.Debug, dma, opts...),
		Peer:  New(platform.Peer, dma, opts...),
		log:   logging.Component("textchan"),
	}
}

// Print sends s on both channels.
func (p *Pair) Print(s string) {
	p.each(func(c *Channel) error { return c.Send([]byte(s)) })
}

// Printf formats once per channel and sends on both.
func (p *Pair) Printf(format string, args ...any) {
	p.each(func(c *Channel) error { return c.Printf(format, args...) })
}

func (p *Pair) each(fn func(*Channel) error) {
	for _, c := range [...]*Channel{p.Debug, p.Peer} {
		if err := fn(c); err != nil {
			label := metrics.ErrTextSend
			if errors.Is(err, ErrSendTimeout) {
				label = metrics.ErrTextTimeout
			}
			metrics.IncError(label)
			p.log.Warn("text_send_error", "channel", c.id.String(), "error", err)
		}
	}
}
