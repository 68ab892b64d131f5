// Package rate cycles the LED toggle period on external trigger events and
// toggles the LED on every timer compare match.
package rate

import (
	"log/slog"
	"time"

	"github.com/kstaniek/go-canfd-console/internal/handshake"
	"github.com/kstaniek/go-canfd-console/internal/logging"
	"github.com/kstaniek/go-canfd-console/internal/metrics"
	"github.com/kstaniek/go-canfd-console/internal/platform"
)

// TicksPerSecond is the timer clock: 1.024 kHz.
const TicksPerSecond = 1024

// Tier is one toggle period.
type Tier struct {
	Period  time.Duration
	Compare uint32
	Name    string
}

// Tiers in trigger order; the timer starts on the first.
var Tiers = [...]Tier{
	{500 * time.Millisecond, 512, "500 milliSeconds"},
	{time.Second, 1024, "1 second"},
	{2 * time.Second, 2048, "2 seconds"},
	{4 * time.Second, 4096, "4 seconds"},
}

// Printer receives the rate change announcement.
type Printer interface {
	Printf(format string, args ...any)
}

// Controller owns the current tier. Step runs on the main loop only.
type Controller struct {
	timer platform.Timer
	led   platform.LED
	out   Printer
	log   *slog.Logger
	tier  int
}

// New returns a controller at the first tier. It does not touch the timer.
func New(timer platform.Timer, led platform.LED, out Printer) *Controller {
	return &Controller{timer: timer, led: led, out: out, log: logging.Component("rate")}
}

// Current returns the active tier.
func (c *Controller) Current() Tier { return Tiers[c.tier] }

// Start programs the first tier's compare value and starts the timer.
func (c *Controller) Start() {
	c.timer.SetCompare(Tiers[c.tier].Compare)
	c.timer.Start()
}

// Reset returns to the first tier and restarts its period.
func (c *Controller) Reset() {
	c.tier = 0
	c.timer.SetCompare(Tiers[0].Compare)
	c.timer.SetCounter(0)
}

// Step toggles the LED on a compare match and advances the tier on a
// trigger. A trigger resets the counter so the new period starts fresh.
func (c *Controller) Step(snap handshake.Snapshot) {
	if snap.TimerMatch {
		c.led.Toggle()
		metrics.IncLEDToggle()
	}
	if !snap.Trigger {
		return
	}
	c.tier = (c.tier + 1) % len(Tiers)
	t := Tiers[c.tier]
	c.timer.SetCompare(t.Compare)
	c.timer.SetCounter(0)
	metrics.SetRate(t.Period.Seconds())
	c.log.Info("rate_change", "period", t.Period.String(), "compare", t.Compare)
	c.out.Printf(announceFormat, t.Name)
}

const announceFormat = "\r\n[LED0] toggle rate is now %s\r\n"
