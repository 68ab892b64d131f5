// Package canapp is the CAN transmit/receive state machine driven by the
// main loop: operator commands build and submit frames, completion and
// reception events arrive through handshake cells and are reported on the
// text channels.
package canapp

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kstaniek/go-canfd-console/internal/can"
	"github.com/kstaniek/go-canfd-console/internal/handshake"
	"github.com/kstaniek/go-canfd-console/internal/logging"
	"github.com/kstaniek/go-canfd-console/internal/metrics"
	"github.com/kstaniek/go-canfd-console/internal/platform"
)

// State is the single authoritative mode of the CAN subsystem.
type State uint8

const (
	// StateReceiving only tags reception callbacks; the loop never sits in it.
	StateReceiving State = iota
	StateTransmitting
	StateIdle
	StateTransferSucceeded
	StateTransferFailed
	StateAwaitingInput
)

func (s State) String() string {
	switch s {
	case StateReceiving:
		return "receiving"
	case StateTransmitting:
		return "transmitting"
	case StateIdle:
		return "idle"
	case StateTransferSucceeded:
		return "transfer_succeeded"
	case StateTransferFailed:
		return "transfer_failed"
	case StateAwaitingInput:
		return "awaiting_input"
	default:
		return "unknown"
	}
}

// Element stride of each reception path. The controller lays elements out
// at a fixed per-path size which may exceed the frame they carry, so
// batches are walked by stride, never packed.
var pathStride = [can.NumRxPaths]int{
	can.RxFIFO0:  can.ElementSize,
	can.RxFIFO1:  can.ElementSize,
	can.RxBuffer: can.ElementSize,
}

// Default reception memory, in elements.
const (
	DefaultFIFOCapacity = 8
	bufferCapacity      = 1
)

var (
	ErrBatchOverflow = errors.New("canapp: batch exceeds reception memory")
	ErrBusStatus     = errors.New("canapp: controller reports bus error")
)

// Output is where replies go; *textchan.Pair mirrors them to both channels.
type Output interface {
	Print(s string)
	Printf(format string, args ...any)
}

// Batch is one drained reception: Count elements of Stride bytes in Mem.
type Batch struct {
	Path   can.RxPath
	Count  int
	Mem    []byte
	Stride int
}

// Element decodes the i-th element of the batch.
func (b Batch) Element(i int) (can.RxElement, error) {
	off := i * b.Stride
	return can.DecodeRxElement(b.Mem[off : off+b.Stride])
}

// Controller owns the state machine. All methods except the registered
// callbacks run on the main loop.
type Controller struct {
	dev   platform.CAN
	reset platform.Resetter
	out   Output
	sig   *handshake.Signals
	log   *slog.Logger

	state           State
	pending         can.Op
	recoverRejected bool

	capacity [can.NumRxPaths]int
	rxMem    [can.NumRxPaths][]byte
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger replaces the component logger; nil keeps the default.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithRejectRecovery returns to StateAwaitingInput when the transmit FIFO
// refuses a frame outright. Off by default: the machine then stays in
// StateIdle until a completion arrives, which may be never.
func WithRejectRecovery(on bool) Option { return func(c *Controller) { c.recoverRejected = on } }

// WithFIFOCapacity sets how many elements a FIFO path's memory holds.
func WithFIFOCapacity(path can.RxPath, n int) Option {
	return func(c *Controller) {
		if path != can.RxBuffer && n > 0 {
			c.capacity[path] = n
		}
	}
}

// New creates a controller in StateAwaitingInput.
func New(dev platform.CAN, reset platform.Resetter, out Output, sig *handshake.Signals, opts ...Option) *Controller {
	c := &Controller{
		dev:   dev,
		reset: reset,
		out:   out,
		sig:   sig,
		log:   logging.Component("canapp"),
		state: StateAwaitingInput,
	}
	c.capacity[can.RxFIFO0] = DefaultFIFOCapacity
	c.capacity[can.RxFIFO1] = DefaultFIFOCapacity
	c.capacity[can.RxBuffer] = bufferCapacity
	for _, o := range opts {
		o(c)
	}
	for p := range c.rxMem {
		c.rxMem[p] = make([]byte, c.capacity[p]*pathStride[p])
	}
	return c
}

// State returns the current state.
func (c *Controller) State() State { return c.state }

// Pending returns the operation the last transfer event was attributed to.
func (c *Controller) Pending() can.Op { return c.pending }

// Register installs the reception callbacks, tagged as receive operations.
// The callbacks only post to handshake cells.
func (c *Controller) Register() {
	for p := can.RxPath(0); p < can.NumRxPaths; p++ {
		cell := &c.sig.Rx[p]
		c.dev.OnRx(p, func(n uint8, tag can.Op) { cell.Post(n, tag) }, can.OpReceive)
	}
}

// onTxDone runs in interrupt context.
func (c *Controller) onTxDone(tag can.Op) {
	c.sig.TxDone.Post(c.dev.ErrorStatus(), tag)
}

// Menu prints the operator menu.
func (c *Controller) Menu() { c.out.Print(menuText) }

// Command handles one operator keystroke. Keys are only honored while
// awaiting input; otherwise they are ignored.
func (c *Controller) Command(key byte) {
	if c.state != StateAwaitingInput {
		c.log.Debug("command_ignored", "key", string(key), "state", c.state.String())
		return
	}
	if d, ok := lookupDemo(key); ok {
		c.transmit(d)
		return
	}
	switch key {
	case 'm', 'M':
		c.Menu()
	case 'r', 'R':
		c.log.Info("device_reset")
		c.reset.Reset()
	default:
		metrics.IncInvalidCommand()
		c.out.Print(msgInvalid)
	}
}

func (c *Controller) transmit(d demo) {
	c.state = StateTransmitting
	f := d.frame()
	var el [can.ElementSize]byte
	n, err := can.EncodeTxElement(el[:], f)
	if err != nil {
		// canned frames are valid by construction
		c.log.Error("can_tx_encode_error", "key", string(d.key), "error", err)
		c.state = StateAwaitingInput
		return
	}
	c.out.Printf("\r\n[CAN] %s.\r\n", d.title)
	c.dev.OnTxDone(c.onTxDone, can.OpTransmit)
	c.pending = can.OpTransmit
	c.state = StateIdle
	if err := c.dev.SubmitTx(platform.TxFIFO, el[:n]); err != nil {
		metrics.IncTxRejected()
		c.log.Warn("can_tx_rejected", "id", fmt.Sprintf("0x%X", f.ID), "error", err)
		c.out.Print(msgSubmitRejected)
		if c.recoverRejected {
			c.state = StateAwaitingInput
		}
		return
	}
	metrics.IncTxSubmitted()
	c.log.Debug("can_tx_submit", "id", fmt.Sprintf("0x%X", f.ID), "len", f.Len, "dlc", f.DLC(), "fd", f.FD, "ext", f.Extended)
}

// Step advances the machine with one iteration's snapshot: apply a
// transmit completion, report a finished transfer, then drain every
// reception path whose cell fired.
func (c *Controller) Step(snap handshake.Snapshot) {
	if snap.TxPending {
		c.complete(snap.TxDone)
	}

	switch c.state {
	case StateTransferSucceeded:
		if c.pending == can.OpTransmit {
			c.out.Print(msgSent)
		}
		c.state = StateAwaitingInput
	case StateTransferFailed:
		if c.pending == can.OpReceive {
			c.out.Print(msgRxFailed)
		} else {
			c.out.Print(msgSendFailed)
		}
		c.state = StateAwaitingInput
	}

	for p := can.RxPath(0); p < can.NumRxPaths; p++ {
		if snap.RxPending[p] {
			c.receive(p, snap.Rx[p])
		}
	}
}

func (c *Controller) complete(ev handshake.CompletionEvent) {
	c.pending = ev.Tag
	ok := ev.Status.OK()
	metrics.IncTxResult(ok)
	c.log.Debug("can_tx_done", "status", ev.Status.String(), "tag", ev.Tag.String())
	if !ok {
		c.state = StateTransferFailed
		return
	}
	if ev.Tag == can.OpTransmit {
		c.state = StateTransferSucceeded
	}
}

func (c *Controller) receive(path can.RxPath, ev handshake.BatchEvent) {
	c.pending = ev.Tag
	if ev.Tag != can.OpReceive {
		return
	}
	if st := c.dev.ErrorStatus(); !st.OK() {
		c.rxFailed(path, fmt.Errorf("%w: %s", ErrBusStatus, st))
		return
	}
	count := int(ev.Count)
	if path == can.RxBuffer {
		count = 1 // Count carries the buffer index
	}
	if count == 0 {
		return
	}
	if count > c.capacity[path] {
		c.rxFailed(path, fmt.Errorf("%w: %s %d > %d", ErrBatchOverflow, path, count, c.capacity[path]))
		return
	}
	stride := pathStride[path]
	mem := c.rxMem[path][:count*stride]
	clear(mem)
	got, err := c.dev.ReceiveBatch(path, ev.Count, mem, stride)
	if err != nil {
		c.rxFailed(path, err)
		return
	}
	if got == 0 {
		// drained together with an earlier event
		return
	}
	count = got
	if err := c.report(Batch{Path: path, Count: count, Mem: mem[:count*stride], Stride: stride}); err != nil {
		c.rxFailed(path, err)
		return
	}
	metrics.AddRxFrames(path.String(), count)
	c.log.Debug("can_rx_batch", "path", path.String(), "count", count)
}

func (c *Controller) rxFailed(path can.RxPath, err error) {
	metrics.IncError(metrics.ErrCANRx)
	c.log.Warn("can_rx_error", "path", path.String(), "error", err)
	c.pending = can.OpReceive
	c.state = StateTransferFailed
}

// report prints the path header followed by one block per message.
func (c *Controller) report(b Batch) error {
	c.out.Print(rxHeaders[b.Path])
	var sb strings.Builder
	for i := 0; i < b.Count; i++ {
		e, err := b.Element(i)
		if err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		sb.Reset()
		fmt.Fprintf(&sb, " New Message Received: [ Timestamp = 0x%x | ID = 0x%x | Length = %d | Data : ",
			e.Timestamp, e.ID(), e.Len())
		for _, v := range e.Payload() {
			fmt.Fprintf(&sb, "0x%x ", v)
		}
		sb.WriteString(" ]\r\n")
		c.out.Print(sb.String())
	}
	return nil
}
