// Package hostboard runs the console on a host computer: two serial ports
// stand in for the UARTs, a SocketCAN interface for the CAN-FD controller,
// a wall-clock timer for the periodic compare unit and a signal for the
// external trigger. Every callback fires from a board goroutine and must
// only post to handshake cells.
package hostboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/kstaniek/go-canfd-console/internal/can"
	"github.com/kstaniek/go-canfd-console/internal/logging"
	"github.com/kstaniek/go-canfd-console/internal/metrics"
	"github.com/kstaniek/go-canfd-console/internal/platform"
	"github.com/kstaniek/go-canfd-console/internal/serial"
	"github.com/kstaniek/go-canfd-console/internal/socketcan"
)

// TicksPerSecond is the compare unit clock.
const TicksPerSecond = 1024

const (
	defaultFIFODepth = 8
	defaultTxDepth   = 1
	defaultRing      = 256
	rxBackoffMin     = 20 * time.Millisecond
	rxBackoffMax     = 500 * time.Millisecond
)

// NoRxBuffer disables the dedicated reception buffer path.
const NoRxBuffer = -1

// sleepFn allows tests to intercept read backoff sleeps.
var sleepFn = time.Sleep

// Config describes the host resources. The board takes ownership of the
// ports and the CAN device and closes them in Close.
type Config struct {
	Debug serial.Port
	Peer  serial.Port
	CAN   socketcan.Dev
	// RxBufferID routes standard frames with this identifier to the
	// dedicated buffer path; NoRxBuffer disables it.
	RxBufferID int
	// FIFODepth bounds each reception FIFO; frames arriving when it is
	// full are lost, as on the controller.
	FIFODepth int
	// TxDepth is the transmit FIFO size.
	TxDepth int
	Logger  *slog.Logger
}

type element = [can.ElementSize]byte

// Board implements platform.Board on host resources.
type Board struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *slog.Logger
	cfg    Config

	ports   [platform.NumChannels]serial.Port
	readers [platform.NumChannels]*serial.Reader
	writers [platform.NumChannels]*serial.TXWriter
	canTx   *socketcan.TXWriter

	mu      sync.Mutex
	dmaDone [platform.NumChannels]func()
	txFn    func(can.Op)
	txTag   can.Op
	rxFn    [can.NumRxPaths]func(uint8, can.Op)
	rxTag   [can.NumRxPaths]can.Op
	pending [can.NumRxPaths][]element
	status  can.LEC
	ts      uint16
	edgeFn  func()
	led     bool
	sigs    chan os.Signal

	timer *wallTimer
}

var _ platform.Board = (*Board)(nil)

// New starts the board's goroutines. Call Close to stop them.
func New(parent context.Context, cfg Config) (*Board, error) {
	if cfg.Debug == nil || cfg.Peer == nil {
		return nil, errors.New("hostboard: both serial ports are required")
	}
	if cfg.CAN == nil {
		return nil, errors.New("hostboard: CAN device is required")
	}
	if cfg.FIFODepth <= 0 {
		cfg.FIFODepth = defaultFIFODepth
	}
	if cfg.TxDepth <= 0 {
		cfg.TxDepth = defaultTxDepth
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Component("hostboard")
	}
	ctx, cancel := context.WithCancel(parent)
	b := &Board{ctx: ctx, cancel: cancel, log: cfg.Logger, cfg: cfg}
	b.ports = [platform.NumChannels]serial.Port{platform.Debug: cfg.Debug, platform.Peer: cfg.Peer}
	for ch := platform.Channel(0); ch < platform.NumChannels; ch++ {
		b.readers[ch] = serial.NewReader(ctx, b.ports[ch], defaultRing, b.log.With("channel", ch.String()))
		b.writers[ch] = serial.NewTXWriter(ctx, b.ports[ch], 1, func() { b.dmaComplete(ch) })
	}
	b.canTx = socketcan.NewTXWriter(ctx, cfg.CAN, cfg.TxDepth, socketcan.Hooks{
		OnSent: func() { b.txComplete(can.LECNone) },
		OnError: func(err error) {
			b.log.Warn("can_write_error", "error", err)
			// a refused write surfaces like a missing acknowledgment
			b.txComplete(can.LECAck)
		},
	})
	b.timer = newWallTimer()
	b.wg.Add(2)
	go b.canRxLoop()
	go func() {
		defer b.wg.Done()
		b.timer.run(ctx)
	}()
	b.startEdgeSource()
	return b, nil
}

// Close stops the goroutines and releases the devices.
func (b *Board) Close() {
	b.cancel()
	b.stopEdgeSource()
	for ch := range b.writers {
		b.writers[ch].Close()
		_ = b.ports[ch].Close()
	}
	b.canTx.Close()
	_ = b.cfg.CAN.Close()
	for _, r := range b.readers {
		r.Wait()
	}
	b.wg.Wait()
}

// ---- DMA ----

func (b *Board) Transfer(ch platform.Channel, p []byte) error {
	if ch >= platform.NumChannels {
		return fmt.Errorf("hostboard: no dma channel %d", ch)
	}
	if err := b.writers[ch].Submit(p); err != nil {
		return fmt.Errorf("%w: %w", platform.ErrDMABusy, err)
	}
	return nil
}

func (b *Board) OnComplete(ch platform.Channel, fn func()) {
	b.mu.Lock()
	b.dmaDone[ch] = fn
	b.mu.Unlock()
}

func (b *Board) dmaComplete(ch platform.Channel) {
	b.mu.Lock()
	fn := b.dmaDone[ch]
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// ---- raw serial ----

func (b *Board) ReadByte(ch platform.Channel) (byte, bool) { return b.readers[ch].ReadByte() }

func (b *Board) Write(ch platform.Channel, p []byte) (int, error) { return b.ports[ch].Write(p) }

// ---- CAN ----

func (b *Board) SubmitTx(q platform.TxQueue, el []byte) error {
	if q != platform.TxFIFO {
		return fmt.Errorf("%w: unknown queue %d", platform.ErrTxRejected, q)
	}
	e, err := can.DecodeRxElement(el)
	if err != nil {
		return fmt.Errorf("%w: %w", platform.ErrTxRejected, err)
	}
	if err := b.canTx.SendFrame(e.Frame()); err != nil {
		return fmt.Errorf("%w: %w", platform.ErrTxRejected, err)
	}
	return nil
}

func (b *Board) txComplete(status can.LEC) {
	b.mu.Lock()
	b.status = status
	fn, tag := b.txFn, b.txTag
	b.mu.Unlock()
	if fn != nil {
		fn(tag)
	}
}

// ReceiveBatch drains min(n, fill level) elements; a frame that arrived
// after the callback's count was taken stays pending for its own callback.
func (b *Board) ReceiveBatch(path can.RxPath, n uint8, dst []byte, stride int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	count := int(n)
	if path == can.RxBuffer {
		count = 1
	}
	count = min(count, len(b.pending[path]))
	if count*stride > len(dst) || stride < can.ElementSize {
		return 0, fmt.Errorf("%w: %s destination too small", platform.ErrRxFailed, path)
	}
	for i := 0; i < count; i++ {
		copy(dst[i*stride:], b.pending[path][i][:])
	}
	b.pending[path] = b.pending[path][count:]
	return count, nil
}

// ErrorStatus reads and resets the latched error code.
func (b *Board) ErrorStatus() can.LEC {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.status
	b.status = can.LECNoChange
	return st
}

func (b *Board) OnTxDone(fn func(can.Op), tag can.Op) {
	b.mu.Lock()
	b.txFn, b.txTag = fn, tag
	b.mu.Unlock()
}

func (b *Board) OnRx(path can.RxPath, fn func(uint8, can.Op), tag can.Op) {
	b.mu.Lock()
	b.rxFn[path], b.rxTag[path] = fn, tag
	b.mu.Unlock()
}

// classify picks the reception path the controller's filters would use.
func (b *Board) classify(f can.Frame) can.RxPath {
	switch {
	case f.Extended:
		return can.RxFIFO1
	case b.cfg.RxBufferID >= 0 && f.ID == uint32(b.cfg.RxBufferID):
		return can.RxBuffer
	default:
		return can.RxFIFO0
	}
}

func (b *Board) canRxLoop() {
	defer b.wg.Done()
	defer b.log.Info("can_rx_end")
	backoff := rxBackoffMin
	for {
		var f can.Frame
		err := b.cfg.CAN.ReadFrame(&f)
		if b.ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, socketcan.ErrNotData) || errors.Is(err, socketcan.ErrReadTimeout) {
				continue
			}
			metrics.IncError(metrics.ErrSocketCANRead)
			b.log.Warn("can_read_error", "error", err, "backoff", backoff)
			sleepFn(backoff)
			backoff *= 2
			if backoff > rxBackoffMax {
				backoff = rxBackoffMax
			}
			continue
		}
		backoff = rxBackoffMin
		b.deliver(b.classify(f), f)
	}
}

// deliver stores f in path memory and raises the path's callback.
func (b *Board) deliver(path can.RxPath, f can.Frame) {
	b.mu.Lock()
	depth := b.cfg.FIFODepth
	if path == can.RxBuffer {
		depth = 1
	}
	if len(b.pending[path]) >= depth {
		b.mu.Unlock()
		metrics.IncError(metrics.ErrCANRx)
		b.log.Warn("can_rx_overflow", "path", path.String(), "id", f.ID)
		return
	}
	var el element
	b.ts++
	if _, err := can.EncodeRxElement(el[:], f, b.ts); err != nil {
		b.mu.Unlock()
		b.log.Warn("can_rx_encode_error", "error", err)
		return
	}
	b.pending[path] = append(b.pending[path], el)
	n := uint8(len(b.pending[path]))
	if path == can.RxBuffer {
		n = 0 // buffer index
	}
	fn, tag := b.rxFn[path], b.rxTag[path]
	b.mu.Unlock()
	if fn != nil {
		fn(n, tag)
	}
}

// ---- timer, edge, led ----

func (b *Board) Start()              { b.timer.start() }
func (b *Board) SetCompare(t uint32) { b.timer.setCompare(t) }
func (b *Board) SetCounter(t uint32) { b.timer.setCounter(t) }
func (b *Board) OnCompare(fn func()) { b.timer.onCompare(fn) }

func (b *Board) OnEdge(fn func()) {
	b.mu.Lock()
	b.edgeFn = fn
	b.mu.Unlock()
}

// Trigger raises the external edge callback, as the trigger signal does.
func (b *Board) Trigger() {
	b.mu.Lock()
	fn := b.edgeFn
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (b *Board) Toggle() {
	b.mu.Lock()
	b.led = !b.led
	on := b.led
	b.mu.Unlock()
	b.log.Debug("led_toggle", "on", on)
}
