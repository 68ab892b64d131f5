// Package sim is an in-memory board. Tests drive it directly (deliver
// frames, complete transfers, fire timers); the sim backend of the binary
// runs it with a CAN loopback and stdio as the debug console.
//
// Methods named after hardware events (CompleteTx, Deliver, FireEdge,
// FireTimer) invoke the registered callbacks on the caller's goroutine,
// which then plays the role of interrupt context.
package sim

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/kstaniek/go-canfd-console/internal/can"
	"github.com/kstaniek/go-canfd-console/internal/platform"
)

type element = [can.ElementSize]byte

// Board implements platform.Board.
type Board struct {
	mu sync.Mutex

	// SyncDMA completes transfers inside Transfer instead of from a
	// separate goroutine.
	SyncDMA bool
	// Loopback feeds every submitted frame back into the reception path
	// matching its identifier class and completes the transmission.
	Loopback bool

	wire      [platform.NumChannels]io.Writer
	dmaDone   [platform.NumChannels]func()
	stall     [platform.NumChannels]bool
	transfers [platform.NumChannels]int
	in        [platform.NumChannels][]byte

	txFn       func(can.Op)
	txTag      can.Op
	rxFn       [can.NumRxPaths]func(uint8, can.Op)
	rxTag      [can.NumRxPaths]can.Op
	pending    [can.NumRxPaths][]element
	submitted  []can.Frame
	submitErr  error
	receiveErr error
	status     can.LEC
	ts         uint16

	compare uint32
	counter uint32
	started bool
	cmpFn   func()
	edgeFn  func()
	leds    int
	resets  int
	resetFn func()
}

var _ platform.Board = (*Board)(nil)

// New returns a board whose UART output is captured in memory.
func New() *Board {
	b := &Board{}
	for i := range b.wire {
		b.wire[i] = &bytes.Buffer{}
	}
	return b
}

// SetWriter redirects a channel's UART output to w.
func (b *Board) SetWriter(ch platform.Channel, w io.Writer) {
	b.mu.Lock()
	b.wire[ch] = w
	b.mu.Unlock()
}

// Output returns everything written to a captured channel so far.
func (b *Board) Output(ch platform.Channel) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if buf, ok := b.wire[ch].(*bytes.Buffer); ok {
		return buf.String()
	}
	return ""
}

// ResetOutput discards captured output.
func (b *Board) ResetOutput() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, w := range b.wire {
		if buf, ok := w.(*bytes.Buffer); ok {
			buf.Reset()
		}
	}
}

// ---- DMA ----

func (b *Board) Transfer(ch platform.Channel, p []byte) error {
	b.mu.Lock()
	if ch >= platform.NumChannels {
		b.mu.Unlock()
		return fmt.Errorf("sim: no dma channel %d", ch)
	}
	_, err := b.wire[ch].Write(p)
	b.transfers[ch]++
	done, stalled := b.dmaDone[ch], b.stall[ch]
	b.mu.Unlock()
	if err != nil {
		return err
	}
	if done == nil || stalled {
		return nil
	}
	if b.SyncDMA {
		done()
	} else {
		go done()
	}
	return nil
}

func (b *Board) OnComplete(ch platform.Channel, fn func()) {
	b.mu.Lock()
	b.dmaDone[ch] = fn
	b.mu.Unlock()
}

// Stall stops completion interrupts for a channel.
func (b *Board) Stall(ch platform.Channel, on bool) {
	b.mu.Lock()
	b.stall[ch] = on
	b.mu.Unlock()
}

// Transfers returns the number of DMA transfers started on ch.
func (b *Board) Transfers(ch platform.Channel) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transfers[ch]
}

// ---- raw serial ----

// Input queues bytes as if received by the channel's UART.
func (b *Board) Input(ch platform.Channel, p []byte) {
	b.mu.Lock()
	b.in[ch] = append(b.in[ch], p...)
	b.mu.Unlock()
}

func (b *Board) ReadByte(ch platform.Channel) (byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.in[ch]) == 0 {
		return 0, false
	}
	c := b.in[ch][0]
	b.in[ch] = b.in[ch][1:]
	return c, true
}

func (b *Board) Write(ch platform.Channel, p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.wire[ch].Write(p)
}

// ---- CAN ----

func (b *Board) SubmitTx(q platform.TxQueue, el []byte) error {
	if q != platform.TxFIFO {
		return fmt.Errorf("%w: unknown queue %d", platform.ErrTxRejected, q)
	}
	e, err := can.DecodeRxElement(el)
	if err != nil {
		return fmt.Errorf("%w: %w", platform.ErrTxRejected, err)
	}
	b.mu.Lock()
	if b.submitErr != nil {
		err := b.submitErr
		b.mu.Unlock()
		return err
	}
	f := e.Frame()
	b.submitted = append(b.submitted, f)
	loop := b.Loopback
	b.mu.Unlock()
	if loop {
		go func() {
			b.CompleteTx(can.LECNone)
			path := can.RxFIFO0
			if f.Extended {
				path = can.RxFIFO1
			}
			_ = b.Deliver(path, f)
		}()
	}
	return nil
}

func (b *Board) ReceiveBatch(path can.RxPath, n uint8, dst []byte, stride int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.receiveErr != nil {
		return 0, b.receiveErr
	}
	count := int(n)
	if path == can.RxBuffer {
		count = 1
	}
	count = min(count, len(b.pending[path]))
	if count*stride > len(dst) {
		return 0, fmt.Errorf("%w: %s destination too small", platform.ErrRxFailed, path)
	}
	for i := 0; i < count; i++ {
		el := b.pending[path][i]
		copy(dst[i*stride:(i+1)*stride], el[:])
	}
	b.pending[path] = b.pending[path][count:]
	return count, nil
}

// ErrorStatus returns the latched error code and resets it to NoChange,
// as reading the protocol status register does.
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

// Submitted returns the frames accepted by SubmitTx.
func (b *Board) Submitted() []can.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]can.Frame(nil), b.submitted...)
}

// RejectSubmit makes SubmitTx fail with err (nil restores acceptance).
func (b *Board) RejectSubmit(err error) {
	b.mu.Lock()
	b.submitErr = err
	b.mu.Unlock()
}

// FailReceive makes ReceiveBatch fail with err (nil restores it).
func (b *Board) FailReceive(err error) {
	b.mu.Lock()
	b.receiveErr = err
	b.mu.Unlock()
}

// SetStatus latches the value returned by the next ErrorStatus.
func (b *Board) SetStatus(l can.LEC) {
	b.mu.Lock()
	b.status = l
	b.mu.Unlock()
}

// CompleteTx latches status and fires the transmit completion callback.
func (b *Board) CompleteTx(status can.LEC) {
	b.mu.Lock()
	b.status = status
	fn, tag := b.txFn, b.txTag
	b.mu.Unlock()
	if fn != nil {
		fn(tag)
	}
}

// Deliver stores frames in a reception path and fires its callback.
func (b *Board) Deliver(path can.RxPath, frames ...can.Frame) error {
	b.mu.Lock()
	for _, f := range frames {
		var el element
		b.ts++
		if _, err := can.EncodeRxElement(el[:], f, b.ts); err != nil {
			b.mu.Unlock()
			return err
		}
		b.pending[path] = append(b.pending[path], el)
	}
	n := uint8(len(b.pending[path]))
	if path == can.RxBuffer {
		n = 0 // buffer index
	}
	fn, tag := b.rxFn[path], b.rxTag[path]
	b.mu.Unlock()
	if fn != nil {
		fn(n, tag)
	}
	return nil
}

// ---- timer, edge, led, reset ----

func (b *Board) Start() {
	b.mu.Lock()
	b.started = true
	b.mu.Unlock()
}

func (b *Board) SetCompare(ticks uint32) {
	b.mu.Lock()
	b.compare = ticks
	b.mu.Unlock()
}

func (b *Board) SetCounter(ticks uint32) {
	b.mu.Lock()
	b.counter = ticks
	b.mu.Unlock()
}

func (b *Board) OnCompare(fn func()) {
	b.mu.Lock()
	b.cmpFn = fn
	b.mu.Unlock()
}

// Timer returns the compare value, counter and running state.
func (b *Board) Timer() (compare, counter uint32, started bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.compare, b.counter, b.started
}

// FireTimer fires the compare-match callback if the timer runs.
func (b *Board) FireTimer() {
	b.mu.Lock()
	fn, on := b.cmpFn, b.started
	b.counter = 0
	b.mu.Unlock()
	if fn != nil && on {
		fn()
	}
}

// RunTimer fires compare matches in wall-clock time, one tick being
// 1/1024 s, until ctx is done.
func (b *Board) RunTimer(ctx context.Context) {
	for {
		b.mu.Lock()
		cmp := b.compare
		b.mu.Unlock()
		if cmp == 0 {
			cmp = 512
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(cmp) * time.Second / 1024):
			b.FireTimer()
		}
	}
}

func (b *Board) OnEdge(fn func()) {
	b.mu.Lock()
	b.edgeFn = fn
	b.mu.Unlock()
}

// FireEdge fires the external edge callback.
func (b *Board) FireEdge() {
	b.mu.Lock()
	fn := b.edgeFn
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (b *Board) Toggle() {
	b.mu.Lock()
	b.leds++
	b.mu.Unlock()
}

// LEDToggles returns how many times the LED was toggled.
func (b *Board) LEDToggles() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.leds
}

// Reset drops pending reception memory, clears the error code and runs
// the OnReset hook on the caller's goroutine.
func (b *Board) Reset() {
	b.mu.Lock()
	b.resets++
	b.pending = [can.NumRxPaths][]element{}
	b.status = can.LECNone
	fn := b.resetFn
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// OnReset registers what a reset restarts in place of a reboot.
func (b *Board) OnReset(fn func()) {
	b.mu.Lock()
	b.resetFn = fn
	b.mu.Unlock()
}

// Resets returns how many resets were requested.
func (b *Board) Resets() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resets
}
