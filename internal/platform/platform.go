// Package platform describes the capabilities the application consumes from
// the board layer. Callbacks registered here run in interrupt context: they
// must only write handshake cells and return.
package platform

import (
	"errors"

	"github.com/kstaniek/go-canfd-console/internal/can"
)

// TxQueue names a controller transmit queue.
type TxQueue uint8

// TxFIFO is the single transmit FIFO used by the application.
const TxFIFO TxQueue = 1

// Channel identifies a UART text channel.
type Channel uint8

const (
	Debug Channel = iota // operator console
	Peer                 // peer-device link
	NumChannels
)

func (c Channel) String() string {
	switch c {
	case Debug:
		return "debug"
	case Peer:
		return "peer"
	default:
		return "unknown"
	}
}

var (
	ErrTxRejected = errors.New("platform: transmit rejected")
	ErrRxFailed   = errors.New("platform: receive failed")
	ErrDMABusy    = errors.New("platform: dma busy")
)

// CAN is the controller surface.
type CAN interface {
	// SubmitTx queues one encoded transmit element. A synchronous error
	// means the element was not accepted.
	SubmitTx(q TxQueue, element []byte) error
	// ReceiveBatch copies up to n pending elements of path into dst, one
	// element per stride bytes, and returns how many it copied. n is the
	// fill level seen by the arrival callback; elements already drained by
	// an earlier call are not an error. For RxBuffer, n is the buffer index
	// and at most one element is copied.
	ReceiveBatch(path can.RxPath, n uint8, dst []byte, stride int) (int, error)
	// ErrorStatus returns the last error code of the protocol status
	// register. Reading it resets the code to can.LECNoChange.
	ErrorStatus() can.LEC
	// OnTxDone registers the transmit FIFO completion callback.
	OnTxDone(fn func(tag can.Op), tag can.Op)
	// OnRx registers the arrival callback for a reception path.
	OnRx(path can.RxPath, fn func(n uint8, tag can.Op), tag can.Op)
}

// DMA moves byte ranges to a UART transmitter.
type DMA interface {
	Transfer(ch Channel, b []byte) error
	OnComplete(ch Channel, fn func())
}

// Serial is the raw, non-DMA UART surface.
type Serial interface {
	// ReadByte returns the next received byte without blocking.
	ReadByte(ch Channel) (byte, bool)
	// Write queues raw bytes on the channel.
	Write(ch Channel, b []byte) (int, error)
}

// Timer is the periodic compare-match timer.
type Timer interface {
	Start()
	SetCompare(ticks uint32)
	SetCounter(ticks uint32)
	OnCompare(fn func())
}

// Edge is an external edge interrupt source.
type Edge interface {
	OnEdge(fn func())
}

// LED is the visual indicator.
type LED interface {
	Toggle()
}

// Resetter performs a full device reset.
type Resetter interface {
	Reset()
}

// Board bundles every capability.
type Board interface {
	CAN
	DMA
	Serial
	Timer
	Edge
	LED
	Resetter
}
