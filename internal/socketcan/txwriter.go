package socketcan

import (
	"context"
	"errors"

	"github.com/kstaniek/go-canfd-console/internal/can"
	"github.com/kstaniek/go-canfd-console/internal/metrics"
	"github.com/kstaniek/go-canfd-console/internal/transport"
)

var ErrTxOverflow = errors.New("socketcan tx overflow")

// Dev is the minimal interface needed by the host board and TXWriter.
// Implemented by *Device in production and by fakes in tests.
type Dev interface {
	ReadFrame(*can.Frame) error
	Write(p []byte) (int, error)
	Close() error
}

// Hooks report the outcome of each queued frame from the writer goroutine.
type Hooks struct {
	OnSent  func()
	OnError func(error)
}

// TXWriter funnels all SocketCAN writes through a single goroutine so the
// transmit FIFO can be modeled as a bounded queue.
type TXWriter struct{ base *transport.AsyncTx }

// NewTXWriter creates a SocketCAN TXWriter holding at most buf frames.
func NewTXWriter(parent context.Context, dev Dev, buf int, h Hooks) *TXWriter {
	send := func(p []byte) error {
		_, err := dev.Write(p)
		return err
	}
	hooks := transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrSocketCANWrite)
			if h.OnError != nil {
				h.OnError(err)
			}
		},
		OnAfter: func(int) {
			if h.OnSent != nil {
				h.OnSent()
			}
		},
		OnDrop: func() error { return ErrTxOverflow },
	}
	return &TXWriter{base: transport.NewAsyncTx(parent, buf, send, hooks)}
}

// SendFrame encodes fr and queues it, or fails with ErrTxOverflow when the
// queue is full.
func (w *TXWriter) SendFrame(fr can.Frame) error {
	p, err := EncodeFrame(fr)
	if err != nil {
		return err
	}
	return w.base.Submit(p)
}

// Close stops the writer and waits for the worker goroutine to finish.
func (w *TXWriter) Close() { w.base.Close() }
