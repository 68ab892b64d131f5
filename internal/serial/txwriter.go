package serial

import (
	"context"
	"errors"

	"github.com/kstaniek/go-canfd-console/internal/logging"
	"github.com/kstaniek/go-canfd-console/internal/metrics"
	"github.com/kstaniek/go-canfd-console/internal/transport"
)

var ErrTxBusy = errors.New("serial tx busy")

// TXWriter funnels all serial writes through one goroutine. done fires
// after each buffer has been fully written or has failed, the way a DMA
// completion interrupt would; it must only post to a handshake cell.
type TXWriter struct{ base *transport.AsyncTx }

// NewTXWriter creates a serial TXWriter with buf transfer descriptors.
func NewTXWriter(parent context.Context, sp Port, buf int, done func()) *TXWriter {
	send := func(p []byte) error {
		_, err := sp.Write(p)
		return err
	}
	hooks := transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrSerialWrite)
			logging.L().Error("serial_write_error", "error", err)
			done()
		},
		OnAfter: func(int) { done() },
		OnDrop: func() error {
			metrics.IncError(metrics.ErrDMAOverflow)
			return ErrTxBusy
		},
	}
	return &TXWriter{base: transport.NewAsyncTx(parent, buf, send, hooks)}
}

// Submit queues p; the caller must not touch p until done fires.
func (w *TXWriter) Submit(p []byte) error { return w.base.Submit(p) }

// InFlight reports transfers not yet completed.
func (w *TXWriter) InFlight() int { return w.base.InFlight() }

// Close stops the writer and waits for the worker goroutine to exit.
func (w *TXWriter) Close() { w.base.Close() }
