package serial

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/kstaniek/go-canfd-console/internal/metrics"
)

// Read loop tuning.
const (
	readBufSize  = 256
	rxBackoffMin = 20 * time.Millisecond
	rxBackoffMax = 500 * time.Millisecond
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// Reader drains a port on a background goroutine into a bounded byte ring
// that the main loop polls one byte at a time. Bytes arriving while the
// ring is full are dropped and counted.
type Reader struct {
	ring chan byte
	wg   sync.WaitGroup
}

// NewReader starts reading sp until ctx is done or the device goes away.
func NewReader(ctx context.Context, sp Port, size int, l *slog.Logger) *Reader {
	r := &Reader{ring: make(chan byte, size)}
	r.wg.Add(1)
	go r.loop(ctx, sp, l)
	return r
}

// ReadByte returns the next received byte without blocking.
func (r *Reader) ReadByte() (byte, bool) {
	select {
	case c := <-r.ring:
		return c, true
	default:
		return 0, false
	}
}

// Wait blocks until the read goroutine has exited.
func (r *Reader) Wait() { r.wg.Wait() }

func (r *Reader) loop(ctx context.Context, sp Port, l *slog.Logger) {
	defer r.wg.Done()
	defer l.Info("serial_rx_end")
	buf := make([]byte, readBufSize)
	backoff := rxBackoffMin
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := sp.Read(buf)
		if n > 0 {
			for _, c := range buf[:n] {
				select {
				case r.ring <- c:
				default:
					metrics.IncError(metrics.ErrDMAOverflow)
				}
			}
			backoff = rxBackoffMin
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		var perr *os.PathError
		if errors.As(err, &perr) {
			l.Warn("serial_device_gone", "error", err)
			return
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			continue // read timeout
		}
		metrics.IncError(metrics.ErrSerialRead)
		l.Warn("serial_read_error", "error", err, "backoff", backoff)
		sleepFn(backoff)
		backoff *= 2
		if backoff > rxBackoffMax {
			backoff = rxBackoffMax
		}
	}
}
