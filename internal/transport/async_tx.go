package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// AsyncTx is a single-worker transfer engine. It models a DMA channel with
// a fixed number of descriptors: Submit claims a descriptor and returns at
// once, the worker performs the blocking write, and the descriptor is
// released just before the completion hook runs. A transfer therefore
// counts against capacity while queued and while in flight.
//
//	a := NewAsyncTx(ctx, descriptors, writeFn, hooks)
//	a.Submit(p)
//	a.Close()
//
// The submitted slice belongs to the worker until OnAfter or OnError fires.
type AsyncTx struct {
	mu     sync.Mutex
	queue  chan []byte
	slots  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	write  func([]byte) error
	hooks  Hooks
	closed atomic.Bool
	sent   atomic.Uint64
}

// Hooks run on the worker goroutine, in completion order.
type Hooks struct {
	// OnError reports a failed write.
	OnError func(error)
	// OnAfter reports a completed write of n bytes.
	OnAfter func(n int)
	// OnDrop runs when every descriptor is taken; its error is returned by
	// Submit. A nil OnDrop makes Submit fail with ErrAsyncTxBusy.
	OnDrop func() error
}

var (
	ErrAsyncTxClosed = errors.New("async tx closed")
	ErrAsyncTxBusy   = errors.New("async tx busy")
)

// NewAsyncTx starts the worker. descriptors below 1 are raised to 1.
func NewAsyncTx(parent context.Context, descriptors int, write func([]byte) error, hooks Hooks) *AsyncTx {
	if descriptors < 1 {
		descriptors = 1
	}
	ctx, cancel := context.WithCancel(parent)
	a := &AsyncTx{
		queue:  make(chan []byte, descriptors),
		slots:  make(chan struct{}, descriptors),
		ctx:    ctx,
		cancel: cancel,
		write:  write,
		hooks:  hooks,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *AsyncTx) loop() {
	defer a.wg.Done()
	for {
		select {
		case p, ok := <-a.queue:
			if !ok {
				return
			}
			a.complete(p, a.write(p))
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *AsyncTx) complete(p []byte, err error) {
	<-a.slots
	if err != nil {
		if a.hooks.OnError != nil {
			a.hooks.OnError(err)
		}
	} else {
		a.sent.Add(uint64(len(p)))
		if a.hooks.OnAfter != nil {
			a.hooks.OnAfter(len(p))
		}
	}
}

// Submit hands p to the worker, or reports the drop error when all
// descriptors are in use.
func (a *AsyncTx) Submit(p []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	select {
	case a.slots <- struct{}{}:
	default:
		if a.hooks.OnDrop != nil {
			return a.hooks.OnDrop()
		}
		return ErrAsyncTxBusy
	}
	a.queue <- p
	return nil
}

// InFlight reports how many descriptors are taken.
func (a *AsyncTx) InFlight() int { return len(a.slots) }

// Sent reports the total bytes written successfully.
func (a *AsyncTx) Sent() uint64 { return a.sent.Load() }

// Close stops the worker and waits for it. Queued transfers are discarded
// without completion hooks.
func (a *AsyncTx) Close() {
	a.mu.Lock()
	if a.closed.Swap(true) {
		a.mu.Unlock()
		return
	}
	a.cancel()
	close(a.queue)
	a.mu.Unlock()
	a.wg.Wait()
}
