package hostboard

import (
	"context"
	"sync"
	"time"
)

const tick = time.Second / TicksPerSecond

// wallTimer models a 32-bit compare unit clocked at TicksPerSecond whose
// counter clears on match.
type wallTimer struct {
	mu      sync.Mutex
	running bool
	compare uint32
	base    time.Time // instant the counter was zero
	fn      func()
	kick    chan struct{}
	now     func() time.Time
}

func newWallTimer() *wallTimer {
	return &wallTimer{kick: make(chan struct{}, 1), now: time.Now}
}

func (t *wallTimer) notify() {
	select {
	case t.kick <- struct{}{}:
	default:
	}
}

func (t *wallTimer) start() {
	t.mu.Lock()
	if !t.running {
		t.running = true
		t.base = t.now()
	}
	t.mu.Unlock()
	t.notify()
}

func (t *wallTimer) setCompare(ticks uint32) {
	t.mu.Lock()
	t.compare = ticks
	t.mu.Unlock()
	t.notify()
}

func (t *wallTimer) setCounter(ticks uint32) {
	t.mu.Lock()
	t.base = t.now().Add(-time.Duration(ticks) * tick)
	t.mu.Unlock()
	t.notify()
}

func (t *wallTimer) onCompare(fn func()) {
	t.mu.Lock()
	t.fn = fn
	t.mu.Unlock()
}

// counter reads the current tick count.
func (t *wallTimer) counter() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return uint32(t.now().Sub(t.base) / tick)
}

// due returns how long until the next match, or false when idle.
func (t *wallTimer) due() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running || t.compare == 0 {
		return 0, false
	}
	left := t.base.Add(time.Duration(t.compare) * tick).Sub(t.now())
	return max(left, 0), true
}

func (t *wallTimer) run(ctx context.Context) {
	tm := time.NewTimer(time.Hour)
	defer tm.Stop()
	for {
		d, ok := t.due()
		if !ok {
			d = time.Hour
		}
		tm.Reset(d)
		select {
		case <-ctx.Done():
			return
		case <-t.kick:
		case <-tm.C:
			t.fire()
		}
	}
}

func (t *wallTimer) fire() {
	t.mu.Lock()
	if !t.running || t.compare == 0 || t.now().Before(t.base.Add(time.Duration(t.compare)*tick)) {
		t.mu.Unlock()
		return
	}
	t.base = t.now()
	fn := t.fn
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}
