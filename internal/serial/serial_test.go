package serial

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-canfd-console/internal/logging"
)

// chunkPort returns queued chunks, then io.EOF as a read timeout would.
type chunkPort struct {
	mu     sync.Mutex
	chunks [][]byte
	out    bytes.Buffer
	err    error
}

func (p *chunkPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.chunks) == 0 {
		if p.err != nil {
			return 0, p.err
		}
		time.Sleep(time.Millisecond)
		return 0, io.EOF
	}
	n := copy(b, p.chunks[0])
	p.chunks = p.chunks[1:]
	return n, nil
}

func (p *chunkPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Write(b)
}

func (p *chunkPort) Close() error { return nil }

func (p *chunkPort) written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.String()
}

func readN(t *testing.T, r *Reader, n int) string {
	t.Helper()
	var got []byte
	deadline := time.Now().Add(time.Second)
	for len(got) < n {
		require.True(t, time.Now().Before(deadline), "got %q", got)
		if c, ok := r.ReadByte(); ok {
			got = append(got, c)
		}
	}
	return string(got)
}

func TestReaderDeliversBytesInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &chunkPort{chunks: [][]byte{[]byte("1m"), []byte("r")}}
	r := NewReader(ctx, p, 16, logging.Discard())
	assert.Equal(t, "1mr", readN(t, r, 3))
	_, ok := r.ReadByte()
	assert.False(t, ok)
	cancel()
	r.Wait()
}

func TestReaderDropsWhenRingFull(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &chunkPort{chunks: [][]byte{[]byte("abcdef")}}
	r := NewReader(ctx, p, 2, logging.Discard())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "ab", readN(t, r, 2))
	cancel()
	r.Wait()
}

func TestReaderBackoffProgression(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var mu sync.Mutex
	var seen []time.Duration
	sleepFn = func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		if len(seen) < 6 {
			seen = append(seen, d)
			if len(seen) == 6 {
				cancel()
			}
		}
	}
	defer func() { sleepFn = time.Sleep }()

	r := NewReader(ctx, &chunkPort{err: io.ErrNoProgress}, 4, logging.Discard())
	r.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 6)
	assert.Equal(t, rxBackoffMin, seen[0])
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1])
		assert.LessOrEqual(t, seen[i], rxBackoffMax)
	}
}

func TestTXWriterSignalsCompletion(t *testing.T) {
	p := &chunkPort{}
	var done atomic.Int64
	w := NewTXWriter(context.Background(), p, 1, func() { done.Add(1) })
	defer w.Close()

	require.NoError(t, w.Submit([]byte("hello")))
	deadline := time.Now().Add(time.Second)
	for done.Load() == 0 {
		require.True(t, time.Now().Before(deadline))
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, "hello", p.written())
}

// blockingPort holds every write until release is closed.
type blockingPort struct {
	chunkPort
	release chan struct{}
}

func (p *blockingPort) Write(b []byte) (int, error) {
	<-p.release
	return p.chunkPort.Write(b)
}

func TestTXWriterSingleDescriptorIsBusy(t *testing.T) {
	p := &blockingPort{release: make(chan struct{})}
	w := NewTXWriter(context.Background(), p, 1, func() {})
	defer w.Close()

	require.NoError(t, w.Submit([]byte("a")))
	assert.Equal(t, 1, w.InFlight())
	assert.ErrorIs(t, w.Submit([]byte("b")), ErrTxBusy)

	close(p.release)
	require.Eventually(t, func() bool { return w.InFlight() == 0 }, time.Second, time.Millisecond)
	assert.Equal(t, "a", p.written())
}
