package textchan

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-canfd-console/internal/metrics"
	"github.com/kstaniek/go-canfd-console/internal/platform"
	"github.com/kstaniek/go-canfd-console/internal/sim"
)

func TestSend_WaitsForAsyncCompletion(t *testing.T) {
	b := sim.New()
	c := New(platform.Debug, b)
	require.True(t, c.Idle())

	require.NoError(t, c.Send([]byte("hello\r\n")))
	assert.True(t, c.Idle())
	assert.Equal(t, "hello\r\n", b.Output(platform.Debug))
	assert.Equal(t, 1, b.Transfers(platform.Debug))
	assert.Empty(t, b.Output(platform.Peer))
}

func TestSend_SyncCompletionInsideTransfer(t *testing.T) {
	b := sim.New()
	b.SyncDMA = true
	c := New(platform.Peer, b)
	require.NoError(t, c.Printf("rate %d\r\n", 4))
	assert.Equal(t, "rate 4\r\n", b.Output(platform.Peer))
}

func TestSend_EmptyIsNoop(t *testing.T) {
	b := sim.New()
	c := New(platform.Debug, b)
	require.NoError(t, c.Send(nil))
	assert.Equal(t, 0, b.Transfers(platform.Debug))
}

func TestSend_TimeoutOnStalledDMA(t *testing.T) {
	b := sim.New()
	b.Stall(platform.Debug, true)
	c := New(platform.Debug, b, WithTimeout(20*time.Millisecond))

	start := time.Now()
	err := c.Send([]byte("x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSendTimeout))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.False(t, c.Idle())

	// a late completion brings the channel back
	b.Stall(platform.Debug, false)
	require.NoError(t, c.Printf("%s", "y"))
	assert.Equal(t, "xy", b.Output(platform.Debug))
}

func TestPair_MirrorsAndCountsTimeouts(t *testing.T) {
	b := sim.New()
	p := NewPair(b, WithTimeout(10*time.Millisecond))
	p.Printf("[CAN] %s\r\n", "ok")
	assert.Equal(t, "[CAN] ok\r\n", b.Output(platform.Debug))
	assert.Equal(t, "[CAN] ok\r\n", b.Output(platform.Peer))

	before := metrics.Snap().SendTimeouts
	b.Stall(platform.Peer, true)
	p.Print("lost\r\n")
	assert.Equal(t, "[CAN] ok\r\nlost\r\n", b.Output(platform.Debug), "debug side still delivers")
	assert.Equal(t, before+1, metrics.Snap().SendTimeouts)
}
