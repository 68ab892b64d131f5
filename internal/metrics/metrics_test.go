package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCountersMirror(t *testing.T) {
	before := Snap()
	IncError(ErrTextTimeout)
	IncTxRejected()
	IncTxResult(false)
	after := Snap()

	assert.Equal(t, before.Errors+3, after.Errors)
	assert.Equal(t, before.SendTimeouts+1, after.SendTimeouts)
	assert.Equal(t, before.TxRejected+1, after.TxRejected)
	assert.Equal(t, before.TxFailed+1, after.TxFailed)
}

func TestTrafficCounters(t *testing.T) {
	before := Snap()
	AddRxFrames("fifo1", 3)
	AddTextBytes("debug", 5)
	AddBridgeBytes("peer_to_debug", 2)
	SetRate(2)
	after := Snap()

	assert.Equal(t, before.RxFrames+3, after.RxFrames)
	assert.Equal(t, before.TextBytes+5, after.TextBytes)
	assert.Equal(t, before.BridgeBytes+2, after.BridgeBytes)
	assert.Equal(t, before.RateChanges+1, after.RateChanges)
}

func TestReadiness(t *testing.T) {
	t.Cleanup(func() { SetReadinessFunc(nil) })
	SetReadinessFunc(nil)
	assert.True(t, IsReady())
	SetReadinessFunc(func() bool { return false })
	assert.False(t, IsReady())
}
