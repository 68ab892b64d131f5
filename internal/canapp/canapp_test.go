package canapp

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-canfd-console/internal/can"
	"github.com/kstaniek/go-canfd-console/internal/handshake"
	"github.com/kstaniek/go-canfd-console/internal/metrics"
	"github.com/kstaniek/go-canfd-console/internal/platform"
	"github.com/kstaniek/go-canfd-console/internal/sim"
)

type recorder struct{ sb strings.Builder }

func (r *recorder) Print(s string)                    { r.sb.WriteString(s) }
func (r *recorder) Printf(format string, args ...any) { fmt.Fprintf(&r.sb, format, args...) }
func (r *recorder) String() string                    { return r.sb.String() }
func (r *recorder) Reset()                            { r.sb.Reset() }

type harness struct {
	board *sim.Board
	sig   *handshake.Signals
	out   *recorder
	c     *Controller
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{board: sim.New(), sig: &handshake.Signals{}, out: &recorder{}}
	h.c = New(h.board, h.board, h.out, h.sig, opts...)
	h.c.Register()
	return h
}

func (h *harness) step() { h.c.Step(h.sig.Drain()) }

func TestTransmitFDStandard(t *testing.T) {
	h := newHarness(t)
	h.c.Command('1')
	assert.Equal(t, StateIdle, h.c.State())
	assert.Contains(t, h.out.String(), "[CAN] Send FD standard message with ID: 0x45A")

	sub := h.board.Submitted()
	require.Len(t, sub, 1)
	f := sub[0]
	assert.Equal(t, uint32(0x45A), f.ID)
	assert.False(t, f.Extended)
	assert.True(t, f.FD)
	assert.True(t, f.BRS)
	require.Equal(t, uint8(64), f.Len)
	for i, v := range f.Payload() {
		require.Equal(t, byte(i), v)
	}

	h.out.Reset()
	h.board.CompleteTx(can.LECNone)
	h.step()
	assert.Equal(t, msgSent, h.out.String())
	assert.Equal(t, StateAwaitingInput, h.c.State())
	assert.Equal(t, can.OpTransmit, h.c.Pending())

	// nothing new on the next iteration
	h.step()
	assert.Equal(t, 1, strings.Count(h.out.String(), "sent successfully"))
}

func TestTransmitClassic(t *testing.T) {
	h := newHarness(t)
	h.c.Command('5')
	sub := h.board.Submitted()
	require.Len(t, sub, 1)
	assert.Equal(t, uint32(0x469), sub[0].ID)
	assert.False(t, sub[0].FD)
	assert.False(t, sub[0].BRS)
	assert.Equal(t, []byte{0, 1, 2, 3, 4, 5, 6, 7}, sub[0].Payload())
}

func TestTransmitExtendedUpperPayload(t *testing.T) {
	h := newHarness(t)
	h.c.Command('4')
	sub := h.board.Submitted()
	require.Len(t, sub, 1)
	assert.Equal(t, uint32(0x10000096), sub[0].ID)
	assert.True(t, sub[0].Extended)
	assert.Equal(t, byte(128), sub[0].Data[0])
	assert.Equal(t, byte(191), sub[0].Data[63])
}

func TestInvalidCommand(t *testing.T) {
	h := newHarness(t)
	before := metrics.Snap().Invalid
	h.c.Command('9')
	assert.Equal(t, msgInvalid, h.out.String())
	assert.Equal(t, StateAwaitingInput, h.c.State())
	assert.Empty(t, h.board.Submitted())
	assert.Equal(t, before+1, metrics.Snap().Invalid)
}

func TestMenuAndReset(t *testing.T) {
	h := newHarness(t)
	h.c.Command('m')
	assert.Equal(t, menuText, h.out.String())
	h.c.Command('R')
	assert.Equal(t, 1, h.board.Resets())
}

func TestCommandIgnoredWhileBusy(t *testing.T) {
	h := newHarness(t)
	h.c.Command('1')
	h.out.Reset()
	h.c.Command('2')
	h.c.Command('x')
	assert.Len(t, h.board.Submitted(), 1)
	assert.Empty(t, h.out.String())
}

func TestTransmitCompletionFailure(t *testing.T) {
	h := newHarness(t)
	h.c.Command('3')
	h.out.Reset()
	h.board.CompleteTx(can.LECBit0)
	h.step()
	assert.Equal(t, msgSendFailed, h.out.String())
	assert.Equal(t, StateAwaitingInput, h.c.State())
}

func TestCompletionNoChangeCountsAsSuccess(t *testing.T) {
	h := newHarness(t)
	h.c.Command('2')
	h.out.Reset()
	h.board.CompleteTx(can.LECNoChange)
	h.step()
	assert.Equal(t, msgSent, h.out.String())
}

func TestSubmitRejectedStaysIdle(t *testing.T) {
	h := newHarness(t)
	h.board.RejectSubmit(platform.ErrTxRejected)
	before := metrics.Snap().TxRejected
	h.c.Command('1')
	assert.Contains(t, h.out.String(), msgSubmitRejected)
	assert.Equal(t, StateIdle, h.c.State())
	assert.Equal(t, before+1, metrics.Snap().TxRejected)

	h.c.Command('1')
	assert.Equal(t, 1, strings.Count(h.out.String(), "[CAN] Send FD"), "commands stay blocked")
}

func TestSubmitRejectedWithRecovery(t *testing.T) {
	h := newHarness(t, WithRejectRecovery(true))
	h.board.RejectSubmit(platform.ErrTxRejected)
	h.c.Command('1')
	assert.Equal(t, StateAwaitingInput, h.c.State())

	h.board.RejectSubmit(nil)
	h.c.Command('5')
	assert.Len(t, h.board.Submitted(), 1)
}

func fdFrame(t *testing.T, id uint32, n int) can.Frame {
	t.Helper()
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(0xA0 + i)
	}
	f, err := can.NewFrame(id, id > can.MaxStdID, true, true, p)
	require.NoError(t, err)
	return f
}

func TestReceiveFIFO0Batch(t *testing.T) {
	h := newHarness(t)
	// two 10-byte frames travel as DLC 9 and come back as 12 bytes
	require.NoError(t, h.board.Deliver(can.RxFIFO0, fdFrame(t, 0x123, 10), fdFrame(t, 0x124, 10)))
	before := metrics.Snap().RxFrames
	h.step()

	out := h.out.String()
	require.True(t, strings.HasPrefix(out, rxHeaders[can.RxFIFO0]), out)
	assert.Equal(t, 2, strings.Count(out, "New Message Received"))
	assert.Equal(t, 2, strings.Count(out, "Length = 12"))
	assert.Contains(t, out, "ID = 0x123")
	assert.Contains(t, out, "ID = 0x124")
	assert.Contains(t, out, "Timestamp = 0x1 ")
	assert.Contains(t, out, "Data : 0xa0 0xa1 0xa2 0xa3 0xa4 0xa5 0xa6 0xa7 0xa8 0xa9 0x0 0x0  ]\r\n")
	assert.Equal(t, before+2, metrics.Snap().RxFrames)
	assert.Equal(t, StateAwaitingInput, h.c.State())
	assert.Equal(t, can.OpReceive, h.c.Pending())
}

func TestReceiveExtendedAndBuffer(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.board.Deliver(can.RxFIFO1, fdFrame(t, 0x100000A5, 64)))
	require.NoError(t, h.board.Deliver(can.RxBuffer, fdFrame(t, 0x7FF, 8)))
	h.step()
	out := h.out.String()
	i1 := strings.Index(out, rxHeaders[can.RxFIFO1])
	i2 := strings.Index(out, rxHeaders[can.RxBuffer])
	require.GreaterOrEqual(t, i1, 0)
	require.Greater(t, i2, i1)
	assert.Contains(t, out, "ID = 0x100000a5 | Length = 64")
	assert.Contains(t, out, "ID = 0x7ff | Length = 8")
}

func TestReceiveFailure(t *testing.T) {
	h := newHarness(t)
	h.board.FailReceive(errors.New("boom"))
	require.NoError(t, h.board.Deliver(can.RxFIFO0, fdFrame(t, 0x10, 4)))
	h.step()
	assert.Equal(t, StateTransferFailed, h.c.State())
	assert.Empty(t, h.out.String())

	h.step()
	assert.Equal(t, msgRxFailed, h.out.String())
	assert.Equal(t, StateAwaitingInput, h.c.State())
}

func TestReceiveBusErrorSkipsBatch(t *testing.T) {
	h := newHarness(t)
	h.board.SetStatus(can.LECCRC)
	require.NoError(t, h.board.Deliver(can.RxFIFO0, fdFrame(t, 0x10, 4)))
	h.step()
	h.step()
	assert.Equal(t, msgRxFailed, h.out.String())

	// the read reset the latched code; the stranded frame drains with the next one
	h.out.Reset()
	require.NoError(t, h.board.Deliver(can.RxFIFO0, fdFrame(t, 0x11, 4)))
	h.step()
	assert.Equal(t, 2, strings.Count(h.out.String(), "New Message Received"))
	assert.NotContains(t, h.out.String(), msgRxFailed)
}

func TestReceiveArrivalAfterDrain(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.board.Deliver(can.RxFIFO0, fdFrame(t, 0x101, 4)))
	snap := h.sig.Drain()
	require.NoError(t, h.board.Deliver(can.RxFIFO0, fdFrame(t, 0x102, 4)))

	h.c.Step(snap)
	assert.Equal(t, 1, strings.Count(h.out.String(), "New Message Received"))
	assert.Contains(t, h.out.String(), "ID = 0x101")

	// the re-raised cell names two elements but only one remains
	h.out.Reset()
	h.step()
	assert.Equal(t, 1, strings.Count(h.out.String(), "New Message Received"))
	assert.Contains(t, h.out.String(), "ID = 0x102")
	assert.NotContains(t, h.out.String(), msgRxFailed)
	assert.Equal(t, StateAwaitingInput, h.c.State())
}

func TestWithLoggerReceivesTransitions(t *testing.T) {
	var buf strings.Builder
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := newHarness(t, WithLogger(l))
	h.c.Command('5')
	assert.Contains(t, buf.String(), "can_tx_submit")
}

func TestReceiveOverflow(t *testing.T) {
	h := newHarness(t, WithFIFOCapacity(can.RxFIFO0, 1))
	require.NoError(t, h.board.Deliver(can.RxFIFO0, fdFrame(t, 0x10, 4), fdFrame(t, 0x11, 4)))
	h.step()
	assert.Equal(t, StateTransferFailed, h.c.State())
}

func TestReceiveDuringTransmitKeepsIdle(t *testing.T) {
	h := newHarness(t)
	h.c.Command('5')
	require.NoError(t, h.board.Deliver(can.RxFIFO0, fdFrame(t, 0x10, 4)))
	h.step()
	assert.Equal(t, StateIdle, h.c.State())
	assert.Equal(t, can.OpReceive, h.c.Pending())

	h.board.CompleteTx(can.LECNone)
	h.step()
	assert.Contains(t, h.out.String(), msgSent)
	assert.Equal(t, StateAwaitingInput, h.c.State())
}

func TestDemoFrame(t *testing.T) {
	f, ok := DemoFrame('3')
	require.True(t, ok)
	assert.NoError(t, f.Validate())
	assert.Equal(t, uint8(15), f.DLC())
	_, ok = DemoFrame('0')
	assert.False(t, ok)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting_input", StateAwaitingInput.String())
	assert.Equal(t, "unknown", State(42).String())
}
