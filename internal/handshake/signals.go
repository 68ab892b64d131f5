package handshake

import "github.com/kstaniek/go-canfd-console/internal/can"

// Signals groups every interrupt-side source the main loop services.
// Text-channel DMA completion flags are owned by their channels instead.
type Signals struct {
	Trigger    Flag // external edge: change toggle rate
	TimerMatch Flag // periodic timer compare match
	Rx         [can.NumRxPaths]Batch
	TxDone     Completion
}

// Snapshot is one iteration's view of Signals.
type Snapshot struct {
	Trigger    bool
	TimerMatch bool
	Rx         [can.NumRxPaths]BatchEvent
	RxPending  [can.NumRxPaths]bool
	TxDone     CompletionEvent
	TxPending  bool
}

// Drain reads and clears every cell once. A cell that was already clear
// contributes nothing, so draining twice never duplicates work.
func (s *Signals) Drain() Snapshot {
	var snap Snapshot
	snap.Trigger = s.Trigger.Take()
	snap.TimerMatch = s.TimerMatch.Take()
	for p := range s.Rx {
		snap.Rx[p], snap.RxPending[p] = s.Rx[p].Take()
	}
	snap.TxDone, snap.TxPending = s.TxDone.Take()
	return snap
}

// Empty reports whether the snapshot carries no events.
func (s Snapshot) Empty() bool {
	if s.Trigger || s.TimerMatch || s.TxPending {
		return false
	}
	for _, p := range s.RxPending {
		if p {
			return false
		}
	}
	return true
}
