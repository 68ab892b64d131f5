//go:build linux

package hostboard

import (
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
)

// TriggerSignal is the external trigger on a host: kill -USR1 <pid>.
const TriggerSignal = syscall.SIGUSR1

// execFn replaces the process image; tests override it.
var execFn = unix.Exec

func (b *Board) startEdgeSource() {
	b.sigs = make(chan os.Signal, 1)
	signal.Notify(b.sigs, TriggerSignal)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-b.ctx.Done():
				return
			case <-b.sigs:
				b.Trigger()
			}
		}
	}()
}

func (b *Board) stopEdgeSource() { signal.Stop(b.sigs) }

// Reset re-executes the running binary with the same arguments and
// environment, the host analogue of a system reset.
func (b *Board) Reset() {
	exe, err := os.Executable()
	if err != nil {
		b.log.Error("reset_error", "error", err)
		return
	}
	b.log.Warn("system_reset", "exe", exe)
	if err := execFn(exe, os.Args, os.Environ()); err != nil {
		b.log.Error("reset_error", "error", err)
	}
}
