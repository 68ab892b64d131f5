//go:build linux

package main

import (
	"context"
	"os"
	"os/signal"
	"sync"

	"github.com/kstaniek/go-canfd-console/internal/hostboard"
)

// notifyTrigger calls fire for every trigger signal until ctx is done.
func notifyTrigger(ctx context.Context, wg *sync.WaitGroup, fire func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, hostboard.TriggerSignal)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				fire()
			}
		}
	}()
}
