//go:build !linux

package main

import (
	"context"
	"sync"
)

func notifyTrigger(context.Context, *sync.WaitGroup, func()) {}
