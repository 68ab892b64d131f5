// Package handshake holds the cells through which interrupt-side code
// (completion callbacks, timer and edge handlers) hands events to the main
// loop. Every cell has exactly one producer side and one consumer side:
//
//   - producers only write a payload and then raise the flag; they never
//     read, clear or block;
//   - the main loop only reads-and-clears, once per iteration, and acts on
//     the snapshot it took rather than re-reading the live cell.
//
// Take clears the flag before it loads the payload. A Post landing between
// the two hands the consumer the newer payload and leaves the flag raised,
// so the same event may be seen twice; it is never lost. Consumers treat
// payloads as upper bounds (a fill level, a status) and tolerate a repeat.
//
// There is no other shared mutable state between contexts.
package handshake

import (
	"sync/atomic"

	"github.com/kstaniek/go-canfd-console/internal/can"
)

// Flag is a single boolean signal cell.
type Flag struct{ v atomic.Bool }

// Set raises the flag. Producer side.
func (f *Flag) Set() { f.v.Store(true) }

// Take reports whether the flag was raised and clears it. Consumer side;
// clearing is the acknowledgment.
func (f *Flag) Take() bool { return f.v.Swap(false) }

// Clear lowers the flag without reading it. Used by the owner of a
// completion flag right before starting the transfer it will wait on.
func (f *Flag) Clear() { f.v.Store(false) }

// IsSet peeks at the flag without clearing it.
func (f *Flag) IsSet() bool { return f.v.Load() }

// Batch signals that a reception path holds messages to drain. The payload
// is the message count (or, for the dedicated buffer, the buffer index) and
// the operation tag registered with the callback.
type Batch struct {
	flag  Flag
	count atomic.Uint32
	tag   atomic.Uint32
}

// BatchEvent is the consumer's snapshot of a Batch.
type BatchEvent struct {
	Count uint8
	Tag   can.Op
}

// Post writes the payload and raises the flag. Producer side.
func (b *Batch) Post(count uint8, tag can.Op) {
	b.count.Store(uint32(count))
	b.tag.Store(uint32(tag))
	b.flag.Set()
}

// Take returns the pending event, if any, and clears the flag.
func (b *Batch) Take() (BatchEvent, bool) {
	if !b.flag.Take() {
		return BatchEvent{}, false
	}
	return BatchEvent{Count: uint8(b.count.Load()), Tag: can.Op(b.tag.Load())}, true
}

// Completion signals the end of a controller transfer together with the
// error status read in the callback.
type Completion struct {
	flag   Flag
	status atomic.Uint32
	tag    atomic.Uint32
}

// CompletionEvent is the consumer's snapshot of a Completion.
type CompletionEvent struct {
	Status can.LEC
	Tag    can.Op
}

// Post writes the payload and raises the flag. Producer side.
func (c *Completion) Post(status can.LEC, tag can.Op) {
	c.status.Store(uint32(status))
	c.tag.Store(uint32(tag))
	c.flag.Set()
}

// Take returns the pending event, if any, and clears the flag.
func (c *Completion) Take() (CompletionEvent, bool) {
	if !c.flag.Take() {
		return CompletionEvent{}, false
	}
	return CompletionEvent{Status: can.LEC(c.status.Load()), Tag: can.Op(c.tag.Load())}, true
}
