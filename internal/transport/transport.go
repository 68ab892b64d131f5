// Package transport holds the host-side plumbing shared by the serial and
// SocketCAN backends.
package transport

// Sink accepts a buffer for asynchronous transmission.
type Sink interface {
	Submit(p []byte) error
	InFlight() int
}

var _ Sink = (*AsyncTx)(nil)
