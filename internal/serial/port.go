// Package serial connects the text channels to real UARTs through
// tarm/serial: a write funnel standing in for the transmit DMA and a read
// goroutine feeding a polled byte ring.
package serial

import (
	"time"

	"github.com/tarm/serial"
)

// Port abstracts tarm/serial for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Open opens a UART at baud. A zero readTimeout blocks reads indefinitely,
// which also blocks shutdown of the read goroutine until the port closes.
func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return serial.OpenPort(cfg)
}
