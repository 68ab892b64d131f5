//go:build !linux

package socketcan

import (
	"errors"

	"github.com/kstaniek/go-canfd-console/internal/can"
)

var ErrUnsupported = errors.New("socketcan: only supported on linux")

// Device is unavailable off Linux; Open always fails.
type Device struct{}

func Open(string) (*Device, error) { return nil, ErrUnsupported }

func (*Device) Close() error                { return nil }
func (*Device) ReadFrame(*can.Frame) error  { return ErrUnsupported }
func (*Device) Write(p []byte) (int, error) { return 0, ErrUnsupported }
