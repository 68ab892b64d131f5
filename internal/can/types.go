package can

import (
	"errors"
	"fmt"
)

// Identifier and payload limits.
const (
	MaxStdID      = 0x7FF
	MaxExtID      = 0x1FFFFFFF
	MaxLen        = 64
	MaxClassicLen = 8
)

var (
	ErrInvalidID  = errors.New("can: invalid identifier")
	ErrInvalidLen = errors.New("can: invalid data length")
)

// Frame is a CAN or CAN-FD data frame as the application sees it.
// ID is the logical identifier (11-bit when Extended is false, 29-bit
// otherwise); it is never stored pre-shifted. Only the first Len bytes of
// Data are meaningful and the rest are always zero for frames built with
// NewFrame.
type Frame struct {
	ID       uint32
	Extended bool
	FD       bool // flexible data rate format
	BRS      bool // bit rate switch (FD only)
	Len      uint8
	Data     [MaxLen]byte
}

// NewFrame builds a frame from payload. Payloads above 8 bytes require fd.
func NewFrame(id uint32, extended, fd, brs bool, payload []byte) (Frame, error) {
	f := Frame{ID: id, Extended: extended, FD: fd, BRS: brs && fd}
	if len(payload) > MaxLen {
		return Frame{}, fmt.Errorf("%w: %d", ErrInvalidLen, len(payload))
	}
	f.Len = uint8(len(payload))
	copy(f.Data[:], payload)
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Validate reports identifier range and length violations.
func (f Frame) Validate() error {
	if f.Extended {
		if f.ID > MaxExtID {
			return fmt.Errorf("%w: 0x%X", ErrInvalidID, f.ID)
		}
	} else if f.ID > MaxStdID {
		return fmt.Errorf("%w: 0x%X", ErrInvalidID, f.ID)
	}
	if f.Len > MaxLen || (!f.FD && f.Len > MaxClassicLen) {
		return fmt.Errorf("%w: %d (fd=%t)", ErrInvalidLen, f.Len, f.FD)
	}
	return nil
}

// DLC returns the data length code for the frame's length.
func (f Frame) DLC() uint8 { return LenToDLC(f.Len) }

// Payload returns the valid data bytes.
func (f Frame) Payload() []byte { return f.Data[:f.Len] }

// Op names the logical operation an in-flight controller transfer belongs
// to. It is registered alongside completion callbacks so that the callback,
// which only sees a status code, can be attributed later.
type Op uint8

const (
	OpNone Op = iota
	OpTransmit
	OpReceive
)

func (o Op) String() string {
	switch o {
	case OpTransmit:
		return "transmit"
	case OpReceive:
		return "receive"
	default:
		return "none"
	}
}

// RxPath identifies one of the controller's reception paths.
type RxPath uint8

const (
	RxFIFO0  RxPath = iota // standard-ID filter class
	RxFIFO1                // extended-ID filter class
	RxBuffer               // dedicated buffer
	NumRxPaths
)

func (p RxPath) String() string {
	switch p {
	case RxFIFO0:
		return "fifo0"
	case RxFIFO1:
		return "fifo1"
	case RxBuffer:
		return "buffer"
	default:
		return "unknown"
	}
}
