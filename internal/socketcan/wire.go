// Package socketcan carries CAN and CAN-FD frames over a Linux raw CAN
// socket.
package socketcan

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/kstaniek/go-canfd-console/internal/can"
)

// Kernel frame sizes and flags (linux/can.h).
const (
	MTU   = 16 // struct can_frame
	FDMTU = 72 // struct canfd_frame

	effFlag = 0x80000000
	rtrFlag = 0x40000000
	errFlag = 0x20000000
	effMask = 0x1FFFFFFF
	sffMask = 0x7FF

	fdBRS = 0x01
	fdFDF = 0x04
)

var (
	ErrShortFrame = errors.New("socketcan: short frame")
	ErrNotData    = errors.New("socketcan: remote or error frame")
	// ErrReadTimeout is returned when no frame arrived within the socket's
	// receive timeout.
	ErrReadTimeout = errors.New("socketcan: read timeout")
)

// EncodeFrame returns the kernel representation of f: a 16-byte can_frame
// for classic frames, a 72-byte canfd_frame for FD frames.
//
// The kernel uses host byte order; little-endian is assumed.
func EncodeFrame(f can.Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	size := MTU
	if f.FD {
		size = FDMTU
	}
	buf := make([]byte, size)
	id := f.ID
	if f.Extended {
		id = (id & effMask) | effFlag
	}
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = f.Len
	if f.FD {
		// FD lengths are padded up to the next valid size
		buf[4] = can.DLCToLen(f.DLC())
		buf[5] = fdFDF
		if f.BRS {
			buf[5] |= fdBRS
		}
	}
	copy(buf[8:], f.Payload())
	return buf, nil
}

// DecodeFrame parses a can_frame or canfd_frame read from the socket.
func DecodeFrame(b []byte) (can.Frame, error) {
	var f can.Frame
	if len(b) != MTU && len(b) != FDMTU {
		return f, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(b))
	}
	id := binary.LittleEndian.Uint32(b[0:4])
	if id&(rtrFlag|errFlag) != 0 {
		return f, fmt.Errorf("%w: id 0x%X", ErrNotData, id)
	}
	f.Extended = id&effFlag != 0
	if f.Extended {
		f.ID = id & effMask
	} else {
		f.ID = id & sffMask
	}
	n := b[4]
	max := uint8(can.MaxClassicLen)
	if len(b) == FDMTU {
		f.FD = true
		f.BRS = b[5]&fdBRS != 0
		max = can.MaxLen
	}
	if n > max {
		n = max
	}
	f.Len = n
	copy(f.Data[:], b[8:8+int(n)])
	return f, nil
}
