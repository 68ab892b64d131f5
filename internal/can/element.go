package can

import (
	"encoding/binary"
	"fmt"
)

// Message RAM element layout (M_CAN, little-endian words):
//
//	word0: [28:0] ID field, [29] RTR, [30] XTD, [31] ESI
//	word1: [15:0] timestamp (RX only), [19:16] DLC, [20] BRS, [21] FDF
//	data:  up to 64 bytes
//
// Standard identifiers are stored pre-shifted (see WriteStdID).
const (
	ElementHeaderSize = 8
	ElementSize       = ElementHeaderSize + MaxLen // element stride for a 64-byte data field

	idFieldMask = 0x1FFFFFFF
	bitXTD      = 1 << 30
	dlcShift    = 16
	bitBRS      = 1 << 20
	bitFDF      = 1 << 21
)

// RxElement is one decoded reception element.
type RxElement struct {
	IDField   uint32 // raw ID field as stored by the controller
	Extended  bool
	Timestamp uint16
	DLC       uint8
	FD        bool
	BRS       bool
	Data      [MaxLen]byte
}

// ID resolves the logical identifier: extended IDs are used as-is while
// standard IDs are shifted out of their field position.
func (e RxElement) ID() uint32 {
	if e.Extended {
		return e.IDField & idFieldMask
	}
	return ReadStdID(e.IDField)
}

// Len is the canonical payload length for the element's DLC.
func (e RxElement) Len() uint8 { return DLCToLen(e.DLC) }

// Payload returns the first Len() data bytes.
func (e RxElement) Payload() []byte { return e.Data[:e.Len()] }

// Frame converts the element back to an application frame.
func (e RxElement) Frame() Frame {
	f := Frame{ID: e.ID(), Extended: e.Extended, FD: e.FD, BRS: e.BRS, Len: e.Len()}
	copy(f.Data[:], e.Payload())
	return f
}

// EncodeTxElement writes f into dst using the element layout. dst must be at
// least ElementHeaderSize+DLCToLen(f.DLC()) bytes; bytes past the payload are
// left untouched, so callers pass a zeroed element.
func EncodeTxElement(dst []byte, f Frame) (int, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	dlc := f.DLC()
	n := ElementHeaderSize + int(DLCToLen(dlc))
	if len(dst) < n {
		return 0, fmt.Errorf("can: element buffer too small: %d < %d", len(dst), n)
	}
	var w0, w1 uint32
	if f.Extended {
		w0 = (f.ID & idFieldMask) | bitXTD
	} else {
		w0 = WriteStdID(f.ID)
	}
	w1 = uint32(dlc) << dlcShift
	if f.FD {
		w1 |= bitFDF
		if f.BRS {
			w1 |= bitBRS
		}
	}
	binary.LittleEndian.PutUint32(dst[0:4], w0)
	binary.LittleEndian.PutUint32(dst[4:8], w1)
	copy(dst[ElementHeaderSize:n], f.Data[:DLCToLen(dlc)])
	return n, nil
}

// EncodeRxElement writes a reception element for f with timestamp ts, as the
// controller would. Used by board implementations that fill receive memory.
func EncodeRxElement(dst []byte, f Frame, ts uint16) (int, error) {
	n, err := EncodeTxElement(dst, f)
	if err != nil {
		return 0, err
	}
	w1 := binary.LittleEndian.Uint32(dst[4:8])
	binary.LittleEndian.PutUint32(dst[4:8], w1|uint32(ts))
	return n, nil
}

// DecodeRxElement parses one reception element from src.
func DecodeRxElement(src []byte) (RxElement, error) {
	var e RxElement
	if len(src) < ElementHeaderSize {
		return e, fmt.Errorf("can: short element: %d bytes", len(src))
	}
	w0 := binary.LittleEndian.Uint32(src[0:4])
	w1 := binary.LittleEndian.Uint32(src[4:8])
	e.IDField = w0 & idFieldMask
	e.Extended = w0&bitXTD != 0
	e.Timestamp = uint16(w1)
	e.DLC = uint8(w1>>dlcShift) & 0xF
	e.BRS = w1&bitBRS != 0
	e.FD = w1&bitFDF != 0
	ln := int(DLCToLen(e.DLC))
	if len(src) < ElementHeaderSize+ln {
		return e, fmt.Errorf("can: truncated element: dlc %d needs %d bytes, have %d", e.DLC, ElementHeaderSize+ln, len(src))
	}
	copy(e.Data[:], src[ElementHeaderSize:ElementHeaderSize+ln])
	return e, nil
}

// LEC is the controller's last error code from the protocol status register.
type LEC uint8

const (
	LECNone LEC = iota
	LECStuff
	LECForm
	LECAck
	LECBit1
	LECBit0
	LECCRC
	LECNoChange
)

// OK reports whether the status carries no protocol error. "No change"
// means nothing happened since the last read and is treated as success.
func (l LEC) OK() bool {
	l &= 0x7
	return l == LECNone || l == LECNoChange
}

func (l LEC) String() string {
	switch l & 0x7 {
	case LECNone:
		return "none"
	case LECStuff:
		return "stuff"
	case LECForm:
		return "form"
	case LECAck:
		return "ack"
	case LECBit1:
		return "bit1"
	case LECBit0:
		return "bit0"
	case LECCRC:
		return "crc"
	default:
		return "no_change"
	}
}
