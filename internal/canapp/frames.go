package canapp

import "github.com/kstaniek/go-canfd-console/internal/can"

// demo describes one canned frame bound to a menu key. Payload bytes count
// up from first.
type demo struct {
	key      byte
	id       uint32
	extended bool
	fd       bool
	length   uint8
	first    byte
	title    string
}

var demos = []demo{
	{'1', 0x45A, false, true, 64, 0, "Send FD standard message with ID: 0x45A and 64 byte data 0 to 63"},
	{'2', 0x469, false, true, 64, 128, "Send FD standard message with ID: 0x469 and 64 byte data 128 to 191"},
	{'3', 0x100000A5, true, true, 64, 0, "Send FD extended message with ID: 0x100000A5 and 64 byte data 0 to 63"},
	{'4', 0x10000096, true, true, 64, 128, "Send FD extended message with ID: 0x10000096 and 64 byte data 128 to 191"},
	{'5', 0x469, false, false, 8, 0, "Send normal standard message with ID: 0x469 and 8 byte data 0 to 7"},
}

func lookupDemo(key byte) (demo, bool) {
	for _, d := range demos {
		if d.key == key {
			return d, true
		}
	}
	return demo{}, false
}

// frame builds a fresh frame value; unused payload bytes are zero.
func (d demo) frame() can.Frame {
	f := can.Frame{ID: d.id, Extended: d.extended, FD: d.fd, BRS: d.fd, Len: d.length}
	for i := uint8(0); i < d.length; i++ {
		f.Data[i] = d.first + i
	}
	return f
}

// DemoFrame returns the frame a menu key transmits.
func DemoFrame(key byte) (can.Frame, bool) {
	d, ok := lookupDemo(key)
	if !ok {
		return can.Frame{}, false
	}
	return d.frame(), true
}

const menuText = "\r\n\r\n[CAN] Demo Menu Options :\r\n" +
	"  --> Enter a key to select one of the following actions:\r\n" +
	"  [1] Send FD standard message with ID: 0x45A and 64 byte data 0 to 63 \r\n" +
	"  [2] Send FD standard message with ID: 0x469 and 64 byte data 128 to 191 \r\n" +
	"  [3] Send FD extended message with ID: 0x100000A5 and 64 byte data 0 to 63 \r\n" +
	"  [4] Send FD extended message with ID: 0x10000096 and 64 byte data 128 to 191 \r\n" +
	"  [5] Send normal standard message with ID: 0x469 and 8 byte data 0 to 7 \r\n" +
	"  [M/m] Display options in this menu \r\n" +
	"  [R/r] Reset MCU \r\n\r\n"

// Operator-facing replies.
const (
	msgSubmitRejected = "[CAN] Message send failed!!! \r\n"
	msgSent           = "[CAN] Message sent successfully!\r\n"
	msgSendFailed     = "[CAN] Message send failed!\r\n"
	msgRxFailed       = "[CAN] Error in received message!\r\n"
	msgInvalid        = "\r\n[***ERROR***] An invalid menu item was selected... \r\n"
)

var rxHeaders = [can.NumRxPaths]string{
	can.RxFIFO0:  "[CAN] Rx FIFO0 (Standard Frames) >",
	can.RxFIFO1:  "[CAN] Rx FIFO1 (Extended Frames) >",
	can.RxBuffer: "[CAN] Rx Buffer >",
}
