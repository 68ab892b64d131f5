//go:build linux

package socketcan

import (
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-canfd-console/internal/can"
)

type Device struct {
	fd int
}

// readTimeout bounds each blocking read so a closing reader notices
// cancellation.
const readTimeout = 200 * time.Millisecond

// Open binds a raw CAN socket to iface with FD frames enabled.
func Open(iface string) (*Device, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("enable CAN FD: %w", err)
	}
	tv := unix.NsecToTimeval(readTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	sa := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(can@%s): %w", iface, err)
	}
	return &Device{fd: fd}, nil
}

func (d *Device) Close() error { return unix.Close(d.fd) }

// ReadFrame reads one classic or FD frame from the socket.
func (d *Device) ReadFrame(fr *can.Frame) error {
	var buf [FDMTU]byte
	n, err := unix.Read(d.fd, buf[:])
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
		return ErrReadTimeout
	}
	if err != nil {
		return err
	}
	f, err := DecodeFrame(buf[:n])
	if err != nil {
		return err
	}
	*fr = f
	return nil
}

// Write sends one encoded frame.
func (d *Device) Write(p []byte) (int, error) { return unix.Write(d.fd, p) }
