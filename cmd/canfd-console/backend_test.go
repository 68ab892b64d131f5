package main

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-canfd-console/internal/can"
	"github.com/kstaniek/go-canfd-console/internal/logging"
	"github.com/kstaniek/go-canfd-console/internal/platform"
	"github.com/kstaniek/go-canfd-console/internal/scheduler"
	"github.com/kstaniek/go-canfd-console/internal/serial"
	"github.com/kstaniek/go-canfd-console/internal/sim"
	"github.com/kstaniek/go-canfd-console/internal/socketcan"
)

type nopPort struct{ closed bool }

func (p *nopPort) Read(b []byte) (int, error) {
	time.Sleep(time.Millisecond)
	return 0, io.EOF
}
func (p *nopPort) Write(b []byte) (int, error) { return len(b), nil }
func (p *nopPort) Close() error                { p.closed = true; return nil }

type idleCAN struct{}

func (idleCAN) ReadFrame(*can.Frame) error {
	time.Sleep(time.Millisecond)
	return socketcan.ErrReadTimeout
}
func (idleCAN) Write(p []byte) (int, error) { return len(p), nil }
func (idleCAN) Close() error                { return nil }

func restoreHooks(t *testing.T) {
	t.Cleanup(func() {
		openSerialPort = serial.Open
		openCANDevice = func(iface string) (socketcan.Dev, error) { return socketcan.Open(iface) }
	})
}

func TestInitBackend_Unknown(t *testing.T) {
	var wg sync.WaitGroup
	_, cleanup, err := initBackend(context.Background(), &appConfig{backend: "x"}, logging.Discard(), &wg)
	require.Error(t, err)
	cleanup()
}

func TestInitBackend_HostOpensDevices(t *testing.T) {
	restoreHooks(t)
	opened := map[string]int{}
	openSerialPort = func(name string, baud int, _ time.Duration) (serial.Port, error) {
		opened[name] = baud
		return &nopPort{}, nil
	}
	openCANDevice = func(iface string) (socketcan.Dev, error) {
		assert.Equal(t, "vcan0", iface)
		return idleCAN{}, nil
	}
	cfg := defaultConfig()
	cfg.canIf = "vcan0"
	cfg.peerBaud = 9600

	var wg sync.WaitGroup
	b, cleanup, err := initBackend(context.Background(), cfg, logging.Discard(), &wg)
	require.NoError(t, err)
	require.NotNil(t, b)
	cleanup()
	assert.Equal(t, map[string]int{"/dev/ttyUSB0": 115200, "/dev/ttyUSB1": 9600}, opened)
}

func TestInitBackend_HostClosesOnCANFailure(t *testing.T) {
	restoreHooks(t)
	var ports []*nopPort
	openSerialPort = func(string, int, time.Duration) (serial.Port, error) {
		p := &nopPort{}
		ports = append(ports, p)
		return p, nil
	}
	openCANDevice = func(string) (socketcan.Dev, error) { return nil, errors.New("no such device") }

	var wg sync.WaitGroup
	_, _, err := initBackend(context.Background(), defaultConfig(), logging.Discard(), &wg)
	require.ErrorContains(t, err, "no such device")
	require.Len(t, ports, 2)
	assert.True(t, ports[0].closed)
	assert.True(t, ports[1].closed)
}

type syncBuffer struct {
	mu sync.Mutex
	sb strings.Builder
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}

func TestInitBackend_SimUsesStdio(t *testing.T) {
	out := &syncBuffer{}
	simStdin, simStdout = strings.NewReader("m"), out
	t.Cleanup(func() { simStdin, simStdout = os.Stdin, os.Stdout })

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	cfg := defaultConfig()
	cfg.backend = "sim"
	b, _, err := initBackend(ctx, cfg, logging.Discard(), &wg)
	require.NoError(t, err)

	var got byte
	require.Eventually(t, func() bool {
		c, ok := b.ReadByte(platform.Debug)
		got = c
		return ok
	}, time.Second, time.Millisecond)
	assert.Equal(t, byte('m'), got)

	_, err = b.Write(platform.Debug, []byte("ok"))
	require.NoError(t, err)
	assert.Equal(t, "ok", out.String())
	cancel()
	wg.Wait()
}

func TestPortOf(t *testing.T) {
	p, err := portOf(":9100")
	require.NoError(t, err)
	assert.Equal(t, 9100, p)
	_, err = portOf("9100")
	assert.Error(t, err)
	_, err = portOf(":0")
	assert.Error(t, err)
}

func TestWireResetRestartsSimConsole(t *testing.T) {
	b := sim.New()
	s := scheduler.New(b, scheduler.Config{Logger: logging.Discard()})
	s.Start()
	require.True(t, wireReset(b, s))

	b.ResetOutput()
	b.Reset()
	assert.Contains(t, b.Output(platform.Debug), "[CAN] Demo Menu Options")
	assert.Equal(t, 1, b.Resets())
}
