package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvName(t *testing.T) {
	assert.Equal(t, "CANFD_CONSOLE_RX_BUFFER_ID", envName("rx-buffer-id"))
}

func TestApplyEnvOverrides_Basic(t *testing.T) {
	t.Setenv("CANFD_CONSOLE_BAUD", "230400")
	t.Setenv("CANFD_CONSOLE_MDNS_ENABLE", "true")
	t.Setenv("CANFD_CONSOLE_SERIAL_READ_TIMEOUT", "100ms")
	t.Setenv("CANFD_CONSOLE_LOG_METRICS_INTERVAL", "5s")
	t.Setenv("CANFD_CONSOLE_BACKEND", "sim")

	c := defaultConfig()
	require.NoError(t, applyEnvOverrides(c, map[string]struct{}{}))
	assert.Equal(t, 230400, c.baud)
	assert.True(t, c.mdnsEnable)
	assert.Equal(t, 100*time.Millisecond, c.serialReadTO)
	assert.Equal(t, 5*time.Second, c.logMetricsEvery)
	assert.Equal(t, "sim", c.backend)
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	t.Setenv("CANFD_CONSOLE_BAUD", "230400")
	c := defaultConfig()
	require.NoError(t, applyEnvOverrides(c, map[string]struct{}{"baud": {}}))
	assert.Equal(t, 115200, c.baud)
}

func TestApplyEnvOverrides_BadValues(t *testing.T) {
	t.Setenv("CANFD_CONSOLE_RX_FIFO_DEPTH", "notint")
	t.Setenv("CANFD_CONSOLE_TX_REJECT_RECOVER", "maybe")
	err := applyEnvOverrides(defaultConfig(), map[string]struct{}{})
	assert.ErrorContains(t, err, "CANFD_CONSOLE_RX_FIFO_DEPTH")
}

func TestApplyEnvOverrides_EmptyMetricsAddrDisables(t *testing.T) {
	t.Setenv("CANFD_CONSOLE_METRICS_ADDR", "")
	t.Setenv("CANFD_CONSOLE_CAN_IF", "")
	c := defaultConfig()
	c.metricsAddr = ":9100"
	require.NoError(t, applyEnvOverrides(c, map[string]struct{}{}))
	assert.Empty(t, c.metricsAddr)
	assert.Equal(t, "can0", c.canIf, "other empty values are ignored")
}

func TestPrecedence_FlagEnvFileDefault(t *testing.T) {
	p := writeINI(t, "[serial]\nbaud = 9600\npeer-baud = 19200\nserial-read-timeout = 20ms\n")
	t.Setenv("CANFD_CONSOLE_CONFIG", p)
	t.Setenv("CANFD_CONSOLE_BAUD", "57600")
	t.Setenv("CANFD_CONSOLE_PEER_BAUD", "38400")

	cfg, _, err := parseFlags([]string{"-peer-baud", "460800"})
	require.NoError(t, err)
	assert.Equal(t, 57600, cfg.baud, "env beats file")
	assert.Equal(t, 460800, cfg.peerBaud, "flag beats env")
	assert.Equal(t, 20*time.Millisecond, cfg.serialReadTO, "file beats default")
	assert.Equal(t, "can0", cfg.canIf, "default")
}
