package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

const envPrefix = "CANFD_CONSOLE_"

type appConfig struct {
	backend         string
	debugSerial     string
	peerSerial      string
	baud            int
	peerBaud        int
	serialReadTO    time.Duration
	canIf           string
	rxBufferID      int
	rxFIFODepth     int
	txRejectRecover bool
	sendTimeout     time.Duration
	loopIdle        time.Duration
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
	configFile      string
}

// setting binds one option to its flag name (also the INI key), the INI
// section it lives in and a parser. The environment variable is derived
// from the flag name: rx-buffer-id -> CANFD_CONSOLE_RX_BUFFER_ID.
type setting struct {
	name    string
	section string
	apply   func(c *appConfig, v string) error
}

func envName(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

var settings = []setting{
	{"backend", "can", func(c *appConfig, v string) error { c.backend = v; return nil }},
	{"debug-serial", "serial", func(c *appConfig, v string) error { c.debugSerial = v; return nil }},
	{"peer-serial", "serial", func(c *appConfig, v string) error { c.peerSerial = v; return nil }},
	{"baud", "serial", intSetter(func(c *appConfig) *int { return &c.baud })},
	{"peer-baud", "serial", intSetter(func(c *appConfig) *int { return &c.peerBaud })},
	{"serial-read-timeout", "serial", durSetter(func(c *appConfig) *time.Duration { return &c.serialReadTO })},
	{"can-if", "can", func(c *appConfig, v string) error { c.canIf = v; return nil }},
	{"rx-buffer-id", "can", intSetter(func(c *appConfig) *int { return &c.rxBufferID })},
	{"rx-fifo-depth", "can", intSetter(func(c *appConfig) *int { return &c.rxFIFODepth })},
	{"tx-reject-recover", "can", boolSetter(func(c *appConfig) *bool { return &c.txRejectRecover })},
	{"send-timeout", "loop", durSetter(func(c *appConfig) *time.Duration { return &c.sendTimeout })},
	{"loop-idle", "loop", durSetter(func(c *appConfig) *time.Duration { return &c.loopIdle })},
	{"log-format", "log", func(c *appConfig, v string) error { c.logFormat = v; return nil }},
	{"log-level", "log", func(c *appConfig, v string) error { c.logLevel = v; return nil }},
	{"metrics-addr", "metrics", func(c *appConfig, v string) error { c.metricsAddr = v; return nil }},
	{"log-metrics-interval", "metrics", durSetter(func(c *appConfig) *time.Duration { return &c.logMetricsEvery })},
	{"mdns-enable", "metrics", boolSetter(func(c *appConfig) *bool { return &c.mdnsEnable })},
	{"mdns-name", "metrics", func(c *appConfig, v string) error { c.mdnsName = v; return nil }},
}

func intSetter(field func(*appConfig) *int) func(*appConfig, string) error {
	return func(c *appConfig, v string) error {
		n, err := strconv.ParseInt(v, 0, 0)
		if err != nil {
			return err
		}
		*field(c) = int(n)
		return nil
	}
}

func durSetter(field func(*appConfig) *time.Duration) func(*appConfig, string) error {
	return func(c *appConfig, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

func boolSetter(field func(*appConfig) *bool) func(*appConfig, string) error {
	return func(c *appConfig, v string) error {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			*field(c) = true
		case "0", "false", "no", "off":
			*field(c) = false
		default:
			return fmt.Errorf("not a boolean: %q", v)
		}
		return nil
	}
}

func defaultConfig() *appConfig {
	return &appConfig{
		backend:      "host",
		debugSerial:  "/dev/ttyUSB0",
		peerSerial:   "/dev/ttyUSB1",
		baud:         115200,
		peerBaud:     115200,
		serialReadTO: 50 * time.Millisecond,
		canIf:        "can0",
		rxBufferID:   -1,
		rxFIFODepth:  8,
		loopIdle:     time.Millisecond,
		logFormat:    "text",
		logLevel:     "info",
	}
}

// parseFlags builds the configuration. Precedence per option: explicit
// flag, then CANFD_CONSOLE_* environment, then the INI file, then the
// default.
func parseFlags(args []string) (*appConfig, bool, error) {
	cfg := defaultConfig()
	fs := flag.NewFlagSet("canfd-console", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.backend, "backend", cfg.backend, "Board backend: host|sim")
	fs.StringVar(&cfg.debugSerial, "debug-serial", cfg.debugSerial, "Debug console serial device (host backend)")
	fs.StringVar(&cfg.peerSerial, "peer-serial", cfg.peerSerial, "Peer link serial device (host backend)")
	fs.IntVar(&cfg.baud, "baud", cfg.baud, "Debug console baud rate")
	fs.IntVar(&cfg.peerBaud, "peer-baud", cfg.peerBaud, "Peer link baud rate")
	fs.DurationVar(&cfg.serialReadTO, "serial-read-timeout", cfg.serialReadTO, "Serial read timeout")
	fs.StringVar(&cfg.canIf, "can-if", cfg.canIf, "SocketCAN interface (host backend)")
	fs.IntVar(&cfg.rxBufferID, "rx-buffer-id", cfg.rxBufferID, "Standard ID routed to the dedicated Rx buffer (-1 disables)")
	fs.IntVar(&cfg.rxFIFODepth, "rx-fifo-depth", cfg.rxFIFODepth, "Elements per reception FIFO")
	fs.BoolVar(&cfg.txRejectRecover, "tx-reject-recover", cfg.txRejectRecover, "Return to awaiting input after a refused CAN submission")
	fs.DurationVar(&cfg.sendTimeout, "send-timeout", cfg.sendTimeout, "Bound on each text send (0 waits forever)")
	fs.DurationVar(&cfg.loopIdle, "loop-idle", cfg.loopIdle, "Pause after an idle loop iteration (0 spins)")
	fs.StringVar(&cfg.logFormat, "log-format", cfg.logFormat, "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", cfg.logLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", cfg.metricsAddr, "Metrics HTTP listen address (e.g., :9100); empty disables")
	fs.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", cfg.logMetricsEvery, "If >0, periodically log metrics counters")
	fs.BoolVar(&cfg.mdnsEnable, "mdns-enable", cfg.mdnsEnable, "Advertise the metrics endpoint over mDNS")
	fs.StringVar(&cfg.mdnsName, "mdns-name", cfg.mdnsName, "mDNS instance name (default canfd-console-<hostname>)")
	fs.StringVar(&cfg.configFile, "config", "", "Optional INI configuration file")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}

	set := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = struct{}{} })

	if _, ok := set["config"]; !ok {
		if v, ok := os.LookupEnv(envName("config")); ok && strings.TrimSpace(v) != "" {
			cfg.configFile = strings.TrimSpace(v)
		}
	}
	if cfg.configFile != "" {
		file, err := ini.Load(cfg.configFile)
		if err != nil {
			return nil, *showVersion, fmt.Errorf("config file: %w", err)
		}
		if err := applyFileOverrides(cfg, file, set); err != nil {
			return nil, *showVersion, err
		}
	}
	if err := applyEnvOverrides(cfg, set); err != nil {
		return nil, *showVersion, err
	}
	if err := cfg.validate(); err != nil {
		return nil, *showVersion, err
	}
	return cfg, *showVersion, nil
}

// applyFileOverrides applies INI keys for options not given as flags.
func applyFileOverrides(c *appConfig, file *ini.File, set map[string]struct{}) error {
	for _, s := range settings {
		if _, ok := set[s.name]; ok {
			continue
		}
		sec := file.Section(s.section)
		if !sec.HasKey(s.name) {
			continue
		}
		v := strings.TrimSpace(sec.Key(s.name).String())
		if err := s.apply(c, v); err != nil {
			return fmt.Errorf("invalid [%s] %s: %w", s.section, s.name, err)
		}
	}
	return nil
}

// applyEnvOverrides maps CANFD_CONSOLE_* environment variables onto options
// not given as flags. Empty values are ignored. The first parse error is
// returned after all variables were tried.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	for _, s := range settings {
		if _, ok := set[s.name]; ok {
			continue
		}
		key := envName(s.name)
		v, ok := os.LookupEnv(key)
		v = strings.TrimSpace(v)
		// an empty metrics address is meaningful: it disables the endpoint
		if !ok || (v == "" && s.name != "metrics-addr") {
			continue
		}
		if err := s.apply(c, v); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	return firstErr
}

// validate performs semantic validation of the parsed configuration.
// It does not attempt to open devices or listeners.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.backend {
	case "host":
		if c.debugSerial == "" || c.peerSerial == "" {
			return errors.New("host backend needs debug-serial and peer-serial")
		}
		if c.debugSerial == c.peerSerial {
			return fmt.Errorf("debug-serial and peer-serial must differ (both %s)", c.debugSerial)
		}
		if c.canIf == "" {
			return errors.New("host backend needs can-if")
		}
	case "sim":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.peerBaud <= 0 {
		return fmt.Errorf("peer-baud must be > 0 (got %d)", c.peerBaud)
	}
	if c.serialReadTO <= 0 {
		return errors.New("serial-read-timeout must be > 0")
	}
	if c.rxBufferID < -1 || c.rxBufferID > 0x7FF {
		return fmt.Errorf("rx-buffer-id must be -1 or a standard ID (got %d)", c.rxBufferID)
	}
	if c.rxFIFODepth <= 0 || c.rxFIFODepth > 64 {
		return fmt.Errorf("rx-fifo-depth must be in 1..64 (got %d)", c.rxFIFODepth)
	}
	if c.sendTimeout < 0 {
		return errors.New("send-timeout must be >= 0")
	}
	if c.loopIdle < 0 {
		return errors.New("loop-idle must be >= 0")
	}
	if c.logMetricsEvery < 0 {
		return errors.New("log-metrics-interval must be >= 0")
	}
	if c.mdnsEnable && c.metricsAddr == "" {
		return errors.New("mdns-enable needs metrics-addr")
	}
	return nil
}
