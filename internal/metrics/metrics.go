package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-canfd-console/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus collectors
var (
	CANTxSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "can_tx_submitted_total",
		Help: "Total CAN frames handed to the transmit FIFO.",
	})
	CANTxRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "can_tx_rejected_total",
		Help: "Total CAN frames refused synchronously by the transmit FIFO.",
	})
	CANTxResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "can_tx_results_total",
		Help: "Transmit completions by result.",
	}, []string{"result"})
	CANRxFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "can_rx_frames_total",
		Help: "CAN frames drained from each reception path.",
	}, []string{"path"})
	InvalidCommands = promauto.NewCounter(prometheus.CounterOpts{
		Name: "operator_invalid_commands_total",
		Help: "Operator keystrokes that did not match a menu item.",
	})
	RateChanges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rate_changes_total",
		Help: "External trigger events that advanced the toggle rate.",
	})
	LEDToggles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "led_toggles_total",
		Help: "Timer compare matches that toggled the LED.",
	})
	RateTier = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rate_tier_seconds",
		Help: "Current LED toggle period in seconds.",
	})
	TextBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "text_tx_bytes_total",
		Help: "Bytes sent over each text channel via DMA.",
	}, []string{"channel"})
	BridgeBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_bytes_total",
		Help: "Bytes relayed between the text channels.",
	}, []string{"direction"})
	LoopIterations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loop_iterations_total",
		Help: "Main loop iterations.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrCANTx          = "can_tx"
	ErrCANTxReject    = "can_tx_reject"
	ErrCANRx          = "can_rx"
	ErrTextSend       = "text_send"
	ErrTextTimeout    = "text_send_timeout"
	ErrDMAOverflow    = "dma_overflow"
	ErrSerialRead     = "serial_read"
	ErrSerialWrite    = "serial_write"
	ErrSocketCANRead  = "socketcan_read"
	ErrSocketCANWrite = "socketcan_write"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for logging and tests without scraping.
var (
	localTxSubmitted atomic.Uint64
	localTxRejected  atomic.Uint64
	localTxOK        atomic.Uint64
	localTxFailed    atomic.Uint64
	localRxFrames    atomic.Uint64
	localInvalid     atomic.Uint64
	localRate        atomic.Uint64
	localLED         atomic.Uint64
	localTextBytes   atomic.Uint64
	localBridge      atomic.Uint64
	localIterations  atomic.Uint64
	localErrors      atomic.Uint64
	localTimeouts    atomic.Uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	TxSubmitted  uint64
	TxRejected   uint64
	TxOK         uint64
	TxFailed     uint64
	RxFrames     uint64
	Invalid      uint64
	RateChanges  uint64
	LEDToggles   uint64
	TextBytes    uint64
	BridgeBytes  uint64
	Iterations   uint64
	Errors       uint64 // sum across error labels
	SendTimeouts uint64
}

func Snap() Snapshot {
	return Snapshot{
		TxSubmitted:  localTxSubmitted.Load(),
		TxRejected:   localTxRejected.Load(),
		TxOK:         localTxOK.Load(),
		TxFailed:     localTxFailed.Load(),
		RxFrames:     localRxFrames.Load(),
		Invalid:      localInvalid.Load(),
		RateChanges:  localRate.Load(),
		LEDToggles:   localLED.Load(),
		TextBytes:    localTextBytes.Load(),
		BridgeBytes:  localBridge.Load(),
		Iterations:   localIterations.Load(),
		Errors:       localErrors.Load(),
		SendTimeouts: localTimeouts.Load(),
	}
}

func IncTxSubmitted() {
	CANTxSubmitted.Inc()
	localTxSubmitted.Add(1)
}

// IncTxRejected counts a synchronous submission refusal as both a rejection and an error.
func IncTxRejected() {
	CANTxRejected.Inc()
	localTxRejected.Add(1)
	IncError(ErrCANTxReject)
}

// IncTxResult records a transmit completion.
func IncTxResult(ok bool) {
	if ok {
		CANTxResults.WithLabelValues("ok").Inc()
		localTxOK.Add(1)
		return
	}
	CANTxResults.WithLabelValues("error").Inc()
	localTxFailed.Add(1)
	IncError(ErrCANTx)
}

func AddRxFrames(path string, n int) {
	CANRxFrames.WithLabelValues(path).Add(float64(n))
	localRxFrames.Add(uint64(n))
}

func IncInvalidCommand() {
	InvalidCommands.Inc()
	localInvalid.Add(1)
}

// SetRate records a toggle rate change.
func SetRate(seconds float64) {
	RateChanges.Inc()
	RateTier.Set(seconds)
	localRate.Add(1)
}

func IncLEDToggle() {
	LEDToggles.Inc()
	localLED.Add(1)
}

func AddTextBytes(channel string, n int) {
	TextBytes.WithLabelValues(channel).Add(float64(n))
	localTextBytes.Add(uint64(n))
}

func AddBridgeBytes(direction string, n int) {
	BridgeBytes.WithLabelValues(direction).Add(float64(n))
	localBridge.Add(uint64(n))
}

func IncIteration() {
	LoopIterations.Inc()
	localIterations.Add(1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	localErrors.Add(1)
	if label == ErrTextTimeout {
		localTimeouts.Add(1)
	}
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrCANTx, ErrCANTxReject, ErrCANRx,
		ErrTextSend, ErrTextTimeout, ErrDMAOverflow,
		ErrSerialRead, ErrSerialWrite,
		ErrSocketCANRead, ErrSocketCANWrite,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
