package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "radlink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"device", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "radlink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"device", "method", "path", "status"},
	)
	exchangeRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "radlink",
			Subsystem: "exchange",
			Name:      "requests_total",
			Help:      "Device command exchanges by outcome.",
		},
		[]string{"device", "command", "outcome"},
	)
	exchangeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "radlink",
			Subsystem: "exchange",
			Name:      "duration_seconds",
			Help:      "Device command round-trip time in seconds.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"device", "command"},
	)
	exchangeUnmatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "radlink",
			Subsystem: "exchange",
			Name:      "unmatched_frames_total",
			Help:      "Response frames with no matching pending request.",
		},
		[]string{"device"},
	)
	telemetryRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "radlink",
			Subsystem: "telemetry",
			Name:      "records_total",
			Help:      "Decoded telemetry records by kind.",
		},
		[]string{"device", "kind"},
	)
	telemetryDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "radlink",
			Subsystem: "telemetry",
			Name:      "dropped_total",
			Help:      "Telemetry records missed according to sequence gaps.",
		},
		[]string{"device", "kind"},
	)
	telemetryDecodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "radlink",
			Subsystem: "telemetry",
			Name:      "decode_errors_total",
			Help:      "Telemetry buffers aborted by a decode error.",
		},
		[]string{"device"},
	)
	sessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "radlink",
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session state machine transitions.",
		},
		[]string{"device", "from", "to"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			exchangeRequests, exchangeDuration, exchangeUnmatched,
			telemetryRecords, telemetryDropped, telemetryDecodeErrors,
			sessionTransitions,
		)
	})
}

func RecordHTTPRequest(device, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(device, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(device, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordExchange counts one dispatcher call. outcome is "ok", "timeout" or an error kind.
func RecordExchange(device, command, outcome string, duration time.Duration) {
	RegisterMetrics()
	exchangeRequests.WithLabelValues(device, command, outcome).Inc()
	if outcome == "ok" {
		exchangeDuration.WithLabelValues(device, command).Observe(duration.Seconds())
	}
}

func RecordUnmatchedFrame(device string) {
	RegisterMetrics()
	exchangeUnmatched.WithLabelValues(device).Inc()
}

func RecordTelemetry(device, kind string, records, dropped int) {
	RegisterMetrics()
	if records > 0 {
		telemetryRecords.WithLabelValues(device, kind).Add(float64(records))
	}
	if dropped > 0 {
		telemetryDropped.WithLabelValues(device, kind).Add(float64(dropped))
	}
}

func RecordDecodeError(device string) {
	RegisterMetrics()
	telemetryDecodeErrors.WithLabelValues(device).Inc()
}

func RecordTransition(device, from, to string) {
	RegisterMetrics()
	sessionTransitions.WithLabelValues(device, from, to).Inc()
}
