package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sorter",
			Subsystem: "cycle",
			Name:      "cycles_total",
			Help:      "Completed sorting cycles by result.",
		},
		[]string{"result"},
	)
	ejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sorter",
			Subsystem: "cycle",
			Name:      "ejections_total",
			Help:      "Ejections fired by primary reason.",
		},
		[]string{"reason"},
	)
	captureAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sorter",
			Subsystem: "capture",
			Name:      "attempts_total",
			Help:      "Image acquisition attempts by outcome.",
		},
		[]string{"outcome"},
	)
	captureDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sorter",
			Subsystem: "capture",
			Name:      "duration_seconds",
			Help:      "Time from shutter trigger to a validated local file.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	analysisDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sorter",
			Subsystem: "analysis",
			Name:      "duration_seconds",
			Help:      "Round-trip time of one classification request.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	hardwareErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sorter",
			Subsystem: "dio",
			Name:      "hardware_errors_total",
			Help:      "Digital line read/write failures by line.",
		},
		[]string{"line"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sorter",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sorter",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			cyclesTotal, ejectionsTotal,
			captureAttempts, captureDuration,
			analysisDuration, hardwareErrors,
			httpRequests, httpDuration,
		)
	})
}

func RecordCycle(result string) {
	RegisterMetrics()
	cyclesTotal.WithLabelValues(result).Inc()
}

func RecordEjection(reason string) {
	RegisterMetrics()
	ejectionsTotal.WithLabelValues(reason).Inc()
}

func RecordCapture(outcome string, duration time.Duration) {
	RegisterMetrics()
	captureAttempts.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		captureDuration.Observe(duration.Seconds())
	}
}

func RecordAnalysis(duration time.Duration) {
	RegisterMetrics()
	analysisDuration.Observe(duration.Seconds())
}

func RecordHardwareError(line string) {
	RegisterMetrics()
	hardwareErrors.WithLabelValues(line).Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
