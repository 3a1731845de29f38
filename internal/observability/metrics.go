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
			Namespace: "tictacd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tictacd",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	framesIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tictacd",
			Subsystem: "protocol",
			Name:      "frames_in_total",
			Help:      "Frames received by message type.",
		},
		[]string{"type"},
	)
	framesOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tictacd",
			Subsystem: "protocol",
			Name:      "frames_out_total",
			Help:      "Frames sent by message type and status.",
		},
		[]string{"type", "status"},
	)
	sequenceViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tictacd",
			Subsystem: "protocol",
			Name:      "sequence_violations_total",
			Help:      "Inbound frames that were not in order.",
		},
		[]string{"kind"},
	)
	resends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tictacd",
			Subsystem: "protocol",
			Name:      "resends_total",
			Help:      "Retransmitted frames by trigger.",
		},
		[]string{"trigger"},
	)
	evictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tictacd",
			Subsystem: "sessions",
			Name:      "released_total",
			Help:      "Released sessions by reason.",
		},
		[]string{"reason"},
	)
	results = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tictacd",
			Subsystem: "sessions",
			Name:      "results_total",
			Help:      "Completed matches by outcome from the server's perspective.",
		},
		[]string{"outcome"},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tictacd",
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Allocated session slots.",
		},
	)
	discoveryRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tictacd",
			Subsystem: "discovery",
			Name:      "requests_total",
			Help:      "Discovery datagrams by disposition.",
		},
		[]string{"disposition"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			framesIn, framesOut,
			sequenceViolations, resends,
			evictions, results, activeSessions,
			discoveryRequests,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordFrameIn(msgType string) {
	RegisterMetrics()
	framesIn.WithLabelValues(msgType).Inc()
}

func RecordFrameOut(msgType, status string) {
	RegisterMetrics()
	framesOut.WithLabelValues(msgType, status).Inc()
}

func RecordSequenceViolation(kind string) {
	RegisterMetrics()
	sequenceViolations.WithLabelValues(kind).Inc()
}

func RecordResend(trigger string) {
	RegisterMetrics()
	resends.WithLabelValues(trigger).Inc()
}

func RecordRelease(reason string) {
	RegisterMetrics()
	evictions.WithLabelValues(reason).Inc()
}

func RecordResult(outcome string) {
	RegisterMetrics()
	results.WithLabelValues(outcome).Inc()
}

func SetActiveSessions(n int) {
	RegisterMetrics()
	activeSessions.Set(float64(n))
}

func RecordDiscovery(disposition string) {
	RegisterMetrics()
	discoveryRequests.WithLabelValues(disposition).Inc()
}
