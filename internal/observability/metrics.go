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
			Namespace: "lagom",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lagom",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	negotiations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lagom",
			Subsystem: "negotiation",
			Name:      "total",
			Help:      "Terminated negotiation sessions by code.",
		},
		[]string{"code", "gate"},
	)
	negotiationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lagom",
			Subsystem: "negotiation",
			Name:      "duration_seconds",
			Help:      "Negotiation session duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"code"},
	)
	negotiationSteps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lagom",
			Subsystem: "negotiation",
			Name:      "steps_total",
			Help:      "Logged protocol steps by kind and actor.",
		},
		[]string{"step", "actor"},
	)
	blindSlots = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "lagom",
			Subsystem: "negotiation",
			Name:      "blind_slots",
			Help:      "Blind slots offered per acknowledged session.",
			Buckets:   prometheus.LinearBuckets(0, 4, 10),
		},
	)
	outcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lagom",
			Subsystem: "coordinator",
			Name:      "outcomes_total",
			Help:      "Caller-visible outcomes by signal and attempts.",
		},
		[]string{"signal", "attempts"},
	)
	enrichments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lagom",
			Subsystem: "enrich",
			Name:      "requests_total",
			Help:      "Enrichment renders by backend and result.",
		},
		[]string{"backend", "result"},
	)
	storeOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lagom",
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Store operations by backend, operation, and success.",
		},
		[]string{"backend", "op", "success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			negotiations,
			negotiationDuration,
			negotiationSteps,
			blindSlots,
			outcomes,
			enrichments,
			storeOps,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordNegotiation(code, gate string, duration time.Duration) {
	RegisterMetrics()
	negotiations.WithLabelValues(code, gate).Inc()
	negotiationDuration.WithLabelValues(code).Observe(duration.Seconds())
}

func RecordStep(step, actor string) {
	RegisterMetrics()
	negotiationSteps.WithLabelValues(step, actor).Inc()
}

func RecordBlindSlots(n int) {
	RegisterMetrics()
	blindSlots.Observe(float64(n))
}

func RecordOutcome(signal string, attempts int) {
	RegisterMetrics()
	outcomes.WithLabelValues(signal, strconv.Itoa(attempts)).Inc()
}

func RecordEnrichment(backend string, success bool) {
	RegisterMetrics()
	result := "ok"
	if !success {
		result = "error"
	}
	enrichments.WithLabelValues(backend, result).Inc()
}

func RecordStoreOp(backend, op string, err error) {
	RegisterMetrics()
	storeOps.WithLabelValues(backend, op, strconv.FormatBool(err == nil)).Inc()
}
