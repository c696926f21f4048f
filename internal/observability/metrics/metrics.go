package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "edge_"

	resultSuccess = "success"
	resultError   = "error"
	resultOutage  = "outage"

	commandResultApplied = "applied"
	commandResultUnknown = "unknown"
	commandResultInvalid = "invalid"
)

var (
	registerOnce sync.Once

	pointsPublished prometheus.Counter
	publishErrors   prometheus.Counter

	deliveryAttempts *prometheus.CounterVec
	deliveryLatency  prometheus.Histogram

	backfillCycles *prometheus.CounterVec
	backfillPoints prometheus.Counter

	bufferUnsent prometheus.Gauge

	commandsReceived *prometheus.CounterVec
)

// Init registers the edge agent metrics. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		pointsPublished = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "points_published_total",
				Help: "Total telemetry points published to the MQTT bus",
			},
		)
		publishErrors = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "publish_errors_total",
				Help: "Total MQTT publish errors",
			},
		)

		deliveryAttempts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "delivery_attempts_total",
				Help: "Total cloud delivery attempts by result",
			},
			[]string{"result"},
		)
		deliveryLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "delivery_latency_seconds",
				Help:    "Cloud delivery request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)

		backfillCycles = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "backfill_cycles_total",
				Help: "Total backfill cycles by result",
			},
			[]string{"result"},
		)
		backfillPoints = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "backfill_points_total",
				Help: "Total buffered points delivered by the backfill loop",
			},
		)

		bufferUnsent = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "buffer_unsent",
				Help: "Current number of unsent records in the durable buffer",
			},
		)

		commandsReceived = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "commands_total",
				Help: "Total inbound fault commands by result",
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			pointsPublished,
			publishErrors,
			deliveryAttempts,
			deliveryLatency,
			backfillCycles,
			backfillPoints,
			bufferUnsent,
			commandsReceived,
		)
	})
}

// IncPointPublished increments the published point counter.
func IncPointPublished() {
	if pointsPublished != nil {
		pointsPublished.Inc()
	}
}

// IncPublishError increments the MQTT publish error counter.
func IncPublishError() {
	if publishErrors != nil {
		publishErrors.Inc()
	}
}

// IncDeliveryAttempt increments the delivery attempt counter.
func IncDeliveryAttempt(result string) {
	if result == "" {
		result = "unknown"
	}
	if deliveryAttempts != nil {
		deliveryAttempts.WithLabelValues(result).Inc()
	}
}

// ObserveDeliveryLatency records one delivery request duration.
func ObserveDeliveryLatency(duration time.Duration) {
	if deliveryLatency != nil {
		deliveryLatency.Observe(duration.Seconds())
	}
}

// IncBackfillCycle increments the backfill cycle counter.
func IncBackfillCycle(result string) {
	if result == "" {
		result = resultSuccess
	}
	if backfillCycles != nil {
		backfillCycles.WithLabelValues(result).Inc()
	}
}

// AddBackfillPoints increments delivered backfill points by count.
func AddBackfillPoints(count int) {
	if count <= 0 {
		return
	}
	if backfillPoints != nil {
		backfillPoints.Add(float64(count))
	}
}

// SetBufferUnsent sets the unsent buffer gauge.
func SetBufferUnsent(count int) {
	if bufferUnsent != nil {
		bufferUnsent.Set(float64(count))
	}
}

// IncCommand increments the inbound command counter.
func IncCommand(result string) {
	if result == "" {
		result = "unknown"
	}
	if commandsReceived != nil {
		commandsReceived.WithLabelValues(result).Inc()
	}
}

// Exported constants for callers.
const (
	DeliveryResultSuccess = resultSuccess
	DeliveryResultError   = resultError
	DeliveryResultOutage  = resultOutage

	ResultSuccess = resultSuccess
	ResultError   = resultError

	CommandResultApplied = commandResultApplied
	CommandResultUnknown = commandResultUnknown
	CommandResultInvalid = commandResultInvalid
)
