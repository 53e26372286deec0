package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Transform metrics
	TransformsTotal        *prometheus.CounterVec
	TransformDuration      *prometheus.HistogramVec
	TransformInputBytes    *prometheus.HistogramVec
	TransformOutputBytes   *prometheus.HistogramVec
	TransformErrors        *prometheus.CounterVec
	EngineInvocationsTotal *prometheus.CounterVec
	EngineInvocationTime   *prometheus.HistogramVec

	// Session metrics
	ActiveSessions prometheus.Gauge
	StoredResults  prometheus.Gauge

	// Queue metrics
	QueueSize                *prometheus.GaugeVec
	QueueItemsProcessedTotal *prometheus.CounterVec
	QueueProcessingDuration  *prometheus.HistogramVec
	ActiveWorkers            prometheus.Gauge

	// Cache metrics
	CacheRequestsTotal *prometheus.CounterVec

	// Event metrics
	EventsPublishedTotal *prometheus.CounterVec
	EventsProcessedTotal *prometheus.CounterVec
}

// New registers the metrics on the default registry.
func New(namespace, subsystem string) *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer, namespace, subsystem)
}

// NewWithRegistry registers the metrics on reg.
func NewWithRegistry(reg prometheus.Registerer, namespace, subsystem string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		TransformsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "transforms_total",
				Help:      "Total number of transformations by operation and outcome",
			},
			[]string{"operation", "status"},
		),

		TransformDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "transform_duration_seconds",
				Help:      "Duration of transformations in seconds",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"operation"},
		),

		TransformInputBytes: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "transform_input_bytes",
				Help:      "Total input size per transformation",
				Buckets:   prometheus.ExponentialBuckets(1024, 4, 12),
			},
			[]string{"operation"},
		),

		TransformOutputBytes: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "transform_output_bytes",
				Help:      "Total output size per transformation",
				Buckets:   prometheus.ExponentialBuckets(1024, 4, 12),
			},
			[]string{"operation"},
		),

		TransformErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "transform_errors_total",
				Help:      "Total number of failed transformations by error code",
			},
			[]string{"operation", "code"},
		),

		EngineInvocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "engine_invocations_total",
				Help:      "Total number of transcoding engine runs",
			},
			[]string{"status"},
		),

		EngineInvocationTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "engine_invocation_duration_seconds",
				Help:      "Duration of single transcoding engine runs",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),

		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "active_sessions",
				Help:      "Current number of transform sessions",
			},
		),

		StoredResults: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "stored_results",
				Help:      "Result references not yet revoked",
			},
		),

		QueueSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "queue_size",
				Help:      "Current size of job queues",
			},
			[]string{"queue_name"},
		),

		QueueItemsProcessedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "queue_items_processed_total",
				Help:      "Total number of queue items processed",
			},
			[]string{"queue_name", "status"},
		),

		QueueProcessingDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "queue_processing_duration_seconds",
				Help:      "Duration of queue item processing in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
			},
			[]string{"queue_name"},
		),

		ActiveWorkers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "active_workers",
				Help:      "Current number of active workers",
			},
		),

		CacheRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "cache_requests_total",
				Help:      "Result cache lookups by outcome",
			},
			[]string{"result"},
		),

		EventsPublishedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "events_published_total",
				Help:      "Events written to the event stream",
			},
			[]string{"event_type", "status"},
		),

		EventsProcessedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "events_processed_total",
				Help:      "Events delivered to subscribed handlers",
			},
			[]string{"event_type", "status"},
		),
	}
}

func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordTransform records one finished transformation.
func (m *Metrics) RecordTransform(operation, status string, duration time.Duration, inputBytes, outputBytes int64) {
	m.TransformsTotal.WithLabelValues(operation, status).Inc()
	m.TransformDuration.WithLabelValues(operation).Observe(duration.Seconds())
	m.TransformInputBytes.WithLabelValues(operation).Observe(float64(inputBytes))
	if outputBytes > 0 {
		m.TransformOutputBytes.WithLabelValues(operation).Observe(float64(outputBytes))
	}
}

func (m *Metrics) RecordTransformError(operation, code string) {
	m.TransformErrors.WithLabelValues(operation, code).Inc()
}

func (m *Metrics) RecordEngineInvocation(status string, duration time.Duration) {
	m.EngineInvocationsTotal.WithLabelValues(status).Inc()
	m.EngineInvocationTime.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *Metrics) RecordQueueOperation(queueName, status string, duration time.Duration) {
	m.QueueItemsProcessedTotal.WithLabelValues(queueName, status).Inc()
	m.QueueProcessingDuration.WithLabelValues(queueName).Observe(duration.Seconds())
}

func (m *Metrics) SetQueueSize(queueName string, size float64) {
	m.QueueSize.WithLabelValues(queueName).Set(size)
}

func (m *Metrics) SetActiveWorkers(count float64) {
	m.ActiveWorkers.Set(count)
}

func (m *Metrics) SetActiveSessions(count float64) {
	m.ActiveSessions.Set(count)
}

func (m *Metrics) SetStoredResults(count float64) {
	m.StoredResults.Set(count)
}

// RecordCacheLookup counts a result cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if hit {
		m.CacheRequestsTotal.WithLabelValues("hit").Inc()
		return
	}
	m.CacheRequestsTotal.WithLabelValues("miss").Inc()
}

func (m *Metrics) RecordEventPublished(eventType string, success bool, latency time.Duration) {
	m.EventsPublishedTotal.WithLabelValues(eventType, outcome(success)).Inc()
}

func (m *Metrics) RecordEventProcessed(eventType string, success bool, latency time.Duration) {
	m.EventsProcessedTotal.WithLabelValues(eventType, outcome(success)).Inc()
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failed"
}

var (
	globalMetrics *Metrics
	globalOnce    sync.Once
)

// Init initializes global metrics. Only the first call registers collectors.
func Init(namespace, subsystem string) {
	globalOnce.Do(func() {
		globalMetrics = New(namespace, subsystem)
	})
}

// Get returns the global metrics instance
func Get() *Metrics {
	Init("media", "toolkit")
	return globalMetrics
}
