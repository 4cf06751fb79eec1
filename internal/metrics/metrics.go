package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics holds HTTP-related Prometheus metrics
type HTTPMetrics struct {
	RequestDuration  *prometheus.HistogramVec
	RequestsTotal    *prometheus.CounterVec
	RequestsInFlight prometheus.Gauge
}

// NewHTTPMetrics creates HTTP metrics collectors on reg
func NewHTTPMetrics(reg prometheus.Registerer, namespace string) *HTTPMetrics {
	f := promauto.With(reg)
	return &HTTPMetrics{
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
	}
}

// JobMetrics holds asynchronous job Prometheus metrics
type JobMetrics struct {
	ProcessingDuration *prometheus.HistogramVec
	JobsTotal          *prometheus.CounterVec
	JobsActive         *prometheus.GaugeVec
	StageDuration      *prometheus.HistogramVec
}

// NewJobMetrics creates job metrics collectors on reg
func NewJobMetrics(reg prometheus.Registerer, namespace string) *JobMetrics {
	f := promauto.With(reg)
	return &JobMetrics{
		ProcessingDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_processing_duration_seconds",
				Help:      "Job processing duration in seconds",
				Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		JobsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Total number of jobs by status transition",
			},
			[]string{"status"},
		),
		JobsActive: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "jobs_active",
				Help:      "Number of currently active jobs",
			},
			[]string{"status"},
		),
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_stage_duration_seconds",
				Help:      "Duration of the download, decode, constrain, encode and upload stages",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"stage"},
		),
	}
}

// ConstrainMetrics describes resolved targets
type ConstrainMetrics struct {
	ResolutionsTotal  *prometheus.CounterVec
	DeviationExceeded *prometheus.CounterVec
	Deviation         prometheus.Histogram
	TransformDuration *prometheus.HistogramVec
}

// NewConstrainMetrics creates constrain metrics collectors on reg
func NewConstrainMetrics(reg prometheus.Registerer, namespace string) *ConstrainMetrics {
	f := promauto.With(reg)
	return &ConstrainMetrics{
		ResolutionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Total number of resolved targets",
			},
			[]string{"mode", "strategy"},
		),
		DeviationExceeded: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "aspect_deviation_exceeded_total",
				Help:      "Resolutions whose aspect deviation exceeded the tolerance",
			},
			[]string{"mode"},
		),
		Deviation: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "aspect_deviation_percent",
				Help:      "Aspect ratio deviation introduced by rounding, in percent",
				Buckets:   []float64{0, .1, .25, .5, 1, 2.5, 5, 10, 25, 50},
			},
		),
		TransformDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transform_duration_seconds",
				Help:      "Time spent resizing and cropping pixels",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"strategy"},
		),
	}
}

// ObserveResolution records one resolved target
func (m *ConstrainMetrics) ObserveResolution(mode, strategy string, deviation float64, exceeded bool) {
	m.ResolutionsTotal.WithLabelValues(mode, strategy).Inc()
	m.Deviation.Observe(deviation)
	if exceeded {
		m.DeviationExceeded.WithLabelValues(mode).Inc()
	}
}

// QueueMetrics holds queue-related Prometheus metrics
type QueueMetrics struct {
	Depth            prometheus.Gauge
	MessagesProduced prometheus.Counter
	MessagesConsumed prometheus.Counter
	MessagesFailed   prometheus.Counter
	ConsumeDuration  prometheus.Histogram
}

// NewQueueMetrics creates queue metrics collectors on reg
func NewQueueMetrics(reg prometheus.Registerer, namespace string) *QueueMetrics {
	f := promauto.With(reg)
	return &QueueMetrics{
		Depth: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Current number of messages in the queue",
			},
		),
		MessagesProduced: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_messages_produced_total",
				Help:      "Total number of messages produced to the queue",
			},
		),
		MessagesConsumed: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_messages_consumed_total",
				Help:      "Total number of messages consumed from the queue",
			},
		),
		MessagesFailed: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_messages_failed_total",
				Help:      "Total number of messages that failed processing",
			},
		),
		ConsumeDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "queue_consume_duration_seconds",
				Help:      "Time spent consuming messages from the queue",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
	}
}

// StorageMetrics holds storage operation Prometheus metrics
type StorageMetrics struct {
	OperationDuration *prometheus.HistogramVec
	OperationsTotal   *prometheus.CounterVec
	BytesTransferred  *prometheus.CounterVec
}

// NewStorageMetrics creates storage metrics collectors on reg
func NewStorageMetrics(reg prometheus.Registerer, namespace string) *StorageMetrics {
	f := promauto.With(reg)
	return &StorageMetrics{
		OperationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "storage_operation_duration_seconds",
				Help:      "Storage operation duration in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation", "status"},
		),
		OperationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_operations_total",
				Help:      "Total number of storage operations",
			},
			[]string{"operation", "status"},
		),
		BytesTransferred: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_bytes_transferred_total",
				Help:      "Total number of bytes transferred to/from storage",
			},
			[]string{"operation"},
		),
	}
}

// DatabaseMetrics holds database operation Prometheus metrics
type DatabaseMetrics struct {
	QueryDuration     *prometheus.HistogramVec
	QueriesTotal      *prometheus.CounterVec
	ConnectionsActive prometheus.Gauge
}

// NewDatabaseMetrics creates database metrics collectors on reg
func NewDatabaseMetrics(reg prometheus.Registerer, namespace string) *DatabaseMetrics {
	f := promauto.With(reg)
	return &DatabaseMetrics{
		QueryDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "database_query_duration_seconds",
				Help:      "Database query duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"operation", "status"},
		),
		QueriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "database_queries_total",
				Help:      "Total number of database queries",
			},
			[]string{"operation", "status"},
		),
		ConnectionsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "database_connections_active",
				Help:      "Number of active database connections",
			},
		),
	}
}

// ObserveQuery records one query outcome
func (m *DatabaseMetrics) ObserveQuery(operation string, start time.Time, err error) {
	status := Status(err)
	m.QueryDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
	m.QueriesTotal.WithLabelValues(operation, status).Inc()
}

// RecordDuration helper to record operation duration
func RecordDuration(start time.Time, histogram prometheus.Observer) {
	histogram.Observe(time.Since(start).Seconds())
}

// Status maps an error to the status label value
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
