package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ExecutorMetrics contains Prometheus metrics for the UDF pool executor.
type ExecutorMetrics struct {
	partitionsProcessedTotal *prometheus.CounterVec
	udfRunDuration           *prometheus.HistogramVec
	partitionDuration        *prometheus.HistogramVec
	workersBusy              prometheus.Gauge
}

// NewExecutorMetrics creates and registers new executor metrics
func NewExecutorMetrics(registry *prometheus.Registry) (*ExecutorMetrics, error) {
	m := &ExecutorMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *ExecutorMetrics) initMetrics() {
	m.partitionsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "executor_partitions_processed_total",
			Help: "Total number of partitions folded by executor workers",
		},
		[]string{"udf", "status"}, // status: success, error
	)

	m.udfRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "executor_udf_run_duration_seconds",
			Help:    "Wall time of a complete RunUDF pass",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~160s
		},
		[]string{"udf"},
	)

	m.partitionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "executor_partition_duration_seconds",
			Help:    "Time taken to fold one partition",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
		[]string{"udf"},
	)

	m.workersBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "executor_workers_busy",
			Help: "Number of executor workers currently folding a partition",
		},
	)
}

// Describe implements prometheus.Collector
func (m *ExecutorMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.partitionsProcessedTotal.Describe(ch)
	m.udfRunDuration.Describe(ch)
	m.partitionDuration.Describe(ch)
	m.workersBusy.Describe(ch)
}

// Collect implements prometheus.Collector
func (m *ExecutorMetrics) Collect(ch chan<- prometheus.Metric) {
	m.partitionsProcessedTotal.Collect(ch)
	m.udfRunDuration.Collect(ch)
	m.partitionDuration.Collect(ch)
	m.workersBusy.Collect(ch)
}

// RecordPartitionProcessed increments the partition counter.
func (m *ExecutorMetrics) RecordPartitionProcessed(udf, status string) {
	if m == nil {
		return
	}
	m.partitionsProcessedTotal.WithLabelValues(udf, status).Inc()
}

// RecordUDFRunDuration observes a full RunUDF wall time in seconds.
func (m *ExecutorMetrics) RecordUDFRunDuration(udf string, seconds float64) {
	if m == nil {
		return
	}
	m.udfRunDuration.WithLabelValues(udf).Observe(seconds)
}

// RecordPartitionDuration observes one partition fold duration in seconds.
func (m *ExecutorMetrics) RecordPartitionDuration(udf string, seconds float64) {
	if m == nil {
		return
	}
	m.partitionDuration.WithLabelValues(udf).Observe(seconds)
}

// WorkerStarted increments the busy worker gauge.
func (m *ExecutorMetrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.workersBusy.Inc()
}

// WorkerFinished decrements the busy worker gauge.
func (m *ExecutorMetrics) WorkerFinished() {
	if m == nil {
		return
	}
	m.workersBusy.Dec()
}
