// Package metrics provides Prometheus metric collectors for the
// acquisition data plane and the UDF executor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// AcquisitionMetrics contains Prometheus metrics for the stream receiver.
type AcquisitionMetrics struct {
	framesReceivedTotal *prometheus.CounterVec
	framesDecodedTotal  *prometheus.CounterVec
	framesDroppedTotal  *prometheus.CounterVec
	bytesReceivedTotal  prometheus.Counter
	decodeDuration      prometheus.Histogram
	receiverActive      prometheus.Gauge
}

// NewAcquisitionMetrics creates and registers new acquisition metrics
func NewAcquisitionMetrics(registry *prometheus.Registry) (*AcquisitionMetrics, error) {
	m := &AcquisitionMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *AcquisitionMetrics) initMetrics() {
	m.framesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acquisition_frames_received_total",
			Help: "Total number of frame messages received from the data stream",
		},
		[]string{"status"}, // status: success, error
	)

	m.framesDecodedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acquisition_frames_decoded_total",
			Help: "Total number of frame blobs decoded into pixel planes",
		},
		[]string{"status"},
	)

	m.framesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acquisition_frames_dropped_total",
			Help: "Total number of frames dropped under buffer pressure",
		},
		[]string{"reason"}, // reason: buffer_full, shutdown
	)

	m.bytesReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "acquisition_bytes_received_total",
			Help: "Total bytes received from the data stream",
		},
	)

	m.decodeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "acquisition_frame_decode_duration_seconds",
			Help:    "Time taken to decode one frame blob",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 14), // 10µs to ~160ms
		},
	)

	m.receiverActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "acquisition_receiver_active",
			Help: "1 while the data stream receiver goroutine is running",
		},
	)
}

// Describe implements prometheus.Collector
func (m *AcquisitionMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.framesReceivedTotal.Describe(ch)
	m.framesDecodedTotal.Describe(ch)
	m.framesDroppedTotal.Describe(ch)
	m.bytesReceivedTotal.Describe(ch)
	m.decodeDuration.Describe(ch)
	m.receiverActive.Describe(ch)
}

// Collect implements prometheus.Collector
func (m *AcquisitionMetrics) Collect(ch chan<- prometheus.Metric) {
	m.framesReceivedTotal.Collect(ch)
	m.framesDecodedTotal.Collect(ch)
	m.framesDroppedTotal.Collect(ch)
	m.bytesReceivedTotal.Collect(ch)
	m.decodeDuration.Collect(ch)
	m.receiverActive.Collect(ch)
}

// RecordFrameReceived increments the received counter for the given status.
func (m *AcquisitionMetrics) RecordFrameReceived(status string) {
	if m == nil {
		return
	}
	m.framesReceivedTotal.WithLabelValues(status).Inc()
}

// RecordFrameDecoded increments the decoded counter for the given status.
func (m *AcquisitionMetrics) RecordFrameDecoded(status string) {
	if m == nil {
		return
	}
	m.framesDecodedTotal.WithLabelValues(status).Inc()
}

// RecordFrameDropped increments the dropped counter with the given reason.
func (m *AcquisitionMetrics) RecordFrameDropped(reason string) {
	if m == nil {
		return
	}
	m.framesDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordBytesReceived adds n to the received byte counter.
func (m *AcquisitionMetrics) RecordBytesReceived(n int) {
	if m == nil {
		return
	}
	m.bytesReceivedTotal.Add(float64(n))
}

// RecordDecodeDuration observes one frame decode duration in seconds.
func (m *AcquisitionMetrics) RecordDecodeDuration(seconds float64) {
	if m == nil {
		return
	}
	m.decodeDuration.Observe(seconds)
}

// SetReceiverActive sets the receiver liveness gauge.
func (m *AcquisitionMetrics) SetReceiverActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.receiverActive.Set(1)
	} else {
		m.receiverActive.Set(0)
	}
}
