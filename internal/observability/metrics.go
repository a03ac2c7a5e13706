// Package observability provides metrics and monitoring capabilities for dectris-go.
package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quantem/dectris-go/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry    *prometheus.Registry
	Acquisition *metrics.AcquisitionMetrics
	Executor    *metrics.ExecutorMetrics
}

// NewMetrics creates a new instance of Metrics, initializing all metric collectors.
// It returns an error if any metric collector fails to initialize.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	acquisitionMetrics, err := metrics.NewAcquisitionMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create acquisition metrics: %w", err)
	}

	executorMetrics, err := metrics.NewExecutorMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor metrics: %w", err)
	}

	return &Metrics{
		registry:    registry,
		Acquisition: acquisitionMetrics,
		Executor:    executorMetrics,
	}, nil
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
