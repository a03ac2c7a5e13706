// Package acquisition provides the live acquisition descriptor: a
// streaming dataset fed by the detector's data endpoint, split into
// contiguous frame partitions for the execution engine.
package acquisition

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/quantem/dectris-go/internal/dectris"
	"github.com/quantem/dectris-go/internal/errors"
	"github.com/quantem/dectris-go/internal/logging"
	"github.com/quantem/dectris-go/internal/observability/metrics"
	"github.com/quantem/dectris-go/internal/udf"
)

// TriggerFunc is invoked once per run when the series must start. The
// return value propagates as a run error.
type TriggerFunc func(ctx context.Context) error

// Executor is the part of the execution engine an acquisition binds to.
type Executor interface {
	// Workers returns the worker count the executor will fold with.
	Workers() int
}

// Config holds the constructor parameters of an Acquisition.
type Config struct {
	APIHost            string
	APIPort            int
	DataHost           string
	DataPort           int
	NavShape           [2]int
	TriggerMode        string
	Trigger            TriggerFunc
	FramesPerPartition int

	// APIVersion and Timeout configure the detector API client.
	APIVersion string
	Timeout    time.Duration
}

// Acquisition describes a live, streaming dataset. It must be
// initialized against an executor before it can be run.
type Acquisition struct {
	cfg     Config
	client  *dectris.Client
	logger  *slog.Logger
	metrics *metrics.AcquisitionMetrics

	// dialData is swappable so tests can feed a synthetic stream.
	dialData func(ctx context.Context) (io.ReadCloser, error)
}

// New creates an acquisition descriptor. No connection is made until
// Initialize.
func New(cfg Config) *Acquisition {
	a := &Acquisition{
		cfg:    cfg,
		logger: logging.ForService("acquisition"),
	}
	a.dialData = a.dialTCP
	return a
}

// SetMetrics attaches acquisition metrics. Safe to skip; all metric
// recording is nil-tolerant.
func (a *Acquisition) SetMetrics(m *metrics.AcquisitionMetrics) {
	a.metrics = m
}

// setDialFunc replaces the data-plane dialer. Used by tests.
func (a *Acquisition) setDialFunc(dial func(ctx context.Context) (io.ReadCloser, error)) {
	a.dialData = dial
}

func (a *Acquisition) dialTCP(ctx context.Context) (io.ReadCloser, error) {
	var d net.Dialer
	addr := fmt.Sprintf("%s:%d", a.cfg.DataHost, a.cfg.DataPort)
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.New(err).
			Component("acquisition").
			Category(errors.CategoryNetwork).
			NetworkContext(a.cfg.DataHost, a.cfg.DataPort, 0).
			Build()
	}
	// Unblock pending reads when the run context ends.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	return conn, nil
}

// Initialize validates the descriptor, queries the detector for its
// geometry and binds the acquisition to the given executor. It returns
// the dataset view the execution context runs UDFs over.
func (a *Acquisition) Initialize(ctx context.Context, ex Executor) (*Dataset, error) {
	if ex == nil {
		return nil, errors.Newf("acquisition requires an executor to initialize against").
			Component("acquisition").
			Category(errors.CategoryValidation).
			Build()
	}
	if err := a.validate(); err != nil {
		return nil, err
	}

	a.client = dectris.NewClient(dectris.ClientConfig{
		Host:       a.cfg.APIHost,
		Port:       a.cfg.APIPort,
		APIVersion: a.cfg.APIVersion,
		Timeout:    a.cfg.Timeout,
	})

	width, err := a.client.GetConfigInt(ctx, "x_pixels_in_detector")
	if err != nil {
		return nil, err
	}
	height, err := a.client.GetConfigInt(ctx, "y_pixels_in_detector")
	if err != nil {
		return nil, err
	}
	bitDepth, err := a.client.GetConfigInt(ctx, "bit_depth_image")
	if err != nil {
		return nil, err
	}

	numFrames := a.cfg.NavShape[0] * a.cfg.NavShape[1]
	geom := udf.Geometry{
		NavShape:  a.cfg.NavShape,
		SigShape:  [2]int{width, height},
		NumFrames: numFrames,
	}

	a.logger.Info("acquisition initialized",
		"nav_shape", a.cfg.NavShape,
		"sig_shape", geom.SigShape,
		"bit_depth", bitDepth,
		"frames", numFrames,
		"frames_per_partition", a.cfg.FramesPerPartition,
		"workers", ex.Workers(),
	)

	return &Dataset{
		acq:        a,
		geom:       geom,
		partitions: makePartitions(numFrames, a.cfg.FramesPerPartition),
	}, nil
}

// Client returns the detector API client. Valid after Initialize.
func (a *Acquisition) Client() *dectris.Client {
	return a.client
}

func (a *Acquisition) validate() error {
	if !dectris.ValidTriggerMode(a.cfg.TriggerMode) {
		return errors.Newf("unsupported trigger mode %q", a.cfg.TriggerMode).
			Component("acquisition").
			Category(errors.CategoryValidation).
			Context("trigger_mode", a.cfg.TriggerMode).
			Build()
	}
	if a.cfg.NavShape[0] <= 0 || a.cfg.NavShape[1] <= 0 {
		return errors.Newf("navigation shape must be positive, got %v", a.cfg.NavShape).
			Component("acquisition").
			Category(errors.CategoryValidation).
			Build()
	}
	if a.cfg.FramesPerPartition <= 0 {
		return errors.Newf("frames per partition must be positive, got %d", a.cfg.FramesPerPartition).
			Component("acquisition").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

// Partition is a contiguous frame index range [Start, End).
type Partition struct {
	Index int
	Start int
	End   int
}

// NumFrames returns the frame count of the partition.
func (p Partition) NumFrames() int {
	return p.End - p.Start
}

// makePartitions splits numFrames into chunks of at most size frames.
// The chunks cover [0, numFrames) exactly; the last one may be short.
func makePartitions(numFrames, size int) []Partition {
	var parts []Partition
	for start := 0; start < numFrames; start += size {
		end := min(start+size, numFrames)
		parts = append(parts, Partition{
			Index: len(parts),
			Start: start,
			End:   end,
		})
	}
	return parts
}

// Dataset is an initialized acquisition bound to an executor.
type Dataset struct {
	acq        *Acquisition
	geom       udf.Geometry
	partitions []Partition
}

// Geometry returns the dataset geometry.
func (ds *Dataset) Geometry() udf.Geometry {
	return ds.geom
}

// Partitions returns the partition layout of the dataset.
func (ds *Dataset) Partitions() []Partition {
	return ds.partitions
}
