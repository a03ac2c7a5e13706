// Package live provides the execution context that runs UDFs over live
// acquisitions with a pool of workers.
package live

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantem/dectris-go/internal/acquisition"
	"github.com/quantem/dectris-go/internal/errors"
	"github.com/quantem/dectris-go/internal/logging"
	"github.com/quantem/dectris-go/internal/observability/metrics"
	"github.com/quantem/dectris-go/internal/udf"
)

// PoolExecutor folds dataset partitions with a fixed pool of workers
// and merges the per-partition states in partition order.
type PoolExecutor struct {
	workers int
	metrics *metrics.ExecutorMetrics
	logger  *slog.Logger
}

// NewPoolExecutor creates an executor with the given worker count.
// A count of 0 selects runtime.NumCPU().
func NewPoolExecutor(workers int) *PoolExecutor {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &PoolExecutor{
		workers: workers,
		logger:  logging.ForService("executor"),
	}
}

// SetMetrics attaches executor metrics. All recording is nil-tolerant.
func (e *PoolExecutor) SetMetrics(m *metrics.ExecutorMetrics) {
	e.metrics = m
}

// Workers implements acquisition.Executor.
func (e *PoolExecutor) Workers() int {
	return e.workers
}

// RunUDF streams one acquisition series through the worker pool and
// returns the merged UDF result.
func (e *PoolExecutor) RunUDF(ctx context.Context, ds *acquisition.Dataset, u udf.UDF) (*udf.Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	started := time.Now()

	run, err := ds.StartRun(runCtx)
	if err != nil {
		return nil, err
	}

	parts := run.Partitions()
	geom := ds.Geometry()
	states := make([]udf.State, len(parts))

	g, gctx := errgroup.WithContext(runCtx)

	queue := make(chan int)
	g.Go(func() error {
		defer close(queue)
		for i := range parts {
			select {
			case queue <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for range e.workers {
		g.Go(func() error {
			for idx := range queue {
				if err := e.foldPartition(u, geom, parts[idx], states, idx); err != nil {
					return err
				}
			}
			return nil
		})
	}

	workerErr := g.Wait()
	// Stop the receiver before waiting on it if the workers bailed out.
	if workerErr != nil {
		cancel()
	}
	recvErr := run.Wait()

	// A failed receiver closes the partition channels short, which the
	// workers also notice; report the root cause, not the symptom. A
	// receiver cancellation triggered by our own cancel above must not
	// mask the worker error that caused it.
	switch {
	case recvErr != nil && !errors.IsCategory(recvErr, errors.CategoryCancellation):
		return nil, recvErr
	case ctx.Err() != nil && recvErr != nil:
		return nil, recvErr
	case workerErr != nil:
		return nil, workerErr
	case recvErr != nil:
		return nil, recvErr
	}

	// Merge in partition order for a deterministic result.
	root := u.NewState(geom)
	for _, state := range states {
		if err := root.Merge(state); err != nil {
			return nil, err
		}
	}

	elapsed := time.Since(started)
	e.metrics.RecordUDFRunDuration(u.Name(), elapsed.Seconds())
	e.logger.Debug("udf run finished",
		"udf", u.Name(),
		"partitions", len(parts),
		"duration", elapsed,
	)

	return &udf.Result{UDFName: u.Name(), Data: root.Result()}, nil
}

// foldPartition consumes one partition's frames into a fresh UDF state.
func (e *PoolExecutor) foldPartition(u udf.UDF, geom udf.Geometry, part *acquisition.PartitionRun, states []udf.State, idx int) error {
	e.metrics.WorkerStarted()
	defer e.metrics.WorkerFinished()

	started := time.Now()
	state := u.NewState(geom)
	seen := 0

	for frame := range part.Frames() {
		if err := state.ProcessFrame(frame); err != nil {
			e.metrics.RecordPartitionProcessed(u.Name(), "error")
			return err
		}
		seen++
	}

	if seen != part.NumFrames() {
		// The channel closed early; the receiver recorded why. Report a
		// neutral error in case it did not.
		e.metrics.RecordPartitionProcessed(u.Name(), "error")
		return errors.Newf("partition %d received %d of %d frames",
			part.Index, seen, part.NumFrames()).
			Component("live").
			Category(errors.CategoryWorker).
			Context("partition", part.Index).
			Build()
	}

	states[idx] = state
	e.metrics.RecordPartitionProcessed(u.Name(), "success")
	e.metrics.RecordPartitionDuration(u.Name(), time.Since(started).Seconds())
	return nil
}
