// Package bench implements the benchmark command: it runs one UDF over
// a live acquisition twice, once to warm up and once timed under a CPU
// profile, and reports the results.
package bench

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantem/dectris-go/internal/acquisition"
	"github.com/quantem/dectris-go/internal/benchstore"
	"github.com/quantem/dectris-go/internal/conf"
	"github.com/quantem/dectris-go/internal/dectris"
	"github.com/quantem/dectris-go/internal/live"
	"github.com/quantem/dectris-go/internal/logging"
	"github.com/quantem/dectris-go/internal/observability"
	"github.com/quantem/dectris-go/internal/perf"
	"github.com/quantem/dectris-go/internal/udf"
)

func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark a UDF over a live detector acquisition",
		Long: `Runs the configured UDF over one full scan twice: a warmup pass and a
timed pass under a CPU profile. Prints the timed duration and the
hottest functions of the profile.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmark(settings)
		},
	}

	cmd.Flags().StringVar(&settings.Bench.Label, "label", settings.Bench.Label, "label for profile artifacts")
	cmd.Flags().StringVar(&settings.Bench.OutputDir, "output-dir", settings.Bench.OutputDir, "directory for profile artifacts")
	cmd.Flags().StringVar(&settings.Bench.UDF, "udf", settings.Bench.UDF, "UDF to run (sumsig, framecount)")
	cmd.Flags().IntVar(&settings.Bench.Workers, "workers", settings.Bench.Workers, "executor worker count, 0 = all CPUs")
	cmd.Flags().IntSliceVar(&settings.Acquisition.NavShape, "nav-shape", settings.Acquisition.NavShape, "navigation shape, e.g. 256,256")
	cmd.Flags().StringVar(&settings.Acquisition.TriggerMode, "trigger-mode", settings.Acquisition.TriggerMode, "trigger mode (ints, inte, exts, exte)")
	cmd.Flags().IntVar(&settings.Acquisition.FramesPerPartition, "frames-per-partition", settings.Acquisition.FramesPerPartition, "frames batched into one partition")
	cmd.Flags().BoolVar(&settings.Bench.SaveResults, "save", settings.Bench.SaveResults, "persist results to the benchmark database")

	return cmd
}

func runBenchmark(settings *conf.Settings) error {
	logger := logging.ForService("bench")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics, err := observability.NewMetrics()
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	quit := make(chan struct{})
	defer func() {
		close(quit)
		wg.Wait()
	}()
	if settings.Metrics.Enabled {
		endpoint, err := observability.NewEndpoint(settings, metrics)
		if err != nil {
			return err
		}
		endpoint.Start(&wg, quit)
	}

	benchUDF, err := udf.ByName(settings.Bench.UDF)
	if err != nil {
		return err
	}

	lctx := live.NewContext(live.Options{
		Workers:         settings.Bench.Workers,
		ExecutorMetrics: metrics.Executor,
	})
	defer lctx.Close() //nolint:errcheck

	acq := newAcquisition(settings)
	acq.SetMetrics(metrics.Acquisition)

	ds, err := acq.Initialize(ctx, lctx.Executor())
	if err != nil {
		return err
	}
	geom := ds.Geometry()
	fmt.Printf("dataset: %dx%d scan of %dx%d frames, %d partitions, %d workers\n",
		geom.NavShape[0], geom.NavShape[1],
		geom.SigShape[0], geom.SigShape[1],
		len(ds.Partitions()), lctx.Executor().Workers(),
	)

	// Warmup pass, unprofiled.
	logger.Info("warmup run starting", "udf", benchUDF.Name())
	warmupStart := time.Now()
	if _, err := lctx.RunUDF(ctx, ds, benchUDF); err != nil {
		return err
	}
	warmup := time.Since(warmupStart)
	logger.Info("warmup run finished", "duration", warmup)

	// Timed pass under a CPU profile. Stop is deferred as well so the
	// profile and report land on disk even when the run bails out early.
	scope, err := perf.Start(settings.Bench.Label, settings.Bench.OutputDir)
	if err != nil {
		return err
	}
	defer scope.Stop() //nolint:errcheck
	timedStart := time.Now()
	_, runErr := lctx.RunUDF(ctx, ds, benchUDF)
	timed := time.Since(timedStart)
	report, stopErr := scope.Stop()
	if runErr != nil {
		return runErr
	}
	if stopErr != nil {
		return stopErr
	}

	fmt.Printf("%s\n", timed)

	throughput := float64(geom.NumFrames) / timed.Seconds()
	fmt.Printf("%d frames in %s (%.0f frames/s)\n",
		geom.NumFrames, timed.Round(time.Millisecond), throughput)

	summary, err := perf.Summarize(report.ProfilePath, settings.Bench.ProfileTopN)
	if err != nil {
		logger.Warn("profile summary failed", "error", err)
	} else {
		fmt.Print(summary.Format())
	}

	if settings.Bench.SaveResults {
		if err := saveRun(settings, geom, benchUDF.Name(), warmup, timed, throughput, report); err != nil {
			logger.Warn("saving results failed", "error", err)
		}
	}

	if err := lctx.Close(); err != nil {
		return err
	}
	fmt.Println("done")
	return nil
}

// newAcquisition builds the acquisition descriptor from the settings.
// Software trigger modes get a callback that fires the SIMPLON trigger
// command; hardware-edge modes are triggered externally.
func newAcquisition(settings *conf.Settings) *acquisition.Acquisition {
	cfg := acquisition.Config{
		APIHost:            settings.Detector.APIHost,
		APIPort:            settings.Detector.APIPort,
		DataHost:           settings.Detector.DataHost,
		DataPort:           settings.Detector.DataPort,
		NavShape:           navShape(settings),
		TriggerMode:        settings.Acquisition.TriggerMode,
		FramesPerPartition: settings.Acquisition.FramesPerPartition,
		APIVersion:         settings.Detector.APIVersion,
		Timeout:            time.Duration(settings.Detector.TimeoutSec) * time.Second,
	}

	var acq *acquisition.Acquisition
	switch cfg.TriggerMode {
	case dectris.TriggerInternalSoftware, dectris.TriggerExternalSoftware:
		cfg.Trigger = func(ctx context.Context) error {
			return acq.Client().Trigger(ctx)
		}
	}
	acq = acquisition.New(cfg)
	return acq
}

func navShape(settings *conf.Settings) [2]int {
	var shape [2]int
	for i, v := range settings.Acquisition.NavShape {
		if i >= 2 {
			break
		}
		shape[i] = v
	}
	return shape
}

func saveRun(settings *conf.Settings, geom udf.Geometry, udfName string, warmup, timed time.Duration, throughput float64, report *perf.Report) error {
	store, err := benchstore.Open(settings.Bench.ResultsDB)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	run := &benchstore.BenchRun{
		Label:        settings.Bench.Label,
		UDF:          udfName,
		NavX:         geom.NavShape[0],
		NavY:         geom.NavShape[1],
		SigX:         geom.SigShape[0],
		SigY:         geom.SigShape[1],
		NumFrames:    geom.NumFrames,
		Workers:      settings.Bench.Workers,
		WarmupNanos:  int64(warmup),
		FramesPerSec: throughput,
	}
	run.FromReport(report)
	run.TimedNanos = int64(timed)

	id, err := store.Save(run)
	if err != nil {
		return err
	}
	fmt.Printf("saved run %s\n", id)
	return nil
}
