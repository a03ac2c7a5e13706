// Package simulate implements the sim command: serve a recorded or
// synthetic acquisition as if it came from a live detector.
package simulate

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantem/dectris-go/internal/conf"
	"github.com/quantem/dectris-go/internal/sim"
)

var (
	dumpPath  string
	repeat    int
	navShape  []int
	frameSize int
)

func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sim [dumpfile]",
		Short: "Simulate a detector from a recording or synthetic data",
		Long: `Serves the SIMPLON API subset and a data stream listener until
interrupted. Each accepted trigger streams one series: the recording
when a dump file is given, optionally repeated, or a synthetic scan
otherwise.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				dumpPath = args[0]
			}
			return runSim(settings)
		},
	}

	cmd.Flags().IntVar(&repeat, "repeat", 1, "repetitions of the recorded series per trigger")
	cmd.Flags().IntSliceVar(&navShape, "nav-shape", []int{256, 256}, "synthetic scan shape")
	cmd.Flags().IntVar(&frameSize, "frame-size", 512, "synthetic frame edge length in pixels")
	cmd.Flags().Float64Var(&settings.Sim.FPS, "fps", settings.Sim.FPS, "frame pacing, 0 = unpaced")

	return cmd
}

func runSim(settings *conf.Settings) error {
	source, err := buildSource()
	if err != nil {
		return err
	}

	srv, err := sim.NewServer(sim.Config{
		APIAddr:  fmt.Sprintf(":%d", settings.Detector.APIPort),
		DataAddr: fmt.Sprintf(":%d", settings.Detector.DataPort),
		FPS:      settings.Sim.FPS,
		Source:   source,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}

	fmt.Printf("simulator listening: api :%d, data :%d\n",
		settings.Detector.APIPort, settings.Detector.DataPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}
	return nil
}

func buildSource() (sim.Source, error) {
	if dumpPath == "" {
		frames := 1
		for _, v := range navShape {
			frames *= v
		}
		return &sim.SyntheticSource{
			Series:    1,
			Width:     frameSize,
			Height:    frameSize,
			NumFrames: frames,
		}, nil
	}

	if repeat > 1 {
		return sim.NewRepeatSource(dumpPath, repeat)
	}
	return sim.NewDumpSource(dumpPath)
}
