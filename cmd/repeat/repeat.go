// Package repeat implements the repeat command: stretch a recorded
// series into a longer one by replaying its frames.
package repeat

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/quantem/dectris-go/internal/conf"
	"github.com/quantem/dectris-go/internal/dump"
	"github.com/quantem/dectris-go/internal/errors"
	"github.com/quantem/dectris-go/internal/sim"
)

var outputPath string

func Command(_ *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repeat <dumpfile> <n>",
		Short: "Write a recording with its frames repeated n times",
		Long: `Reads a recorded series and emits a new one in which the frames repeat
n times with renumbered frame indices. The detector config is rewritten
to one image per trigger and n * frames triggers, so the output replays
as one long scan. Writes to stdout unless --output is given.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := strconv.Atoi(args[1])
			if err != nil {
				return errors.Newf("repeat count must be an integer, got %q", args[1]).
					Component("repeat").
					Category(errors.CategoryValidation).
					Build()
			}
			return runRepeat(cmd.Context(), args[0], count)
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "write to a file instead of stdout")

	return cmd
}

func runRepeat(ctx context.Context, input string, count int) error {
	src, err := sim.NewRepeatSource(input, count)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return errors.New(err).
				Component("repeat").
				Category(errors.CategoryFileIO).
				Context("path", outputPath).
				Build()
		}
		defer f.Close()
		out = f
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if err := src.WriteSeries(ctx, dump.NewWriter(out), nil); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "%s: %d frames repeated %d times -> %d frames\n",
		input, src.Frames(), count, src.TotalFrames())
	return nil
}
