// Package cat implements the cat command: re-emit a range of records
// from a recorded stream, length-prefixed, to stdout.
package cat

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/quantem/dectris-go/internal/conf"
	"github.com/quantem/dectris-go/internal/dump"
	"github.com/quantem/dectris-go/internal/errors"
)

func Command(_ *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "cat <dumpfile> <start> <end>",
		Short: "Re-emit records [start, end] of a recording to stdout",
		Long: `Copies the records with message indices start through end (inclusive)
to stdout in the same length-prefixed format, so slices of a recording
can be piped into a new file.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := msgIndex(args[1])
			if err != nil {
				return err
			}
			end, err := msgIndex(args[2])
			if err != nil {
				return err
			}
			return runCat(args[0], start, end)
		},
	}
}

func msgIndex(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 0 {
		return 0, errors.Newf("message index must be a non-negative integer, got %q", arg).
			Component("cat").
			Category(errors.CategoryValidation).
			Build()
	}
	return n, nil
}

func runCat(path string, start, end int) error {
	if end < start {
		return errors.Newf("end index %d precedes start index %d", end, start).
			Component("cat").
			Category(errors.CategoryValidation).
			Build()
	}

	file, err := dump.Open(path)
	if err != nil {
		return err
	}

	cur := file.Cursor()
	if err := cur.SeekToMsgIndex(start); err != nil {
		return err
	}

	w := dump.NewWriter(os.Stdout)
	for cur.MsgIdx() <= end {
		msg, err := cur.ReadRawMsg()
		if err != nil {
			return err
		}
		if err := w.WriteRawMsg(msg); err != nil {
			return err
		}
	}
	return nil
}
