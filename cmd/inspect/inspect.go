// Package inspect implements the inspect command: print the messages of
// a recorded acquisition stream, optionally followed by a summary.
package inspect

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/quantem/dectris-go/internal/conf"
	"github.com/quantem/dectris-go/internal/dectris"
	"github.com/quantem/dectris-go/internal/dump"
)

var (
	headCount   int
	withSummary bool
)

func Command(_ *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <dumpfile>",
		Short: "Print the messages of a recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.OutOrStdout(), args[0])
		},
	}

	cmd.Flags().IntVarP(&headCount, "head", "n", 0, "print only the first N messages")
	cmd.Flags().BoolVar(&withSummary, "summary", false, "append per-htype counts after the messages")

	return cmd
}

func runInspect(out io.Writer, path string) error {
	file, err := dump.Open(path)
	if err != nil {
		return err
	}

	if err := printMessages(out, file); err != nil {
		return err
	}
	if withSummary {
		fmt.Fprintln(out)
		return printSummary(out, path, file)
	}
	return nil
}

func printMessages(out io.Writer, file *dump.RecordFile) error {
	cur := file.Cursor()
	for !cur.AtEnd() {
		if headCount > 0 && cur.MsgIdx() >= headCount {
			break
		}
		idx := cur.MsgIdx()
		msg, err := cur.ReadRawMsg()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%6d %-16s %s\n", idx, dump.MsgType(msg), render(msg))
	}
	return nil
}

func render(msg []byte) string {
	value, ok := dump.TryParse(msg)
	if !ok {
		return fmt.Sprintf("<%d bytes>", len(msg))
	}
	compact, err := json.Marshal(value)
	if err != nil {
		return string(msg)
	}
	return string(compact)
}

func printSummary(out io.Writer, path string, file *dump.RecordFile) error {
	counts, err := dump.Summarize(file)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s\n\n", path)
	printSeriesInfo(out, file)

	htypes := make([]string, 0, len(counts))
	total := 0
	for htype, n := range counts {
		htypes = append(htypes, htype)
		total += n
	}
	sort.Strings(htypes)

	fmt.Fprintln(out, "messages:")
	for _, htype := range htypes {
		fmt.Fprintf(out, "  %-18s %d\n", htype, counts[htype])
	}
	fmt.Fprintf(out, "  %-18s %d\n", "total", total)
	return nil
}

// printSeriesInfo parses the leading header and config, if present.
func printSeriesInfo(out io.Writer, file *dump.RecordFile) {
	cur := file.Cursor()
	if err := cur.SeekToFirstHeaderOfType(dectris.HTypeHeader); err != nil {
		return
	}

	var header dectris.DHeader
	if err := cur.DecodeNext(&header); err != nil {
		return
	}
	var config dectris.DetectorConfig
	if err := cur.DecodeNext(&config); err != nil {
		return
	}

	fmt.Fprintf(out, "series %d: %dx%d pixels, %d-bit, trigger %s, nimages %d, ntrigger %d\n\n",
		header.Series,
		config.XPixelsInDetector, config.YPixelsInDetector,
		config.BitDepthImage,
		config.TriggerMode,
		config.NImages, config.NTrigger,
	)
}
