package perf

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/pprof/profile"

	"github.com/quantem/dectris-go/internal/errors"
)

// FlatEntry is one function's share of a CPU profile.
type FlatEntry struct {
	Function    string
	Flat        int64
	FlatPercent float64
}

// Summary aggregates a CPU profile by flat time per function.
type Summary struct {
	Unit       string
	TotalValue int64
	Duration   time.Duration
	Top        []FlatEntry
}

// Summarize parses the pprof file at path and returns the top N
// functions by flat time.
func Summarize(path string, topN int) (*Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, profileErr(err, path, "open-profile")
	}
	defer f.Close()

	p, err := profile.Parse(f)
	if err != nil {
		return nil, profileErr(err, path, "parse-profile")
	}
	return summarize(p, topN)
}

func summarize(p *profile.Profile, topN int) (*Summary, error) {
	idx, err := cpuValueIndex(p)
	if err != nil {
		return nil, err
	}

	// Flat time goes to the leaf frame of each sample.
	flat := make(map[string]int64)
	var total int64
	for _, s := range p.Sample {
		if len(s.Location) == 0 || len(s.Value) <= idx {
			continue
		}
		v := s.Value[idx]
		total += v
		for _, line := range s.Location[0].Line {
			if line.Function != nil {
				flat[line.Function.Name] += v
				break
			}
		}
	}

	entries := make([]FlatEntry, 0, len(flat))
	for name, v := range flat {
		entry := FlatEntry{Function: name, Flat: v}
		if total > 0 {
			entry.FlatPercent = float64(v) / float64(total) * 100
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Flat != entries[j].Flat {
			return entries[i].Flat > entries[j].Flat
		}
		return entries[i].Function < entries[j].Function
	})
	if topN > 0 && len(entries) > topN {
		entries = entries[:topN]
	}

	return &Summary{
		Unit:       p.SampleType[idx].Unit,
		TotalValue: total,
		Duration:   time.Duration(p.DurationNanos),
		Top:        entries,
	}, nil
}

// cpuValueIndex picks the sample value holding CPU time, preferring
// cpu/nanoseconds over samples/count.
func cpuValueIndex(p *profile.Profile) (int, error) {
	idx := -1
	for i, st := range p.SampleType {
		if st.Type == "cpu" && st.Unit == "nanoseconds" {
			return i, nil
		}
		if st.Type == "samples" && st.Unit == "count" {
			idx = i
		}
	}
	if idx >= 0 {
		return idx, nil
	}
	if len(p.SampleType) > 0 {
		return len(p.SampleType) - 1, nil
	}
	return 0, errors.Newf("profile has no sample types").
		Component("perf").
		Category(errors.CategoryProfiling).
		Build()
}

// Format renders the summary as an aligned text table.
func (s *Summary) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "total %s", formatValue(s.TotalValue, s.Unit))
	if s.Duration > 0 {
		fmt.Fprintf(&b, " over %s", s.Duration.Round(time.Millisecond))
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%12s %7s  %s\n", "flat", "flat%", "function")
	for _, e := range s.Top {
		fmt.Fprintf(&b, "%12s %6.2f%%  %s\n",
			formatValue(e.Flat, s.Unit), e.FlatPercent, e.Function)
	}
	return b.String()
}

func formatValue(v int64, unit string) string {
	if unit == "nanoseconds" {
		return time.Duration(v).Round(10 * time.Microsecond).String()
	}
	return fmt.Sprintf("%d %s", v, unit)
}
