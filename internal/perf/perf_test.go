package perf

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeStartStop(t *testing.T) {
	dir := t.TempDir()

	scope, err := Start("testrun", dir)
	require.NoError(t, err)

	// Burn enough CPU for the profiler to have something to sample.
	deadline := time.Now().Add(50 * time.Millisecond)
	x := 0
	for time.Now().Before(deadline) {
		x++
	}
	_ = x

	report, err := scope.Stop()
	require.NoError(t, err)
	assert.Equal(t, "testrun", report.Label)
	assert.Greater(t, time.Duration(report.Duration), 40*time.Millisecond)
	assert.Equal(t, filepath.Join(dir, "testrun.pprof"), report.ProfilePath)
	assert.NotEmpty(t, report.System.GoVersion)
	assert.Positive(t, report.System.LogicalCores)

	// Stop is idempotent and keeps the first report.
	again, err := scope.Stop()
	require.NoError(t, err)
	assert.Same(t, report, again)

	// The profile parses and the JSON report round-trips.
	_, err = Summarize(report.ProfilePath, 5)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "testrun.json"))
	require.NoError(t, err)
	var decoded Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, report.Label, decoded.Label)
	assert.Equal(t, report.Duration, decoded.Duration)
}

func TestScopeDeferredStopPersistsOnPanic(t *testing.T) {
	dir := t.TempDir()

	scope, err := Start("aborted", dir)
	require.NoError(t, err)

	func() {
		defer func() { _ = recover() }()
		defer scope.Stop() //nolint:errcheck
		panic("run blew up")
	}()

	// The deferred Stop already finalized the artifacts; a later Stop
	// returns the same report.
	report, err := scope.Stop()
	require.NoError(t, err)
	assert.FileExists(t, report.ProfilePath)
	assert.FileExists(t, filepath.Join(dir, "aborted.json"))
}

func writeSyntheticProfile(t *testing.T) string {
	t.Helper()

	fn := func(id uint64, name string) *profile.Function {
		return &profile.Function{ID: id, Name: name}
	}
	loc := func(id uint64, f *profile.Function) *profile.Location {
		return &profile.Location{ID: id, Line: []profile.Line{{Function: f}}}
	}

	decode := fn(1, "dectris.DecodeFrame")
	sum := fn(2, "udf.(*sumSigState).ProcessFrame")
	read := fn(3, "dump.(*Reader).ReadMsg")

	locDecode := loc(1, decode)
	locSum := loc(2, sum)
	locRead := loc(3, read)

	p := &profile.Profile{
		DurationNanos: int64(time.Second),
		SampleType: []*profile.ValueType{
			{Type: "samples", Unit: "count"},
			{Type: "cpu", Unit: "nanoseconds"},
		},
		Sample: []*profile.Sample{
			{Location: []*profile.Location{locDecode}, Value: []int64{60, 600e6}},
			{Location: []*profile.Location{locSum, locDecode}, Value: []int64{30, 300e6}},
			{Location: []*profile.Location{locRead}, Value: []int64{10, 100e6}},
		},
		Location: []*profile.Location{locDecode, locSum, locRead},
		Function: []*profile.Function{decode, sum, read},
	}

	path := filepath.Join(t.TempDir(), "synthetic.pprof")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, p.Write(f))
	require.NoError(t, f.Close())
	return path
}

func TestSummarizeTopFunctions(t *testing.T) {
	path := writeSyntheticProfile(t)

	summary, err := Summarize(path, 2)
	require.NoError(t, err)

	assert.Equal(t, "nanoseconds", summary.Unit)
	assert.Equal(t, int64(1000e6), summary.TotalValue)
	assert.Equal(t, time.Second, summary.Duration)

	require.Len(t, summary.Top, 2)
	assert.Equal(t, "dectris.DecodeFrame", summary.Top[0].Function)
	assert.InDelta(t, 60.0, summary.Top[0].FlatPercent, 0.01)
	assert.Equal(t, "udf.(*sumSigState).ProcessFrame", summary.Top[1].Function)
	assert.InDelta(t, 30.0, summary.Top[1].FlatPercent, 0.01)

	text := summary.Format()
	assert.Contains(t, text, "dectris.DecodeFrame")
	assert.Contains(t, text, "flat%")
}

func TestSummarizeMissingFile(t *testing.T) {
	_, err := Summarize(filepath.Join(t.TempDir(), "nope.pprof"), 5)
	assert.Error(t, err)
}
