// Package perf profiles benchmark runs: it scopes a CPU profile around
// a measured section, records wall time and system information, and
// summarizes the resulting pprof file.
package perf

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/quantem/dectris-go/internal/errors"
	"github.com/quantem/dectris-go/internal/logging"
)

// Report is the outcome of one profiled section.
type Report struct {
	Label       string     `json:"label"`
	StartedAt   time.Time  `json:"started_at"`
	Duration    JSONDur    `json:"duration"`
	ProfilePath string     `json:"profile_path"`
	System      SystemInfo `json:"system"`
}

// JSONDur marshals a duration as its string form for readable reports.
type JSONDur time.Duration

func (d JSONDur) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *JSONDur) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = JSONDur(parsed)
	return nil
}

// Scope is one profiled section. Start it before the measured work and
// Stop it after; Stop is idempotent so it can be deferred as a backstop.
type Scope struct {
	label     string
	outputDir string
	cpuFile   *os.File
	startedAt time.Time
	logger    *slog.Logger

	mu      sync.Mutex
	stopped bool
	report  *Report
}

// Start begins a CPU profile writing to <outputDir>/<label>.pprof.
// Only one CPU profile can be active per process.
func Start(label, outputDir string) (*Scope, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, profileErr(err, label, "create-output-dir")
	}

	path := filepath.Join(outputDir, label+".pprof")
	f, err := os.Create(path)
	if err != nil {
		return nil, profileErr(err, label, "create-profile-file")
	}

	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		os.Remove(path)
		return nil, profileErr(err, label, "start-cpu-profile")
	}

	s := &Scope{
		label:     label,
		outputDir: outputDir,
		cpuFile:   f,
		startedAt: time.Now(),
		logger:    logging.ForService("perf"),
	}
	s.logger.Debug("profiling started", "label", label, "profile", path)
	return s, nil
}

// Stop ends the profile, writes <label>.json next to it and returns the
// report. Repeated calls return the first report.
func (s *Scope) Stop() (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return s.report, nil
	}
	s.stopped = true

	elapsed := time.Since(s.startedAt)
	pprof.StopCPUProfile()
	if err := s.cpuFile.Close(); err != nil {
		return nil, profileErr(err, s.label, "close-profile-file")
	}

	report := &Report{
		Label:       s.label,
		StartedAt:   s.startedAt,
		Duration:    JSONDur(elapsed),
		ProfilePath: s.cpuFile.Name(),
		System:      CollectSystemInfo(),
	}

	reportPath := filepath.Join(s.outputDir, s.label+".json")
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, profileErr(err, s.label, "encode-report")
	}
	if err := os.WriteFile(reportPath, data, 0o644); err != nil {
		return nil, profileErr(err, s.label, "write-report")
	}

	s.report = report
	s.logger.Debug("profiling stopped",
		"label", s.label,
		"duration", elapsed,
		"report", reportPath,
	)
	return report, nil
}

func profileErr(err error, label, operation string) error {
	return errors.New(err).
		Component("perf").
		Category(errors.CategoryProfiling).
		Context("label", label).
		Context("operation", operation).
		Build()
}
