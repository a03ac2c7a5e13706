package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantem/dectris-go/internal/errors"
)

func defaultTestSettings() *Settings {
	return &Settings{
		Detector: DetectorSettings{
			APIHost:    "localhost",
			APIPort:    8910,
			DataHost:   "localhost",
			DataPort:   9999,
			APIVersion: "1.8.0",
			TimeoutSec: 10,
		},
		Acquisition: AcquisitionSettings{
			NavShape:           []int{256, 256},
			TriggerMode:        "exte",
			FramesPerPartition: 1024,
		},
		Bench: BenchSettings{
			Label:       "testudf",
			OutputDir:   "profiles",
			UDF:         "sumsig",
			ProfileTopN: 10,
		},
	}
}

func TestValidateSettingsDefaults(t *testing.T) {
	settings := defaultTestSettings()
	require.NoError(t, ValidateSettings(settings))
}

func TestValidateSettingsRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"empty api host", func(s *Settings) { s.Detector.APIHost = "" }},
		{"api port out of range", func(s *Settings) { s.Detector.APIPort = 70000 }},
		{"zero data port", func(s *Settings) { s.Detector.DataPort = 0 }},
		{"zero timeout", func(s *Settings) { s.Detector.TimeoutSec = 0 }},
		{"1d nav shape", func(s *Settings) { s.Acquisition.NavShape = []int{256} }},
		{"negative nav dim", func(s *Settings) { s.Acquisition.NavShape = []int{256, -1} }},
		{"bad trigger mode", func(s *Settings) { s.Acquisition.TriggerMode = "continuous" }},
		{"zero partition size", func(s *Settings) { s.Acquisition.FramesPerPartition = 0 }},
		{"negative workers", func(s *Settings) { s.Bench.Workers = -1 }},
		{"unknown udf", func(s *Settings) { s.Bench.UDF = "maxsig" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := defaultTestSettings()
			tt.mutate(settings)
			err := ValidateSettings(settings)
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryValidation),
				"expected a validation category error, got: %v", err)
		})
	}
}

func TestSaveYAMLConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.yaml"

	settings := defaultTestSettings()
	settings.Acquisition.FramesPerPartition = 512

	require.NoError(t, SaveYAMLConfig(path, settings))
	assert.FileExists(t, path)
}
