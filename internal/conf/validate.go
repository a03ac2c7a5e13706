// conf/validate.go settings validation
package conf

import (
	"github.com/quantem/dectris-go/internal/errors"
)

// validTriggerModes lists the trigger modes the detector accepts.
// Kept here so validation does not depend on the client packages.
var validTriggerModes = map[string]bool{
	"ints": true, // internal trigger, software
	"inte": true, // internal trigger, edge
	"exts": true, // external trigger, software
	"exte": true, // external trigger, edge
}

// ValidateSettings checks the loaded settings for consistency.
func ValidateSettings(settings *Settings) error {
	if err := validateDetectorSettings(&settings.Detector); err != nil {
		return err
	}
	if err := validateAcquisitionSettings(&settings.Acquisition); err != nil {
		return err
	}
	if err := validateBenchSettings(&settings.Bench); err != nil {
		return err
	}
	return nil
}

func validateDetectorSettings(s *DetectorSettings) error {
	if s.APIHost == "" {
		return errors.Newf("detector API host must not be empty").
			Component("configuration").
			Category(errors.CategoryValidation).
			Context("setting", "detector.apihost").
			Build()
	}
	if s.APIPort <= 0 || s.APIPort > 65535 {
		return errors.Newf("detector API port %d out of range", s.APIPort).
			Component("configuration").
			Category(errors.CategoryValidation).
			Context("setting", "detector.apiport").
			Build()
	}
	if s.DataHost == "" {
		return errors.Newf("detector data host must not be empty").
			Component("configuration").
			Category(errors.CategoryValidation).
			Context("setting", "detector.datahost").
			Build()
	}
	if s.DataPort <= 0 || s.DataPort > 65535 {
		return errors.Newf("detector data port %d out of range", s.DataPort).
			Component("configuration").
			Category(errors.CategoryValidation).
			Context("setting", "detector.dataport").
			Build()
	}
	if s.TimeoutSec <= 0 {
		return errors.Newf("detector timeout must be positive, got %d", s.TimeoutSec).
			Component("configuration").
			Category(errors.CategoryValidation).
			Context("setting", "detector.timeoutsec").
			Build()
	}
	return nil
}

func validateAcquisitionSettings(s *AcquisitionSettings) error {
	if len(s.NavShape) != 2 {
		return errors.Newf("navigation shape must have 2 dimensions, got %d", len(s.NavShape)).
			Component("configuration").
			Category(errors.CategoryValidation).
			Context("setting", "acquisition.navshape").
			Build()
	}
	for _, dim := range s.NavShape {
		if dim <= 0 {
			return errors.Newf("navigation shape dimensions must be positive, got %v", s.NavShape).
				Component("configuration").
				Category(errors.CategoryValidation).
				Context("setting", "acquisition.navshape").
				Build()
		}
	}
	if !validTriggerModes[s.TriggerMode] {
		return errors.Newf("unsupported trigger mode %q", s.TriggerMode).
			Component("configuration").
			Category(errors.CategoryValidation).
			Context("setting", "acquisition.triggermode").
			Build()
	}
	if s.FramesPerPartition <= 0 {
		return errors.Newf("frames per partition must be positive, got %d", s.FramesPerPartition).
			Component("configuration").
			Category(errors.CategoryValidation).
			Context("setting", "acquisition.framesperpartition").
			Build()
	}
	return nil
}

func validateBenchSettings(s *BenchSettings) error {
	if s.Workers < 0 {
		return errors.Newf("worker count must not be negative, got %d", s.Workers).
			Component("configuration").
			Category(errors.CategoryValidation).
			Context("setting", "bench.workers").
			Build()
	}
	if s.ProfileTopN < 0 {
		return errors.Newf("profile top-n must not be negative, got %d", s.ProfileTopN).
			Component("configuration").
			Category(errors.CategoryValidation).
			Context("setting", "bench.profiletopn").
			Build()
	}
	switch s.UDF {
	case "sumsig", "framecount":
	default:
		return errors.Newf("unknown udf %q", s.UDF).
			Component("configuration").
			Category(errors.CategoryValidation).
			Context("setting", "bench.udf").
			Build()
	}
	return nil
}
