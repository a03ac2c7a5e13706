// Package conf loads and validates the application configuration.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/quantem/dectris-go/internal/errors"
	"github.com/quantem/dectris-go/internal/logging"
)

// LogConfig holds settings for application log output
type LogConfig struct {
	Enabled bool   `yaml:"enabled"` // true to enable file logging
	Path    string `yaml:"path"`    // path to log file
	Level   string `yaml:"level"`   // debug, info, warn, error
}

// MainSettings holds general application settings
type MainSettings struct {
	Name string    `yaml:"name"` // name of the node
	Log  LogConfig `yaml:"log"`  // application log settings
}

// DetectorSettings holds the endpoints of the detector system
type DetectorSettings struct {
	APIHost    string `yaml:"apihost"`    // SIMPLON API host
	APIPort    int    `yaml:"apiport"`    // SIMPLON API port
	DataHost   string `yaml:"datahost"`   // data stream host
	DataPort   int    `yaml:"dataport"`   // data stream port
	APIVersion string `yaml:"apiversion"` // SIMPLON API version segment
	TimeoutSec int    `yaml:"timeoutsec"` // HTTP client timeout in seconds
}

// AcquisitionSettings holds acquisition geometry and batching parameters
type AcquisitionSettings struct {
	NavShape           []int  `yaml:"navshape"`           // navigation shape, e.g. [256, 256]
	TriggerMode        string `yaml:"triggermode"`        // ints, inte, exts, exte
	FramesPerPartition int    `yaml:"framesperpartition"` // frames batched into one partition
}

// BenchSettings holds benchmark command settings
type BenchSettings struct {
	Label       string `yaml:"label"`       // label for profile artifacts
	OutputDir   string `yaml:"outputdir"`   // directory for profile artifacts
	UDF         string `yaml:"udf"`         // udf to run (sumsig, framecount)
	Workers     int    `yaml:"workers"`     // executor worker count, 0 = NumCPU
	ProfileTopN int    `yaml:"profiletopn"` // functions shown in profile summary
	SaveResults bool   `yaml:"saveresults"` // persist run results to database
	ResultsDB   string `yaml:"resultsdb"`   // sqlite database path for results
}

// SimSettings holds detector simulator settings
type SimSettings struct {
	FPS float64 `yaml:"fps"` // frame pacing, 0 = unpaced
}

// MetricsSettings holds the Prometheus endpoint settings
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled"` // true to expose metrics endpoint
	Listen  string `yaml:"listen"`  // listen address, e.g. "0.0.0.0:8090"
}

// Settings is the root configuration structure
type Settings struct {
	Debug bool `yaml:"debug"` // true to enable debug logging

	Main        MainSettings        `yaml:"main"`
	Detector    DetectorSettings    `yaml:"detector"`
	Acquisition AcquisitionSettings `yaml:"acquisition"`
	Bench       BenchSettings       `yaml:"bench"`
	Sim         SimSettings         `yaml:"sim"`
	Metrics     MetricsSettings     `yaml:"metrics"`
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into Settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// No config file on disk is fine, defaults and flags apply.
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// Setting returns the current settings instance, initializing it if necessary
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				logging.Fatal("error loading settings", "error", err)
			}
		}
	})
	return GetSettings()
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SetSettings replaces the current settings instance. Intended for tests.
func SetSettings(s *Settings) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()
	settingsInstance = s
}

// SaveYAMLConfig writes the settings to the given path as YAML.
// The write is atomic: data goes to a temporary file first.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "marshal-config").
			Build()
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("operation", "create-temp-config").
			Build()
	}
	tempName := tempFile.Name()

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		os.Remove(tempName)
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("operation", "write-temp-config").
			Build()
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempName)
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("operation", "close-temp-config").
			Build()
	}

	if err := os.Rename(tempName, configPath); err != nil {
		os.Remove(tempName)
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("operation", "rename-temp-config").
			Build()
	}

	return nil
}

// GetDefaultConfigPaths returns the configuration search paths for the
// current operating system: the executable directory, the user config
// directory and the working directory.
func GetDefaultConfigPaths() ([]string, error) {
	var configPaths []string

	exePath, err := os.Executable()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-executable-path").
			Build()
	}
	configPaths = append(configPaths, filepath.Dir(exePath))

	if userConfig, err := os.UserConfigDir(); err == nil {
		configPaths = append(configPaths, filepath.Join(userConfig, "dectris-go"))
	}

	configPaths = append(configPaths, ".")

	return configPaths, nil
}
