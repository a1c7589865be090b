// Package config provides configuration loading and management for mricat4d.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"mricat4d/pkg/nifti"
)

// AllCores is the concurrency value meaning "use every available core"
const AllCores = -1

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// Concurrency is the number of volumes loaded at once. Negative
		// values count back from the number of CPUs: -1 uses all of them,
		// -2 all but one, and so on.
		Concurrency int `yaml:"concurrency"`

		// RelativeToManifest resolves relative manifest entries against the
		// manifest's directory instead of the working directory
		RelativeToManifest bool `yaml:"relativeToManifest"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// Datatype is the on-disk voxel type of the 4D image
		Datatype string `yaml:"datatype"`

		// GzipLevel is the compression level for .nii.gz outputs (1-9, 0 for default)
		GzipLevel int `yaml:"gzipLevel"`

		// PreviewDir, when set, receives one JPEG preview per output frame
		PreviewDir string `yaml:"previewDir"`

		// PreviewAxis selects the axis the preview slice is cut across
		PreviewAxis string `yaml:"previewAxis"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.Concurrency = AllCores
	cfg.Processing.RelativeToManifest = false

	cfg.Output.Datatype = "float64"
	cfg.Output.GzipLevel = 0
	cfg.Output.PreviewAxis = "z"
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate checks that every setting is usable
func (c *Config) Validate() error {
	if _, err := ResolveConcurrency(c.Processing.Concurrency); err != nil {
		return err
	}
	if _, err := c.OutputDatatype(); err != nil {
		return err
	}
	if c.Output.GzipLevel < 0 || c.Output.GzipLevel > 9 {
		return fmt.Errorf("gzipLevel must be between 0 and 9, got %d", c.Output.GzipLevel)
	}
	switch c.Output.PreviewAxis {
	case "x", "y", "z":
	default:
		return fmt.Errorf("previewAxis must be x, y or z, got %q", c.Output.PreviewAxis)
	}
	return nil
}

// OutputDatatype returns the configured output voxel type. Only floating
// point types are accepted since the stacked data is not rescaled.
func (c *Config) OutputDatatype() (nifti.Datatype, error) {
	dt, err := nifti.ParseDatatype(c.Output.Datatype)
	if err != nil {
		return 0, err
	}
	if dt != nifti.Float32 && dt != nifti.Float64 {
		return 0, fmt.Errorf("output datatype must be float32 or float64, got %v", dt)
	}
	return dt, nil
}

// ErrZeroConcurrency is returned for a concurrency of 0
var ErrZeroConcurrency = errors.New("concurrency must not be 0")

// ResolveConcurrency turns a configured concurrency into a worker count.
// Positive values are used as is; negative values count back from the
// number of CPUs (-1 is all of them) and never go below one worker.
func ResolveConcurrency(n int) (int, error) {
	switch {
	case n > 0:
		return n, nil
	case n == 0:
		return 0, ErrZeroConcurrency
	}
	workers := runtime.NumCPU() + 1 + n
	if workers < 1 {
		workers = 1
	}
	return workers, nil
}
