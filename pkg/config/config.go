// Package config provides configuration loading and management for roicenterline.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/yngvem/zebrafish-bloodflow/pkg/centerline"
	"github.com/yngvem/zebrafish-bloodflow/pkg/clip"
	"github.com/yngvem/zebrafish-bloodflow/pkg/pipeline"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Centerline extraction and clipping parameters
	Centerline struct {
		// KNeighbours is the number of neighbours in the skeleton graph
		KNeighbours int `yaml:"kNeighbours"`

		// NormalEstimationLength is the number of steps used for the end directions
		NormalEstimationLength int `yaml:"normalEstimationLength"`

		// Bounds is the half side of the clipping squares, 0 uses the image size
		Bounds float64 `yaml:"bounds"`
	} `yaml:"centerline"`

	// Processing parameters
	Processing struct {
		// NumCores specifies how many ROIs are processed in parallel
		NumCores int `yaml:"numCores"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// SaveIntermediaryResults determines whether to save stage images
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// IntermediaryDir is the directory for stage images
		IntermediaryDir string `yaml:"intermediaryDir"`

		// ImageScale is the upscaling factor of stage images
		ImageScale int `yaml:"imageScale"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Centerline.KNeighbours = centerline.DefaultKNeighbours
	cfg.Centerline.NormalEstimationLength = clip.DefaultNormalEstimationLength
	cfg.Centerline.Bounds = 0

	cfg.Processing.NumCores = runtime.NumCPU()

	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.IntermediaryDir = "intermediary_results"
	cfg.Output.ImageScale = 4
	cfg.Output.Verbose = true

	return cfg
}

// Validate checks that the parameters can be used for processing
func (c *Config) Validate() error {
	if c.Centerline.KNeighbours < 1 {
		return fmt.Errorf("kNeighbours must be at least 1, got %d", c.Centerline.KNeighbours)
	}
	if c.Centerline.NormalEstimationLength < 1 {
		return fmt.Errorf("normalEstimationLength must be at least 1, got %d", c.Centerline.NormalEstimationLength)
	}
	if c.Centerline.Bounds < 0 {
		return fmt.Errorf("bounds must not be negative, got %g", c.Centerline.Bounds)
	}
	if c.Processing.NumCores < 1 {
		return fmt.Errorf("numCores must be at least 1, got %d", c.Processing.NumCores)
	}
	return nil
}

// ToParams converts the configuration to pipeline parameters
func (c *Config) ToParams() *pipeline.Params {
	return &pipeline.Params{
		KNeighbours:             c.Centerline.KNeighbours,
		NormalEstimationLength:  c.Centerline.NormalEstimationLength,
		Bounds:                  c.Centerline.Bounds,
		NumCores:                c.Processing.NumCores,
		SaveIntermediaryResults: c.Output.SaveIntermediaryResults,
		IntermediaryDir:         c.Output.IntermediaryDir,
		ImageScale:              c.Output.ImageScale,
	}
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
	return SaveConfig(DefaultConfig(), configPath)
}
