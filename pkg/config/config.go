// Package config provides configuration loading and management for
// volcrop. It handles loading configuration from YAML files and
// provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Toolchain names the external volume programs. Override these to
	// point at non-PATH installations.
	Toolchain struct {
		// Info is the geometry query program
		Info string `yaml:"info"`

		// Tcat is the time-concatenation program
		Tcat string `yaml:"tcat"`

		// Zeropad is the pad/crop program
		Zeropad string `yaml:"zeropad"`
	} `yaml:"toolchain"`

	// Crop holds the default extraction behavior
	Crop struct {
		// Backend selects the dataset backend: afni, nifti or dicom
		Backend string `yaml:"backend"`

		// ClampToExtent clamps out-of-extent crop requests to the
		// dataset boundary instead of rejecting them
		ClampToExtent bool `yaml:"clampToExtent"`

		// KeepTemp retains the intermediate time-subset dataset
		KeepTemp bool `yaml:"keepTemp"`
	} `yaml:"crop"`

	// Batch holds batch-mode parameters
	Batch struct {
		// PoolSize is the number of extractions run in parallel.
		// Zero means three quarters of the available CPUs.
		PoolSize int `yaml:"poolSize"`
	} `yaml:"batch"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Toolchain.Info = "3dinfo"
	cfg.Toolchain.Tcat = "3dTcat"
	cfg.Toolchain.Zeropad = "3dZeropad"

	cfg.Crop.Backend = "afni"
	cfg.Crop.ClampToExtent = false
	cfg.Crop.KeepTemp = false

	cfg.Batch.PoolSize = 0

	cfg.Output.Verbose = false

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}
