// Package config provides configuration loading and management for contoursto3d.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"contoursto3d/internal/models"
)

// Reduction modes accepted in the configuration file
const (
	ModeNthPoint       = "nth_point"
	ModeDouglasPeucker = "douglas_peucker"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Contour reduction parameters
	Reduction struct {
		// Mode selects nth_point or douglas_peucker
		Mode string `yaml:"mode"`

		// StepSize is k for nth_point reduction
		StepSize int `yaml:"stepSize"`

		// Tolerance is the chord deviation limit in mm for douglas_peucker
		Tolerance float64 `yaml:"tolerance"`
	} `yaml:"reduction"`

	// Expected contour spacing, derived from the source image's voxel spacing
	Spacing struct {
		Min float64 `yaml:"min"`
		Max float64 `yaml:"max"`
	} `yaml:"spacing"`

	// RBF fitting parameters
	Fitting struct {
		// NormalOffset is the distance in mm of the inside/outside centers
		NormalOffset float64 `yaml:"normalOffset"`

		// ConditionLimit is the smallest accepted reciprocal condition number
		ConditionLimit float64 `yaml:"conditionLimit"`
	} `yaml:"fitting"`

	// Distance volume parameters
	Sampling struct {
		// VoxelBudget is the target number of voxels in the distance volume
		VoxelBudget int `yaml:"voxelBudget"`

		// Margin is the number of voxels added around the centers' bounding box
		Margin int `yaml:"margin"`
	} `yaml:"sampling"`

	// Surface extraction parameters
	Surface struct {
		Smooth           bool    `yaml:"smooth"`
		SmoothIterations int     `yaml:"smoothIterations"`
		SmoothRelaxation float64 `yaml:"smoothRelaxation"`
	} `yaml:"surface"`

	// Plane pose matching
	Pose struct {
		// Tolerance applies to every rotation element and offset component
		Tolerance float64 `yaml:"tolerance"`
	} `yaml:"pose"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Reduction.Mode = ModeNthPoint
	cfg.Reduction.StepSize = 1
	cfg.Reduction.Tolerance = 0.5

	// 1 mm isotropic source image
	cfg.Spacing.Min = 1.0
	cfg.Spacing.Max = 1.0

	cfg.Fitting.NormalOffset = 1.0
	cfg.Fitting.ConditionLimit = 1e-14

	cfg.Sampling.VoxelBudget = 50000
	cfg.Sampling.Margin = 2

	cfg.Surface.Smooth = false
	cfg.Surface.SmoothIterations = 10
	cfg.Surface.SmoothRelaxation = 0.3

	cfg.Pose.Tolerance = 1e-3

	cfg.Output.Verbose = true

	return cfg
}

// Validate rejects parameter combinations the pipeline cannot run with.
// All returned errors wrap models.ErrConfiguration.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Reduction.Mode) {
	case ModeNthPoint:
		if c.Reduction.StepSize < 1 {
			return fmt.Errorf("%w: reduction step size must be at least 1, got %d", models.ErrConfiguration, c.Reduction.StepSize)
		}
	case ModeDouglasPeucker:
		if c.Reduction.Tolerance <= 0 {
			return fmt.Errorf("%w: reduction tolerance must be positive, got %g", models.ErrConfiguration, c.Reduction.Tolerance)
		}
	default:
		return fmt.Errorf("%w: unknown reduction mode %q", models.ErrConfiguration, c.Reduction.Mode)
	}

	if c.Spacing.Min < 0 || c.Spacing.Max <= 0 {
		return fmt.Errorf("%w: contour spacing must be positive (min %g, max %g)", models.ErrConfiguration, c.Spacing.Min, c.Spacing.Max)
	}
	if c.Spacing.Min > c.Spacing.Max {
		return fmt.Errorf("%w: minimum spacing %g exceeds maximum spacing %g", models.ErrConfiguration, c.Spacing.Min, c.Spacing.Max)
	}
	if c.Fitting.NormalOffset <= 0 {
		return fmt.Errorf("%w: normal offset must be positive, got %g", models.ErrConfiguration, c.Fitting.NormalOffset)
	}
	if c.Sampling.VoxelBudget <= 0 {
		return fmt.Errorf("%w: voxel budget must be positive, got %d", models.ErrConfiguration, c.Sampling.VoxelBudget)
	}
	if c.Sampling.Margin < 1 {
		return fmt.Errorf("%w: sampling margin must be at least 1 voxel, got %d", models.ErrConfiguration, c.Sampling.Margin)
	}
	if c.Surface.Smooth && (c.Surface.SmoothRelaxation <= 0 || c.Surface.SmoothRelaxation > 1) {
		return fmt.Errorf("%w: smoothing relaxation must be in (0, 1], got %g", models.ErrConfiguration, c.Surface.SmoothRelaxation)
	}
	if c.Pose.Tolerance < 0 {
		return fmt.Errorf("%w: pose tolerance must not be negative", models.ErrConfiguration)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
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
		return nil, err
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
