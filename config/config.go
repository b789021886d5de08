// Package config loads mesh configuration from YAML files with sane
// defaults, so hosts can tune models, iteration caps and memory behavior
// without code changes.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the tunable surface of a mesh.
type Config struct {
	// Model drives the main reasoning loop.
	Model string `yaml:"model"`

	// CompactModel drives compaction summaries. Defaults to Model.
	CompactModel string `yaml:"compact_model"`

	// MaxIterations caps backend rounds per reasoning call.
	MaxIterations int `yaml:"max_iterations"`

	// MemoryPressure is the context window fraction that triggers
	// compaction, between 0 and 1.
	MemoryPressure float64 `yaml:"memory_pressure"`

	// KeepRecentRounds is the number of recent user rounds kept verbatim
	// through compaction.
	KeepRecentRounds int `yaml:"keep_recent_rounds"`

	// Namespace scopes long-term fact persistence.
	Namespace string `yaml:"namespace"`

	// PythonInterpreter overrides the python executable for the python
	// engine.
	PythonInterpreter string `yaml:"python_interpreter"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Model:             "claude-sonnet-4-20250514",
		MaxIterations:     10,
		MemoryPressure:    0.8,
		KeepRecentRounds:  2,
		PythonInterpreter: "python3",
	}
}

// Load reads a YAML config file, layering it over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values the mesh cannot run with.
func (c Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("config: model must be set")
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("config: max_iterations must be positive, got %d", c.MaxIterations)
	}
	if c.MemoryPressure <= 0 || c.MemoryPressure > 1 {
		return fmt.Errorf("config: memory_pressure must be in (0, 1], got %v", c.MemoryPressure)
	}
	if c.KeepRecentRounds < 1 {
		return fmt.Errorf("config: keep_recent_rounds must be at least 1, got %d", c.KeepRecentRounds)
	}
	return nil
}

// CompactModelOrDefault resolves the compaction model.
func (c Config) CompactModelOrDefault() string {
	if c.CompactModel != "" {
		return c.CompactModel
	}
	return c.Model
}
