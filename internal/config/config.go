// Package config provides unified configuration loading for formscan.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for formscan.
type Config struct {
	Extraction    ExtractionConfig    `yaml:"extraction"`
	LLM           LLMConfig           `yaml:"llm"`
	Variance      VarianceConfig      `yaml:"variance"`
	Store         StoreConfig         `yaml:"store"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ExtractionConfig holds batching and dispatch settings for a run.
type ExtractionConfig struct {
	BatchingEnabled bool          `yaml:"batching_enabled"`
	BatchSize       string        `yaml:"batch_size"` // parsed leniently; falls back to the planner default
	MaxWorkers      int           `yaml:"max_workers"`
	RunTimeout      time.Duration `yaml:"run_timeout"`
}

// LLMConfig holds settings for the upstream extraction service.
type LLMConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Model          string        `yaml:"model"`
	APIKey         string        `yaml:"-"` // env only, never from file
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// VarianceConfig holds stability-analysis settings.
type VarianceConfig struct {
	LowStabilityThreshold float64 `yaml:"low_stability_threshold"`
	ReportLimit           int     `yaml:"report_limit"`
}

// StoreConfig holds run-store settings.
type StoreConfig struct {
	Dir string `yaml:"dir"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Extraction: ExtractionConfig{
			BatchingEnabled: true,
			BatchSize:       "5",
			MaxWorkers:      5,
			RunTimeout:      10 * time.Minute,
		},
		LLM: LLMConfig{
			BaseURL:        "https://openrouter.ai/api/v1/chat/completions",
			Model:          "google/gemini-2.5-flash-preview-09-2025",
			MaxRetries:     3,
			InitialBackoff: 1 * time.Second,
			MaxBackoff:     30 * time.Second,
		},
		Variance: VarianceConfig{
			LowStabilityThreshold: 80,
			ReportLimit:           20,
		},
		Store: StoreConfig{
			Dir: "runs",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "console",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Extraction.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be at least 1")
	}

	if c.Extraction.RunTimeout <= 0 {
		return fmt.Errorf("run_timeout must be positive")
	}

	if c.Variance.LowStabilityThreshold <= 0 || c.Variance.LowStabilityThreshold > 100 {
		return fmt.Errorf("low_stability_threshold must be in (0, 100]")
	}

	if c.Variance.ReportLimit < 1 {
		return fmt.Errorf("report_limit must be at least 1")
	}

	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}

	if c.Store.Dir == "" {
		return fmt.Errorf("store dir must not be empty")
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}

	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}

	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}

	if v := os.Getenv("FORMSCAN_STORE_DIR"); v != "" {
		cfg.Store.Dir = v
	}

	if v := os.Getenv("FORMSCAN_BATCH_SIZE"); v != "" {
		cfg.Extraction.BatchSize = v
	}

	if v := os.Getenv("FORMSCAN_MAX_WORKERS"); v != "" {
		var workers int
		if _, err := fmt.Sscanf(v, "%d", &workers); err == nil {
			cfg.Extraction.MaxWorkers = workers
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
