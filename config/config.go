// Package config loads the YAML configuration file controlling the model,
// the verification commands, and the session budgets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of the configuration file.
type Config struct {
	LLM      LLMConfig      `yaml:"llm"`
	Lint     CheckConfig    `yaml:"lint"`
	Compile  CheckConfig    `yaml:"compile"`
	Session  SessionConfig  `yaml:"session"`
	Overview OverviewConfig `yaml:"overview"`
	Log      LogConfig      `yaml:"log"`
}

// LLMConfig selects the provider and model. APIKey falls back to the
// provider's environment variable when empty; BaseURL points at
// OpenAI-compatible local servers.
type LLMConfig struct {
	Provider       string  `yaml:"provider"`
	Model          string  `yaml:"model"`
	APIKey         string  `yaml:"api_key"`
	BaseURL        string  `yaml:"base_url"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// CheckConfig configures one verification command. An empty command
// disables the check. Cwd defaults to the project directory.
type CheckConfig struct {
	Command        string `yaml:"command"`
	Cwd            string `yaml:"cwd"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration.
func (c CheckConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SessionConfig sets the loop budgets.
type SessionConfig struct {
	MaxTurns             int  `yaml:"max_turns"`
	ProtocolRetries      int  `yaml:"protocol_retries"`
	MaxGrepResults       int  `yaml:"max_grep_results"`
	DisableLoopDetection bool `yaml:"disable_loop_detection"`
	LoopDetectionWindow  int  `yaml:"loop_detection_window"`
}

// OverviewConfig selects the api_overview backend: a directory of
// pre-generated .txt files, or a summarizer command. Dir wins when both are
// set.
type OverviewConfig struct {
	Dir     string   `yaml:"dir"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// LogConfig configures the rotating log file.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:       "anthropic",
			MaxTokens:      8192,
			Temperature:    0.2,
			TimeoutSeconds: 120,
		},
		Lint:    CheckConfig{TimeoutSeconds: 60},
		Compile: CheckConfig{TimeoutSeconds: 60},
		Session: SessionConfig{
			MaxTurns:            10,
			ProtocolRetries:     3,
			MaxGrepResults:      50,
			LoopDetectionWindow: 6,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// Load reads path and unmarshals it over the defaults, so omitted keys keep
// their default values. A missing file is not an error; the defaults are
// returned as-is.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the session cannot run with.
func (c *Config) Validate() error {
	if c.Session.MaxTurns < 1 {
		return fmt.Errorf("session.max_turns must be at least 1, got %d", c.Session.MaxTurns)
	}
	if c.Session.ProtocolRetries < 1 {
		return fmt.Errorf("session.protocol_retries must be at least 1, got %d", c.Session.ProtocolRetries)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2, got %g", c.LLM.Temperature)
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
	}
	return nil
}
