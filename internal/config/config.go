// Package config handles configuration loading for the ralph supervisor.
// It supports a project-level .ralph.yaml, RALPH_* environment variables,
// and built-in defaults, with CLI flags applied on top by the caller.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/ralph-loop/ralph/internal/signals"
)

// Config holds all configuration for the supervisor.
type Config struct {
	// StateDir is the ralph state directory.
	StateDir string `mapstructure:"state_dir"`
	// MaxCallsPerHour is the agent invocation budget per hour window.
	MaxCallsPerHour int `mapstructure:"max_calls_per_hour"`
	// TimeoutMinutes bounds one agent invocation (1-120).
	TimeoutMinutes int `mapstructure:"timeout_minutes"`
	// OutputFormat is the agent output mode: "json" or "text".
	OutputFormat string `mapstructure:"output_format"`
	// AgentCommand is the agent CLI binary.
	AgentCommand string `mapstructure:"agent_command"`
	// AnalyzerCommand optionally runs an external response analyzer after
	// each invocation; empty means the analysis record is maintained
	// elsewhere.
	AnalyzerCommand string           `mapstructure:"analyzer_command"`
	Loop            LoopConfig       `mapstructure:"loop"`
	Thresholds      ThresholdsConfig `mapstructure:"thresholds"`
}

// LoopConfig holds loop pacing settings.
type LoopConfig struct {
	// RateLimitWait is how long to sleep when the hourly budget is spent.
	RateLimitWait time.Duration `mapstructure:"rate_limit_wait"`
	// CircuitBackoff is how long to sleep when the breaker is not closed.
	CircuitBackoff time.Duration `mapstructure:"circuit_backoff"`
}

// ThresholdsConfig holds the exit decision trip counts.
type ThresholdsConfig struct {
	MaxTestLoops            int `mapstructure:"max_test_loops"`
	MaxDoneSignals          int `mapstructure:"max_done_signals"`
	MinCompletionIndicators int `mapstructure:"min_completion_indicators"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		StateDir:        ".ralph",
		MaxCallsPerHour: 100,
		TimeoutMinutes:  15,
		OutputFormat:    string(signals.OutputText),
		AgentCommand:    "claude",
		Loop: LoopConfig{
			RateLimitWait:  60 * time.Second,
			CircuitBackoff: 30 * time.Second,
		},
		Thresholds: ThresholdsConfig{
			MaxTestLoops:            3,
			MaxDoneSignals:          2,
			MinCompletionIndicators: 2,
		},
	}
}

// Load loads configuration from the project file and environment.
// Precedence (highest to lowest):
// 1. RALPH_* environment variables
// 2. Project config (.ralph.yaml in the current directory)
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName(".ralph")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading project config: %w", err)
		}
	}

	v.SetEnvPrefix("RALPH")
	v.AutomaticEnv()
	v.BindEnv("max_calls_per_hour", "RALPH_MAX_CALLS_PER_HOUR")
	v.BindEnv("timeout_minutes", "RALPH_TIMEOUT_MINUTES")
	v.BindEnv("state_dir", "RALPH_STATE_DIR")
	v.BindEnv("agent_command", "RALPH_AGENT_COMMAND")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration values a caller may have overridden.
// Validation failures are caller mistakes and must fail fast, before any
// state file is touched.
func (c *Config) Validate() error {
	if c.MaxCallsPerHour <= 0 {
		return fmt.Errorf("calls must be a positive integer")
	}
	if c.TimeoutMinutes < 1 || c.TimeoutMinutes > 120 {
		return fmt.Errorf("timeout must be a positive integer between 1 and 120")
	}
	switch signals.OutputFormat(c.OutputFormat) {
	case signals.OutputJSON, signals.OutputText:
	default:
		return fmt.Errorf("output-format must be 'json' or 'text'")
	}
	return nil
}

// DecisionThresholds converts the configured trip counts for the decision
// engine, falling back to defaults for non-positive values.
func (c *Config) DecisionThresholds() ThresholdsConfig {
	t := c.Thresholds
	d := Default().Thresholds
	if t.MaxTestLoops <= 0 {
		t.MaxTestLoops = d.MaxTestLoops
	}
	if t.MaxDoneSignals <= 0 {
		t.MaxDoneSignals = d.MaxDoneSignals
	}
	if t.MinCompletionIndicators <= 0 {
		t.MinCompletionIndicators = d.MinCompletionIndicators
	}
	return t
}

// StateDirPath resolves the state directory relative to root when it is
// not absolute.
func (c *Config) StateDirPath(root string) string {
	if filepath.IsAbs(c.StateDir) {
		return c.StateDir
	}
	return filepath.Join(root, c.StateDir)
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("state_dir", d.StateDir)
	v.SetDefault("max_calls_per_hour", d.MaxCallsPerHour)
	v.SetDefault("timeout_minutes", d.TimeoutMinutes)
	v.SetDefault("output_format", d.OutputFormat)
	v.SetDefault("agent_command", d.AgentCommand)
	v.SetDefault("analyzer_command", d.AnalyzerCommand)
	v.SetDefault("loop.rate_limit_wait", d.Loop.RateLimitWait)
	v.SetDefault("loop.circuit_backoff", d.Loop.CircuitBackoff)
	v.SetDefault("thresholds.max_test_loops", d.Thresholds.MaxTestLoops)
	v.SetDefault("thresholds.max_done_signals", d.Thresholds.MaxDoneSignals)
	v.SetDefault("thresholds.min_completion_indicators", d.Thresholds.MinCompletionIndicators)
}
