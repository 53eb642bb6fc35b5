package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete Cantina configuration
type Config struct {
	Execution ExecutionConfig `mapstructure:"execution"`
	Planner   PlannerConfig   `mapstructure:"planner"`
	Verifier  VerifierConfig  `mapstructure:"verifier"`
	Worktree  WorktreeConfig  `mapstructure:"worktree"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Cost      CostConfig      `mapstructure:"cost"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ExecutionConfig controls how the agent pool runs a phase
type ExecutionConfig struct {
	// MaxParallel is the maximum number of concurrent agent workers (clamped 1-8)
	MaxParallel int `mapstructure:"max_parallel"`
	// PollIntervalMs is how often clients poll run status (in milliseconds)
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
}

// PlannerConfig controls the planning service client
type PlannerConfig struct {
	// Model is the model hint passed to the planning service ("" = service default)
	Model string `mapstructure:"model"`
	// TimeoutMinutes is the maximum wall time for a single planning job
	TimeoutMinutes int `mapstructure:"timeout_minutes"`
}

// VerifierConfig controls the verification service client
type VerifierConfig struct {
	// Model is the model hint passed to the verification service ("" = service default)
	Model string `mapstructure:"model"`
	// TimeoutMinutes is the maximum wall time for a single verification job
	TimeoutMinutes int `mapstructure:"timeout_minutes"`
}

// WorktreeConfig controls isolated checkout placement and naming
type WorktreeConfig struct {
	// DirName is the directory under the project root holding agent worktrees
	DirName string `mapstructure:"dir_name"`
	// BranchPrefix is the prefix for per-agent branches: <prefix>/<run>/<agent>
	BranchPrefix string `mapstructure:"branch_prefix"`
}

// AgentConfig controls agent worker processes
type AgentConfig struct {
	// OutputBufferBytes is the size of each worker's trailing output buffer
	OutputBufferBytes int `mapstructure:"output_buffer_bytes"`
	// CompletionTimeoutMinutes is the maximum runtime per worker (0 = disabled)
	CompletionTimeoutMinutes int `mapstructure:"completion_timeout_minutes"`
}

// CostConfig controls cost estimation
type CostConfig struct {
	// DefaultModel is the pricing model used when a worker reports no model
	DefaultModel string `mapstructure:"default_model"`
	// WarningThreshold triggers a warning when run cost exceeds this amount (USD)
	WarningThreshold float64 `mapstructure:"warning_threshold"`
}

// LoggingConfig controls the structured logger
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR
	Level string `mapstructure:"level"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Execution: ExecutionConfig{
			MaxParallel:    3,
			PollIntervalMs: 2000,
		},
		Planner: PlannerConfig{
			Model:          "",
			TimeoutMinutes: 10,
		},
		Verifier: VerifierConfig{
			Model:          "",
			TimeoutMinutes: 10,
		},
		Worktree: WorktreeConfig{
			DirName:      ".cantina-worktrees",
			BranchPrefix: "parallel",
		},
		Agent: AgentConfig{
			OutputBufferBytes:        65536,
			CompletionTimeoutMinutes: 0,
		},
		Cost: CostConfig{
			DefaultModel:     "claude-3-5-sonnet-latest",
			WarningThreshold: 10.0,
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
	}
}

// PollInterval returns the client poll interval as a duration.
func (e *ExecutionConfig) PollInterval() time.Duration {
	return time.Duration(e.PollIntervalMs) * time.Millisecond
}

// ClampedMaxParallel returns MaxParallel clamped to the supported 1-8 range.
func (e *ExecutionConfig) ClampedMaxParallel() int {
	return ClampParallel(e.MaxParallel)
}

// ClampParallel clamps a requested concurrency bound to the supported range.
func ClampParallel(n int) int {
	if n < 1 {
		return 1
	}
	if n > 8 {
		return 8
	}
	return n
}

// Timeout returns the planner job timeout as a duration.
func (p *PlannerConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutMinutes) * time.Minute
}

// Timeout returns the verifier job timeout as a duration.
func (v *VerifierConfig) Timeout() time.Duration {
	return time.Duration(v.TimeoutMinutes) * time.Minute
}

// CompletionTimeout returns the per-worker timeout (0 = disabled).
func (a *AgentConfig) CompletionTimeout() time.Duration {
	return time.Duration(a.CompletionTimeoutMinutes) * time.Minute
}

// SetDefaults registers all default values with viper.
// Called before reading the config file so defaults apply even without one.
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("execution.max_parallel", defaults.Execution.MaxParallel)
	viper.SetDefault("execution.poll_interval_ms", defaults.Execution.PollIntervalMs)

	viper.SetDefault("planner.model", defaults.Planner.Model)
	viper.SetDefault("planner.timeout_minutes", defaults.Planner.TimeoutMinutes)

	viper.SetDefault("verifier.model", defaults.Verifier.Model)
	viper.SetDefault("verifier.timeout_minutes", defaults.Verifier.TimeoutMinutes)

	viper.SetDefault("worktree.dir_name", defaults.Worktree.DirName)
	viper.SetDefault("worktree.branch_prefix", defaults.Worktree.BranchPrefix)

	viper.SetDefault("agent.output_buffer_bytes", defaults.Agent.OutputBufferBytes)
	viper.SetDefault("agent.completion_timeout_minutes", defaults.Agent.CompletionTimeoutMinutes)

	viper.SetDefault("cost.default_model", defaults.Cost.DefaultModel)
	viper.SetDefault("cost.warning_threshold", defaults.Cost.WarningThreshold)

	viper.SetDefault("logging.level", defaults.Logging.Level)
}

// Load reads the current configuration from viper.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "cantina")
	}
	// Fall back to ~/.config/cantina
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cantina"
	}
	return filepath.Join(home, ".config", "cantina")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
