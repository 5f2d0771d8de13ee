// Package config loads layered TOML configuration for the orchestrator.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// LogLevel specifies the logging verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat specifies the log output format.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// StateFormat controls which serialization the run-state store uses on disk.
type StateFormat string

const (
	StateFormatJSON StateFormat = "json"
	StateFormatYAML StateFormat = "yaml"
)

// PathsConfig holds path configuration, relative to the target repository
// unless absolute.
type PathsConfig struct {
	RunsDir    string `toml:"runs_dir"`
	PromptsDir string `toml:"prompts_dir"`
	LogsDir    string `toml:"logs_dir"`
}

// DefaultsConfig holds default orchestrator knobs.
type DefaultsConfig struct {
	PollInterval    time.Duration `toml:"poll_interval"`
	MaxAttempts     int           `toml:"max_attempts"`
	MaxIterations   int           `toml:"max_iterations"`
	StopGracePeriod int           `toml:"stop_grace_period"` // Seconds
}

// ReportConfig holds run-report ingestion settings.
type ReportConfig struct {
	RetryAttempts int           `toml:"retry_attempts"`
	RetryDelay    time.Duration `toml:"retry_delay"`
	SchemaPath    string        `toml:"schema_path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  LogLevel  `toml:"level"`
	Format LogFormat `toml:"format"`
	File   string    `toml:"file"`
}

// StateConfig controls run-state persistence.
type StateConfig struct {
	Format StateFormat `toml:"format"`
}

// Config is the main configuration struct for the orchestrator.
type Config struct {
	Version  string         `toml:"version"`
	Paths    PathsConfig    `toml:"paths"`
	Defaults DefaultsConfig `toml:"defaults"`
	Report   ReportConfig   `toml:"report"`
	Logging  LoggingConfig  `toml:"logging"`
	State    StateConfig    `toml:"state"`
}

// Default returns a Config with sensible defaults matching the CLI defaults.
func Default() *Config {
	return &Config{
		Version: "1",
		Paths: PathsConfig{
			RunsDir:    ".agents/runs",
			PromptsDir: ".agents/prompts",
			LogsDir:    "logs",
		},
		Defaults: DefaultsConfig{
			PollInterval:    time.Second,
			MaxAttempts:     2,
			MaxIterations:   4,
			StopGracePeriod: 10,
		},
		Report: ReportConfig{
			RetryAttempts: 3,
			RetryDelay:    200 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  LogLevelInfo,
			Format: LogFormatJSON,
			File:   "",
		},
		State: StateConfig{
			Format: StateFormatJSON,
		},
	}
}

// Load loads configuration from a single file, merging it on top of defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Use defaults if no config file
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// LoadFromDir loads configuration from the standard locations relative to a
// target repository directory.
// Applies in order: defaults -> ~/.meow-orch/config.toml -> <dir>/.agents/config.toml
// Later configs override earlier ones (project-level takes precedence).
func LoadFromDir(dir string) (*Config, error) {
	cfg := Default()

	home, err := os.UserHomeDir()
	if err == nil {
		globalConfig := filepath.Join(home, ".meow-orch", "config.toml")
		if data, err := os.ReadFile(globalConfig); err == nil {
			if _, err := toml.Decode(string(data), cfg); err != nil {
				return nil, fmt.Errorf("parsing global config: %w", err)
			}
		}
	}

	projectConfig := filepath.Join(dir, ".agents", "config.toml")
	if data, err := os.ReadFile(projectConfig); err == nil {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing project config: %w", err)
		}
	}

	return cfg, nil
}

// Validate checks that the configuration is structurally usable.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("config version is required")
	}
	if c.Paths.RunsDir == "" {
		return fmt.Errorf("paths.runs_dir is required")
	}
	if c.Defaults.PollInterval <= 0 {
		return fmt.Errorf("defaults.poll_interval must be positive")
	}
	if c.Defaults.MaxAttempts < 1 {
		return fmt.Errorf("defaults.max_attempts must be at least 1")
	}
	if c.Defaults.MaxIterations < 1 {
		return fmt.Errorf("defaults.max_iterations must be at least 1")
	}
	return nil
}

// RunsDir returns the absolute runs directory path.
func (c *Config) RunsDir(repoDir string) string {
	return resolvePath(repoDir, c.Paths.RunsDir)
}

// PromptsDir returns the absolute local-prompt-override directory path.
func (c *Config) PromptsDir(repoDir string) string {
	return resolvePath(repoDir, c.Paths.PromptsDir)
}

// LogFile returns the absolute log file path, or "" when file logging is disabled.
func (c *Config) LogFile(repoDir string) string {
	if c.Logging.File == "" {
		return ""
	}
	return resolvePath(repoDir, c.Logging.File)
}

func resolvePath(baseDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}
