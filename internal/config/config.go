package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultGitBinary       = "git"
	DefaultToolTimeout     = 10 * time.Second
	DefaultWatchDebounce   = 250 * time.Millisecond
	DefaultCleanupDelay    = time.Minute
	DefaultShutdownTimeout = 30 * time.Second
	DefaultPollInterval    = 100 * time.Millisecond
)

// Config represents the complete application configuration
type Config struct {
	App       AppConfig       `yaml:"app"`
	Logging   LoggingConfig   `yaml:"logging"`
	Templates TemplatesConfig `yaml:"templates"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// TemplatesConfig holds the blank plugin template tree configuration
type TemplatesConfig struct {
	RootDir       string        `yaml:"root_dir"`
	Exclude       []string      `yaml:"exclude"`
	GitBinary     string        `yaml:"git_binary"`
	ToolTimeout   time.Duration `yaml:"tool_timeout"`
	Watch         bool          `yaml:"watch"`
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

// JobsConfig holds the generation job engine configuration
type JobsConfig struct {
	Workers         int           `yaml:"workers"`
	CleanupDelay    time.Duration `yaml:"cleanup_delay"`
	TempDir         string        `yaml:"temp_dir"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`
}

// MetricsConfig holds the Prometheus endpoint configuration. An empty Addr
// disables the endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()

	return &config, nil
}

// ApplyDefaults fills every unset optional field
func (c *Config) ApplyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stderr"
	}

	if c.Templates.GitBinary == "" {
		c.Templates.GitBinary = DefaultGitBinary
	}
	if c.Templates.ToolTimeout == 0 {
		c.Templates.ToolTimeout = DefaultToolTimeout
	}
	if c.Templates.WatchDebounce == 0 {
		c.Templates.WatchDebounce = DefaultWatchDebounce
	}

	if c.Jobs.Workers == 0 {
		c.Jobs.Workers = runtime.GOMAXPROCS(0)
	}
	if c.Jobs.CleanupDelay == 0 {
		c.Jobs.CleanupDelay = DefaultCleanupDelay
	}
	if c.Jobs.TempDir == "" {
		c.Jobs.TempDir = os.TempDir()
	}
	if c.Jobs.ShutdownTimeout == 0 {
		c.Jobs.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Jobs.PollInterval == 0 {
		c.Jobs.PollInterval = DefaultPollInterval
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Templates.RootDir == "" {
		return fmt.Errorf("templates root_dir is required")
	}

	if c.Templates.ToolTimeout < 0 {
		return fmt.Errorf("templates tool_timeout must not be negative")
	}

	if c.Templates.Watch && c.Templates.WatchDebounce <= 0 {
		return fmt.Errorf("templates watch_debounce must be greater than 0")
	}

	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("jobs workers must be greater than 0")
	}

	if c.Jobs.CleanupDelay <= 0 {
		return fmt.Errorf("jobs cleanup_delay must be greater than 0")
	}

	if c.Jobs.ShutdownTimeout <= 0 {
		return fmt.Errorf("jobs shutdown_timeout must be greater than 0")
	}

	if c.Jobs.PollInterval <= 0 {
		return fmt.Errorf("jobs poll_interval must be greater than 0")
	}

	if c.Jobs.CleanupDelay <= c.Jobs.PollInterval {
		return fmt.Errorf("jobs cleanup_delay must be greater than poll_interval")
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %s (must be json or console)", c.Logging.Format)
	}

	return nil
}
