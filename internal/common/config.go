package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string            `toml:"environment"` // "development" or "production"
	Storage     StorageConfig     `toml:"storage"`
	Logging     LoggingConfig     `toml:"logging"`
	Jobs        JobsConfig        `toml:"jobs"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

// JobsConfig contains configuration for the job lifecycle core
type JobsConfig struct {
	Concurrency  int    `toml:"concurrency"`   // Max concurrently executing jobs on this node
	PollInterval string `toml:"poll_interval"` // e.g. "3s" - default wait-until-ended poll interval
	NodeSalt     string `toml:"node_salt"`     // Node-scoped salt for progress keys (default: random per start)
}

// MaintenanceConfig contains configuration for the progress sweeper
type MaintenanceConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"` // Cron schedule format
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/gero",
				ResetOnStartup: false,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05",
		},
		Jobs: JobsConfig{
			Concurrency:  8,
			PollInterval: "3s",
			NodeSalt:     "",
		},
		Maintenance: MaintenanceConfig{
			Enabled:  true,
			Schedule: "@every 5m",
		},
	}
}

// PollIntervalDuration parses the configured poll interval, falling back to 3s
func (c *JobsConfig) PollIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil || d <= 0 {
		return 3 * time.Second
	}
	return d
}

// LoadFromFile loads configuration with priority: default -> file -> env
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files.
// Later files override earlier files; environment variables override all files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("GERO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if path := os.Getenv("GERO_STORAGE_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}

	if level := os.Getenv("GERO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if concurrency := os.Getenv("GERO_JOBS_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Jobs.Concurrency = c
		}
	}
	if pollInterval := os.Getenv("GERO_JOBS_POLL_INTERVAL"); pollInterval != "" {
		config.Jobs.PollInterval = pollInterval
	}
	if salt := os.Getenv("GERO_JOBS_NODE_SALT"); salt != "" {
		config.Jobs.NodeSalt = salt
	}

	if schedule := os.Getenv("GERO_MAINTENANCE_SCHEDULE"); schedule != "" {
		config.Maintenance.Schedule = schedule
	}
}
