package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Poll interval bounds (seconds). The vendor throttles aggressive polling,
// and anything slower than a minute defeats the point of a fallback channel.
const (
	MinPollInterval = 5
	MaxPollInterval = 60
)

// Config is the root configuration structure for GridFlow Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Cloud    CloudConfig    `yaml:"cloud"`
	Poll     PollConfig     `yaml:"poll"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// CloudConfig contains EcoFlow Developer API settings.
// AccessKey and SecretKey are issued per account on the developer portal.
type CloudConfig struct {
	BaseURL   string `yaml:"base_url"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	// Timeout is the per-request HTTP timeout in seconds.
	Timeout int `yaml:"timeout"`
}

// PollConfig contains settings for the signed-channel poll schedule.
type PollConfig struct {
	// Interval is the poll period in seconds. Bounded 5-60.
	Interval int `yaml:"interval"`

	// Wake enables the pre-poll wake request for devices that sleep.
	// The wake call is skipped while the realtime channel is delivering data.
	Wake bool `yaml:"wake"`
}

// RealtimeConfig contains settings for the push (MQTT) channel.
type RealtimeConfig struct {
	Enabled bool `yaml:"enabled"`

	// Broker overrides the broker host returned by the certification
	// endpoint. Leave empty to use the vendor-provided value.
	Broker string `yaml:"broker"`
	Port   int    `yaml:"port"`

	// FreshnessWindow is the maximum silence in seconds before a connected
	// channel is treated as standby rather than live.
	FreshnessWindow int `yaml:"freshness_window"`

	// GracePeriod is how long (seconds) reconnect attempts may fail before
	// the coordinator reports the channel as gone entirely.
	GracePeriod int `yaml:"grace_period"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig contains reconnection backoff settings (seconds).
type ReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`

	// StableWindow is how long a connection must survive before the
	// backoff delay resets to initial_delay. Kept short: a connection
	// that lives a few seconds was a real connection, not a blip.
	StableWindow int `yaml:"stable_window"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRIDFLOW_SECTION_KEY
// For example: GRIDFLOW_CLOUD_ACCESS_KEY, GRIDFLOW_DATABASE_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Cloud: CloudConfig{
			BaseURL: "https://api-e.ecoflow.com",
			Timeout: 30,
		},
		Poll: PollConfig{
			Interval: 15,
			Wake:     true,
		},
		Realtime: RealtimeConfig{
			Enabled:         true,
			Port:            8883,
			FreshnessWindow: 60,
			GracePeriod:     300,
			Reconnect: ReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				StableWindow: 5,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/gridflow.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRIDFLOW_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Cloud credentials - the usual way to keep keys out of the config file
	if v := os.Getenv("GRIDFLOW_CLOUD_ACCESS_KEY"); v != "" {
		cfg.Cloud.AccessKey = v
	}
	if v := os.Getenv("GRIDFLOW_CLOUD_SECRET_KEY"); v != "" {
		cfg.Cloud.SecretKey = v
	}
	if v := os.Getenv("GRIDFLOW_CLOUD_BASE_URL"); v != "" {
		cfg.Cloud.BaseURL = v
	}

	// Poll
	if v := os.Getenv("GRIDFLOW_POLL_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Poll.Interval = n
		}
	}

	// Realtime
	if v := os.Getenv("GRIDFLOW_REALTIME_ENABLED"); v != "" {
		cfg.Realtime.Enabled = v == "true" || v == "1"
	}

	// Database
	if v := os.Getenv("GRIDFLOW_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("GRIDFLOW_API_HOST"); v != "" {
		cfg.API.Host = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Cloud validation - keys are required for every signed request
	if c.Cloud.AccessKey == "" {
		errs = append(errs, "cloud.access_key is required (set GRIDFLOW_CLOUD_ACCESS_KEY environment variable)")
	}
	if c.Cloud.SecretKey == "" {
		errs = append(errs, "cloud.secret_key is required (set GRIDFLOW_CLOUD_SECRET_KEY environment variable)")
	}
	if c.Cloud.BaseURL == "" {
		errs = append(errs, "cloud.base_url is required")
	}
	if c.Cloud.Timeout < 1 {
		errs = append(errs, "cloud.timeout must be at least 1 second")
	}

	// Poll validation
	if c.Poll.Interval < MinPollInterval || c.Poll.Interval > MaxPollInterval {
		errs = append(errs, fmt.Sprintf("poll.interval must be between %d and %d seconds", MinPollInterval, MaxPollInterval))
	}

	// Realtime validation
	if c.Realtime.Enabled {
		if c.Realtime.FreshnessWindow < 1 {
			errs = append(errs, "realtime.freshness_window must be at least 1 second")
		}
		if c.Realtime.Reconnect.InitialDelay < 1 {
			errs = append(errs, "realtime.reconnect.initial_delay must be at least 1 second")
		}
		if c.Realtime.Reconnect.MaxDelay < c.Realtime.Reconnect.InitialDelay {
			errs = append(errs, "realtime.reconnect.max_delay must be >= initial_delay")
		}
		if c.Realtime.Reconnect.StableWindow < 1 {
			errs = append(errs, "realtime.reconnect.stable_window must be at least 1 second")
		}
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// PollInterval returns the poll interval as a Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.Interval) * time.Second
}

// CloudTimeout returns the cloud request timeout as a Duration.
func (c *Config) CloudTimeout() time.Duration {
	return time.Duration(c.Cloud.Timeout) * time.Second
}

// FreshnessWindow returns the realtime freshness window as a Duration.
func (c *Config) FreshnessWindow() time.Duration {
	return time.Duration(c.Realtime.FreshnessWindow) * time.Second
}

// GracePeriod returns the realtime grace period as a Duration.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.Realtime.GracePeriod) * time.Second
}

// InitialReconnectDelay returns the realtime reconnect initial delay as a Duration.
func (c *Config) InitialReconnectDelay() time.Duration {
	return time.Duration(c.Realtime.Reconnect.InitialDelay) * time.Second
}

// MaxReconnectDelay returns the realtime reconnect delay ceiling as a Duration.
func (c *Config) MaxReconnectDelay() time.Duration {
	return time.Duration(c.Realtime.Reconnect.MaxDelay) * time.Second
}

// ReconnectStableWindow returns the connected duration after which the
// reconnect backoff resets, as a Duration.
func (c *Config) ReconnectStableWindow() time.Duration {
	return time.Duration(c.Realtime.Reconnect.StableWindow) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
