// ABOUTME: Configuration loading and parsing for agencyd
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete agencyd configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Agency   AgencyConfig   `yaml:"agency"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig holds session cache configuration
type CacheConfig struct {
	MaxSessions int               `yaml:"max_sessions"`
	Persistence PersistenceConfig `yaml:"persistence"`
}

// PersistenceConfig controls conversation write-back. Enabled is a pointer so
// an omitted field defaults to true while an explicit false sticks. Mandatory
// makes persistence failures abort the operation instead of being logged.
type PersistenceConfig struct {
	Enabled   *bool `yaml:"enabled"`
	Mandatory bool  `yaml:"mandatory"`
}

// AgencyConfig holds scheduling, retry, and completion policy.
// MaxRetries of -1 disables retries entirely; 0 means use the default.
type AgencyConfig struct {
	Concurrency      int     `yaml:"concurrency"`
	MaxRetries       int     `yaml:"max_retries"`
	SuccessThreshold float64 `yaml:"success_threshold"`

	RetryDelay    time.Duration `yaml:"-"`
	SeatTimeout   time.Duration `yaml:"-"`
	ShutdownGrace time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	RetryDelayRaw    string `yaml:"retry_delay"`
	SeatTimeoutRaw   string `yaml:"seat_timeout"`
	ShutdownGraceRaw string `yaml:"shutdown_grace"`
}

// AuthConfig holds authentication configuration. An empty JWTSecret disables
// API authentication.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the stock configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills unset fields with their stock values.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8745"
	}
	if c.Database.Path == "" {
		c.Database.Path = "agencyd.db"
	}
	if c.Cache.MaxSessions <= 0 {
		c.Cache.MaxSessions = 128
	}
	if c.Cache.Persistence.Enabled == nil {
		enabled := true
		c.Cache.Persistence.Enabled = &enabled
	}
	if c.Agency.Concurrency <= 0 {
		c.Agency.Concurrency = 4
	}
	if c.Agency.MaxRetries == 0 {
		c.Agency.MaxRetries = 2
	} else if c.Agency.MaxRetries < 0 {
		c.Agency.MaxRetries = 0
	}
	if c.Agency.RetryDelay <= 0 {
		c.Agency.RetryDelay = 2 * time.Second
	}
	if c.Agency.SeatTimeout <= 0 {
		c.Agency.SeatTimeout = 60 * time.Second
	}
	if c.Agency.ShutdownGrace <= 0 {
		c.Agency.ShutdownGrace = 10 * time.Second
	}
	if c.Agency.SuccessThreshold <= 0 {
		c.Agency.SuccessThreshold = 0.5
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Cache.Persistence.Enabled != nil && *c.Cache.Persistence.Enabled && c.Database.Path == "" {
		return fmt.Errorf("database.path is required when persistence is enabled")
	}
	if c.Agency.SuccessThreshold > 1 {
		return fmt.Errorf("agency.success_threshold must be at most 1, got %v", c.Agency.SuccessThreshold)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Agency.RetryDelayRaw != "" {
		cfg.Agency.RetryDelay, err = time.ParseDuration(cfg.Agency.RetryDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing retry_delay %q: %w", cfg.Agency.RetryDelayRaw, err)
		}
	}

	if cfg.Agency.SeatTimeoutRaw != "" {
		cfg.Agency.SeatTimeout, err = time.ParseDuration(cfg.Agency.SeatTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing seat_timeout %q: %w", cfg.Agency.SeatTimeoutRaw, err)
		}
	}

	if cfg.Agency.ShutdownGraceRaw != "" {
		cfg.Agency.ShutdownGrace, err = time.ParseDuration(cfg.Agency.ShutdownGraceRaw)
		if err != nil {
			return fmt.Errorf("parsing shutdown_grace %q: %w", cfg.Agency.ShutdownGraceRaw, err)
		}
	}

	return nil
}
