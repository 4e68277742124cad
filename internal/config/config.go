// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Feed        FeedConfig        `yaml:"feed"`
	Calc        CalcConfig        `yaml:"calc"`
	System      SystemConfig      `yaml:"system"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// ServerConfig contains the HTTP/WebSocket API settings
type ServerConfig struct {
	Host             string   `yaml:"host"`
	Port             int      `yaml:"port"`
	StaticDir        string   `yaml:"static_dir"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	MaxWSConnections int      `yaml:"max_ws_connections"`
	RateLimitPerSec  float64  `yaml:"rate_limit_per_sec"`
	RateLimitBurst   int      `yaml:"rate_limit_burst"`
	PollIntervalSec  int      `yaml:"poll_interval_sec"`
	WatchSymbols     []string `yaml:"watch_symbols"`
}

// FeedConfig contains market data source settings
type FeedConfig struct {
	BaseURL     string `yaml:"base_url"`
	TimeoutSec  int    `yaml:"timeout_sec"`
	CacheTTLSec int    `yaml:"cache_ttl_sec"`
}

// CalcConfig bounds the inputs the API accepts
type CalcConfig struct {
	MaxLeverage    float64 `yaml:"max_leverage"`
	MaxHorizonDays int     `yaml:"max_horizon_days"`
	MaxChartPoints int     `yaml:"max_chart_points"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
}

// ConcurrencyConfig contains worker pool settings
type ConcurrencyConfig struct {
	MatrixPoolSize   int `yaml:"matrix_pool_size"`
	MatrixPoolBuffer int `yaml:"matrix_pool_buffer"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	EnableMetrics bool `yaml:"enable_metrics"`
	TraceDebug    bool `yaml:"trace_debug"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateServerConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateFeedConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateCalcConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateSystemConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateConcurrencyConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateServerConfig() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return ValidationError{
			Field:   "server.port",
			Value:   c.Server.Port,
			Message: "must be between 1 and 65535",
		}
	}
	if c.Server.MaxWSConnections < 1 {
		return ValidationError{
			Field:   "server.max_ws_connections",
			Value:   c.Server.MaxWSConnections,
			Message: "must be at least 1",
		}
	}
	if c.Server.RateLimitPerSec <= 0 {
		return ValidationError{
			Field:   "server.rate_limit_per_sec",
			Value:   c.Server.RateLimitPerSec,
			Message: "must be positive",
		}
	}
	if c.Server.RateLimitBurst < 1 {
		return ValidationError{
			Field:   "server.rate_limit_burst",
			Value:   c.Server.RateLimitBurst,
			Message: "must be at least 1",
		}
	}
	if c.Server.PollIntervalSec < 1 {
		return ValidationError{
			Field:   "server.poll_interval_sec",
			Value:   c.Server.PollIntervalSec,
			Message: "must be at least 1 second",
		}
	}
	return nil
}

func (c *Config) validateFeedConfig() error {
	if c.Feed.TimeoutSec < 1 || c.Feed.TimeoutSec > 120 {
		return ValidationError{
			Field:   "feed.timeout_sec",
			Value:   c.Feed.TimeoutSec,
			Message: "must be between 1 and 120",
		}
	}
	if c.Feed.CacheTTLSec < 1 {
		return ValidationError{
			Field:   "feed.cache_ttl_sec",
			Value:   c.Feed.CacheTTLSec,
			Message: "must be at least 1 second",
		}
	}
	return nil
}

func (c *Config) validateCalcConfig() error {
	if c.Calc.MaxLeverage < 1 {
		return ValidationError{
			Field:   "calc.max_leverage",
			Value:   c.Calc.MaxLeverage,
			Message: "must be at least 1",
		}
	}
	if c.Calc.MaxHorizonDays < 1 || c.Calc.MaxHorizonDays > 3650 {
		return ValidationError{
			Field:   "calc.max_horizon_days",
			Value:   c.Calc.MaxHorizonDays,
			Message: "must be between 1 and 3650",
		}
	}
	if c.Calc.MaxChartPoints < 2 {
		return ValidationError{
			Field:   "calc.max_chart_points",
			Value:   c.Calc.MaxChartPoints,
			Message: "must be at least 2",
		}
	}
	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

func (c *Config) validateConcurrencyConfig() error {
	if c.Concurrency.MatrixPoolSize < 1 || c.Concurrency.MatrixPoolSize > 100 {
		return ValidationError{
			Field:   "concurrency.matrix_pool_size",
			Value:   c.Concurrency.MatrixPoolSize,
			Message: "must be between 1 and 100",
		}
	}
	if c.Concurrency.MatrixPoolBuffer < 1 || c.Concurrency.MatrixPoolBuffer > 10000 {
		return ValidationError{
			Field:   "concurrency.matrix_pool_buffer",
			Value:   c.Concurrency.MatrixPoolBuffer,
			Message: "must be between 1 and 10000",
		}
	}
	return nil
}

// FeedTimeout returns the feed timeout as a duration.
func (c *Config) FeedTimeout() time.Duration {
	return time.Duration(c.Feed.TimeoutSec) * time.Second
}

// FeedCacheTTL returns the snapshot cache TTL as a duration.
func (c *Config) FeedCacheTTL() time.Duration {
	return time.Duration(c.Feed.CacheTTLSec) * time.Second
}

// PollInterval returns the market poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Server.PollIntervalSec) * time.Second
}

// String returns a string representation of the configuration
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns the built-in defaults. LoadConfig overlays the YAML
// file on top of these.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			StaticDir:        "web/static",
			AllowedOrigins:   []string{"*"},
			MaxWSConnections: 100,
			RateLimitPerSec:  10,
			RateLimitBurst:   20,
			PollIntervalSec:  15,
			WatchSymbols:     []string{"BTCUSDT", "ETHUSDT"},
		},
		Feed: FeedConfig{
			BaseURL:     "https://fapi.binance.com",
			TimeoutSec:  10,
			CacheTTLSec: 30,
		},
		Calc: CalcConfig{
			MaxLeverage:    125,
			MaxHorizonDays: 365,
			MaxChartPoints: 200,
		},
		System: SystemConfig{
			LogLevel: "INFO",
		},
		Concurrency: ConcurrencyConfig{
			MatrixPoolSize:   8,
			MatrixPoolBuffer: 64,
		},
		Telemetry: TelemetryConfig{
			EnableMetrics: true,
		},
	}
}
