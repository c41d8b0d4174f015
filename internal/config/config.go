// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	System     SystemConfig     `yaml:"system"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Oracle     OracleConfig     `yaml:"oracle"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Reflection ReflectionConfig `yaml:"reflection"`
	Trading    TradingConfig    `yaml:"trading"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel     string `yaml:"log_level"`
	DatabasePath string `yaml:"database_path"`
}

// ExchangeConfig contains exchange credentials and connectivity
type ExchangeConfig struct {
	APIKey     string `yaml:"api_key"`
	SecretKey  string `yaml:"secret_key"`
	Passphrase string `yaml:"passphrase"`
	BaseURL    string `yaml:"base_url"` // Optional override for API URL
	WSURL      string `yaml:"ws_url"`   // Optional override for public WS URL
	Sandbox    bool   `yaml:"sandbox"`  // Adds the demo-trading header to every call
}

// OracleConfig contains the LLM provider settings
type OracleConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// SchedulerConfig contains the decision scheduler settings
type SchedulerConfig struct {
	Enabled        bool `yaml:"enabled"`
	IntervalMs     int  `yaml:"interval_ms"`
	InitialDelayMs int  `yaml:"initial_delay_ms"`
	AutoExecute    bool `yaml:"auto_execute"`
}

// ReflectionConfig contains the reflection scheduler settings
type ReflectionConfig struct {
	Enabled        bool `yaml:"enabled"`
	IntervalMs     int  `yaml:"interval_ms"`
	InitialDelayMs int  `yaml:"initial_delay_ms"`
}

// TradingConfig contains trading parameters
type TradingConfig struct {
	// Symbols is the fallback enabled-coin list when the store has none
	Symbols []string `yaml:"symbols"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
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

// LoadConfig loads configuration from an optional YAML file, then applies
// environment overrides. An empty filename builds the config purely from
// the environment.
func LoadConfig(filename string) (*Config, error) {
	config := DefaultConfig()

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Expand environment variables in the YAML content
		expanded := os.Expand(string(data), os.Getenv)

		if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// applyEnvOverrides maps the agent's environment surface onto the config
func (c *Config) applyEnvOverrides() {
	c.Scheduler.Enabled = envBool("SCHED_AI_ENABLED", c.Scheduler.Enabled)
	c.Scheduler.IntervalMs = envInt("SCHED_AI_INTERVAL_MS", c.Scheduler.IntervalMs)
	c.Scheduler.AutoExecute = envBool("SCHED_AI_AUTO_EXECUTE", c.Scheduler.AutoExecute)
	c.Reflection.Enabled = envBool("SCHED_REFLECTION_ENABLED", c.Reflection.Enabled)
	c.Reflection.IntervalMs = envInt("SCHED_REFLECTION_INTERVAL_MS", c.Reflection.IntervalMs)

	c.Exchange.APIKey = envString("EX_API_KEY", c.Exchange.APIKey)
	c.Exchange.SecretKey = envString("EX_SECRET", c.Exchange.SecretKey)
	c.Exchange.Passphrase = envString("EX_PASSPHRASE", c.Exchange.Passphrase)
	c.Exchange.Sandbox = envBool("EX_SANDBOX", c.Exchange.Sandbox)

	c.Oracle.BaseURL = envString("LLM_BASE_URL", c.Oracle.BaseURL)
	c.Oracle.APIKey = envString("LLM_API_KEY", c.Oracle.APIKey)
	c.Oracle.Model = envString("LLM_MODEL", c.Oracle.Model)
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errs []string

	if err := c.validateSystem(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateExchange(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateOracle(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateSchedulers(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}

	return nil
}

func (c *Config) validateSystem() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	if c.System.DatabasePath == "" {
		return ValidationError{
			Field:   "system.database_path",
			Message: "database path is required",
		}
	}
	return nil
}

func (c *Config) validateExchange() error {
	if c.Exchange.APIKey == "" {
		return ValidationError{
			Field:   "exchange.api_key",
			Message: "API key is required",
		}
	}
	if c.Exchange.SecretKey == "" {
		return ValidationError{
			Field:   "exchange.secret_key",
			Message: "secret key is required",
		}
	}
	if c.Exchange.Passphrase == "" {
		return ValidationError{
			Field:   "exchange.passphrase",
			Message: "passphrase is required",
		}
	}
	if c.Exchange.BaseURL != "" && !strings.HasPrefix(c.Exchange.BaseURL, "https://") {
		// Allow http for local testing
		if !strings.Contains(c.Exchange.BaseURL, "127.0.0.1") && !strings.Contains(c.Exchange.BaseURL, "localhost") {
			return ValidationError{
				Field:   "exchange.base_url",
				Value:   c.Exchange.BaseURL,
				Message: "must start with https://",
			}
		}
	}
	return nil
}

func (c *Config) validateOracle() error {
	if c.Oracle.BaseURL == "" {
		return ValidationError{
			Field:   "oracle.base_url",
			Message: "oracle base URL is required",
		}
	}
	if c.Oracle.Model == "" {
		return ValidationError{
			Field:   "oracle.model",
			Message: "oracle model is required",
		}
	}
	if c.Oracle.TimeoutSeconds <= 0 || c.Oracle.TimeoutSeconds > 300 {
		return ValidationError{
			Field:   "oracle.timeout_seconds",
			Value:   c.Oracle.TimeoutSeconds,
			Message: "must be between 1 and 300",
		}
	}
	return nil
}

func (c *Config) validateSchedulers() error {
	if c.Scheduler.IntervalMs < 1000 {
		return ValidationError{
			Field:   "scheduler.interval_ms",
			Value:   c.Scheduler.IntervalMs,
			Message: "must be at least 1000",
		}
	}
	if c.Reflection.IntervalMs < 1000 {
		return ValidationError{
			Field:   "reflection.interval_ms",
			Value:   c.Reflection.IntervalMs,
			Message: "must be at least 1000",
		}
	}
	return nil
}

// String returns a string representation of the configuration (with sensitive data masked)
func (c *Config) String() string {
	configCopy := *c
	configCopy.Exchange.APIKey = maskString(configCopy.Exchange.APIKey)
	configCopy.Exchange.SecretKey = maskString(configCopy.Exchange.SecretKey)
	configCopy.Exchange.Passphrase = maskString(configCopy.Exchange.Passphrase)
	configCopy.Oracle.APIKey = maskString(configCopy.Oracle.APIKey)

	data, _ := yaml.Marshal(configCopy)
	return string(data)
}

// Helper functions

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func maskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// DefaultConfig returns the built-in defaults, also used for testing
func DefaultConfig() *Config {
	return &Config{
		System: SystemConfig{
			LogLevel:     "INFO",
			DatabasePath: "trading_agent.db",
		},
		Exchange: ExchangeConfig{},
		Oracle: OracleConfig{
			Model:          "deepseek-chat",
			TimeoutSeconds: 90,
		},
		Scheduler: SchedulerConfig{
			Enabled:        true,
			IntervalMs:     300_000,
			InitialDelayMs: 30_000,
			AutoExecute:    false,
		},
		Reflection: ReflectionConfig{
			Enabled:        true,
			IntervalMs:     300_000,
			InitialDelayMs: 60_000,
		},
		Trading: TradingConfig{
			Symbols: []string{"BTC", "ETH"},
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: true,
		},
	}
}
