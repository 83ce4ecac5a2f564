package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Failover FailoverConfig `json:"failover"`
	Logging  LoggingConfig  `json:"logging"`
	Metrics  MetricsConfig  `json:"metrics"`
	Tracing  TracingConfig  `json:"tracing"`
	Monitor  MonitorConfig  `json:"monitor"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig contains managed database connection configuration.
// Port 0 means the driver default.
type DatabaseConfig struct {
	Driver           string        `json:"driver"`
	Host             string        `json:"host"`
	Port             int           `json:"port"`
	Name             string        `json:"name"`
	User             string        `json:"user"`
	Password         string        `json:"password"`
	SSLMode          string        `json:"ssl_mode"`
	ConnectTimeout   time.Duration `json:"connect_timeout"`
	ReadOnlyVariable string        `json:"read_only_variable"`
	SessionVars      []string      `json:"session_vars"`
}

// FailoverConfig contains reconnection protocol configuration
type FailoverConfig struct {
	MaxRetry              int           `json:"max_retry"`
	DisconnectOnReadOnly  bool          `json:"disconnect_on_read_only"`
	SleepBeforeDisconnect time.Duration `json:"sleep_before_disconnect"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Namespace string `json:"namespace"`
	Enabled   bool   `json:"enabled"`
}

// TracingConfig contains distributed tracing configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SamplingRate   float64 `json:"sampling_rate"`
}

// MonitorConfig contains probe loop and HTTP surface configuration
type MonitorConfig struct {
	ProbeInterval  time.Duration `json:"probe_interval"`
	ProbeQuery     string        `json:"probe_query"`
	AllowedOrigins []string      `json:"allowed_origins"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			Driver:           getEnvString("DB_DRIVER", "mysql"),
			Host:             getEnvString("DB_HOST", "localhost"),
			Port:             getEnvInt("DB_PORT", 0),
			Name:             getEnvString("DB_NAME", ""),
			User:             getEnvString("DB_USER", "root"),
			Password:         getEnvString("DB_PASSWORD", ""),
			SSLMode:          getEnvString("DB_SSL_MODE", "prefer"),
			ConnectTimeout:   getEnvDuration("DB_CONNECT_TIMEOUT", 10*time.Second),
			ReadOnlyVariable: getEnvString("DB_READONLY_VARIABLE", ""),
			SessionVars:      getEnvStringSlice("DB_SESSION_VARS", nil),
		},
		Failover: FailoverConfig{
			MaxRetry:              getEnvInt("FAILOVER_MAX_RETRY", 5),
			DisconnectOnReadOnly:  getEnvBool("FAILOVER_DISCONNECT_ON_READONLY", false),
			SleepBeforeDisconnect: getEnvDuration("FAILOVER_SLEEP_BEFORE_DISCONNECT", 0),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Metrics: MetricsConfig{
			Namespace: getEnvString("METRICS_NAMESPACE", "steadydb"),
			Enabled:   getEnvBool("METRICS_ENABLED", true),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("TRACING_ENABLED", false),
			ServiceName:    getEnvString("TRACING_SERVICE_NAME", "failover-monitor"),
			ServiceVersion: getEnvString("TRACING_SERVICE_VERSION", "1.0.0"),
			Environment:    getEnvString("TRACING_ENVIRONMENT", "development"),
			JaegerEndpoint: getEnvString("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SamplingRate:   getEnvFloat("TRACING_SAMPLING_RATE", 1.0),
		},
		Monitor: MonitorConfig{
			ProbeInterval:  getEnvDuration("MONITOR_PROBE_INTERVAL", 10*time.Second),
			ProbeQuery:     getEnvString("MONITOR_PROBE_QUERY", "SELECT 1"),
			AllowedOrigins: getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Failover.MaxRetry < 0 {
		return fmt.Errorf("failover max retry must not be negative")
	}

	if c.Monitor.ProbeInterval <= 0 {
		return fmt.Errorf("monitor probe interval must be positive")
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("tracing sampling rate must be between 0 and 1")
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
