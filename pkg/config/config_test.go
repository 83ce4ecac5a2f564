package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DB_NAME", "app")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 0, cfg.Database.Port)
	assert.Equal(t, "app", cfg.Database.Name)
	assert.Equal(t, 10*time.Second, cfg.Database.ConnectTimeout)
	assert.Empty(t, cfg.Database.SessionVars)

	assert.Equal(t, 5, cfg.Failover.MaxRetry)
	assert.False(t, cfg.Failover.DisconnectOnReadOnly)
	assert.Equal(t, time.Duration(0), cfg.Failover.SleepBeforeDisconnect)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.Equal(t, "steadydb", cfg.Metrics.Namespace)
	assert.True(t, cfg.Metrics.Enabled)

	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, "failover-monitor", cfg.Tracing.ServiceName)
	assert.Equal(t, 1.0, cfg.Tracing.SamplingRate)

	assert.Equal(t, 10*time.Second, cfg.Monitor.ProbeInterval)
	assert.Equal(t, "SELECT 1", cfg.Monitor.ProbeQuery)
	assert.Equal(t, []string{"*"}, cfg.Monitor.AllowedOrigins)
}

func TestLoad_MissingDatabaseName(t *testing.T) {
	t.Setenv("DB_NAME", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database name is required")
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DB_NAME", "orders")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("DB_READONLY_VARIABLE", "transaction_read_only")
	t.Setenv("DB_SESSION_VARS", "search_path, timezone")
	t.Setenv("FAILOVER_MAX_RETRY", "0")
	t.Setenv("FAILOVER_DISCONNECT_ON_READONLY", "true")
	t.Setenv("FAILOVER_SLEEP_BEFORE_DISCONNECT", "250ms")
	t.Setenv("MONITOR_PROBE_INTERVAL", "2s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, "transaction_read_only", cfg.Database.ReadOnlyVariable)
	assert.Equal(t, []string{"search_path", "timezone"}, cfg.Database.SessionVars)

	assert.Equal(t, 0, cfg.Failover.MaxRetry)
	assert.True(t, cfg.Failover.DisconnectOnReadOnly)
	assert.Equal(t, 250*time.Millisecond, cfg.Failover.SleepBeforeDisconnect)

	assert.Equal(t, 2*time.Second, cfg.Monitor.ProbeInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Monitor.AllowedOrigins)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("DB_NAME", "app")
	t.Setenv("SERVER_PORT", "not-a-number")
	t.Setenv("FAILOVER_DISCONNECT_ON_READONLY", "not-a-bool")
	t.Setenv("MONITOR_PROBE_INTERVAL", "soon")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.False(t, cfg.Failover.DisconnectOnReadOnly)
	assert.Equal(t, 10*time.Second, cfg.Monitor.ProbeInterval)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Database: DatabaseConfig{Driver: "mysql", Name: "app"},
			Failover: FailoverConfig{MaxRetry: 5},
			Tracing:  TracingConfig{SamplingRate: 1.0},
			Monitor:  MonitorConfig{ProbeInterval: 10 * time.Second},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "unsupported driver",
			mutate:  func(c *Config) { c.Database.Driver = "oracle" },
			wantErr: "unsupported database driver",
		},
		{
			name:    "negative max retry",
			mutate:  func(c *Config) { c.Failover.MaxRetry = -1 },
			wantErr: "must not be negative",
		},
		{
			name:    "zero probe interval",
			mutate:  func(c *Config) { c.Monitor.ProbeInterval = 0 },
			wantErr: "probe interval must be positive",
		},
		{
			name:    "sampling rate out of range",
			mutate:  func(c *Config) { c.Tracing.SamplingRate = 1.5 },
			wantErr: "sampling rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
