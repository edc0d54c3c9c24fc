package config

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("ENCRYPTION_KEY", "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	t.Setenv("STATE_SECRET", "state-secret")
	t.Setenv("XERO_CLIENT_ID", "xero-id")
	t.Setenv("XERO_CLIENT_SECRET", "xero-secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ModeWorker, cfg.RunMode)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, 10*time.Minute, cfg.StateTTL)
	assert.Empty(t, cfg.RedisURL)

	want := SchedulerConfig{
		Enabled:      true,
		PollInterval: 5 * time.Minute,
		Concurrency:  1,
		LockRequired: true,
		PageSize:     500,
	}
	if diff := cmp.Diff(want, cfg.Scheduler); diff != "" {
		t.Errorf("scheduler config mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, WorkerConfig{Concurrency: 1, DequeueTimeout: 5 * time.Second, TaskRetention: 24 * time.Hour}, cfg.Worker)

	assert.True(t, cfg.Xero.Enabled())
	assert.False(t, cfg.QuickBooks.Enabled())
	assert.Equal(t, "production", cfg.QuickBooks.Environment)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("RUN_MODE", "sync-once")
	t.Setenv("SCHEDULER_CONCURRENCY", "4")
	t.Setenv("SCHEDULER_POLL_INTERVAL", "30s")
	t.Setenv("QUICKBOOKS_CLIENT_ID", "qb-id")
	t.Setenv("QUICKBOOKS_CLIENT_SECRET", "qb-secret")
	t.Setenv("QUICKBOOKS_ENVIRONMENT", "sandbox")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ModeSyncOnce, cfg.RunMode)
	assert.Equal(t, 4, cfg.Scheduler.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.PollInterval)
	assert.True(t, cfg.QuickBooks.Enabled())
	assert.Equal(t, "sandbox", cfg.QuickBooks.Environment)
}

func TestLoad_MissingRequired(t *testing.T) {
	// Setenv registers the restore; Unsetenv makes the key absent
	t.Setenv("ENCRYPTION_KEY", "")
	t.Setenv("STATE_SECRET", "")
	os.Unsetenv("ENCRYPTION_KEY")
	os.Unsetenv("STATE_SECRET")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ENCRYPTION_KEY")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			RunMode:   ModeWorker,
			LogLevel:  "info",
			Scheduler: SchedulerConfig{Concurrency: 1, PageSize: 500},
			Worker:    WorkerConfig{Concurrency: 1},
			Xero:      XeroConfig{ClientID: "id", ClientSecret: "secret"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad mode", func(c *Config) { c.RunMode = "api" }, "RUN_MODE"},
		{"no provider", func(c *Config) { c.Xero = XeroConfig{} }, "no provider configured"},
		{"zero concurrency", func(c *Config) { c.Scheduler.Concurrency = 0 }, "SCHEDULER_CONCURRENCY"},
		{"zero workers", func(c *Config) { c.Worker.Concurrency = 0 }, "WORKER_CONCURRENCY"},
		{"page too large", func(c *Config) { c.Scheduler.PageSize = 1001 }, "SYNC_PAGE_SIZE"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "LOG_LEVEL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
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

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	cfg := &Config{LogLevel: "warn", LogJSON: true}
	logger := cfg.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "company_id", "c1")

	out := buf.String()
	assert.False(t, strings.Contains(out, "hidden"))
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"company_id":"c1"`)
}
