package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, filepath.Join("data", "shule.db"), filepath.Clean(cfg.DBPath()))
	assert.Equal(t, "rest", cfg.Remote.Driver)
	assert.Equal(t, 30*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, "@every 15m", cfg.Sync.Cron)
	assert.Equal(t, 4, cfg.Sync.Concurrency)
	assert.Equal(t, 30, cfg.Timetable.SlotMinutes)
	assert.Equal(t, int64(0), cfg.Storage.QuotaBytes)
}

func TestLoad_envOverrides(t *testing.T) {
	t.Setenv("SHULE_REMOTE_URL", "https://school.example.test")
	t.Setenv("SHULE_SYNC_CONCURRENCY", "2")
	t.Setenv("SHULE_SYNC_QUEUE_INTERVAL", "45s")
	t.Setenv("SHULE_STORAGE_QUOTA_BYTES", "1048576")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://school.example.test", cfg.Remote.URL)
	assert.Equal(t, 2, cfg.Sync.Concurrency)
	assert.Equal(t, 45*time.Second, cfg.Sync.QueueInterval)
	assert.Equal(t, int64(1<<20), cfg.Storage.QuotaBytes)
}

func TestLoad_file(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shule.yaml")
	content := []byte("remote:\n  driver: postgres\n  dsn: host=localhost\ntimetable:\n  day_start: \"08:00\"\n  day_end: \"16:00\"\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Remote.Driver)
	assert.Equal(t, "host=localhost", cfg.Remote.DSN)
	assert.Equal(t, "08:00", cfg.Timetable.DayStart)
	assert.Equal(t, "16:00", cfg.Timetable.DayEnd)
}

func TestLoad_missingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown driver", func(c *Config) { c.Remote.Driver = "grpc" }},
		{"negative quota", func(c *Config) { c.Storage.QuotaBytes = -1 }},
		{"zero concurrency", func(c *Config) { c.Sync.Concurrency = 0 }},
		{"slot not dividing hour", func(c *Config) { c.Timetable.SlotMinutes = 25 }},
		{"bad day start", func(c *Config) { c.Timetable.DayStart = "7am" }},
		{"end before start", func(c *Config) { c.Timetable.DayEnd = "06:00" }},
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
