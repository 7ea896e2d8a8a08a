// Package config loads runtime settings from defaults, an optional config
// file, a .env file and SHULE_* environment variables.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// SHULE_REMOTE_URL or SHULE_SYNC_QUEUE_INTERVAL.
const EnvPrefix = "SHULE"

// Config is the fully resolved configuration.
type Config struct {
	DataDir string `mapstructure:"data_dir"`
	DBFile  string `mapstructure:"db_file"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	Server struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`

	Remote struct {
		// Driver is "rest" for the hosted HTTPS API or "postgres" for a
		// direct connection.
		Driver    string        `mapstructure:"driver"`
		URL       string        `mapstructure:"url"`
		APIKey    string        `mapstructure:"api_key"`
		DSN       string        `mapstructure:"dsn"`
		RateLimit float64       `mapstructure:"rate_limit"`
		Burst     int           `mapstructure:"burst"`
		Timeout   time.Duration `mapstructure:"timeout"`
	} `mapstructure:"remote"`

	Sync struct {
		Cron          string        `mapstructure:"cron"`
		QueueInterval time.Duration `mapstructure:"queue_interval"`
		ProbeInterval time.Duration `mapstructure:"probe_interval"`
		Timeout       time.Duration `mapstructure:"timeout"`
		Concurrency   int           `mapstructure:"concurrency"`
		MaxRetries    int           `mapstructure:"max_retries"`
		RetryBase     time.Duration `mapstructure:"retry_base"`
		Retention     time.Duration `mapstructure:"retention"`
		Collections   []string      `mapstructure:"collections"`
	} `mapstructure:"sync"`

	Storage struct {
		QuotaBytes int64 `mapstructure:"quota_bytes"`
	} `mapstructure:"storage"`

	Timetable struct {
		DayStart    string `mapstructure:"day_start"`
		DayEnd      string `mapstructure:"day_end"`
		SlotMinutes int    `mapstructure:"slot_minutes"`
	} `mapstructure:"timetable"`
}

// DBPath returns the sqlite file location.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, c.DBFile)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")
	v.SetDefault("db_file", "shule.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("server.port", 8090)

	v.SetDefault("remote.driver", "rest")
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.api_key", "")
	v.SetDefault("remote.dsn", "")
	v.SetDefault("remote.rate_limit", 10.0)
	v.SetDefault("remote.burst", 5)
	v.SetDefault("remote.timeout", 30*time.Second)

	v.SetDefault("sync.cron", "@every 15m")
	v.SetDefault("sync.queue_interval", 30*time.Second)
	v.SetDefault("sync.probe_interval", 20*time.Second)
	v.SetDefault("sync.timeout", 5*time.Minute)
	v.SetDefault("sync.concurrency", 4)
	v.SetDefault("sync.max_retries", 5)
	v.SetDefault("sync.retry_base", time.Minute)
	v.SetDefault("sync.retention", 7*24*time.Hour)
	v.SetDefault("sync.collections", []string{})

	v.SetDefault("storage.quota_bytes", int64(0))

	v.SetDefault("timetable.day_start", "07:00")
	v.SetDefault("timetable.day_end", "17:00")
	v.SetDefault("timetable.slot_minutes", 30)
}

// Load resolves configuration. path may name a yaml/toml/json file or be
// empty; a .env file in the working directory is applied when present.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, errors.Wrap(err, "config: load .env")
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "config: read %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the components cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: data_dir is required")
	}
	switch c.Remote.Driver {
	case "rest", "postgres":
	default:
		return errors.Errorf("config: unknown remote.driver %q", c.Remote.Driver)
	}
	if c.Storage.QuotaBytes < 0 {
		return errors.New("config: storage.quota_bytes must not be negative")
	}
	if c.Sync.Concurrency < 1 {
		return errors.New("config: sync.concurrency must be at least 1")
	}
	if c.Timetable.SlotMinutes <= 0 || 60%c.Timetable.SlotMinutes != 0 {
		return errors.Errorf("config: timetable.slot_minutes %d must divide an hour", c.Timetable.SlotMinutes)
	}
	start, err := time.Parse("15:04", c.Timetable.DayStart)
	if err != nil {
		return errors.Wrap(err, "config: timetable.day_start")
	}
	end, err := time.Parse("15:04", c.Timetable.DayEnd)
	if err != nil {
		return errors.Wrap(err, "config: timetable.day_end")
	}
	if !end.After(start) {
		return errors.New("config: timetable.day_end must be after day_start")
	}
	return nil
}
