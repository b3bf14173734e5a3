// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
	Scraper ScraperConfig `mapstructure:"scraper"`
	Storage StorageConfig `mapstructure:"storage"`
	Grading GradingConfig `mapstructure:"grading"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// JobsConfig governs supervisor admission and monitoring behavior.
type JobsConfig struct {
	// MaxConcurrent is the semaphore size; acquiring a slot blocks the
	// submitting goroutine (intentional backpressure).
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// TimeoutMinutes is the hard wall-clock budget per job.
	TimeoutMinutes int `mapstructure:"timeout_minutes"`
	// MonitorTickMs bounds progress staleness: the job record lags the
	// progress file by at most one tick.
	MonitorTickMs int `mapstructure:"monitor_tick_ms"`
	// GraceSeconds is how long a terminated child gets before force-kill.
	GraceSeconds int    `mapstructure:"grace_seconds"`
	UploadRoot   string `mapstructure:"upload_root"`
}

// ScraperConfig configures the child extraction process.
type ScraperConfig struct {
	Binary            string `mapstructure:"binary"`
	EntryURL          string `mapstructure:"entry_url"`
	Headless          bool   `mapstructure:"headless"`
	NavTimeoutSec     int    `mapstructure:"nav_timeout_seconds"`
	ChoiceWaitSeconds int    `mapstructure:"choice_wait_seconds"`
}

// StorageConfig selects and configures the persistent store.
type StorageConfig struct {
	// Driver is one of memory, sqlite, postgres.
	Driver      string `mapstructure:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// GradingConfig holds the percent thresholds used to bucket a total score
// into a 5-point grade. These are school policy, not mechanism.
type GradingConfig struct {
	FiveMin  int `mapstructure:"five_min"`
	FourMin  int `mapstructure:"four_min"`
	ThreeMin int `mapstructure:"three_min"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MEKTEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("jobs.max_concurrent", 3)
	v.SetDefault("jobs.timeout_minutes", 30)
	v.SetDefault("jobs.monitor_tick_ms", 500)
	v.SetDefault("jobs.grace_seconds", 2)
	v.SetDefault("jobs.upload_root", "out/platform_uploads")
	v.SetDefault("scraper.binary", "mektep-scraper")
	v.SetDefault("scraper.entry_url", "https://mektep.edu.kz/?school=logout&language=rus")
	v.SetDefault("scraper.headless", true)
	v.SetDefault("scraper.nav_timeout_seconds", 60)
	v.SetDefault("scraper.choice_wait_seconds", 60)
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "out/mektep.db")
	v.SetDefault("grading.five_min", 85)
	v.SetDefault("grading.four_min", 65)
	v.SetDefault("grading.three_min", 40)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Jobs.MaxConcurrent <= 0 {
		return fmt.Errorf("jobs.max_concurrent must be > 0")
	}
	if c.Jobs.TimeoutMinutes <= 0 {
		return fmt.Errorf("jobs.timeout_minutes must be > 0")
	}
	if c.Jobs.MonitorTickMs <= 0 {
		return fmt.Errorf("jobs.monitor_tick_ms must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.driver must be memory, sqlite or postgres")
	}
	if c.Storage.Driver == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("storage.postgres_dsn must be set for the postgres driver")
	}
	if c.Grading.FiveMin <= c.Grading.FourMin || c.Grading.FourMin <= c.Grading.ThreeMin {
		return fmt.Errorf("grading thresholds must be strictly decreasing")
	}
	return nil
}

// JobTimeout returns the configured per-job wall-clock budget.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Jobs.TimeoutMinutes) * time.Minute
}

// MonitorTick returns the supervisor polling interval.
func (c Config) MonitorTick() time.Duration {
	return time.Duration(c.Jobs.MonitorTickMs) * time.Millisecond
}

// TerminateGrace returns the grace window between terminate and kill.
func (c Config) TerminateGrace() time.Duration {
	return time.Duration(c.Jobs.GraceSeconds) * time.Second
}
