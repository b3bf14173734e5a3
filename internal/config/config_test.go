package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 3, cfg.Jobs.MaxConcurrent)
	require.Equal(t, 30, cfg.Jobs.TimeoutMinutes)
	require.Equal(t, 500, cfg.Jobs.MonitorTickMs)
	require.Equal(t, "sqlite", cfg.Storage.Driver)
	require.Equal(t, 85, cfg.Grading.FiveMin)
	require.Equal(t, 65, cfg.Grading.FourMin)
	require.Equal(t, 40, cfg.Grading.ThreeMin)
	require.True(t, cfg.Scraper.Headless)
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
jobs:
  max_concurrent: 1
  timeout_minutes: 5
grading:
  five_min: 90
  four_min: 70
  three_min: 50
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 1, cfg.Jobs.MaxConcurrent)
	require.Equal(t, 5, cfg.Jobs.TimeoutMinutes)
	require.Equal(t, 90, cfg.Grading.FiveMin)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"zero concurrency", func(c *Config) { c.Jobs.MaxConcurrent = 0 }},
		{"zero timeout", func(c *Config) { c.Jobs.TimeoutMinutes = 0 }},
		{"auth without key", func(c *Config) { c.Auth.Enabled = true; c.Auth.APIKey = "" }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "oracle" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres"; c.Storage.PostgresDSN = "" }},
		{"non-decreasing grading", func(c *Config) { c.Grading.FourMin = c.Grading.FiveMin }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
