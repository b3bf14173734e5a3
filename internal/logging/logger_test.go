// Package logging includes tests for the zap logger helpers.
package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestNewDevelopmentLogger confirms the development logger builds and logs.
func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("development logger ready")
}

// TestNewProductionLogger ensures the production logger configuration succeeds.
func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("production logger ready")
}

func TestNewScrapeRunWritesLogFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewScrapeRun(dir)
	require.NoError(t, err)

	logger.Info("hello from the scrape run")
	_ = logger.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "scraper.log"))
	require.NoError(t, err)
	require.Contains(t, string(data), "hello from the scrape run")
}
