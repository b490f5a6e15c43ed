package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8001", cfg.API.BaseURL)
	assert.Equal(t, 15, cfg.API.TimeoutSecs)
	assert.Equal(t, 90, cfg.API.ExportTimeoutSecs)
	assert.Equal(t, 20, cfg.Dataset.PageSize)
	assert.Equal(t, 100, cfg.Dataset.BulkPageSize)
	assert.Equal(t, 1000, cfg.Dataset.MaxStatsRecords)
	assert.Equal(t, 1000, cfg.Export.Limit)
	assert.Equal(t, "allerscan.db", cfg.Snapshot.Path)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ALLERSCAN_API_BASE_URL", "http://backend:9000")
	t.Setenv("ALLERSCAN_DATASET_PAGE_SIZE", "50")
	t.Setenv("ALLERSCAN_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://backend:9000", cfg.API.BaseURL)
	assert.Equal(t, 50, cfg.Dataset.PageSize)
	assert.Equal(t, "debug", cfg.Log.Level)
	// untouched keys keep their defaults
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
api:
  base_url: http://backend:9000
  timeout_secs: 30
export:
  dir: /tmp/exports
`), 0o644))
	t.Chdir(dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://backend:9000", cfg.API.BaseURL)
	assert.Equal(t, 30, cfg.API.TimeoutSecs)
	assert.Equal(t, "/tmp/exports", cfg.Export.Dir)
	assert.Equal(t, 20, cfg.Dataset.PageSize)
}

func TestLoadMalformedConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("api: [not: valid"), 0o644))
	t.Chdir(dir)

	_, err := Load()
	require.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8001", cfg.API.BaseURL)
	assert.Equal(t, 4, cfg.API.Concurrency)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	require.Error(t, InitLogger(LogConfig{Level: "loud"}))
}
