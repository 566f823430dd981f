package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cabbage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadValid(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: "postgres://localhost/cabbage"
  driver: pgxv5
worker:
  concurrency: 4
  poll_interval: 2s
  stalled_threshold: 1m
logging:
  level: debug
  format: console
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/cabbage", cfg.Database.DSN)
	assert.Equal(t, "pgxv5", cfg.Database.Driver)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadMissingDSN(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: pgxv5
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "database.dsn")
}

func TestLoadInvalidDriver(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: "postgres://localhost/cabbage"
  driver: not-a-real-driver
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "database.driver")
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: "postgres://localhost/cabbage"
  driver: pq
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Worker.Concurrency)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
