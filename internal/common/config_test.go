package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	assert.Equal(t, "development", config.Environment)
	assert.Equal(t, "./data/gero", config.Storage.Badger.Path)
	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, 8, config.Jobs.Concurrency)
	assert.Equal(t, 3*time.Second, config.Jobs.PollIntervalDuration())
	assert.True(t, config.Maintenance.Enabled)
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gero.toml")
	content := `
environment = "production"

[storage.badger]
path = "/var/lib/gero"

[jobs]
concurrency = 32
poll_interval = "500ms"

[maintenance]
enabled = false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	config, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "production", config.Environment)
	assert.Equal(t, "/var/lib/gero", config.Storage.Badger.Path)
	assert.Equal(t, 32, config.Jobs.Concurrency)
	assert.Equal(t, 500*time.Millisecond, config.Jobs.PollIntervalDuration())
	assert.False(t, config.Maintenance.Enabled)

	// Untouched sections keep their defaults
	assert.Equal(t, "info", config.Logging.Level)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("GERO_LOG_LEVEL", "debug")
	t.Setenv("GERO_JOBS_CONCURRENCY", "4")

	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, 4, config.Jobs.Concurrency)
}

func TestPollIntervalFallback(t *testing.T) {
	jobs := JobsConfig{PollInterval: "garbage"}
	assert.Equal(t, 3*time.Second, jobs.PollIntervalDuration())

	jobs = JobsConfig{PollInterval: "-5s"}
	assert.Equal(t, 3*time.Second, jobs.PollIntervalDuration())
}

func TestLoadFromMissingFileFails(t *testing.T) {
	_, err := LoadFromFile("/does/not/exist.toml")
	assert.Error(t, err)
}
