package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("Should load explicit values", func(t *testing.T) {
		path := writeConfig(t, `{
			"env": "production",
			"port": 8080,
			"app_name": "ingest",
			"mongodb": {"uri": "mongodb://localhost:27017", "db": "ingest"},
			"storage": {"driver": "s3", "ttl_seconds": 600},
			"ingest": {"batch_size": 500, "max_attempts": 5}
		}`)

		cfg, err := LoadConfig(path)

		require.NoError(t, err)
		assert.Equal(t, "production", cfg.Env)
		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "s3", cfg.Storage.Driver)
		assert.Equal(t, 600, cfg.Storage.TTLSecs)
		assert.Equal(t, 500, cfg.Ingest.BatchSize)
		assert.Equal(t, 5, cfg.Ingest.MaxAttempts)
	})

	t.Run("Should apply defaults for omitted sections", func(t *testing.T) {
		path := writeConfig(t, `{"port": 8080}`)

		cfg, err := LoadConfig(path)

		require.NoError(t, err)
		assert.Equal(t, "redis", cfg.Storage.Driver)
		assert.Equal(t, 3600, cfg.Storage.TTLSecs)
		assert.Equal(t, 1000, cfg.Ingest.BatchSize)
		assert.Equal(t, 1000, cfg.Ingest.ProgressInterval)
		assert.Equal(t, []string{"Name", "Gender", "Bio-ID"}, cfg.Ingest.RequiredColumns)
		assert.Equal(t, 3, cfg.Ingest.MaxAttempts)
		assert.Equal(t, 2, cfg.Ingest.BackoffBaseSecs)
		assert.Equal(t, 300, cfg.Ingest.JobTimeoutSecs)
		assert.Equal(t, 30, cfg.Ingest.StalledIntervalSec)
		assert.Equal(t, 60, cfg.Ingest.StalledAfterSecs)
		assert.Equal(t, "ingest", cfg.RabbitMQ.ExchangeName)
		assert.Equal(t, "file-processing", cfg.RabbitMQ.QueueName)
		assert.Equal(t, 4, cfg.RabbitMQ.PrefetchCount)
	})

	t.Run("Should fail on a missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
		assert.Error(t, err)
	})

	t.Run("Should fail on malformed JSON", func(t *testing.T) {
		path := writeConfig(t, `{"port": }`)

		_, err := LoadConfig(path)
		assert.Error(t, err)
	})
}
