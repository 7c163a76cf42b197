package flare

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "sqlite", cfg.StorageBackend)
	assert.Equal(t, "flare.db", cfg.SQLite.Path)
	assert.Equal(t, "flare:queue", cfg.Redis.QueueKey)
	assert.Equal(t, "flare:logs", cfg.Redis.StreamKey)
	assert.Equal(t, 10000, cfg.MaxEntries)
	assert.Equal(t, 168, cfg.RetentionHours)
	assert.Equal(t, time.Hour, cfg.RetentionCheckInterval)
	assert.Equal(t, "/flare", cfg.DashboardPath)
	assert.Equal(t, 500, cfg.MetricsMaxEndpoints)
	assert.Equal(t, 8192, cfg.MaxRequestBodyBytes)
	assert.False(t, cfg.TrackRequests)
	assert.Equal(t, 5*time.Second, cfg.WorkerInterval)
	assert.Equal(t, "ERROR", cfg.AlertMinLevel)
	assert.Equal(t, 5*time.Minute, cfg.AlertCooldown)
	assert.Contains(t, cfg.SensitiveFields, "password")
	assert.Contains(t, cfg.SensitiveFields, "cpf")

	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageBackend = "cassandra"

	assert.ErrorContains(t, cfg.Validate(), "storage_backend")
}

func TestValidateRejectsBadTablePrefix(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageBackend = "postgres"
	cfg.Postgres.TablePrefix = "bad-prefix; --"

	assert.ErrorContains(t, cfg.Validate(), "table_prefix")

	cfg.Postgres.TablePrefix = "myapp_v2"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadAlertLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AlertMinLevel = "CRITICAL"

	assert.ErrorContains(t, cfg.Validate(), "alert_min_level")
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("FLARE_STORAGE_BACKEND", "redis")
	t.Setenv("FLARE_MAX_ENTRIES", "250")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.StorageBackend)
	assert.Equal(t, 250, cfg.MaxEntries)
}
