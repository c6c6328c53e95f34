package bootstrap

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName("spectralnotify")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	return v
}

func TestLoadConfigAppliesDefaultsWhenNothingSet(t *testing.T) {
	v := newTestViper()
	v.Set("storage.registry_dsn", "postgres://localhost/registry")

	cfg, err := LoadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 64, cfg.Fanout.MaxBuffered)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.TTL)
	assert.False(t, cfg.Workflow.StrictCompletion)
}

func TestLoadConfigEnvOverridesDefault(t *testing.T) {
	t.Setenv("SPECTRALNOTIFY_SERVER_ADDR", ":9999")
	t.Setenv("SPECTRALNOTIFY_STORAGE_REGISTRY_DSN", "postgres://localhost/registry")

	cfg, err := LoadConfig(newTestViper())
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Addr)
}

func TestLoadConfigRejectsUnknownStorageDriver(t *testing.T) {
	v := newTestViper()
	v.Set("storage.registry_dsn", "postgres://localhost/registry")
	v.Set("storage.driver", "mongodb")

	_, err := LoadConfig(v)
	assert.ErrorContains(t, err, "storage.driver")
}

func TestLoadConfigRejectsMissingRegistryDSN(t *testing.T) {
	_, err := LoadConfig(newTestViper())
	assert.ErrorContains(t, err, "storage.registry_dsn")
}

func TestLoadConfigRejectsNonPositiveMaxBuffered(t *testing.T) {
	v := newTestViper()
	v.Set("storage.registry_dsn", "postgres://localhost/registry")
	v.Set("fanout.max_buffered", 0)

	_, err := LoadConfig(v)
	assert.ErrorContains(t, err, "fanout.max_buffered")
}

func TestLoadConfigRequiresDSNForPostgresDriver(t *testing.T) {
	v := newTestViper()
	v.Set("storage.registry_dsn", "postgres://localhost/registry")
	v.Set("storage.driver", "postgres")
	v.Set("storage.dsn", "")

	_, err := LoadConfig(v)
	assert.ErrorContains(t, err, "storage.dsn is required")
}
