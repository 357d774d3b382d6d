// internal/config/config_test.go
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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("OUTREACHD_POSTGRES_URL", "postgres://localhost/outreachd")
	t.Setenv("OUTREACHD_RABBITMQ_URL", "amqp://localhost")
	t.Setenv("OUTREACHD_GATEWAY_URL", "http://gateway.local")

	cfg, err := Load(writeConfig(t, "server: {}\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, DefaultMaxConcurrentTasks, cfg.Engine.MaxConcurrentTasks)
	assert.Equal(t, DefaultStatusQueue, cfg.RabbitMQ.StatusQueue)
	assert.Equal(t, DefaultLevelDBPath, cfg.LevelDB.Path)
	assert.Equal(t, "http://gateway.local", cfg.Gateway.URL)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("OUTREACHD_POSTGRES_URL", "postgres://db/outreachd")
	t.Setenv("OUTREACHD_RABBITMQ_URL", "amqp://mq")
	t.Setenv("OUTREACHD_GATEWAY_URL", "http://gateway")
	t.Setenv("OUTREACHD_SERVER_PORT", "9090")
	t.Setenv("OUTREACHD_ENGINE_MAX_CONCURRENT_TASKS", "4")

	cfg, err := Load(writeConfig(t, "server: {}\n"))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 4, cfg.Engine.MaxConcurrentTasks)
	assert.Equal(t, "postgres://db/outreachd", cfg.Postgres.URL)
}

func TestLoadMissingPostgresURL(t *testing.T) {
	t.Setenv("OUTREACHD_POSTGRES_URL", "")
	t.Setenv("OUTREACHD_RABBITMQ_URL", "amqp://mq")
	t.Setenv("OUTREACHD_GATEWAY_URL", "http://gateway")

	_, err := Load(writeConfig(t, ""))
	assert.ErrorContains(t, err, "OUTREACHD_POSTGRES_URL")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
