package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/botpipe/internal/runtime/errors"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "botpipe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromYAML(t *testing.T) {
	path := writeYAML(t, `
worker_count: 6
queue_capacity: 50
enqueue_timeout: 250ms
user_cooldown: 2s
state_backend: memory
kafka_brokers:
  - a:9092
  - b:9092
pubsub_system: kafka
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.WorkerCount)
	assert.Equal(t, 50, cfg.QueueCapacity)
	assert.Equal(t, 250*time.Millisecond, cfg.EnqueueTimeout)
	assert.Equal(t, 2*time.Second, cfg.UserCooldown)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeYAML(t, `
worker_count: 6
queue_capacity: 50
enqueue_timeout: 250ms
user_cooldown: 2s
`)
	t.Setenv("BOTPIPE_WORKER_COUNT", "12")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.WorkerCount)
	assert.Equal(t, 50, cfg.QueueCapacity)
}

func TestLoadFallsBackToEnv(t *testing.T) {
	t.Setenv("BOTPIPE_WORKER_COUNT", "3")
	t.Setenv("BOTPIPE_QUEUE_CAPACITY", "30")
	t.Setenv("BOTPIPE_ENQUEUE_TIMEOUT", "50ms")
	t.Setenv("BOTPIPE_USER_COOLDOWN", "750ms")
	t.Setenv("BOTPIPE_ADMIN_CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.WorkerCount)
	assert.Equal(t, 750*time.Millisecond, cfg.UserCooldown)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AdminCORSAllowedOrigins)
}

func TestLoadRejectsIncompleteConfig(t *testing.T) {
	path := writeYAML(t, "worker_count: 2\n")

	_, err := Load(path)
	require.Error(t, err)

	var cfgErr errspkg.ConfigValidationError
	assert.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, err.Error(), "queue capacity must be positive")
}

func TestLoadWithDefaultsFillsMissingValues(t *testing.T) {
	path := writeYAML(t, "worker_count: 2\n")

	cfg, err := LoadWithDefaults(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.WorkerCount)
	assert.Equal(t, 100, cfg.QueueCapacity)
	assert.Equal(t, time.Second, cfg.UserCooldown)
}
