package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) { return "", false }

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := load(filepath.Join(t.TempDir(), "nope.yaml"), noEnv)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_url: http://localhost:9000
max_challenge_rounds: 3
device:
  device_id: android-0123456789abcdef
retry:
  max_attempts: 5
  initial_backoff: 250ms
store:
  backend: redis
  redis_db: 2
`), 0o600))

	cfg, err := load(path, noEnv)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000", cfg.BaseURL)
	assert.Equal(t, 3, cfg.MaxChallengeRounds)
	assert.Equal(t, "android-0123456789abcdef", cfg.Device.DeviceID)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialBackoff)
	assert.Equal(t, 5*time.Second, cfg.Retry.MaxBackoff, "unset keys keep defaults")
	assert.Equal(t, BackendRedis, cfg.Store.Backend)
	assert.Equal(t, 2, cfg.Store.RedisDB)
	assert.Equal(t, "latch:", cfg.Store.RedisPrefix)
}

func TestLoad_JSONWithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latch.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{
  // local proxy
  "base_url": "http://127.0.0.1:8081",
  "store": {"backend": "memory"},
}`), 0o600))

	cfg, err := load(path, noEnv)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8081", cfg.BaseURL)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\nstore:\n  backend: memory\n"), 0o600))

	env := map[string]string{
		"LATCH_LOG_LEVEL":            "debug",
		"LATCH_REDIS_DB":             "4",
		"LATCH_RETRY_MAX_BACKOFF":    "2s",
		"LATCH_ENCRYPTION_KEY":       "s3cret",
		"LATCH_MAX_CHALLENGE_ROUNDS": "12",
	}
	cfg, err := load(path, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, 4, cfg.Store.RedisDB)
	assert.Equal(t, 2*time.Second, cfg.Retry.MaxBackoff)
	assert.Equal(t, "s3cret", cfg.Store.EncryptionKey)
	assert.Equal(t, 12, cfg.MaxChallengeRounds)
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"unknown backend": "store:\n  backend: etcd\n",
		"unknown key":     "base_uri: http://x\n",
		"zero rounds":     "max_challenge_rounds: 0\n",
		"bad yaml":        "base_url: [\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, err := load(path, noEnv)
			assert.Error(t, err)
		})
	}
}
