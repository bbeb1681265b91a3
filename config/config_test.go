package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2, cfg.Retry.Attempts)
	assert.Equal(t, "fixed-jitter", cfg.Retry.Backoff)
}

func TestNewConfigAppliesOptions(t *testing.T) {
	cfg, err := NewConfig(
		WithRetryAttempts(5),
		WithRetryBackoff("exponential"),
		WithCheckpointInterval(20),
	)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Retry.Attempts)
	assert.Equal(t, "exponential", cfg.Retry.Backoff)
	assert.Equal(t, 20, cfg.Continuation.CheckpointIntervalTokens)
}

func TestValidateRejectsUnknownBackoff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retry.Backoff = "bogus"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsMaxDelayBelowBase(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retry.BaseDelay = 5 * time.Second
	cfg.Retry.MaxDelay = time.Second
	assert.Error(t, cfg.Validate())
}

func TestLoadFromFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "l0.yaml")
	content := "retry:\n  attempts: 4\n  backoff: exponential-jitter\nguardrail:\n  checkIntervalTokens: 8\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))

	assert.Equal(t, 4, cfg.Retry.Attempts)
	assert.Equal(t, "exponential-jitter", cfg.Retry.Backoff)
	assert.Equal(t, 8, cfg.Guardrail.CheckIntervalTokens)
}

func TestLoadFromFileJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "l0.json")
	content := `{"retry":{"attempts":3},"continuation":{"redisUrl":"redis://localhost:6379/0"}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))

	assert.Equal(t, 3, cfg.Retry.Attempts)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Continuation.RedisURL)
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "l0.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retry:\n  attempts: 2\n"), 0o644))

	reloaded := make(chan *Config, 1)
	w, err := Watch(path, func(cfg *Config, err error) {
		if err == nil {
			reloaded <- cfg
		}
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("retry:\n  attempts: 9\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 9, cfg.Retry.Attempts)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
