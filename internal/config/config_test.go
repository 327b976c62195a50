package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PIPELINE_HARD_TIMEOUT", "PIPELINE_STALE_AFTER", "RETRY_MAX_ATTEMPTS", "CACHE_BACKEND", "ENV", "LOG_MODE"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, 5*time.Minute, cfg.Pipeline.HardTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Pipeline.StaleAfter)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.InitialDelay)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 30*time.Minute, cfg.Cache.Expiration)
	assert.Equal(t, "development", cfg.Log.Mode)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PIPELINE_HARD_TIMEOUT", "90s")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("CACHE_BACKEND", "redis")
	t.Setenv("RETRY_MAX_DELAY", "not-a-duration")

	cfg := Load()

	assert.Equal(t, 90*time.Second, cfg.Pipeline.HardTimeout)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)
}

func TestDatabaseDSN(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "n"}}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", cfg.GetDatabaseDSN())
}
