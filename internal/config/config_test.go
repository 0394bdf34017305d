package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pulsecast.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaultsRequirePlatforms(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "platform")
}

func TestLoadMinimalConfig(t *testing.T) {
	path := writeConfig(t, `
scheduler:
  platforms: [tiktok]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"tiktok"}, cfg.Scheduler.Platforms)
	// Untouched sections keep their defaults.
	assert.Equal(t, 2, cfg.Gate.MaxPerDay)
	assert.Equal(t, 0.1, cfg.Bandit.Epsilon)
	assert.Equal(t, 45*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
scheduler:
  platforms: [tiktok, youtube]
bandit:
  epsilon: 0.25
  top_n: 10
gate:
  max_per_day: 5
logging:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.25, cfg.Bandit.Epsilon)
	assert.Equal(t, 10, cfg.Bandit.TopN)
	assert.Equal(t, 5, cfg.Gate.MaxPerDay)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Len(t, cfg.Scheduler.Platforms, 2)
}

func TestLoadPerPlatformGateLimits(t *testing.T) {
	path := writeConfig(t, `
scheduler:
  platforms: [tiktok, instagram]
gate:
  platforms:
    instagram:
      max_per_day: 25
      bucket_capacity: 8
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Gate.LimitsFor("instagram").MaxPerDay)
	assert.Equal(t, 8, cfg.Gate.LimitsFor("instagram").BucketCapacity)
	// Platforms without an override keep the defaults.
	assert.Equal(t, 2, cfg.Gate.LimitsFor("tiktok").MaxPerDay)
	assert.Equal(t, 120*time.Minute, cfg.Gate.LimitsFor("instagram").MinSpacing)
}

func TestLoadRejectsNegativePlatformLimits(t *testing.T) {
	path := writeConfig(t, `
scheduler:
  platforms: [tiktok]
gate:
  platforms:
    tiktok:
      max_per_day: -1
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limits")
}

func TestLoadRejectsBadEpsilon(t *testing.T) {
	path := writeConfig(t, `
scheduler:
  platforms: [tiktok]
bandit:
  epsilon: 1.5
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "epsilon")
}

func TestLoadRejectsEnabledDatabaseWithoutDSN(t *testing.T) {
	path := writeConfig(t, `
scheduler:
  platforms: [tiktok]
database:
  enabled: true
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dsn")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/pulsecast.yaml")
	assert.Error(t, err)
}
