// Package config loads and validates the pulsecast configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pulsecast/pulsecast/internal/bandit"
	"github.com/pulsecast/pulsecast/internal/gate"
	"github.com/pulsecast/pulsecast/internal/infrastructure/db"
	"github.com/pulsecast/pulsecast/internal/publish"
	"github.com/pulsecast/pulsecast/internal/scheduler"
)

// Config is the complete pulsecast configuration.
type Config struct {
	Logging   LoggingConfig         `yaml:"logging"`
	HTTP      HTTPConfig            `yaml:"http"`
	Database  db.Config             `yaml:"database"`
	Redis     RedisConfig           `yaml:"redis"`
	Trend     TrendConfig           `yaml:"trend"`
	Bandit    bandit.Config         `yaml:"bandit"`
	Gate      gate.Config           `yaml:"gate"`
	Publish   PublishConfig         `yaml:"publish"`
	Breaker   publish.BreakerConfig `yaml:"breaker"`
	Scheduler scheduler.Config      `yaml:"scheduler"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // trace, debug, info, warn, error
	Pretty bool   `yaml:"pretty"` // force console writer even without a TTY
}

// HTTPConfig controls the stats and metrics server.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// RedisConfig controls the ranked topic cache.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// TrendConfig controls topic intake.
type TrendConfig struct {
	SourceURL string        `yaml:"source_url"` // scraper endpoint; empty disables live intake
	Timeout   time.Duration `yaml:"timeout"`
	Freshness time.Duration `yaml:"freshness"` // max age of usable topic metrics
}

// PublishConfig controls rendering and platform API access.
type PublishConfig struct {
	MediaDir  string                       `yaml:"media_dir"`
	Timeout   time.Duration                `yaml:"timeout"`
	Endpoints map[string]publish.Endpoints `yaml:"endpoints"`
}

// Default returns the full default configuration.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		HTTP: HTTPConfig{
			Enabled: true,
			Addr:    ":8080",
		},
		Database: db.DefaultConfig(),
		Redis: RedisConfig{
			Addr: "localhost:6379",
			TTL:  5 * time.Minute,
		},
		Trend: TrendConfig{
			Timeout:   30 * time.Second,
			Freshness: 6 * time.Hour,
		},
		Bandit: bandit.DefaultConfig(),
		Gate:   gate.DefaultConfig(),
		Publish: PublishConfig{
			MediaDir: "media",
			Timeout:  60 * time.Second,
		},
		Breaker:   publish.DefaultBreakerConfig(),
		Scheduler: scheduler.DefaultConfig(),
	}
}

// Load reads a YAML config file over the defaults and validates the result.
// An empty path returns validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate ensures the configuration is usable. It fails fast: a process with
// a broken config must not start.
func (c *Config) Validate() error {
	if len(c.Scheduler.Platforms) == 0 {
		return fmt.Errorf("scheduler: at least one platform is required")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler: interval must be positive, got %s", c.Scheduler.Interval)
	}
	if c.Scheduler.MeasureAfter <= 0 {
		return fmt.Errorf("scheduler: measure_after must be positive, got %s", c.Scheduler.MeasureAfter)
	}
	for platform, d := range c.Scheduler.Intervals {
		if d <= 0 {
			return fmt.Errorf("scheduler: interval for %s must be positive, got %s", platform, d)
		}
	}

	if c.Bandit.Epsilon < 0 || c.Bandit.Epsilon > 1 {
		return fmt.Errorf("bandit: epsilon must be in [0,1], got %f", c.Bandit.Epsilon)
	}
	if c.Bandit.EpsilonMin > c.Bandit.EpsilonMax {
		return fmt.Errorf("bandit: epsilon_min (%f) must not exceed epsilon_max (%f)", c.Bandit.EpsilonMin, c.Bandit.EpsilonMax)
	}
	if c.Bandit.TopN <= 0 {
		return fmt.Errorf("bandit: top_n must be positive, got %d", c.Bandit.TopN)
	}

	if c.Gate.MaxPerDay <= 0 {
		return fmt.Errorf("gate: max_per_day must be positive, got %d", c.Gate.MaxPerDay)
	}
	if c.Gate.MinSpacing < 0 {
		return fmt.Errorf("gate: min_spacing cannot be negative, got %s", c.Gate.MinSpacing)
	}
	if c.Gate.BucketCapacity <= 0 {
		return fmt.Errorf("gate: bucket_capacity must be positive, got %d", c.Gate.BucketCapacity)
	}
	for platform, l := range c.Gate.Platforms {
		if l.MaxPerDay < 0 || l.BucketCapacity < 0 || l.MinSpacing < 0 || l.RefillInterval < 0 {
			return fmt.Errorf("gate: limits for %s must not be negative", platform)
		}
	}

	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		return fmt.Errorf("http: addr is required when the server is enabled")
	}
	if c.Database.Enabled && c.Database.DSN == "" {
		return fmt.Errorf("database: dsn is required when the database is enabled")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis: addr is required when redis is enabled")
	}
	return nil
}
