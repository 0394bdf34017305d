package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/pulsecast/pulsecast/internal/persistence"
	"github.com/pulsecast/pulsecast/internal/persistence/postgres"
)

// Config holds database connection configuration.
type Config struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
	Enabled         bool          `yaml:"enabled"`
}

// DefaultConfig returns reasonable defaults for database connections.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		QueryTimeout:    10 * time.Second,
		Enabled:         false, // requires explicit configuration
	}
}

// Manager manages the database connection and repository instances.
type Manager struct {
	db     *sqlx.DB
	config Config
	repos  *persistence.Repository
}

// NewManager opens the connection pool, verifies connectivity, ensures the
// schema, and wires the PostgreSQL repositories. With Enabled false it returns
// a manager with no repositories; callers fall back to in-memory stores.
func NewManager(ctx context.Context, config Config) (*Manager, error) {
	if !config.Enabled {
		return &Manager{config: config}, nil
	}

	if config.DSN == "" {
		return nil, fmt.Errorf("database DSN is required when enabled")
	}

	sqlDB, err := sqlx.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := postgres.EnsureSchema(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	repos := &persistence.Repository{
		Arms:      postgres.NewArmRepo(sqlDB, config.QueryTimeout),
		Decisions: postgres.NewDecisionRepo(sqlDB, config.QueryTimeout),
		Windows:   postgres.NewPublishRepo(sqlDB, config.QueryTimeout),
		Buckets:   postgres.NewSnapshotStore(sqlDB, config.QueryTimeout),
	}

	return &Manager{db: sqlDB, config: config, repos: repos}, nil
}

// Repository returns the repository collection, or nil if the database is
// disabled.
func (m *Manager) Repository() *persistence.Repository {
	return m.repos
}

// IsEnabled returns whether database persistence is active.
func (m *Manager) IsEnabled() bool {
	return m.config.Enabled && m.db != nil
}

// Ping tests basic connectivity.
func (m *Manager) Ping(ctx context.Context) error {
	if m.db == nil {
		return nil
	}
	return m.db.PingContext(ctx)
}

// Close closes the database connection.
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}
