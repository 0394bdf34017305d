package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS bandit_arms (
		topic            TEXT PRIMARY KEY,
		selections       BIGINT NOT NULL DEFAULT 0,
		total_reward     DOUBLE PRECISION NOT NULL DEFAULT 0,
		avg_reward       DOUBLE PRECISION NOT NULL DEFAULT 0,
		last_selected_at TIMESTAMPTZ,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS bandit_decisions (
		id               UUID PRIMARY KEY,
		topic            TEXT NOT NULL,
		decided_at       TIMESTAMPTZ NOT NULL,
		expected_reward  DOUBLE PRECISION NOT NULL,
		actual_reward    DOUBLE PRECISION,
		outcome_views    BIGINT,
		outcome_likes    BIGINT,
		outcome_shares   BIGINT,
		outcome_comments BIGINT,
		resolved_at      TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_decisions_topic_open
		ON bandit_decisions (topic, decided_at DESC)
		WHERE actual_reward IS NULL`,
	`CREATE TABLE IF NOT EXISTS platform_publishes (
		id           BIGSERIAL PRIMARY KEY,
		platform     TEXT NOT NULL,
		published_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_publishes_platform_day
		ON platform_publishes (platform, published_at)`,
	`CREATE TABLE IF NOT EXISTS bucket_snapshots (
		platform   TEXT PRIMARY KEY,
		snapshot   JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
}

// EnsureSchema creates the tables and indexes the repositories depend on.
// Statements are idempotent; running against an existing schema is a no-op.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
