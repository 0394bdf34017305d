package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pulsecast/pulsecast/internal/persistence"
)

// publishRepo implements persistence.PublishWindowRepo on PostgreSQL. The
// daily count is a date-scoped aggregate over the publish log, so the counter
// "resets" at midnight without any clock-driven job.
type publishRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPublishRepo creates a PostgreSQL publish window repository.
func NewPublishRepo(db *sqlx.DB, timeout time.Duration) persistence.PublishWindowRepo {
	return &publishRepo{db: db, timeout: timeout}
}

func (r *publishRepo) State(ctx context.Context, platform string, today time.Time) (*persistence.PublishWindowState, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	dayStart := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location())

	query := `
		SELECT
			COUNT(*) FILTER (WHERE published_at >= $2 AND published_at < $3) AS published_today,
			MAX(published_at) AS last_published_at
		FROM platform_publishes
		WHERE platform = $1`

	state := &persistence.PublishWindowState{Platform: platform}
	row := r.db.QueryRowxContext(ctx, query, platform, dayStart, dayStart.Add(24*time.Hour))
	if err := row.Scan(&state.PublishedToday, &state.LastPublishedAt); err != nil {
		return nil, fmt.Errorf("failed to read publish window for %s: %w", platform, err)
	}
	return state, nil
}

func (r *publishRepo) RecordPublish(ctx context.Context, platform string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `INSERT INTO platform_publishes (platform, published_at) VALUES ($1, $2)`
	if _, err := r.db.ExecContext(ctx, query, platform, at); err != nil {
		return fmt.Errorf("failed to record publish for %s: %w", platform, err)
	}
	return nil
}

// snapshotStore implements persistence.BucketSnapshotStore on PostgreSQL as a
// fallback when Redis is not configured.
type snapshotStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSnapshotStore creates a PostgreSQL bucket snapshot store.
func NewSnapshotStore(db *sqlx.DB, timeout time.Duration) persistence.BucketSnapshotStore {
	return &snapshotStore{db: db, timeout: timeout}
}

func (s *snapshotStore) Save(ctx context.Context, snap persistence.BucketSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal bucket snapshot: %w", err)
	}

	query := `
		INSERT INTO bucket_snapshots (platform, snapshot, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (platform) DO UPDATE SET
			snapshot = EXCLUDED.snapshot,
			updated_at = EXCLUDED.updated_at`

	if _, err := s.db.ExecContext(ctx, query, snap.Platform, raw, snap.UpdatedAt); err != nil {
		return fmt.Errorf("failed to save bucket snapshot for %s: %w", snap.Platform, err)
	}
	return nil
}

func (s *snapshotStore) Load(ctx context.Context, platform string) (*persistence.BucketSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var raw []byte
	query := `SELECT snapshot FROM bucket_snapshots WHERE platform = $1`
	if err := s.db.QueryRowxContext(ctx, query, platform).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load bucket snapshot for %s: %w", platform, err)
	}

	var snap persistence.BucketSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bucket snapshot for %s: %w", platform, err)
	}
	return &snap, nil
}
