package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pulsecast/pulsecast/internal/persistence"
)

// armRepo implements persistence.ArmRepo on PostgreSQL. Every mutation is a
// single upsert statement so concurrent scheduler loops stay correct without
// application-side locking.
type armRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewArmRepo creates a PostgreSQL arm repository.
func NewArmRepo(db *sqlx.DB, timeout time.Duration) persistence.ArmRepo {
	return &armRepo{db: db, timeout: timeout}
}

func (r *armRepo) RecordSelection(ctx context.Context, topic string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO bandit_arms (topic, selections, total_reward, avg_reward, last_selected_at)
		VALUES ($1, 1, 0, 0, $2)
		ON CONFLICT (topic) DO UPDATE SET
			selections = bandit_arms.selections + 1,
			avg_reward = bandit_arms.total_reward / (bandit_arms.selections + 1),
			last_selected_at = EXCLUDED.last_selected_at`

	if _, err := r.db.ExecContext(ctx, query, topic, at); err != nil {
		return fmt.Errorf("failed to record selection for %s: %w", topic, err)
	}
	return nil
}

func (r *armRepo) RecordReward(ctx context.Context, topic string, reward float64) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// The arm may not exist when a selection record was lost; the reward still
	// lands with selections=0 and avg computed against max(selections,1).
	query := `
		INSERT INTO bandit_arms (topic, selections, total_reward, avg_reward)
		VALUES ($1, 0, $2, $2)
		ON CONFLICT (topic) DO UPDATE SET
			total_reward = bandit_arms.total_reward + EXCLUDED.total_reward,
			avg_reward = (bandit_arms.total_reward + EXCLUDED.total_reward)
				/ GREATEST(bandit_arms.selections, 1)`

	if _, err := r.db.ExecContext(ctx, query, topic, reward); err != nil {
		return fmt.Errorf("failed to record reward for %s: %w", topic, err)
	}
	return nil
}

func (r *armRepo) Get(ctx context.Context, topic string) (*persistence.Arm, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var arm persistence.Arm
	query := `
		SELECT topic, selections, total_reward, avg_reward, last_selected_at
		FROM bandit_arms
		WHERE topic = $1`

	if err := r.db.GetContext(ctx, &arm, query, topic); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get arm %s: %w", topic, err)
	}
	return &arm, nil
}

func (r *armRepo) GetBatch(ctx context.Context, topics []string) (map[string]persistence.Arm, error) {
	if len(topics) == 0 {
		return map[string]persistence.Arm{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query, args, err := sqlx.In(`
		SELECT topic, selections, total_reward, avg_reward, last_selected_at
		FROM bandit_arms
		WHERE topic IN (?)`, topics)
	if err != nil {
		return nil, fmt.Errorf("failed to build arm batch query: %w", err)
	}

	var arms []persistence.Arm
	if err := r.db.SelectContext(ctx, &arms, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to batch get arms: %w", err)
	}

	out := make(map[string]persistence.Arm, len(arms))
	for _, arm := range arms {
		out[arm.Topic] = arm
	}
	return out, nil
}

func (r *armRepo) TopByAvgReward(ctx context.Context, n int) ([]persistence.Arm, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT topic, selections, total_reward, avg_reward, last_selected_at
		FROM bandit_arms
		WHERE selections > 0
		ORDER BY avg_reward DESC
		LIMIT $1`

	var arms []persistence.Arm
	if err := r.db.SelectContext(ctx, &arms, query, n); err != nil {
		return nil, fmt.Errorf("failed to list top arms: %w", err)
	}
	return arms, nil
}
