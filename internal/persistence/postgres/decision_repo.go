package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pulsecast/pulsecast/internal/persistence"
	"github.com/pulsecast/pulsecast/internal/reward"
)

// decisionRepo implements persistence.DecisionRepo on PostgreSQL.
type decisionRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewDecisionRepo creates a PostgreSQL decision log.
func NewDecisionRepo(db *sqlx.DB, timeout time.Duration) persistence.DecisionRepo {
	return &decisionRepo{db: db, timeout: timeout}
}

func (r *decisionRepo) Append(ctx context.Context, d persistence.Decision) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO bandit_decisions (id, topic, decided_at, expected_reward)
		VALUES ($1, $2, $3, $4)`

	if _, err := r.db.ExecContext(ctx, query, d.ID, d.Topic, d.DecidedAt, d.ExpectedReward); err != nil {
		return fmt.Errorf("failed to append decision for %s: %w", d.Topic, err)
	}
	return nil
}

func (r *decisionRepo) ResolveLatest(ctx context.Context, topic string, rw float64, o reward.Outcome, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Last-unresolved-wins: the subquery pins the newest open decision so the
	// update stays a single atomic statement.
	query := `
		UPDATE bandit_decisions SET
			actual_reward = $1,
			outcome_views = $2,
			outcome_likes = $3,
			outcome_shares = $4,
			outcome_comments = $5,
			resolved_at = $6
		WHERE id = (
			SELECT id FROM bandit_decisions
			WHERE topic = $7 AND actual_reward IS NULL
			ORDER BY decided_at DESC
			LIMIT 1
		)`

	res, err := r.db.ExecContext(ctx, query, rw, o.Views, o.Likes, o.Shares, o.Comments, at, topic)
	if err != nil {
		return fmt.Errorf("failed to resolve decision for %s: %w", topic, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check resolve result for %s: %w", topic, err)
	}
	if rows == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (r *decisionRepo) ListResolved(ctx context.Context, since time.Time) ([]persistence.Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, topic, decided_at, expected_reward, actual_reward, resolved_at,
			outcome_views, outcome_likes, outcome_shares, outcome_comments
		FROM bandit_decisions
		WHERE actual_reward IS NOT NULL AND decided_at >= $1
		ORDER BY decided_at ASC`

	rows, err := r.db.QueryxContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list resolved decisions: %w", err)
	}
	defer rows.Close()

	var out []persistence.Decision
	for rows.Next() {
		var (
			d       persistence.Decision
			views   *int64
			likes   *int64
			shares  *int64
			comment *int64
		)
		if err := rows.Scan(&d.ID, &d.Topic, &d.DecidedAt, &d.ExpectedReward,
			&d.ActualReward, &d.ResolvedAt, &views, &likes, &shares, &comment); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		if views != nil {
			d.Outcome = &reward.Outcome{
				Views:    *views,
				Likes:    deref(likes),
				Shares:   deref(shares),
				Comments: deref(comment),
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *decisionRepo) Stats(ctx context.Context, since time.Time) (*persistence.DecisionStats, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(actual_reward) AS resolved,
			COALESCE(AVG(actual_reward), 0) AS avg_reward,
			COALESCE(MAX(actual_reward), 0) AS max_reward
		FROM bandit_decisions
		WHERE decided_at >= $1`

	var stats persistence.DecisionStats
	row := r.db.QueryRowxContext(ctx, query, since)
	if err := row.Scan(&stats.TotalDecisions, &stats.ResolvedDecisions,
		&stats.AvgReward, &stats.MaxReward); err != nil {
		return nil, fmt.Errorf("failed to aggregate decision stats: %w", err)
	}
	return &stats, nil
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
