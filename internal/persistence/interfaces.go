package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pulsecast/pulsecast/internal/reward"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("persistence: not found")

// Arm is the durable per-topic bandit statistics record. One row exists for
// every topic that has ever been selected; arms are never deleted.
type Arm struct {
	Topic          string     `json:"topic" db:"topic"`
	Selections     int64      `json:"selections" db:"selections"`
	TotalReward    float64    `json:"total_reward" db:"total_reward"`
	AvgReward      float64    `json:"avg_reward" db:"avg_reward"`
	LastSelectedAt *time.Time `json:"last_selected_at,omitempty" db:"last_selected_at"`
}

// Decision is one append-only record of a selection and, eventually, its
// real-world outcome. ActualReward stays nil until outcome metrics arrive;
// resolution targets the most recent open decision for the topic.
type Decision struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	Topic          string          `json:"topic" db:"topic"`
	DecidedAt      time.Time       `json:"decided_at" db:"decided_at"`
	ExpectedReward float64         `json:"expected_reward" db:"expected_reward"`
	ActualReward   *float64        `json:"actual_reward,omitempty" db:"actual_reward"`
	Outcome        *reward.Outcome `json:"outcome,omitempty"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
}

// PublishWindowState is the per-platform posting history view used by the
// publish gate. PublishedToday is always derived from a date-scoped read at
// query time, never from a stored counter, so the daily reset needs no job.
type PublishWindowState struct {
	Platform        string     `json:"platform" db:"platform"`
	PublishedToday  int        `json:"published_today" db:"published_today"`
	LastPublishedAt *time.Time `json:"last_published_at,omitempty" db:"last_published_at"`
}

// DecisionStats is the aggregate view served to dashboards.
type DecisionStats struct {
	TotalDecisions    int64   `json:"total_decisions"`
	ResolvedDecisions int64   `json:"resolved_decisions"`
	AvgReward         float64 `json:"avg_reward"`
	MaxReward         float64 `json:"max_reward"`
}

// ArmRepo owns Arm records. All mutations are single atomic operations against
// the store; callers never read-modify-write across round trips.
type ArmRepo interface {
	// RecordSelection atomically increments the selection count and stamps
	// last_selected_at, creating the arm if it does not exist.
	RecordSelection(ctx context.Context, topic string, at time.Time) error

	// RecordReward atomically adds to total_reward and refreshes avg_reward.
	// A reward for a topic with no recorded selection still lands: outcome
	// data can outlive a lost selection record.
	RecordReward(ctx context.Context, topic string, r float64) error

	// Get returns the arm for a topic, or ErrNotFound.
	Get(ctx context.Context, topic string) (*Arm, error)

	// GetBatch returns the existing arms among the given topics, keyed by
	// topic. Topics without an arm are simply absent.
	GetBatch(ctx context.Context, topics []string) (map[string]Arm, error)

	// TopByAvgReward returns up to n selected arms ordered by avg_reward
	// descending.
	TopByAvgReward(ctx context.Context, n int) ([]Arm, error)
}

// DecisionRepo owns the append-only decision log.
type DecisionRepo interface {
	// Append logs a new open decision.
	Append(ctx context.Context, d Decision) error

	// ResolveLatest attaches reward and outcome to the most recent open
	// decision for the topic (last-unresolved-wins). Returns ErrNotFound when
	// the topic has no open decision.
	ResolveLatest(ctx context.Context, topic string, r float64, o reward.Outcome, at time.Time) error

	// ListResolved returns resolved (topic, reward) pairs decided after the
	// cutoff, oldest first, for warm-starting the policy.
	ListResolved(ctx context.Context, since time.Time) ([]Decision, error)

	// Stats aggregates decisions decided after the cutoff.
	Stats(ctx context.Context, since time.Time) (*DecisionStats, error)
}

// PublishWindowRepo owns per-platform publish history. The gate is its only
// writer.
type PublishWindowRepo interface {
	// State returns a fresh publish window view for the platform. today scopes
	// the daily count; implementations count successful publishes whose
	// timestamp falls on the same calendar day.
	State(ctx context.Context, platform string, today time.Time) (*PublishWindowState, error)

	// RecordPublish appends a successful publish at the given time.
	RecordPublish(ctx context.Context, platform string, at time.Time) error
}

// BucketSnapshot is a persisted token bucket observation used to restore
// in-memory limiter state across restarts.
type BucketSnapshot struct {
	Platform  string    `json:"platform"`
	Tokens    float64   `json:"tokens"`
	Capacity  float64   `json:"capacity"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BucketSnapshotStore persists token bucket snapshots. Implementations may be
// lossy (best-effort): the bucket invariant is enforced in memory.
type BucketSnapshotStore interface {
	Save(ctx context.Context, s BucketSnapshot) error
	Load(ctx context.Context, platform string) (*BucketSnapshot, error)
}

// Repository aggregates the persistence interfaces handed to the core.
type Repository struct {
	Arms      ArmRepo
	Decisions DecisionRepo
	Windows   PublishWindowRepo
	Buckets   BucketSnapshotStore
}
