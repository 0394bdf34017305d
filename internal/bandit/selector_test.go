package bandit

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsecast/pulsecast/internal/persistence"
	"github.com/pulsecast/pulsecast/internal/persistence/memory"
	"github.com/pulsecast/pulsecast/internal/reward"
	"github.com/pulsecast/pulsecast/internal/trend"
)

type stubCandidates struct {
	pool []trend.RankedTopic
	err  error
}

func (s *stubCandidates) TopRanked(ctx context.Context, n int) ([]trend.RankedTopic, error) {
	if s.err != nil {
		return nil, s.err
	}
	if n < len(s.pool) {
		return s.pool[:n], nil
	}
	return s.pool, nil
}

type failingArms struct{}

func (failingArms) RecordSelection(ctx context.Context, topic string, at time.Time) error {
	return nil
}
func (failingArms) RecordReward(ctx context.Context, topic string, reward float64) error {
	return nil
}
func (failingArms) Get(ctx context.Context, topic string) (*persistence.Arm, error) {
	return nil, errors.New("ledger down")
}
func (failingArms) GetBatch(ctx context.Context, topics []string) (map[string]persistence.Arm, error) {
	return nil, errors.New("ledger down")
}
func (failingArms) TopByAvgReward(ctx context.Context, n int) ([]persistence.Arm, error) {
	return nil, errors.New("ledger down")
}

func rankedPool(topics ...string) []trend.RankedTopic {
	pool := make([]trend.RankedTopic, len(topics))
	for i, t := range topics {
		pool[i] = trend.RankedTopic{
			TopicMetrics: trend.TopicMetrics{Topic: t, Views: 1000},
			Score:        float64(100 - i),
		}
	}
	return pool
}

func newTestSelector(t *testing.T, pool []trend.RankedTopic, epsilon float64, seed int64) (*Selector, *persistence.Repository) {
	t.Helper()
	repo := memory.NewRepository()
	cfg := DefaultConfig()
	cfg.Epsilon = epsilon
	cfg.EpsilonMin = epsilon
	cfg.EpsilonMax = epsilon
	sel := NewSelector(&stubCandidates{pool: pool}, repo.Arms, repo.Decisions, cfg, rand.New(rand.NewSource(seed)))
	return sel, repo
}

func TestSelectFallbackWhenNoCandidates(t *testing.T) {
	sel, _ := newTestSelector(t, nil, 0, 1)

	got := sel.Select(context.Background())

	assert.Equal(t, StateNoCandidates, got.State)
	assert.Contains(t, DefaultConfig().FallbackTopics, got.Topic)
	assert.NotEqual(t, "", got.DecisionID.String())
}

func TestSelectFallbackWhenSourceFails(t *testing.T) {
	repo := memory.NewRepository()
	sel := NewSelector(&stubCandidates{err: errors.New("scrape failed")}, repo.Arms, repo.Decisions, DefaultConfig(), rand.New(rand.NewSource(1)))

	got := sel.Select(context.Background())

	assert.Equal(t, StateNoCandidates, got.State)
	assert.Contains(t, DefaultConfig().FallbackTopics, got.Topic)
}

func TestSelectColdStartPriority(t *testing.T) {
	pool := rankedPool("#a", "#b", "#c", "#d", "#e")
	sel, repo := newTestSelector(t, pool, 0, 1)
	ctx := context.Background()

	// Give every arm except #c and #e some history.
	for _, topic := range []string{"#a", "#b", "#d"} {
		require.NoError(t, repo.Arms.RecordSelection(ctx, topic, time.Now()))
		require.NoError(t, repo.Arms.RecordReward(ctx, topic, 90))
	}

	got := sel.Select(ctx)
	assert.Equal(t, StateExploiting, got.State)
	assert.Equal(t, "#c", got.Topic, "first cold arm in ranked order must win over high averages")

	// #c now has a selection; the next cold arm is #e.
	got = sel.Select(ctx)
	assert.Equal(t, "#e", got.Topic)
}

func TestSelectExploitsHighestAverage(t *testing.T) {
	pool := rankedPool("#a", "#b", "#c")
	sel, repo := newTestSelector(t, pool, 0, 1)
	ctx := context.Background()

	rewards := map[string]float64{"#a": 10, "#b": 80, "#c": 40}
	for topic, r := range rewards {
		require.NoError(t, repo.Arms.RecordSelection(ctx, topic, time.Now()))
		require.NoError(t, repo.Arms.RecordReward(ctx, topic, r))
	}

	for i := 0; i < 20; i++ {
		got := sel.Select(ctx)
		assert.Equal(t, StateExploiting, got.State)
		assert.Equal(t, "#b", got.Topic)
		// Keep #b's average ahead despite repeated selections.
		require.NoError(t, repo.Arms.RecordReward(ctx, "#b", 80))
	}
}

func TestSelectExplorationIsUniform(t *testing.T) {
	pool := rankedPool("#a", "#b", "#c", "#d", "#e")
	sel, _ := newTestSelector(t, pool, 1.0, 42)
	ctx := context.Background()

	const trials = 10000
	counts := map[string]int{}
	for i := 0; i < trials; i++ {
		got := sel.Select(ctx)
		require.Equal(t, StateExploring, got.State)
		counts[got.Topic]++
	}

	expected := float64(trials) / float64(len(pool))
	for topic, n := range counts {
		assert.InDelta(t, expected, float64(n), 0.05*float64(trials),
			"topic %s drawn %d times, expected ~%.0f", topic, n, expected)
	}
}

func TestSelectColdStartThenExploration(t *testing.T) {
	pool := rankedPool("#a", "#b", "#c", "#d", "#e")
	sel, repo := newTestSelector(t, pool, 0.1, 99)
	ctx := context.Background()

	const trials = 1000
	seen := map[string]bool{}
	exploring := 0
	for i := 0; i < trials; i++ {
		got := sel.Select(ctx)
		if got.State == StateExploring {
			exploring++
		}
		// Until every arm has been tried once, a repeat can only come from an
		// exploration draw: exploitation always picks the first cold arm.
		if len(seen) < len(pool) && seen[got.Topic] {
			require.Equal(t, StateExploring, got.State,
				"repeat of %s before full coverage must be exploration", got.Topic)
		}
		seen[got.Topic] = true
	}

	assert.Len(t, seen, len(pool), "every candidate must be tried")
	assert.InDelta(t, 0.1*trials, float64(exploring), 0.04*trials,
		"exploration share should track epsilon")

	for _, c := range pool {
		arm, err := repo.Arms.Get(ctx, c.Topic)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, arm.Selections, int64(1))
	}
}

func TestSelectDegradesWhenLedgerUnreachable(t *testing.T) {
	pool := rankedPool("#a", "#b", "#c")
	repo := memory.NewRepository()
	cfg := DefaultConfig()
	cfg.Epsilon = 0
	cfg.EpsilonMin = 0
	sel := NewSelector(&stubCandidates{pool: pool}, failingArms{}, repo.Decisions, cfg, rand.New(rand.NewSource(1)))

	got := sel.Select(context.Background())

	assert.True(t, got.Degraded)
	assert.Equal(t, StateExploring, got.State)
	assert.Contains(t, []string{"#a", "#b", "#c"}, got.Topic)
}

func TestSelectLogsDecisionAndSelection(t *testing.T) {
	pool := rankedPool("#a")
	sel, repo := newTestSelector(t, pool, 0, 1)
	ctx := context.Background()

	got := sel.Select(ctx)

	arm, err := repo.Arms.Get(ctx, "#a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), arm.Selections)

	stats, err := repo.Decisions.Stats(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalDecisions)
	assert.Equal(t, int64(0), stats.ResolvedDecisions)
	assert.Equal(t, "#a", got.Topic)
}

func TestWarmStartReplaysResolvedDecisions(t *testing.T) {
	repo := memory.NewRepository()
	ctx := context.Background()
	now := time.Now()

	appendResolved := func(topic string, r float64, at time.Time) {
		d := persistence.Decision{ID: uuid.New(), Topic: topic, DecidedAt: at, ExpectedReward: 1}
		require.NoError(t, repo.Decisions.Append(ctx, d))
		require.NoError(t, repo.Decisions.ResolveLatest(ctx, topic, r, reward.Outcome{}, at.Add(time.Hour)))
	}

	appendResolved("#a", 60, now.Add(-48*time.Hour))
	appendResolved("#a", 40, now.Add(-24*time.Hour))
	appendResolved("#b", 20, now.Add(-time.Hour))
	// Outside the window, must not be replayed.
	appendResolved("#old", 99, now.Add(-10*24*time.Hour))

	arms := memory.NewArmStore()
	n, err := WarmStart(ctx, repo.Decisions, arms, 7*24*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	a, err := arms.Get(ctx, "#a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), a.Selections)
	assert.InDelta(t, 50.0, a.AvgReward, 1e-9)

	_, err = arms.Get(ctx, "#old")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}
