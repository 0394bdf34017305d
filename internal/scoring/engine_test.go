package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsecast/pulsecast/internal/trend"
)

func metricsFixture(topic string, views, posts int64, category string) trend.TopicMetrics {
	return trend.TopicMetrics{
		Topic:     topic,
		Views:     views,
		Posts:     posts,
		Category:  category,
		Region:    "US",
		ScrapedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestScoreDeterministic(t *testing.T) {
	e := NewEngine(nil)
	m := metricsFixture("#ai", 120000, 340, "ai")
	prior := metricsFixture("#ai", 90000, 300, "ai")

	first := e.Score(m, &prior)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, e.Score(m, &prior))
	}
}

func TestScoreNonNegative(t *testing.T) {
	e := NewEngine(nil)
	cases := []struct {
		name  string
		m     trend.TopicMetrics
		prior *trend.TopicMetrics
	}{
		{"zero everything", metricsFixture("#x", 0, 0, ""), nil},
		{"declining views", metricsFixture("#x", 100, 10, "gaming"), ptr(metricsFixture("#x", 5000, 10, "gaming"))},
		{"no posts", metricsFixture("#x", 10000, 0, "crypto"), nil},
		{"unknown category", metricsFixture("#x", 500, 5, "knitting"), nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.GreaterOrEqual(t, e.Score(tc.m, tc.prior), 0.0)
		})
	}
}

func TestScoreFormula(t *testing.T) {
	e := NewEngine(nil)
	m := metricsFixture("#gpu", 9999, 100, "gpu_tech")
	prior := metricsFixture("#gpu", 7999, 90, "gpu_tech")

	b := e.ScoreDetail(m, &prior)

	require.Equal(t, 2000.0, b.GrowthDelta)
	assert.InDelta(t, 2000*math.Log10(10000), b.BaseScore, 1e-9)
	assert.InDelta(t, math.Log10(9999.0/100+1), b.EngagementTerm, 1e-9)
	assert.Equal(t, 2.0, b.CategoryBonus)
	assert.InDelta(t, b.BaseScore+b.EngagementTerm+b.CategoryBonus, b.Score, 1e-9)
}

func TestScoreNoHistoryFallback(t *testing.T) {
	e := NewEngine(nil)
	m := metricsFixture("#new", 1000, 10, "general")

	// No prior window: growth delta assumes 10% of current volume.
	b := e.ScoreDetail(m, nil)
	assert.InDelta(t, 100.0, b.GrowthDelta, 1e-9)
}

func TestScoreNegativeGrowthClamps(t *testing.T) {
	e := NewEngine(nil)
	m := metricsFixture("#fading", 800, 20, "general")
	prior := metricsFixture("#fading", 2000, 20, "general")

	b := e.ScoreDetail(m, &prior)
	assert.Equal(t, 0.0, b.GrowthDelta)
	assert.Equal(t, 0.0, b.BaseScore)
	// Engagement and category bonus still contribute.
	assert.Greater(t, b.Score, 0.0)
}

func TestScoreZeroPostsZeroEngagement(t *testing.T) {
	e := NewEngine(nil)
	m := metricsFixture("#quiet", 5000, 0, "general")
	assert.Equal(t, 0.0, e.ScoreDetail(m, nil).EngagementTerm)
}

func TestCategoryBonusLookup(t *testing.T) {
	e := NewEngine(nil)
	assert.Equal(t, 2.2, e.categoryBonus("AI"))
	assert.Equal(t, 1.8, e.categoryBonus("crypto"))
	assert.Equal(t, 1.0, e.categoryBonus("no-such-category"))

	custom := NewEngine(map[string]float64{"music": 1.9})
	assert.Equal(t, 1.9, custom.categoryBonus("music"))
	assert.Equal(t, 2.2, custom.categoryBonus("ai"))
}

func TestRankOrdersByScoreDescending(t *testing.T) {
	e := NewEngine(nil)
	topics := []trend.TopicMetrics{
		metricsFixture("#small", 100, 10, "general"),
		metricsFixture("#big", 1000000, 500, "ai"),
		metricsFixture("#mid", 50000, 200, "gaming"),
	}

	ranked := e.Rank(topics, nil)
	require.Len(t, ranked, 3)
	assert.Equal(t, "#big", ranked[0].Topic)
	assert.True(t, ranked[0].Score >= ranked[1].Score)
	assert.True(t, ranked[1].Score >= ranked[2].Score)
}

func ptr(m trend.TopicMetrics) *trend.TopicMetrics { return &m }
