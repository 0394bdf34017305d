package scoring

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pulsecast/pulsecast/internal/trend"
)

// Default category bonuses. AI-adjacent content outperforms on short-form
// platforms, so it carries the highest bonus; unknown categories get the base.
var defaultCategoryBonuses = map[string]float64{
	"ai":       2.2,
	"gpu_tech": 2.0,
	"crypto":   1.8,
	"gaming":   1.6,
	"trending": 1.5,
	"general":  1.0,
}

const defaultCategoryBonus = 1.0

// Engine turns raw topic metrics into a ranking score. Scoring is pure:
// identical inputs always produce identical output.
type Engine struct {
	bonuses map[string]float64
}

// NewEngine creates a scoring engine. Custom category bonuses override the
// defaults per category; pass nil to use the defaults unchanged.
func NewEngine(bonuses map[string]float64) *Engine {
	merged := make(map[string]float64, len(defaultCategoryBonuses)+len(bonuses))
	for k, v := range defaultCategoryBonuses {
		merged[k] = v
	}
	for k, v := range bonuses {
		merged[normalizeCategory(k)] = v
	}
	return &Engine{bonuses: merged}
}

// Breakdown carries the per-term composition of a score for explain surfaces.
type Breakdown struct {
	Topic          string    `json:"topic"`
	GrowthDelta    float64   `json:"growth_delta"`
	BaseScore      float64   `json:"base_score"`
	EngagementTerm float64   `json:"engagement_term"`
	CategoryBonus  float64   `json:"category_bonus"`
	Score          float64   `json:"score"`
	ComputedAt     time.Time `json:"computed_at"`
}

// Score computes the ranking score for one topic:
//
//	score = growth_delta * log10(views+1) + log10(views/max(posts,1)+1) + category_bonus
//
// prior is the same topic's metrics from the previous observation window, used
// to measure absolute view growth. With no prior window the growth delta falls
// back to views*0.1, an assumed 10% growth rather than a measurement.
func (e *Engine) Score(m trend.TopicMetrics, prior *trend.TopicMetrics) float64 {
	return e.ScoreDetail(m, prior).Score
}

// ScoreDetail is Score with the per-term breakdown retained.
func (e *Engine) ScoreDetail(m trend.TopicMetrics, prior *trend.TopicMetrics) Breakdown {
	growth := growthDelta(m, prior)
	base := growth * math.Log10(float64(m.Views)+1)
	engagement := engagementTerm(m.Views, m.Posts)
	bonus := e.categoryBonus(m.Category)

	return Breakdown{
		Topic:          m.Topic,
		GrowthDelta:    growth,
		BaseScore:      base,
		EngagementTerm: engagement,
		CategoryBonus:  bonus,
		Score:          base + engagement + bonus,
		ComputedAt:     m.ScrapedAt,
	}
}

// Rank scores each topic against its prior-window counterpart and returns the
// list ordered by score descending. priors is keyed by topic id; missing
// entries use the no-history fallback.
func (e *Engine) Rank(topics []trend.TopicMetrics, priors map[string]trend.TopicMetrics) []trend.RankedTopic {
	ranked := make([]trend.RankedTopic, 0, len(topics))
	for _, m := range topics {
		var prior *trend.TopicMetrics
		if p, ok := priors[m.Topic]; ok {
			prior = &p
		}
		ranked = append(ranked, trend.RankedTopic{
			TopicMetrics: m,
			Score:        e.Score(m, prior),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

func (e *Engine) categoryBonus(category string) float64 {
	if b, ok := e.bonuses[normalizeCategory(category)]; ok {
		return b
	}
	return defaultCategoryBonus
}

// growthDelta estimates the absolute view increase over the last observation
// window. Declines clamp to zero: scores reward growth, never penalize it.
func growthDelta(m trend.TopicMetrics, prior *trend.TopicMetrics) float64 {
	if prior == nil {
		return float64(m.Views) * 0.1
	}
	delta := float64(m.Views - prior.Views)
	if delta < 0 {
		return 0
	}
	return delta
}

// engagementTerm is log10(views/posts + 1), a diminishing-returns measure of
// views per post so one viral post cannot dominate the ranking. Zero posts
// means no engagement signal at all.
func engagementTerm(views, posts int64) float64 {
	if posts <= 0 {
		return 0
	}
	return math.Log10(float64(views)/float64(posts) + 1)
}

func normalizeCategory(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}
