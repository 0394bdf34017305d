package trend

import (
	"context"
	"time"
)

// TopicMetrics is a raw observation of a candidate topic as delivered by the
// trend ingestion collaborator. Records are ephemeral; a newer scrape of the
// same topic supersedes an older one.
type TopicMetrics struct {
	Topic      string    `json:"topic" db:"topic"`
	Views      int64     `json:"views" db:"views"`
	Posts      int64     `json:"posts" db:"posts"`
	GrowthRate float64   `json:"growth_rate" db:"growth_rate"` // fraction, may be negative
	Category   string    `json:"category" db:"category"`
	Region     string    `json:"region" db:"region"`
	ScrapedAt  time.Time `json:"scraped_at" db:"scraped_at"`
}

// RankedTopic is a TopicMetrics with its computed ranking score attached.
type RankedTopic struct {
	TopicMetrics
	Score float64 `json:"score"`
}

// Source supplies the current batch of topic metrics. Implementations live
// outside the core (API clients, DB readers); the core only ranks and selects.
type Source interface {
	// ListTopics returns the most recent metrics per topic. It may include
	// stale records; callers filter by recency before ranking.
	ListTopics(ctx context.Context) ([]TopicMetrics, error)
}

// FilterFresh returns only the topics observed within the recency window
// ending at now. Order is preserved.
func FilterFresh(topics []TopicMetrics, window time.Duration, now time.Time) []TopicMetrics {
	cutoff := now.Add(-window)
	fresh := make([]TopicMetrics, 0, len(topics))
	for _, t := range topics {
		if !t.ScrapedAt.Before(cutoff) {
			fresh = append(fresh, t)
		}
	}
	return fresh
}
