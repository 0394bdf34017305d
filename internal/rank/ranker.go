// Package rank composes the trend source, the scoring engine, and the ranking
// cache into the candidate feed consumed by the selection policy.
package rank

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pulsecast/pulsecast/internal/scoring"
	"github.com/pulsecast/pulsecast/internal/trend"
)

// Ranker turns raw topic metrics into a scored, ordered candidate list. It
// keeps the previous observation per topic so the scoring engine can compute
// growth against real history, and serves repeated calls from the cache.
type Ranker struct {
	source    trend.Source
	engine    *scoring.Engine
	cache     trend.Cache
	freshness time.Duration
	ttl       time.Duration

	mu    sync.Mutex
	prior map[string]trend.TopicMetrics

	now func() time.Time
}

// NewRanker builds a ranker. cache may be nil to disable caching.
func NewRanker(source trend.Source, engine *scoring.Engine, cache trend.Cache, freshness, ttl time.Duration) *Ranker {
	return &Ranker{
		source:    source,
		engine:    engine,
		cache:     cache,
		freshness: freshness,
		ttl:       ttl,
		prior:     make(map[string]trend.TopicMetrics),
		now:       time.Now,
	}
}

// TopRanked returns up to n topics ordered by score descending.
func (r *Ranker) TopRanked(ctx context.Context, n int) ([]trend.RankedTopic, error) {
	if r.cache != nil {
		if ranked, ok := r.cache.Get(ctx); ok {
			return head(ranked, n), nil
		}
	}

	topics, err := r.source.ListTopics(ctx)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}

	now := r.now()
	fresh := trend.FilterFresh(topics, r.freshness, now)
	if dropped := len(topics) - len(fresh); dropped > 0 {
		log.Debug().Int("dropped", dropped).Dur("freshness", r.freshness).Msg("stale topics filtered")
	}

	ranked := r.engine.Rank(fresh, r.takePriors(fresh))

	if r.cache != nil {
		r.cache.Set(ctx, ranked, r.ttl)
	}
	return head(ranked, n), nil
}

// takePriors returns the previous observation per incoming topic and then
// replaces it with the current one.
func (r *Ranker) takePriors(current []trend.TopicMetrics) map[string]trend.TopicMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	priors := make(map[string]trend.TopicMetrics, len(current))
	for _, m := range current {
		if p, ok := r.prior[m.Topic]; ok {
			priors[m.Topic] = p
		}
	}
	for _, m := range current {
		r.prior[m.Topic] = m
	}
	return priors
}

func head(ranked []trend.RankedTopic, n int) []trend.RankedTopic {
	if n > 0 && len(ranked) > n {
		return ranked[:n]
	}
	return ranked
}
