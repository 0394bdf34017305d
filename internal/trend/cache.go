package trend

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const rankedKey = "pulsecast:ranked_topics"

// Cache holds the most recent ranking result so that independent scheduler
// loops (one per platform) share one ranking pass instead of re-scoring.
type Cache interface {
	Get(ctx context.Context) ([]RankedTopic, bool)
	Set(ctx context.Context, topics []RankedTopic, ttl time.Duration)
}

type memoryCache struct {
	mu     sync.Mutex
	topics []RankedTopic
	exp    time.Time
}

// NewMemoryCache returns a process-local ranking cache.
func NewMemoryCache() Cache { return &memoryCache{} }

func (c *memoryCache) Get(ctx context.Context) ([]RankedTopic, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.topics == nil || time.Now().After(c.exp) {
		return nil, false
	}
	out := make([]RankedTopic, len(c.topics))
	copy(out, c.topics)
	return out, true
}

func (c *memoryCache) Set(ctx context.Context, topics []RankedTopic, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append([]RankedTopic(nil), topics...)
	c.exp = time.Now().Add(ttl)
}

type redisCache struct {
	r       *redis.Client
	timeout time.Duration
}

// NewRedisCache returns a Redis-backed ranking cache shared across processes.
func NewRedisCache(client *redis.Client, timeout time.Duration) Cache {
	return &redisCache{r: client, timeout: timeout}
}

func (c *redisCache) Get(ctx context.Context) ([]RankedTopic, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.r.Get(ctx, rankedKey).Bytes()
	if err != nil {
		return nil, false
	}
	var topics []RankedTopic
	if err := json.Unmarshal(raw, &topics); err != nil {
		return nil, false
	}
	return topics, true
}

func (c *redisCache) Set(ctx context.Context, topics []RankedTopic, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := json.Marshal(topics)
	if err != nil {
		return
	}
	_ = c.r.Set(ctx, rankedKey, raw, ttl).Err()
}
