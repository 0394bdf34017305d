package publish

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// BreakerConfig tunes the per-platform circuit breaker.
type BreakerConfig struct {
	MaxRequests         uint32        `yaml:"max_requests"`         // probes allowed half-open
	Interval            time.Duration `yaml:"interval"`             // closed-state count reset
	Timeout             time.Duration `yaml:"timeout"`              // open-state cooldown
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"` // trip threshold
}

// DefaultBreakerConfig returns conservative upload protection: platform APIs
// that start failing usually keep failing for a while.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            5 * time.Minute,
		Timeout:             10 * time.Minute,
		ConsecutiveFailures: 3,
	}
}

// BreakerPublisher wraps a Publisher with one gobreaker per platform, so a
// broken upload endpoint on one platform never blocks posting to another.
// Throttle responses do not count as failures; the gate's backoff handles
// those.
type BreakerPublisher struct {
	inner Publisher
	cfg   BreakerConfig

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerPublisher wraps inner with circuit breaking.
func NewBreakerPublisher(inner Publisher, cfg BreakerConfig) *BreakerPublisher {
	return &BreakerPublisher{
		inner:    inner,
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (b *BreakerPublisher) Publish(ctx context.Context, platform string, asset *Asset) (*Result, error) {
	out, err := b.breaker(platform).Execute(func() (interface{}, error) {
		res, err := b.inner.Publish(ctx, platform, asset)
		if err != nil {
			return nil, err
		}
		if res.Throttled() {
			// Rate limiting is backpressure, not breakage.
			return res, nil
		}
		if !res.Success {
			return res, fmt.Errorf("publish to %s failed with status %d", platform, res.StatusCode)
		}
		return res, nil
	})
	if err != nil {
		if res, ok := out.(*Result); ok {
			return res, err
		}
		return nil, err
	}
	return out.(*Result), nil
}

func (b *BreakerPublisher) breaker(platform string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.breakers[platform]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "publish:" + platform,
		MaxRequests: b.cfg.MaxRequests,
		Interval:    b.cfg.Interval,
		Timeout:     b.cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= b.cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("publish circuit state changed")
		},
	})
	b.breakers[platform] = cb
	return cb
}
