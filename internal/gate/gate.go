// Package gate enforces hard publish admission requirements per platform:
// daily volume cap, minimum spacing between posts, and a token bucket for
// burst control. Checks are evaluated in order and short-circuit on the first
// failure; the bucket is only debited when every prior check passes.
package gate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/pulsecast/pulsecast/internal/persistence"
)

// Limits are the publish thresholds for one platform. Zero fields fall back
// to the gate-wide defaults, so an override only names what differs.
type Limits struct {
	MaxPerDay      int           `yaml:"max_per_day"`     // successful publishes per calendar day
	MinSpacing     time.Duration `yaml:"min_spacing"`     // minimum gap between publishes
	BucketCapacity int           `yaml:"bucket_capacity"` // token bucket burst size
	RefillInterval time.Duration `yaml:"refill_interval"` // time to regenerate one token
}

// Config contains hard thresholds for publish gates. The top-level limits
// apply to every platform unless a per-platform override names a tighter or
// looser value; platform APIs differ widely in what posting volume they
// tolerate.
type Config struct {
	MaxPerDay      int           `yaml:"max_per_day"`
	MinSpacing     time.Duration `yaml:"min_spacing"`
	BucketCapacity int           `yaml:"bucket_capacity"`
	RefillInterval time.Duration `yaml:"refill_interval"`

	// Per-platform overrides keyed by platform name.
	Platforms map[string]Limits `yaml:"platforms"`

	// Throttle backoff applied when the platform answers 429.
	BaseBackoff time.Duration `yaml:"base_backoff"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// DefaultConfig returns production publish limits.
func DefaultConfig() Config {
	return Config{
		MaxPerDay:      2,
		MinSpacing:     120 * time.Minute,
		BucketCapacity: 3,
		RefillInterval: 4 * time.Hour,
		BaseBackoff:    4 * time.Second,
		MaxAttempts:    5,
	}
}

// LimitsFor resolves the effective limits for a platform: the override where
// one is set, the gate-wide default otherwise.
func (c Config) LimitsFor(platform string) Limits {
	l := Limits{
		MaxPerDay:      c.MaxPerDay,
		MinSpacing:     c.MinSpacing,
		BucketCapacity: c.BucketCapacity,
		RefillInterval: c.RefillInterval,
	}
	o, ok := c.Platforms[platform]
	if !ok {
		return l
	}
	if o.MaxPerDay > 0 {
		l.MaxPerDay = o.MaxPerDay
	}
	if o.MinSpacing > 0 {
		l.MinSpacing = o.MinSpacing
	}
	if o.BucketCapacity > 0 {
		l.BucketCapacity = o.BucketCapacity
	}
	if o.RefillInterval > 0 {
		l.RefillInterval = o.RefillInterval
	}
	return l
}

// Check records a single gate evaluation.
type Check struct {
	Name        string      `json:"name"`
	Passed      bool        `json:"passed"`
	Value       interface{} `json:"value"`
	Threshold   interface{} `json:"threshold"`
	Description string      `json:"description"`
}

// Verdict is the full result of an admission evaluation. RetryAfter is the
// earliest delay after which re-evaluation can pass; zero means either the
// verdict allowed, or the block is calendar-bound (daily cap).
type Verdict struct {
	Platform       string        `json:"platform"`
	Timestamp      time.Time     `json:"timestamp"`
	Allowed        bool          `json:"allowed"`
	Checks         []*Check      `json:"checks"`
	FailureReasons []string      `json:"failure_reasons"`
	RetryAfter     time.Duration `json:"retry_after"`
}

// Gate evaluates publish admission for one or more platforms. Publish history
// is read fresh from the window repo on every evaluation; the daily count is
// never cached, so the midnight reset needs no scheduled job.
type Gate struct {
	windows   persistence.PublishWindowRepo
	snapshots persistence.BucketSnapshotStore
	cfg       Config

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	now     func() time.Time
}

// New creates a gate. snapshots may be nil when bucket state should not
// survive restarts.
func New(windows persistence.PublishWindowRepo, snapshots persistence.BucketSnapshotStore, cfg Config) *Gate {
	return &Gate{
		windows:   windows,
		snapshots: snapshots,
		cfg:       cfg,
		buckets:   make(map[string]*rate.Limiter),
		now:       time.Now,
	}
}

// WithClock overrides the time source. The composition root uses it to keep
// the gate and the scheduler on one clock.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Evaluate runs the ordered admission checks for a platform. A store read
// failure fails closed: no verdict, just the error.
func (g *Gate) Evaluate(ctx context.Context, platform string) (*Verdict, error) {
	now := g.now()
	verdict := &Verdict{
		Platform:  platform,
		Timestamp: now,
	}

	limits := g.cfg.LimitsFor(platform)

	state, err := g.windows.State(ctx, platform, now)
	if err != nil {
		return nil, fmt.Errorf("publish window read for %s: %w", platform, err)
	}

	// Gate 1: daily cap.
	capCheck := &Check{
		Name:        "daily_cap",
		Value:       state.PublishedToday,
		Threshold:   limits.MaxPerDay,
		Passed:      state.PublishedToday < limits.MaxPerDay,
		Description: fmt.Sprintf("published %d of %d today", state.PublishedToday, limits.MaxPerDay),
	}
	verdict.Checks = append(verdict.Checks, capCheck)
	if !capCheck.Passed {
		verdict.FailureReasons = append(verdict.FailureReasons, "daily cap reached")
		return verdict, nil
	}

	// Gate 2: minimum spacing since the last successful publish.
	var sinceLast time.Duration
	spacingCheck := &Check{
		Name:      "min_spacing",
		Threshold: limits.MinSpacing,
		Passed:    true,
	}
	if state.LastPublishedAt != nil {
		sinceLast = now.Sub(*state.LastPublishedAt)
		spacingCheck.Value = sinceLast
		spacingCheck.Passed = sinceLast >= limits.MinSpacing
		spacingCheck.Description = fmt.Sprintf("%s since last publish, need %s", sinceLast.Round(time.Second), limits.MinSpacing)
	} else {
		spacingCheck.Description = "no prior publish"
	}
	verdict.Checks = append(verdict.Checks, spacingCheck)
	if !spacingCheck.Passed {
		verdict.FailureReasons = append(verdict.FailureReasons, "minimum spacing not met")
		verdict.RetryAfter = limits.MinSpacing - sinceLast
		return verdict, nil
	}

	// Gate 3: token bucket. Evaluated last so denied verdicts from earlier
	// gates never consume a token.
	limiter := g.bucket(platform)
	reservation := limiter.ReserveN(now, 1)
	delay := reservation.DelayFrom(now)
	bucketCheck := &Check{
		Name:        "token_bucket",
		Value:       limiter.TokensAt(now),
		Threshold:   1.0,
		Passed:      delay == 0,
		Description: fmt.Sprintf("%.2f tokens available, capacity %d", limiter.TokensAt(now), limits.BucketCapacity),
	}
	verdict.Checks = append(verdict.Checks, bucketCheck)
	if delay > 0 {
		reservation.CancelAt(now)
		verdict.FailureReasons = append(verdict.FailureReasons, "token bucket empty")
		verdict.RetryAfter = delay
		return verdict, nil
	}

	verdict.Allowed = true
	return verdict, nil
}

// RecordPublish acknowledges a successful publish. It must only be called
// after the platform confirmed the post; failed attempts do not count against
// the daily cap or spacing window.
func (g *Gate) RecordPublish(ctx context.Context, platform string) error {
	now := g.now()
	if err := g.windows.RecordPublish(ctx, platform, now); err != nil {
		return fmt.Errorf("record publish for %s: %w", platform, err)
	}
	g.saveSnapshot(ctx, platform)
	return nil
}

// ThrottleBackoff computes the wait before retry attempt n (1-based) after a
// platform throttle response. A server-provided retry-after takes precedence
// over the exponential schedule. ok is false once attempts are exhausted.
func (g *Gate) ThrottleBackoff(attempt int, retryAfter time.Duration) (wait time.Duration, ok bool) {
	if attempt > g.cfg.MaxAttempts {
		return 0, false
	}
	if retryAfter > 0 {
		return retryAfter, true
	}
	wait = g.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		wait *= 2
	}
	return wait, true
}

// RestoreBuckets rebuilds limiter state from persisted snapshots so a restart
// does not reset burst allowances. Missing or stale snapshots leave the bucket
// full, which only errs toward posting sooner.
func (g *Gate) RestoreBuckets(ctx context.Context, platforms []string) {
	if g.snapshots == nil {
		return
	}
	now := g.now()
	for _, platform := range platforms {
		snap, err := g.snapshots.Load(ctx, platform)
		if err != nil {
			if err != persistence.ErrNotFound {
				log.Warn().Err(err).Str("platform", platform).Msg("bucket snapshot load failed")
			}
			continue
		}
		limiter := g.bucket(platform)
		deficit := int(limiter.TokensAt(now) - snap.Tokens)
		if deficit > 0 {
			limiter.AllowN(now, deficit)
		}
		log.Debug().Str("platform", platform).Float64("tokens", snap.Tokens).Msg("bucket restored")
	}
}

func (g *Gate) saveSnapshot(ctx context.Context, platform string) {
	if g.snapshots == nil {
		return
	}
	now := g.now()
	limiter := g.bucket(platform)
	err := g.snapshots.Save(ctx, persistence.BucketSnapshot{
		Platform:  platform,
		Tokens:    limiter.TokensAt(now),
		Capacity:  float64(g.cfg.LimitsFor(platform).BucketCapacity),
		UpdatedAt: now,
	})
	if err != nil {
		log.Warn().Err(err).Str("platform", platform).Msg("bucket snapshot save failed")
	}
}

// bucket returns the lazily created limiter for a platform. Refill happens
// inside rate.Limiter on each reservation, so an idle platform accrues tokens
// without any background timer.
func (g *Gate) bucket(platform string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	if l, ok := g.buckets[platform]; ok {
		return l
	}
	limits := g.cfg.LimitsFor(platform)
	l := rate.NewLimiter(rate.Every(limits.RefillInterval), limits.BucketCapacity)
	g.buckets[platform] = l
	return l
}
