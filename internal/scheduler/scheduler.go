// Package scheduler runs the decision loop: on each cycle per platform it
// checks publish admission, asks the policy for a topic, renders and uploads
// the asset, and later resolves the decision against realized metrics.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pulsecast/pulsecast/internal/bandit"
	"github.com/pulsecast/pulsecast/internal/gate"
	"github.com/pulsecast/pulsecast/internal/metrics"
	"github.com/pulsecast/pulsecast/internal/persistence"
	"github.com/pulsecast/pulsecast/internal/publish"
	"github.com/pulsecast/pulsecast/internal/reward"
)

// Config holds the decision loop settings.
type Config struct {
	Interval       time.Duration `yaml:"interval"`         // default gap between cycles
	Platforms      []string      `yaml:"platforms"`        // platforms to serve
	MeasureAfter   time.Duration `yaml:"measure_after"`    // wait before reading outcome metrics
	ReselectOnDeny bool          `yaml:"reselect_on_deny"` // drop pending topic when the gate denies

	// Per-platform cycle intervals keyed by platform name; platforms without
	// an entry use Interval.
	Intervals map[string]time.Duration `yaml:"intervals"`
}

// IntervalFor resolves the cycle interval for a platform.
func (c Config) IntervalFor(platform string) time.Duration {
	if d, ok := c.Intervals[platform]; ok && d > 0 {
		return d
	}
	return c.Interval
}

// DefaultConfig returns the production loop settings.
func DefaultConfig() Config {
	return Config{
		Interval:     45 * time.Minute,
		MeasureAfter: 24 * time.Hour,
	}
}

// Event is one observable pipeline occurrence, fanned out to live feeds.
type Event struct {
	Kind      string    `json:"kind"` // "decision", "publish", "denial", "outcome"
	Platform  string    `json:"platform,omitempty"`
	Topic     string    `json:"topic,omitempty"`
	State     string    `json:"state,omitempty"`
	Reward    float64   `json:"reward,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventSink receives pipeline events. Implementations must not block.
type EventSink interface {
	Publish(e Event)
}

type noopSink struct{}

func (noopSink) Publish(Event) {}

// pendingMeasure is a published post waiting for its metrics window.
type pendingMeasure struct {
	platform string
	postID   string
	topic    string
	dueAt    time.Time
}

// Scheduler drives the per-platform decision loops.
type Scheduler struct {
	cfg      Config
	selector *bandit.Selector
	gate     *gate.Gate
	renderer publish.Renderer
	pub      publish.Publisher
	source   publish.MetricsSource
	repo     *persistence.Repository
	rewards  reward.Model
	metrics  *metrics.Registry
	events   EventSink

	mu       sync.Mutex
	pending  map[string]*bandit.Selection // platform -> selection retained across denials
	measures []pendingMeasure

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New assembles a scheduler. sink may be nil.
func New(cfg Config, selector *bandit.Selector, g *gate.Gate, renderer publish.Renderer, pub publish.Publisher, source publish.MetricsSource, repo *persistence.Repository, reg *metrics.Registry, sink EventSink) *Scheduler {
	if sink == nil {
		sink = noopSink{}
	}
	return &Scheduler{
		cfg:      cfg,
		selector: selector,
		gate:     g,
		renderer: renderer,
		pub:      pub,
		source:   source,
		repo:     repo,
		metrics:  reg,
		events:   sink,
		pending:  make(map[string]*bandit.Selection),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run starts one loop per configured platform plus the outcome poller and
// blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.cfg.Platforms) == 0 {
		return fmt.Errorf("scheduler: no platforms configured")
	}

	log.Info().
		Strs("platforms", s.cfg.Platforms).
		Dur("interval", s.cfg.Interval).
		Msg("decision loop starting")

	var wg sync.WaitGroup
	for _, platform := range s.cfg.Platforms {
		wg.Add(1)
		go func(platform string) {
			defer wg.Done()
			s.platformLoop(ctx, platform)
		}(platform)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.outcomeLoop(ctx)
	}()

	wg.Wait()
	log.Info().Msg("decision loop stopped")
	return ctx.Err()
}

// platformLoop runs cycles for one platform. A gate denial with a concrete
// RetryAfter wakes the loop early instead of waiting a full interval.
func (s *Scheduler) platformLoop(ctx context.Context, platform string) {
	interval := s.cfg.IntervalFor(platform)
	for {
		wait := s.cycle(ctx, platform)
		if wait <= 0 || wait > interval {
			wait = interval
		}
		if err := s.sleep(ctx, wait); err != nil {
			return
		}
	}
}

// cycle runs one admission-select-render-publish pass. The returned duration
// is a hint for the next wakeup; zero means use the regular interval.
func (s *Scheduler) cycle(ctx context.Context, platform string) time.Duration {
	start := s.now()

	verdict, err := s.gate.Evaluate(ctx, platform)
	if err != nil {
		log.Error().Err(err).Str("platform", platform).Msg("gate evaluation failed")
		s.observeCycle(platform, "gate_error", start)
		return 0
	}
	if !verdict.Allowed {
		check := firstFailedCheck(verdict)
		s.metrics.RecordDenial(platform, check)
		s.events.Publish(Event{Kind: "denial", Platform: platform, Reason: check, Timestamp: s.now()})
		log.Debug().
			Str("platform", platform).
			Strs("reasons", verdict.FailureReasons).
			Dur("retry_after", verdict.RetryAfter).
			Msg("publish denied")
		if s.cfg.ReselectOnDeny {
			s.clearPending(platform)
		}
		s.observeCycle(platform, "denied", start)
		return verdict.RetryAfter
	}

	sel := s.takePending(platform)
	if sel == nil {
		chosen := s.selector.Select(ctx)
		sel = &chosen
		s.metrics.RecordDecision(string(sel.State))
		s.events.Publish(Event{Kind: "decision", Platform: platform, Topic: sel.Topic, State: string(sel.State), Timestamp: s.now()})
	}

	if err := s.publishSelected(ctx, platform, sel); err != nil {
		log.Error().Err(err).Str("platform", platform).Str("topic", sel.Topic).Msg("publish failed")
		s.setPending(platform, sel)
		s.metrics.RecordPublish(platform, "error")
		s.observeCycle(platform, "publish_error", start)
		return 0
	}

	s.observeCycle(platform, "published", start)
	return 0
}

// publishSelected renders and uploads, retrying through platform throttling
// with the gate's backoff schedule. The publish window is only advanced after
// the platform confirms the post.
func (s *Scheduler) publishSelected(ctx context.Context, platform string, sel *bandit.Selection) error {
	asset, err := s.renderer.Render(ctx, sel.Topic)
	if err != nil {
		return fmt.Errorf("render %s: %w", sel.Topic, err)
	}

	for attempt := 1; ; attempt++ {
		res, err := s.pub.Publish(ctx, platform, asset)
		if err != nil {
			return fmt.Errorf("upload to %s: %w", platform, err)
		}
		if res.Throttled() {
			wait, ok := s.gate.ThrottleBackoff(attempt, res.RetryAfter)
			if !ok {
				return fmt.Errorf("upload to %s: still throttled after %d attempts", platform, attempt-1)
			}
			log.Warn().
				Str("platform", platform).
				Int("attempt", attempt).
				Dur("wait", wait).
				Msg("platform throttled, backing off")
			if err := s.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}
		if !res.Success {
			return fmt.Errorf("upload to %s: status %d", platform, res.StatusCode)
		}

		if err := s.gate.RecordPublish(ctx, platform); err != nil {
			log.Error().Err(err).Str("platform", platform).Msg("failed to record publish")
		}
		s.metrics.RecordPublish(platform, "success")
		s.events.Publish(Event{Kind: "publish", Platform: platform, Topic: sel.Topic, Timestamp: s.now()})
		s.enqueueMeasure(pendingMeasure{
			platform: platform,
			postID:   res.PlatformPostID,
			topic:    sel.Topic,
			dueAt:    s.now().Add(s.cfg.MeasureAfter),
		})
		log.Info().
			Str("platform", platform).
			Str("topic", sel.Topic).
			Str("post_id", res.PlatformPostID).
			Msg("published")
		return nil
	}
}

// outcomeLoop polls due measurements and resolves their decisions.
func (s *Scheduler) outcomeLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.resolveDue(ctx)
		}
	}
}

// resolveDue reads metrics for every due post and feeds the results back into
// the ledger and the exploration tuner. A post whose metrics read fails stays
// queued for the next pass.
func (s *Scheduler) resolveDue(ctx context.Context) {
	now := s.now()
	for _, m := range s.dueMeasures(now) {
		outcome, err := s.source.Outcome(ctx, m.platform, m.postID)
		if err != nil {
			log.Warn().Err(err).Str("post_id", m.postID).Msg("metrics read failed, requeueing")
			s.enqueueMeasure(m)
			continue
		}
		if err := s.ResolveOutcome(ctx, m.topic, outcome); err != nil {
			log.Error().Err(err).Str("topic", m.topic).Msg("outcome resolution failed")
		}
	}
}

// ResolveOutcome converts realized metrics to a reward, attaches it to the
// topic's most recent open decision, and updates the arm ledger and the
// exploration rate. It is also the entry point for manually reported
// outcomes. A topic with no open decision still gets its reward: outcome
// data can outlive a lost decision record, and dropping it would starve the
// arm statistics.
func (s *Scheduler) ResolveOutcome(ctx context.Context, topic string, outcome reward.Outcome) error {
	r := s.rewards.Reward(outcome)
	now := s.now()

	if err := s.repo.Decisions.ResolveLatest(ctx, topic, r, outcome, now); err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			return fmt.Errorf("resolve decision for %s: %w", topic, err)
		}
		log.Warn().Str("topic", topic).Msg("no open decision for outcome, recording reward anyway")
	}
	if err := s.repo.Arms.RecordReward(ctx, topic, r); err != nil {
		return fmt.Errorf("record reward for %s: %w", topic, err)
	}

	s.selector.Tuner().Observe(r)
	s.metrics.RecordReward(r, s.selector.Epsilon())
	s.events.Publish(Event{Kind: "outcome", Topic: topic, Reward: r, Timestamp: now})

	log.Info().
		Str("topic", topic).
		Float64("reward", r).
		Int64("views", outcome.Views).
		Msg("decision resolved")
	return nil
}

func (s *Scheduler) observeCycle(platform, result string, start time.Time) {
	s.metrics.CycleDuration.WithLabelValues(platform, result).Observe(s.now().Sub(start).Seconds())
}

func (s *Scheduler) takePending(platform string) *bandit.Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel := s.pending[platform]
	delete(s.pending, platform)
	return sel
}

func (s *Scheduler) setPending(platform string, sel *bandit.Selection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[platform] = sel
}

func (s *Scheduler) clearPending(platform string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, platform)
}

func (s *Scheduler) enqueueMeasure(m pendingMeasure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.measures = append(s.measures, m)
}

func (s *Scheduler) dueMeasures(now time.Time) []pendingMeasure {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []pendingMeasure
	var rest []pendingMeasure
	for _, m := range s.measures {
		if m.dueAt.After(now) {
			rest = append(rest, m)
		} else {
			due = append(due, m)
		}
	}
	s.measures = rest
	return due
}

func firstFailedCheck(v *gate.Verdict) string {
	for _, c := range v.Checks {
		if !c.Passed {
			return c.Name
		}
	}
	return "unknown"
}
