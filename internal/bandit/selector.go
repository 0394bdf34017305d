package bandit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pulsecast/pulsecast/internal/persistence"
	"github.com/pulsecast/pulsecast/internal/trend"
)

// State describes which branch of the policy produced a selection.
type State string

const (
	StateNoCandidates State = "no-candidates"
	StateExploring    State = "exploring"
	StateExploiting   State = "exploiting"
)

// CandidateSource supplies the current top-N ranked topics, already filtered
// to the recency window. The scheduler composes the trend source, the scoring
// engine, and the ranking cache into one of these.
type CandidateSource interface {
	TopRanked(ctx context.Context, n int) ([]trend.RankedTopic, error)
}

// Config tunes the ε-greedy policy.
type Config struct {
	Epsilon        float64       `yaml:"epsilon"`          // initial exploration rate
	EpsilonMin     float64       `yaml:"epsilon_min"`      // tuner floor
	EpsilonMax     float64       `yaml:"epsilon_max"`      // tuner ceiling
	TopN           int           `yaml:"top_n"`            // candidate pool size
	EvalEvery      int64         `yaml:"eval_every"`       // resolved decisions between tuner runs
	GoodReward     float64       `yaml:"good_reward"`      // avg reward regarded as good performance
	WarmStartSpan  time.Duration `yaml:"warm_start_span"`  // trailing window replayed on init
	FallbackTopics []string      `yaml:"fallback_topics"`  // safe defaults when no candidates exist
}

// DefaultConfig returns the production policy defaults.
func DefaultConfig() Config {
	return Config{
		Epsilon:       0.1,
		EpsilonMin:    0.05,
		EpsilonMax:    0.3,
		TopN:          20,
		EvalEvery:     50,
		GoodReward:    50,
		WarmStartSpan: 7 * 24 * time.Hour,
		FallbackTopics: []string{
			"#ai", "#tech", "#gpu", "#crypto", "#gaming",
			"#cloud", "#benchmark", "#build", "#setup", "#pc",
		},
	}
}

// Selection is the result of one policy invocation.
type Selection struct {
	Topic          string    `json:"topic"`
	State          State     `json:"state"`
	ExpectedReward float64   `json:"expected_reward"`
	DecisionID     uuid.UUID `json:"decision_id"`
	Degraded       bool      `json:"degraded"` // ledger was unreachable
}

// Selector implements the ε-greedy policy over ranked topic candidates with
// documented cold-start priority: an arm with zero recorded selections always
// wins exploitation over any averaged arm.
//
// Select never returns an error. Missing candidates fall back to a static
// topic list; an unreachable ledger degrades to uniform random choice.
type Selector struct {
	candidates CandidateSource
	arms       persistence.ArmRepo
	decisions  persistence.DecisionRepo
	cfg        Config
	tuner      *Tuner

	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// NewSelector creates a selector. rng may be nil, in which case a time-seeded
// generator is used; tests inject a fixed seed for determinism.
func NewSelector(candidates CandidateSource, arms persistence.ArmRepo, decisions persistence.DecisionRepo, cfg Config, rng *rand.Rand) *Selector {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Selector{
		candidates: candidates,
		arms:       arms,
		decisions:  decisions,
		cfg:        cfg,
		tuner:      NewTuner(cfg),
		rng:        rng,
		now:        time.Now,
	}
}

// Epsilon returns the current exploration rate.
func (s *Selector) Epsilon() float64 { return s.tuner.Epsilon() }

// Tuner exposes the epsilon tuner for outcome accounting.
func (s *Selector) Tuner() *Tuner { return s.tuner }

// Select runs one policy step: fetch candidates, explore or exploit, log the
// decision, record the selection.
func (s *Selector) Select(ctx context.Context) Selection {
	pool, err := s.candidates.TopRanked(ctx, s.cfg.TopN)
	if err != nil {
		log.Warn().Err(err).Msg("candidate fetch failed, using fallback topics")
		pool = nil
	}

	if len(pool) == 0 {
		sel := Selection{
			Topic: s.pickFallback(),
			State: StateNoCandidates,
		}
		s.record(ctx, &sel)
		return sel
	}

	var sel Selection
	if s.draw() < s.tuner.Epsilon() {
		// Pure exploration ignores score and reward history entirely;
		// biasing it toward reward would collapse into exploitation.
		chosen := pool[s.intn(len(pool))]
		sel = Selection{
			Topic:          chosen.Topic,
			State:          StateExploring,
			ExpectedReward: chosen.Score,
		}
	} else {
		sel = s.exploit(ctx, pool)
	}

	s.record(ctx, &sel)
	return sel
}

// exploit picks the candidate with the highest ledger avg_reward. Candidates
// with zero recorded selections take infinite priority so every new trending
// topic gets at least one trial before being judged on averages.
func (s *Selector) exploit(ctx context.Context, pool []trend.RankedTopic) Selection {
	topics := make([]string, len(pool))
	for i, c := range pool {
		topics[i] = c.Topic
	}

	arms, err := s.arms.GetBatch(ctx, topics)
	if err != nil {
		log.Warn().Err(err).Msg("arm ledger unreachable, degrading to random selection")
		chosen := pool[s.intn(len(pool))]
		return Selection{
			Topic:          chosen.Topic,
			State:          StateExploring,
			ExpectedReward: chosen.Score,
			Degraded:       true,
		}
	}

	// Unvisited arms first, in ranked order; the ranking already sorted the
	// pool by score, so ties among cold arms resolve toward higher scores.
	for _, c := range pool {
		arm, ok := arms[c.Topic]
		if !ok || arm.Selections == 0 {
			return Selection{
				Topic:          c.Topic,
				State:          StateExploiting,
				ExpectedReward: c.Score,
			}
		}
	}

	best := pool[0]
	bestAvg := arms[best.Topic].AvgReward
	for _, c := range pool[1:] {
		if avg := arms[c.Topic].AvgReward; avg > bestAvg {
			best, bestAvg = c, avg
		}
	}
	return Selection{
		Topic:          best.Topic,
		State:          StateExploiting,
		ExpectedReward: best.Score,
	}
}

// record logs the decision and bumps the arm's selection count. Both writes
// are best-effort: selection must always hand a usable topic to the caller.
func (s *Selector) record(ctx context.Context, sel *Selection) {
	sel.DecisionID = uuid.New()
	now := s.now()

	if err := s.decisions.Append(ctx, persistence.Decision{
		ID:             sel.DecisionID,
		Topic:          sel.Topic,
		DecidedAt:      now,
		ExpectedReward: sel.ExpectedReward,
	}); err != nil {
		log.Warn().Err(err).Str("topic", sel.Topic).Msg("failed to log decision")
		sel.Degraded = true
	}

	if err := s.arms.RecordSelection(ctx, sel.Topic, now); err != nil {
		log.Warn().Err(err).Str("topic", sel.Topic).Msg("failed to record selection")
		sel.Degraded = true
	}

	log.Info().
		Str("topic", sel.Topic).
		Str("state", string(sel.State)).
		Float64("expected_reward", sel.ExpectedReward).
		Float64("epsilon", s.tuner.Epsilon()).
		Msg("topic selected")
}

func (s *Selector) pickFallback() string {
	if len(s.cfg.FallbackTopics) == 0 {
		return "#trending"
	}
	return s.cfg.FallbackTopics[s.intn(len(s.cfg.FallbackTopics))]
}

func (s *Selector) draw() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *Selector) intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}
