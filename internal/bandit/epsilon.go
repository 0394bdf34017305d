package bandit

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Tuner adapts the exploration rate from realized rewards. Every EvalEvery
// resolved decisions it takes one bounded step: shrink ε when the trailing
// average reward is good, grow it when results are poor.
type Tuner struct {
	mu       sync.Mutex
	epsilon  float64
	min, max float64
	every    int64
	good     float64

	resolved  int64
	rewardSum float64
}

// NewTuner builds a tuner from the policy config.
func NewTuner(cfg Config) *Tuner {
	return &Tuner{
		epsilon: cfg.Epsilon,
		min:     cfg.EpsilonMin,
		max:     cfg.EpsilonMax,
		every:   cfg.EvalEvery,
		good:    cfg.GoodReward,
	}
}

// Epsilon returns the current exploration rate.
func (t *Tuner) Epsilon() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.epsilon
}

// Observe accounts one resolved decision's reward and, when the evaluation
// batch is full, takes a single adaptation step and resets the batch.
func (t *Tuner) Observe(reward float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resolved++
	t.rewardSum += reward
	if t.every <= 0 || t.resolved < t.every {
		return
	}

	avg := t.rewardSum / float64(t.resolved)
	prev := t.epsilon
	if avg > t.good {
		t.epsilon = max(t.epsilon*0.9, t.min)
	} else {
		t.epsilon = min(t.epsilon*1.1, t.max)
	}
	t.resolved = 0
	t.rewardSum = 0

	log.Info().
		Float64("avg_reward", avg).
		Float64("epsilon_prev", prev).
		Float64("epsilon", t.epsilon).
		Msg("exploration rate adapted")
}
