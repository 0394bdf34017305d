package bandit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pulsecast/pulsecast/internal/persistence"
)

// WarmStart replays resolved decisions from the trailing window into the arm
// ledger so a freshly started process does not treat every known topic as
// cold. Replay is idempotent against an already-populated ledger only when
// the ledger itself was rebuilt; callers run it against empty in-memory
// ledgers on boot.
func WarmStart(ctx context.Context, decisions persistence.DecisionRepo, arms persistence.ArmRepo, span time.Duration, now time.Time) (int, error) {
	resolved, err := decisions.ListResolved(ctx, now.Add(-span))
	if err != nil {
		return 0, fmt.Errorf("warm start: list resolved decisions: %w", err)
	}

	replayed := 0
	for _, d := range resolved {
		if d.ActualReward == nil {
			continue
		}
		if err := arms.RecordSelection(ctx, d.Topic, d.DecidedAt); err != nil {
			return replayed, fmt.Errorf("warm start: record selection for %s: %w", d.Topic, err)
		}
		if err := arms.RecordReward(ctx, d.Topic, *d.ActualReward); err != nil {
			return replayed, fmt.Errorf("warm start: record reward for %s: %w", d.Topic, err)
		}
		replayed++
	}

	log.Info().
		Int("decisions", replayed).
		Dur("span", span).
		Msg("arm ledger warm start complete")
	return replayed, nil
}
