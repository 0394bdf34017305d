// Package memory provides in-process implementations of the persistence
// interfaces. They back tests and the no-database mode; each mutating method
// holds the store mutex for its full duration, giving the same atomicity the
// SQL backends get from single-statement updates.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pulsecast/pulsecast/internal/persistence"
	"github.com/pulsecast/pulsecast/internal/reward"
)

// ArmStore is an in-memory ArmRepo.
type ArmStore struct {
	mu   sync.Mutex
	arms map[string]*persistence.Arm
}

// NewArmStore creates an empty arm store.
func NewArmStore() *ArmStore {
	return &ArmStore{arms: make(map[string]*persistence.Arm)}
}

func (s *ArmStore) RecordSelection(ctx context.Context, topic string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	arm := s.arm(topic)
	arm.Selections++
	t := at
	arm.LastSelectedAt = &t
	arm.AvgReward = arm.TotalReward / float64(arm.Selections)
	return nil
}

func (s *ArmStore) RecordReward(ctx context.Context, topic string, r float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	arm := s.arm(topic)
	arm.TotalReward += r
	arm.AvgReward = arm.TotalReward / float64(max(arm.Selections, 1))
	return nil
}

func (s *ArmStore) Get(ctx context.Context, topic string) (*persistence.Arm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	arm, ok := s.arms[topic]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	cp := *arm
	return &cp, nil
}

func (s *ArmStore) GetBatch(ctx context.Context, topics []string) (map[string]persistence.Arm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]persistence.Arm, len(topics))
	for _, topic := range topics {
		if arm, ok := s.arms[topic]; ok {
			out[topic] = *arm
		}
	}
	return out, nil
}

func (s *ArmStore) TopByAvgReward(ctx context.Context, n int) ([]persistence.Arm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	arms := make([]persistence.Arm, 0, len(s.arms))
	for _, arm := range s.arms {
		if arm.Selections > 0 {
			arms = append(arms, *arm)
		}
	}
	sort.Slice(arms, func(i, j int) bool { return arms[i].AvgReward > arms[j].AvgReward })
	if len(arms) > n {
		arms = arms[:n]
	}
	return arms, nil
}

// arm returns the record for topic, creating it if absent. Caller holds mu.
func (s *ArmStore) arm(topic string) *persistence.Arm {
	if a, ok := s.arms[topic]; ok {
		return a
	}
	a := &persistence.Arm{Topic: topic}
	s.arms[topic] = a
	return a
}

// DecisionLog is an in-memory DecisionRepo.
type DecisionLog struct {
	mu        sync.Mutex
	decisions []persistence.Decision
}

// NewDecisionLog creates an empty decision log.
func NewDecisionLog() *DecisionLog { return &DecisionLog{} }

func (l *DecisionLog) Append(ctx context.Context, d persistence.Decision) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.decisions = append(l.decisions, d)
	return nil
}

func (l *DecisionLog) ResolveLatest(ctx context.Context, topic string, r float64, o reward.Outcome, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := len(l.decisions) - 1; i >= 0; i-- {
		d := &l.decisions[i]
		if d.Topic != topic || d.ActualReward != nil {
			continue
		}
		rv, tv, ov := r, at, o
		d.ActualReward = &rv
		d.ResolvedAt = &tv
		d.Outcome = &ov
		return nil
	}
	return persistence.ErrNotFound
}

func (l *DecisionLog) ListResolved(ctx context.Context, since time.Time) ([]persistence.Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []persistence.Decision
	for _, d := range l.decisions {
		if d.ActualReward != nil && !d.DecidedAt.Before(since) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DecidedAt.Before(out[j].DecidedAt) })
	return out, nil
}

func (l *DecisionLog) Stats(ctx context.Context, since time.Time) (*persistence.DecisionStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := &persistence.DecisionStats{}
	var sum float64
	for _, d := range l.decisions {
		if d.DecidedAt.Before(since) {
			continue
		}
		stats.TotalDecisions++
		if d.ActualReward != nil {
			stats.ResolvedDecisions++
			sum += *d.ActualReward
			if *d.ActualReward > stats.MaxReward {
				stats.MaxReward = *d.ActualReward
			}
		}
	}
	if stats.ResolvedDecisions > 0 {
		stats.AvgReward = sum / float64(stats.ResolvedDecisions)
	}
	return stats, nil
}

// PublishLog is an in-memory PublishWindowRepo.
type PublishLog struct {
	mu        sync.Mutex
	publishes map[string][]time.Time
}

// NewPublishLog creates an empty publish log.
func NewPublishLog() *PublishLog {
	return &PublishLog{publishes: make(map[string][]time.Time)}
}

func (p *PublishLog) State(ctx context.Context, platform string, today time.Time) (*persistence.PublishWindowState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := &persistence.PublishWindowState{Platform: platform}
	y, m, d := today.Date()
	for _, ts := range p.publishes[platform] {
		ty, tm, td := ts.Date()
		if ty == y && tm == m && td == d {
			state.PublishedToday++
		}
		if state.LastPublishedAt == nil || ts.After(*state.LastPublishedAt) {
			t := ts
			state.LastPublishedAt = &t
		}
	}
	return state, nil
}

func (p *PublishLog) RecordPublish(ctx context.Context, platform string, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publishes[platform] = append(p.publishes[platform], at)
	return nil
}

// SnapshotStore is an in-memory BucketSnapshotStore.
type SnapshotStore struct {
	mu        sync.Mutex
	snapshots map[string]persistence.BucketSnapshot
}

// NewSnapshotStore creates an empty snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{snapshots: make(map[string]persistence.BucketSnapshot)}
}

func (s *SnapshotStore) Save(ctx context.Context, snap persistence.BucketSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.Platform] = snap
	return nil
}

func (s *SnapshotStore) Load(ctx context.Context, platform string) (*persistence.BucketSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[platform]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &snap, nil
}

// NewRepository bundles fresh in-memory stores.
func NewRepository() *persistence.Repository {
	return &persistence.Repository{
		Arms:      NewArmStore(),
		Decisions: NewDecisionLog(),
		Windows:   NewPublishLog(),
		Buckets:   NewSnapshotStore(),
	}
}
