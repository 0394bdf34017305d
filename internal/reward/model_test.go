package reward

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRewardBounds(t *testing.T) {
	m := NewModel()
	cases := []struct {
		name string
		o    Outcome
	}{
		{"all zero", Outcome{}},
		{"tiny", Outcome{Views: 10, Likes: 1}},
		{"typical", Outcome{Views: 25000, Likes: 1800, Shares: 240, Comments: 90}},
		{"huge", Outcome{Views: 10_000_000, Likes: 900_000, Shares: 120_000, Comments: 80_000}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := m.Reward(tc.o)
			assert.GreaterOrEqual(t, r, 0.0)
			assert.LessOrEqual(t, r, 100.0)
		})
	}
}

func TestRewardZeroForZeroOutcome(t *testing.T) {
	assert.Equal(t, 0.0, NewModel().Reward(Outcome{}))
}

func TestRewardComponents(t *testing.T) {
	m := NewModel()
	c := m.Components(Outcome{Views: 20000, Likes: 500, Shares: 100, Comments: 50})

	assert.Equal(t, 20.0, c.ViewScore)                // 20000/1000
	assert.Equal(t, 8.5, c.EngagementScore)           // (500+200+150)/100
	assert.InDelta(t, 0.65, c.EngagementBonus, 1e-9)  // 650/20000*20
	assert.InDelta(t, 29.15, c.Total, 1e-9)
}

func TestRewardCaps(t *testing.T) {
	m := NewModel()

	// Each component saturates independently.
	c := m.Components(Outcome{Views: 1_000_000})
	assert.Equal(t, 50.0, c.ViewScore)

	c = m.Components(Outcome{Views: 1, Likes: 100_000})
	assert.Equal(t, 30.0, c.EngagementScore)
	assert.Equal(t, 20.0, c.EngagementBonus)
}

func TestRewardNoViewsNoRateBonus(t *testing.T) {
	c := NewModel().Components(Outcome{Likes: 50, Shares: 10, Comments: 5})
	assert.Equal(t, 0.0, c.EngagementBonus)
}

func TestRewardNegativeInputsClamp(t *testing.T) {
	m := NewModel()
	r := m.Reward(Outcome{Views: -100, Likes: -5, Shares: -1, Comments: -3})
	assert.Equal(t, 0.0, r)

	// Partial negatives do not poison the valid fields.
	r = m.Reward(Outcome{Views: 5000, Likes: -10, Shares: 20, Comments: 0})
	assert.Greater(t, r, 0.0)
	assert.LessOrEqual(t, r, 100.0)
}
