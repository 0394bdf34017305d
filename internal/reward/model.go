package reward

// Outcome holds post-publish performance metrics for one piece of content, as
// delivered by the analytics collaborator. Missing fields arrive as zero;
// negative values are clamped before scoring rather than rejected.
type Outcome struct {
	Views    int64 `json:"views"`
	Likes    int64 `json:"likes"`
	Shares   int64 `json:"shares"`
	Comments int64 `json:"comments"`
}

// Model converts an outcome into a scalar reward in [0,100].
//
// Views carry up to 50 points, weighted engagement up to 30, and an
// engagement-rate bonus up to 20. Reach matters most, but the rate bonus
// rewards small-reach content with disproportionate interaction so the policy
// does not always favor whichever topic has the largest audience.
type Model struct{}

// NewModel creates a reward model.
func NewModel() *Model { return &Model{} }

// Components is the per-term composition of a reward for explain surfaces.
type Components struct {
	ViewScore       float64 `json:"view_score"`
	EngagementScore float64 `json:"engagement_score"`
	EngagementBonus float64 `json:"engagement_bonus"`
	Total           float64 `json:"total"`
}

// Reward returns the scalar reward for an outcome, always in [0,100].
func (m *Model) Reward(o Outcome) float64 {
	return m.Components(o).Total
}

// Components computes the reward with its breakdown retained.
func (m *Model) Components(o Outcome) Components {
	views := clampNonNegative(o.Views)
	likes := clampNonNegative(o.Likes)
	shares := clampNonNegative(o.Shares)
	comments := clampNonNegative(o.Comments)

	viewScore := min(views/1000, 50)
	engagementScore := min((likes+shares*2+comments*3)/100, 30)

	var bonus float64
	if views > 0 {
		rate := (likes + shares + comments) / views
		bonus = min(rate*20, 20)
	}

	return Components{
		ViewScore:       viewScore,
		EngagementScore: engagementScore,
		EngagementBonus: bonus,
		Total:           min(viewScore+engagementScore+bonus, 100),
	}
}

func clampNonNegative(v int64) float64 {
	if v < 0 {
		return 0
	}
	return float64(v)
}
