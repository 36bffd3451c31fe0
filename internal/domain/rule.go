package domain

// ReasonRule is a CEL expression evaluated against each flagged account.
// When it returns true, Reason is appended to the account's reason codes.
type ReasonRule struct {
	ID          string `json:"id" koanf:"id" validate:"required"`
	Description string `json:"description,omitempty" koanf:"description"`

	// Expression must evaluate to a bool.
	Expression string `json:"expression" koanf:"expression" validate:"required"`

	Reason  string `json:"reason" koanf:"reason" validate:"required"`
	Enabled bool   `json:"enabled" koanf:"enabled"`
}

// ScoreBand maps a lower score bound to a label. Bands are checked in
// order; the first band whose Min is reached wins.
type ScoreBand struct {
	Min   float64
	Label string
}

// MatchBand returns the label of the first band whose Min is <= score,
// or fallback if none matches.
func MatchBand(score float64, bands []ScoreBand, fallback string) string {
	for _, b := range bands {
		if score >= b.Min {
			return b.Label
		}
	}
	return fallback
}

// RiskLevelBands classify suspicious account scores.
var RiskLevelBands = []ScoreBand{
	{Min: 70, Label: RiskHigh},
	{Min: 40, Label: RiskMedium},
}

// RiskCategoryBands classify ring risk scores in the summary table.
var RiskCategoryBands = []ScoreBand{
	{Min: 85, Label: CategoryCritical},
	{Min: 70, Label: CategoryHigh},
	{Min: 50, Label: CategoryMedium},
}
