package model

import "time"

// FactorCategory groups factor contributions.
type FactorCategory string

const (
	CategoryDemographic FactorCategory = "Demographic"
	CategoryHealth      FactorCategory = "Health"
	CategoryLifestyle   FactorCategory = "Lifestyle"
	CategoryFinancial   FactorCategory = "Financial"
)

// Priority returns the fixed tie-break order used when two factors have
// equal absolute impact: Health, Lifestyle, Demographic, Financial.
func (c FactorCategory) Priority() int {
	switch c {
	case CategoryHealth:
		return 0
	case CategoryLifestyle:
		return 1
	case CategoryDemographic:
		return 2
	case CategoryFinancial:
		return 3
	default:
		return 4
	}
}

// Direction tells whether a factor raises or lowers risk.
type Direction string

const (
	DirectionPositive Direction = "positive" // increases risk
	DirectionNegative Direction = "negative" // reduces risk
)

// FactorContribution is one signed term of the additive score.
type FactorContribution struct {
	Name            string         `json:"name"`
	Category        FactorCategory `json:"category"`
	Features        []string       `json:"features"`
	SignedImpact    float64        `json:"signed_impact"`
	Direction       Direction      `json:"direction"`
	ExplanationText string         `json:"explanation_text"`
}

// RiskCategory is the banded overall score.
type RiskCategory string

const (
	RiskLow    RiskCategory = "Low"
	RiskMedium RiskCategory = "Medium"
	RiskHigh   RiskCategory = "High"
)

// Multiplier is one rating factor applied to a premium.
type Multiplier struct {
	Attribute string  `json:"attribute"`
	Value     string  `json:"value"`
	Factor    float64 `json:"factor"`
}

// PremiumQuote is the priced monthly premium.
type PremiumQuote struct {
	MonthlyAmount      float64      `json:"monthly_amount"`
	Currency           string       `json:"currency"`
	CoverageAmount     float64      `json:"coverage_amount"`
	TermYears          int          `json:"term_years"`
	RatePerUnit        float64      `json:"rate_per_unit"`
	AppliedMultipliers []Multiplier `json:"applied_multipliers"`
}

// Prediction is the projected score at one horizon.
type Prediction struct {
	TimeframeLabel    string  `json:"timeframe_label"`
	HorizonMonths     int     `json:"horizon_months"`
	PredictedScore    float64 `json:"predicted_score"`
	ConfidencePercent float64 `json:"confidence_percent"`
}

// RankedFactor annotates a contribution for display.
type RankedFactor struct {
	Rank         int                `json:"rank"`
	Factor       FactorContribution `json:"factor"`
	Label        string             `json:"label"`
	SharePercent float64            `json:"share_percent"`
}

// FairnessStatus is the outcome of a single fairness metric.
type FairnessStatus string

const (
	FairnessPass FairnessStatus = "PASS"
	FairnessFail FairnessStatus = "FAIL"
)

// FairnessMetric is one measured self-check value.
type FairnessMetric struct {
	Name      string         `json:"name"`
	Value     float64        `json:"value"`
	Threshold float64        `json:"threshold"`
	Status    FairnessStatus `json:"status"`
}

// FairnessReport aggregates the self-check metrics.
type FairnessReport struct {
	Metrics []FairnessMetric `json:"metrics"`
	Passed  bool             `json:"passed"`
}

// Explanation is the ranked, human-readable view of a score.
type Explanation struct {
	Summary  string         `json:"summary"`
	Factors  []RankedFactor `json:"factors"`
	Fairness FairnessReport `json:"fairness"`
}

// RiskAnalysis is the full derived result for a user. It is replaced as a
// whole on every recompute and never updated in place.
type RiskAnalysis struct {
	ID              string               `json:"id"`
	UserID          string               `json:"user_id"`
	Version         int64                `json:"version"`
	OverallScore    float64              `json:"overall_score"`
	RawScore        float64              `json:"raw_score"`
	Category        RiskCategory         `json:"category"`
	Contributions   []FactorContribution `json:"contributions"`
	Explanation     Explanation          `json:"explanation"`
	Premium         PremiumQuote         `json:"premium"`
	Predictions     []Prediction         `json:"predictions"`
	Recommendations []string             `json:"recommendations"`
	ModelVersion    string               `json:"model_version"`
	GeneratedAt     time.Time            `json:"generated_at"`
}

// ScorePoint is one historical overall score.
type ScorePoint struct {
	Score float64   `json:"score"`
	At    time.Time `json:"at"`
}

// Error types recorded for failed recomputes.
const (
	FailureInput     = "input"
	FailureInvariant = "invariant"
	FailureInternal  = "internal"
)

// RecomputeFailure records the last failed recompute for a user. While it is
// newer than the current analysis, that analysis is stale.
type RecomputeFailure struct {
	UserID    string    `json:"user_id"`
	Error     string    `json:"error"`
	ErrorType string    `json:"error_type"`
	FailedAt  time.Time `json:"failed_at"`
}
