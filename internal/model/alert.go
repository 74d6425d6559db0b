package model

import (
	"math"
	"time"
)

// RiskAlert notifies a user that their score moved significantly.
// Only Acknowledged (and AcknowledgedAt) ever change after creation.
type RiskAlert struct {
	ID               string       `json:"id"`
	UserID           string       `json:"user_id"`
	TriggerReason    string       `json:"trigger_reason"`
	PreviousScore    float64      `json:"previous_score"`
	NewScore         float64      `json:"new_score"`
	PreviousCategory RiskCategory `json:"previous_category"`
	NewCategory      RiskCategory `json:"new_category"`
	CreatedAt        time.Time    `json:"created_at"`
	Acknowledged     bool         `json:"acknowledged"`
	AcknowledgedAt   *time.Time   `json:"acknowledged_at,omitempty"`
}

// Trigger reasons.
const (
	ReasonScoreIncrease  = "score_increase"
	ReasonScoreDecrease  = "score_decrease"
	ReasonCategoryChange = "category_change"
)

// ScoreKey returns the score in hundredths, the unit used by the
// (user, reason, new score) dedup key.
func ScoreKey(score float64) int64 {
	return int64(math.Round(score * 100))
}

// TriggerSource identifies why a recompute was requested.
type TriggerSource string

const (
	SourceAssessment     TriggerSource = "assessment"
	SourceQuestionnaire  TriggerSource = "questionnaire"
	SourceHealthTracking TriggerSource = "health_tracking"
	SourcePeriodic       TriggerSource = "periodic"
	SourceRefresh        TriggerSource = "refresh"
)

// Trigger is a request to recompute one user's analysis.
type Trigger struct {
	UserID string        `json:"user_id"`
	Source TriggerSource `json:"source"`
	At     time.Time     `json:"at"`
}
