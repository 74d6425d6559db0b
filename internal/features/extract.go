// Package features turns a profile snapshot into the normalized feature
// vector consumed by the scoring model.
package features

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sells-group/risk-engine/internal/model"
)

// Documented defaults applied when an answer is absent.
const (
	DefaultAge                    = 40.0
	DefaultBMI                    = 24.0
	DefaultSmokingStatus          = model.SmokingNever
	DefaultExerciseSessions       = 1.5
	DefaultStressLevel            = 5.0
	DefaultAlcoholDrinksPerWeek   = 3.0
	DefaultSleepHours             = 7.0
	DefaultDebtToIncome           = 0.30
	DefaultCoverageIncomeMultiple = 10.0
	DefaultCoverageAmount         = 250000.0
	DefaultTermYears              = 20
	DefaultGender                 = "unspecified"
	DefaultOccupationClass        = "class_2"
	DefaultLocalityTier           = "tier_2"
)

const daysPerYear = 365.2425

// IncompleteProfileError is returned when a snapshot cannot identify its
// user. Missing answers never produce it; they fall back to defaults.
type IncompleteProfileError struct {
	Field string
}

func (e *IncompleteProfileError) Error() string {
	return fmt.Sprintf("features: incomplete profile: %s is required", e.Field)
}

// Extractor builds feature vectors. It holds no state.
type Extractor struct{}

// NewExtractor returns a feature extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract maps snap to a fresh FeatureVector plus the pricing attributes.
// Age is measured at now, so the same snapshot yields a different age (and
// possibly score) as time passes.
func (e *Extractor) Extract(snap model.ProfileSnapshot, now time.Time) (model.FeatureVector, model.RatingAttributes, error) {
	if strings.TrimSpace(snap.UserID) == "" {
		return nil, model.RatingAttributes{}, &IncompleteProfileError{Field: "user_id"}
	}

	fv := model.FeatureVector{
		model.FeatureAge:                     age(snap.Demographics.DateOfBirth, now),
		model.FeatureBMI:                     bmi(snap.Health),
		model.FeatureSmokingStatus:           smokingCode(snap.Lifestyle.SmokingStatus),
		model.FeatureExerciseFrequency:       exerciseSessions(snap.Lifestyle.ExerciseFrequency),
		model.FeatureStressLevel:             stress(snap.Lifestyle.StressLevel),
		model.FeatureExistingConditionsCount: float64(len(snap.Health.ExistingConditions)),
		model.FeatureFamilyHistory:           boolFeature(snap.Health.FamilyHistory),
		model.FeatureAlcoholDrinksPerWeek:    floatOr(snap.Lifestyle.AlcoholDrinksPerWeek, DefaultAlcoholDrinksPerWeek),
		model.FeatureSleepHours:              floatOr(snap.Lifestyle.SleepHours, DefaultSleepHours),
		model.FeatureDebtToIncome:            floatOr(snap.Financial.DebtToIncome, DefaultDebtToIncome),
	}

	coverage := floatOr(snap.Coverage.Amount, DefaultCoverageAmount)
	fv[model.FeatureCoverageIncomeMultiple] = coverageMultiple(coverage, snap.Financial.AnnualIncome)

	attrs := model.RatingAttributes{
		CoverageAmount:  coverage,
		TermYears:       DefaultTermYears,
		Gender:          normalized(snap.Demographics.Gender, DefaultGender),
		OccupationClass: normalized(snap.Demographics.OccupationClass, DefaultOccupationClass),
		LocalityTier:    normalized(snap.Demographics.LocalityTier, DefaultLocalityTier),
	}
	if snap.Coverage.TermYears != nil {
		attrs.TermYears = *snap.Coverage.TermYears
	}

	return fv, attrs, nil
}

func age(dob *time.Time, now time.Time) float64 {
	if dob == nil || dob.IsZero() || dob.After(now) {
		return DefaultAge
	}
	years := now.Sub(*dob).Hours() / 24 / daysPerYear
	return round2(years)
}

func bmi(h model.Health) float64 {
	if h.BMI != nil && *h.BMI > 0 {
		return round2(*h.BMI)
	}
	if h.HeightCM != nil && h.WeightKG != nil && *h.HeightCM > 0 && *h.WeightKG > 0 {
		m := *h.HeightCM / 100
		return round2(*h.WeightKG / (m * m))
	}
	return DefaultBMI
}

func smokingCode(s *string) float64 {
	if s == nil {
		return model.SmokingCodeNever
	}
	switch strings.ToLower(strings.TrimSpace(*s)) {
	case model.SmokingFormer:
		return model.SmokingCodeFormer
	case model.SmokingCurrent:
		return model.SmokingCodeCurrent
	default:
		return model.SmokingCodeNever
	}
}

// exerciseSessions maps a frequency bucket to its midpoint in sessions/week.
func exerciseSessions(s *string) float64 {
	if s == nil {
		return DefaultExerciseSessions
	}
	switch strings.TrimSpace(*s) {
	case model.ExerciseNone:
		return 0
	case model.ExerciseLight:
		return 1.5
	case model.ExerciseRegular:
		return 3.5
	case model.ExerciseFrequent:
		return 5.5
	default:
		return DefaultExerciseSessions
	}
}

func stress(s *int) float64 {
	if s == nil {
		return DefaultStressLevel
	}
	return math.Max(1, math.Min(10, float64(*s)))
}

func coverageMultiple(coverage float64, income *float64) float64 {
	if income == nil || *income <= 0 {
		return DefaultCoverageIncomeMultiple
	}
	return round2(coverage / *income)
}

func boolFeature(b *bool) float64 {
	if b != nil && *b {
		return 1
	}
	return 0
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func normalized(v *string, def string) string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return def
	}
	return strings.ToLower(strings.TrimSpace(*v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
