package model

import "time"

// ProfileSnapshot is an immutable point-in-time view of a user's answers.
// Every field except UserID may be absent; the feature extractor fills
// documented defaults.
type ProfileSnapshot struct {
	UserID       string       `json:"user_id" yaml:"user_id"`
	CapturedAt   time.Time    `json:"captured_at" yaml:"captured_at"`
	Demographics Demographics `json:"demographics" yaml:"demographics"`
	Health       Health       `json:"health" yaml:"health"`
	Lifestyle    Lifestyle    `json:"lifestyle" yaml:"lifestyle"`
	Financial    Financial    `json:"financial" yaml:"financial"`
	Coverage     Coverage     `json:"coverage" yaml:"coverage"`
}

// Demographics holds identity-adjacent answers and rating attributes.
type Demographics struct {
	DateOfBirth     *time.Time `json:"date_of_birth,omitempty" yaml:"date_of_birth,omitempty"`
	Gender          *string    `json:"gender,omitempty" yaml:"gender,omitempty"`
	OccupationClass *string    `json:"occupation_class,omitempty" yaml:"occupation_class,omitempty"`
	LocalityTier    *string    `json:"locality_tier,omitempty" yaml:"locality_tier,omitempty"`
}

// Health holds health-tracking answers. A nil ExistingConditions slice means
// the question was never answered; an empty slice means "none".
type Health struct {
	HeightCM           *float64 `json:"height_cm,omitempty" yaml:"height_cm,omitempty"`
	WeightKG           *float64 `json:"weight_kg,omitempty" yaml:"weight_kg,omitempty"`
	BMI                *float64 `json:"bmi,omitempty" yaml:"bmi,omitempty"`
	ExistingConditions []string `json:"existing_conditions,omitempty" yaml:"existing_conditions,omitempty"`
	FamilyHistory      *bool    `json:"family_history,omitempty" yaml:"family_history,omitempty"`
}

// Smoking status values.
const (
	SmokingNever   = "never"
	SmokingFormer  = "former"
	SmokingCurrent = "current"
)

// Exercise frequency buckets (sessions per week).
const (
	ExerciseNone     = "none"
	ExerciseLight    = "1-2"
	ExerciseRegular  = "3-4"
	ExerciseFrequent = "5+"
)

// Lifestyle holds questionnaire answers about habits.
type Lifestyle struct {
	SmokingStatus        *string  `json:"smoking_status,omitempty" yaml:"smoking_status,omitempty"`
	ExerciseFrequency    *string  `json:"exercise_frequency,omitempty" yaml:"exercise_frequency,omitempty"`
	AlcoholDrinksPerWeek *float64 `json:"alcohol_drinks_per_week,omitempty" yaml:"alcohol_drinks_per_week,omitempty"`
	StressLevel          *int     `json:"stress_level,omitempty" yaml:"stress_level,omitempty"`
	SleepHours           *float64 `json:"sleep_hours,omitempty" yaml:"sleep_hours,omitempty"`
}

// Financial holds income and debt answers.
type Financial struct {
	AnnualIncome *float64 `json:"annual_income,omitempty" yaml:"annual_income,omitempty"`
	DebtToIncome *float64 `json:"debt_to_income,omitempty" yaml:"debt_to_income,omitempty"`
}

// Coverage holds the desired policy parameters.
type Coverage struct {
	Amount    *float64 `json:"amount,omitempty" yaml:"amount,omitempty"`
	TermYears *int     `json:"term_years,omitempty" yaml:"term_years,omitempty"`
}

// Feature names used as FeatureVector keys.
const (
	FeatureAge                     = "age"
	FeatureBMI                     = "bmi"
	FeatureSmokingStatus           = "smokingStatus"
	FeatureExerciseFrequency       = "exerciseFrequency"
	FeatureStressLevel             = "stressLevel"
	FeatureExistingConditionsCount = "existingConditionsCount"
	FeatureFamilyHistory           = "familyHistory"
	FeatureAlcoholDrinksPerWeek    = "alcoholDrinksPerWeek"
	FeatureSleepHours              = "sleepHours"
	FeatureDebtToIncome            = "debtToIncome"
	FeatureCoverageIncomeMultiple  = "coverageIncomeMultiple"
)

// Encoded smokingStatus feature values.
const (
	SmokingCodeNever   = 0
	SmokingCodeFormer  = 1
	SmokingCodeCurrent = 2
)

// FeatureVector maps feature names to normalized numeric values. Vectors are
// rebuilt on every recompute and never mutated after extraction.
type FeatureVector map[string]float64

// Get returns the value for name, or 0 when absent.
func (fv FeatureVector) Get(name string) float64 {
	return fv[name]
}

// RatingAttributes are the pricing inputs extracted next to the features.
type RatingAttributes struct {
	CoverageAmount  float64 `json:"coverage_amount"`
	TermYears       int     `json:"term_years"`
	Gender          string  `json:"gender"`
	OccupationClass string  `json:"occupation_class"`
	LocalityTier    string  `json:"locality_tier"`
}
