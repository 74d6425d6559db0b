package scorer

import (
	"fmt"
	"math"

	"github.com/sells-group/risk-engine/internal/model"
)

// factor is one group of the additive model. Each factor reads only its own
// features; no feature may belong to two factors.
type factor struct {
	category model.FactorCategory
	features []string
	// eval returns the display name, the signed impact and the explanation.
	eval func(fv model.FeatureVector) (string, float64, string)
}

// defaultFactors returns the rule table of the scoring model.
func defaultFactors() []factor {
	return []factor{
		{model.CategoryDemographic, []string{model.FeatureAge}, scoreAge},
		{model.CategoryHealth, []string{model.FeatureBMI}, scoreBMI},
		{model.CategoryHealth, []string{model.FeatureExistingConditionsCount}, scoreConditions},
		{model.CategoryHealth, []string{model.FeatureFamilyHistory}, scoreFamilyHistory},
		{model.CategoryLifestyle, []string{model.FeatureSmokingStatus}, scoreSmoking},
		{model.CategoryLifestyle, []string{model.FeatureExerciseFrequency}, scoreExercise},
		{model.CategoryLifestyle, []string{model.FeatureAlcoholDrinksPerWeek}, scoreAlcohol},
		{model.CategoryLifestyle, []string{model.FeatureStressLevel}, scoreStress},
		{model.CategoryLifestyle, []string{model.FeatureSleepHours}, scoreSleep},
		{model.CategoryFinancial, []string{model.FeatureDebtToIncome}, scoreDebtToIncome},
		{model.CategoryFinancial, []string{model.FeatureCoverageIncomeMultiple}, scoreCoverageMultiple},
	}
}

// Factor names. The smoking factor is named after the reported status.
const (
	FactorAge                = "Age"
	FactorBMI                = "BMI"
	FactorExistingConditions = "Existing conditions"
	FactorFamilyHistory      = "Family history"
	FactorNonSmoker          = "Non-smoker"
	FactorFormerSmoker       = "Former smoker"
	FactorCurrentSmoker      = "Current smoker"
	FactorExercise           = "Exercise"
	FactorAlcohol            = "Alcohol"
	FactorStress             = "Stress"
	FactorSleep              = "Sleep"
	FactorDebtToIncome       = "Debt-to-income"
	FactorCoverageMultiple   = "Coverage multiple"
)

func scoreAge(fv model.FeatureVector) (string, float64, string) {
	age := fv.Get(model.FeatureAge)
	impact := math.Max(-6, math.Min(16, (age-40)*0.4))
	return FactorAge, impact, fmt.Sprintf("Age %.0f relative to a reference age of 40", age)
}

func scoreBMI(fv model.FeatureVector) (string, float64, string) {
	bmi := fv.Get(model.FeatureBMI)
	switch {
	case bmi < 18.5:
		return FactorBMI, 3, fmt.Sprintf("BMI %.1f is below the healthy range", bmi)
	case bmi < 25:
		return FactorBMI, -2, fmt.Sprintf("BMI %.1f is within the healthy range", bmi)
	case bmi < 30:
		return FactorBMI, 2, fmt.Sprintf("BMI %.1f is in the overweight range", bmi)
	case bmi < 35:
		return FactorBMI, 6, fmt.Sprintf("BMI %.1f is in the obese range", bmi)
	default:
		return FactorBMI, 10, fmt.Sprintf("BMI %.1f is in the severely obese range", bmi)
	}
}

func scoreConditions(fv model.FeatureVector) (string, float64, string) {
	n := fv.Get(model.FeatureExistingConditionsCount)
	return FactorExistingConditions, math.Min(6*n, 18), fmt.Sprintf("%.0f existing medical condition(s) reported", n)
}

func scoreFamilyHistory(fv model.FeatureVector) (string, float64, string) {
	if fv.Get(model.FeatureFamilyHistory) > 0 {
		return FactorFamilyHistory, 4, "Family history of serious illness"
	}
	return FactorFamilyHistory, 0, "No family history reported"
}

func scoreSmoking(fv model.FeatureVector) (string, float64, string) {
	switch fv.Get(model.FeatureSmokingStatus) {
	case model.SmokingCodeCurrent:
		return FactorCurrentSmoker, 18, "Current tobacco use"
	case model.SmokingCodeFormer:
		return FactorFormerSmoker, 4, "Former tobacco use"
	default:
		return FactorNonSmoker, -8, "Never used tobacco"
	}
}

func scoreExercise(fv model.FeatureVector) (string, float64, string) {
	s := fv.Get(model.FeatureExerciseFrequency)
	switch {
	case s >= 5:
		return FactorExercise, -5, "Exercises 5 or more times per week"
	case s >= 3:
		return FactorExercise, -3, "Exercises 3-4 times per week"
	case s >= 1:
		return FactorExercise, 2, "Exercises 1-2 times per week"
	default:
		return FactorExercise, 5, "No regular exercise"
	}
}

func scoreAlcohol(fv model.FeatureVector) (string, float64, string) {
	d := fv.Get(model.FeatureAlcoholDrinksPerWeek)
	switch {
	case d > 14:
		return FactorAlcohol, 5, fmt.Sprintf("%.0f drinks per week is heavy consumption", d)
	case d > 7:
		return FactorAlcohol, 2, fmt.Sprintf("%.0f drinks per week is above moderate", d)
	default:
		return FactorAlcohol, 0, "Moderate or no alcohol consumption"
	}
}

func scoreStress(fv model.FeatureVector) (string, float64, string) {
	s := fv.Get(model.FeatureStressLevel)
	return FactorStress, (s - 5) * 1.0, fmt.Sprintf("Self-reported stress level %.0f of 10", s)
}

func scoreSleep(fv model.FeatureVector) (string, float64, string) {
	h := fv.Get(model.FeatureSleepHours)
	switch {
	case h < 6:
		return FactorSleep, 3, fmt.Sprintf("%.1f hours of sleep is below recommended", h)
	case h > 9:
		return FactorSleep, 1, fmt.Sprintf("%.1f hours of sleep is above typical", h)
	default:
		return FactorSleep, 0, "Sleep within the recommended range"
	}
}

func scoreDebtToIncome(fv model.FeatureVector) (string, float64, string) {
	r := fv.Get(model.FeatureDebtToIncome)
	switch {
	case r > 0.5:
		return FactorDebtToIncome, 3, fmt.Sprintf("Debt-to-income ratio %.0f%% is high", r*100)
	case r > 0.36:
		return FactorDebtToIncome, 1, fmt.Sprintf("Debt-to-income ratio %.0f%% is elevated", r*100)
	default:
		return FactorDebtToIncome, -1, fmt.Sprintf("Debt-to-income ratio %.0f%% is healthy", r*100)
	}
}

func scoreCoverageMultiple(fv model.FeatureVector) (string, float64, string) {
	m := fv.Get(model.FeatureCoverageIncomeMultiple)
	if m > 20 {
		return FactorCoverageMultiple, 3, fmt.Sprintf("Requested coverage is %.0fx annual income", m)
	}
	return FactorCoverageMultiple, 0, "Requested coverage is proportionate to income"
}
