// Package recommend derives actionable suggestions from a scored profile.
package recommend

import (
	"fmt"

	"github.com/sells-group/risk-engine/internal/model"
	"github.com/sells-group/risk-engine/internal/scorer"
)

// rule fires when applies returns true. factors names the contributions
// whose positive impact is the potential reduction.
type rule struct {
	id      string
	factors []string
	applies func(fv model.FeatureVector) bool
	action  string
}

// rules are evaluated in priority order.
var rules = []rule{
	{
		id:      "quit_smoking",
		factors: []string{scorer.FactorCurrentSmoker},
		applies: func(fv model.FeatureVector) bool {
			return fv.Get(model.FeatureSmokingStatus) == model.SmokingCodeCurrent
		},
		action: "Quit smoking",
	},
	{
		id:      "manage_conditions",
		factors: []string{scorer.FactorExistingConditions},
		applies: func(fv model.FeatureVector) bool {
			return fv.Get(model.FeatureExistingConditionsCount) >= 1
		},
		action: "Keep existing conditions under regular medical management",
	},
	{
		id:      "reduce_bmi",
		factors: []string{scorer.FactorBMI},
		applies: func(fv model.FeatureVector) bool {
			return fv.Get(model.FeatureBMI) >= 25
		},
		action: "Work toward a BMI below 25",
	},
	{
		id:      "exercise_more",
		factors: []string{scorer.FactorExercise},
		applies: func(fv model.FeatureVector) bool {
			return fv.Get(model.FeatureExerciseFrequency) < 3
		},
		action: "Exercise at least 3 times per week",
	},
	{
		id:      "reduce_stress",
		factors: []string{scorer.FactorStress},
		applies: func(fv model.FeatureVector) bool {
			return fv.Get(model.FeatureStressLevel) >= 7
		},
		action: "Adopt a stress-management routine",
	},
	{
		id:      "limit_alcohol",
		factors: []string{scorer.FactorAlcohol},
		applies: func(fv model.FeatureVector) bool {
			return fv.Get(model.FeatureAlcoholDrinksPerWeek) > 7
		},
		action: "Limit alcohol to 7 drinks per week or fewer",
	},
	{
		id:      "sleep_more",
		factors: []string{scorer.FactorSleep},
		applies: func(fv model.FeatureVector) bool {
			return fv.Get(model.FeatureSleepHours) < 6
		},
		action: "Aim for at least 6 hours of sleep per night",
	},
	{
		id:      "reduce_debt",
		factors: []string{scorer.FactorDebtToIncome},
		applies: func(fv model.FeatureVector) bool {
			return fv.Get(model.FeatureDebtToIncome) > 0.36
		},
		action: "Bring your debt-to-income ratio below 36%",
	},
}

// Engine produces prioritized recommendations.
type Engine struct {
	max int
}

// NewEngine returns an Engine that emits at most max recommendations.
func NewEngine(max int) *Engine {
	if max <= 0 {
		max = 4
	}
	return &Engine{max: max}
}

// Recommend evaluates rules in priority order. Each rule fires at most once.
func (e *Engine) Recommend(fv model.FeatureVector, contributions []model.FactorContribution) []string {
	impacts := make(map[string]float64, len(contributions))
	for _, c := range contributions {
		impacts[c.Name] = c.SignedImpact
	}

	out := make([]string, 0, e.max)
	for _, r := range rules {
		if len(out) == e.max {
			break
		}
		if !r.applies(fv) {
			continue
		}
		out = append(out, text(r, impacts))
	}
	return out
}

func text(r rule, impacts map[string]float64) string {
	var reduction float64
	for _, f := range r.factors {
		if v := impacts[f]; v > 0 {
			reduction += v
		}
	}
	if reduction <= 0 {
		return r.action + "."
	}
	return fmt.Sprintf("%s: could lower your risk score by up to %.1f points.", r.action, reduction)
}
