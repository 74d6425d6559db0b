package explain

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/risk-engine/internal/model"
)

// ReferenceGroupFeature marks the protected group of a reference profile.
// Both groups share every other feature, so the self-check only detects a
// model whose factors read this marker. The shipped model has no such factor
// and always reports zero deltas; bias carried by proxy features is not
// measured.
const ReferenceGroupFeature = "referenceGroup"

// DecisionThreshold is the score at or above which a reference profile is
// predicted high risk.
const DecisionThreshold = 50.0

// ReferenceProfile is one member of the fairness population.
type ReferenceProfile struct {
	Group        int
	Features     model.FeatureVector
	ExpectedHigh bool
}

// archetypes are the shared profiles; each is instantiated once per group so
// both groups are identical apart from the group marker.
var archetypes = []struct {
	overrides    map[string]float64
	expectedHigh bool
}{
	{map[string]float64{model.FeatureAge: 28, model.FeatureBMI: 22, model.FeatureExerciseFrequency: 3.5}, false},
	{map[string]float64{}, false},
	{map[string]float64{model.FeatureAge: 50, model.FeatureBMI: 27, model.FeatureSmokingStatus: model.SmokingCodeFormer}, false},
	{map[string]float64{model.FeatureAge: 70, model.FeatureExerciseFrequency: 3.5}, false},
	{map[string]float64{
		model.FeatureAge: 55, model.FeatureBMI: 31, model.FeatureSmokingStatus: model.SmokingCodeCurrent,
		model.FeatureExistingConditionsCount: 1, model.FeatureExerciseFrequency: 0,
	}, true},
	{map[string]float64{
		model.FeatureAge: 65, model.FeatureBMI: 36, model.FeatureSmokingStatus: model.SmokingCodeCurrent,
		model.FeatureExistingConditionsCount: 2, model.FeatureFamilyHistory: 1, model.FeatureExerciseFrequency: 0,
		model.FeatureAlcoholDrinksPerWeek: 20, model.FeatureStressLevel: 8, model.FeatureSleepHours: 5,
		model.FeatureDebtToIncome: 0.6,
	}, true},
	{map[string]float64{
		model.FeatureAge: 45, model.FeatureBMI: 29, model.FeatureSmokingStatus: model.SmokingCodeCurrent,
		model.FeatureStressLevel: 9, model.FeatureSleepHours: 5, model.FeatureAlcoholDrinksPerWeek: 10,
		model.FeatureDebtToIncome: 0.4,
	}, true},
	{map[string]float64{
		model.FeatureAge: 60, model.FeatureBMI: 33, model.FeatureSmokingStatus: model.SmokingCodeFormer,
		model.FeatureExistingConditionsCount: 3, model.FeatureFamilyHistory: 1,
	}, true},
}

// ReferencePopulation returns the built-in population: every archetype in
// group 0 and mirrored in group 1.
func ReferencePopulation() []ReferenceProfile {
	out := make([]ReferenceProfile, 0, 2*len(archetypes))
	for group := 0; group < 2; group++ {
		for _, a := range archetypes {
			fv := baseline()
			for k, v := range a.overrides {
				fv[k] = v
			}
			fv[ReferenceGroupFeature] = float64(group)
			out = append(out, ReferenceProfile{Group: group, Features: fv, ExpectedHigh: a.expectedHigh})
		}
	}
	return out
}

func baseline() model.FeatureVector {
	return model.FeatureVector{
		model.FeatureAge:                     40,
		model.FeatureBMI:                     24,
		model.FeatureSmokingStatus:           model.SmokingCodeNever,
		model.FeatureExerciseFrequency:       1.5,
		model.FeatureStressLevel:             5,
		model.FeatureExistingConditionsCount: 0,
		model.FeatureFamilyHistory:           0,
		model.FeatureAlcoholDrinksPerWeek:    3,
		model.FeatureSleepHours:              7,
		model.FeatureDebtToIncome:            0.30,
		model.FeatureCoverageIncomeMultiple:  10,
	}
}

// groupStats accumulates confusion counts and calibration per group.
type groupStats struct {
	n, predictedHigh      int
	tp, fn, fp, tn        int
	scoreSum, expectedSum float64
}

type populationStats [2]groupStats

func evaluate(s Scorer, population []ReferenceProfile) (populationStats, error) {
	var stats populationStats
	for _, p := range population {
		if p.Group < 0 || p.Group > 1 {
			return stats, eris.Errorf("explain: reference group %d out of range", p.Group)
		}
		res, err := s.Score(p.Features)
		if err != nil {
			return stats, eris.Wrap(err, "explain: score reference profile")
		}

		g := &stats[p.Group]
		predicted := res.OverallScore >= DecisionThreshold
		g.n++
		g.scoreSum += res.OverallScore / 100
		if p.ExpectedHigh {
			g.expectedSum++
		}
		if predicted {
			g.predictedHigh++
		}
		switch {
		case predicted && p.ExpectedHigh:
			g.tp++
		case predicted && !p.ExpectedHigh:
			g.fp++
		case !predicted && p.ExpectedHigh:
			g.fn++
		default:
			g.tn++
		}
	}
	return stats, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func (s populationStats) demographicParity() float64 {
	return math.Abs(ratio(s[0].predictedHigh, s[0].n) - ratio(s[1].predictedHigh, s[1].n))
}

func (s populationStats) equalizedOdds() float64 {
	tpr := math.Abs(ratio(s[0].tp, s[0].tp+s[0].fn) - ratio(s[1].tp, s[1].tp+s[1].fn))
	fpr := math.Abs(ratio(s[0].fp, s[0].fp+s[0].tn) - ratio(s[1].fp, s[1].fp+s[1].tn))
	return math.Max(tpr, fpr)
}

// calibration compares, per group, the gap between mean predicted risk
// (score/100) and the observed high-risk rate.
func (s populationStats) calibration() float64 {
	gap := func(g groupStats) float64 {
		if g.n == 0 {
			return 0
		}
		return g.scoreSum/float64(g.n) - g.expectedSum/float64(g.n)
	}
	return math.Abs(gap(s[0]) - gap(s[1]))
}
