package features

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/risk-engine/internal/model"
)

func ptr[T any](v T) *T { return &v }

var refNow = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func TestExtract_Defaults(t *testing.T) {
	fv, attrs, err := NewExtractor().Extract(model.ProfileSnapshot{UserID: "u1"}, refNow)
	require.NoError(t, err)

	assert.Equal(t, DefaultAge, fv[model.FeatureAge])
	assert.Equal(t, DefaultBMI, fv[model.FeatureBMI])
	assert.Equal(t, float64(model.SmokingCodeNever), fv[model.FeatureSmokingStatus])
	assert.Equal(t, 1.5, fv[model.FeatureExerciseFrequency])
	assert.Equal(t, 5.0, fv[model.FeatureStressLevel])
	assert.Equal(t, 0.0, fv[model.FeatureExistingConditionsCount])
	assert.Equal(t, 0.0, fv[model.FeatureFamilyHistory])
	assert.Equal(t, 3.0, fv[model.FeatureAlcoholDrinksPerWeek])
	assert.Equal(t, 7.0, fv[model.FeatureSleepHours])
	assert.Equal(t, 0.30, fv[model.FeatureDebtToIncome])
	assert.Equal(t, 10.0, fv[model.FeatureCoverageIncomeMultiple])
	assert.Len(t, fv, 11)

	assert.Equal(t, 250000.0, attrs.CoverageAmount)
	assert.Equal(t, 20, attrs.TermYears)
	assert.Equal(t, "unspecified", attrs.Gender)
	assert.Equal(t, "class_2", attrs.OccupationClass)
	assert.Equal(t, "tier_2", attrs.LocalityTier)
}

func TestExtract_MissingUserID(t *testing.T) {
	_, _, err := NewExtractor().Extract(model.ProfileSnapshot{UserID: "  "}, refNow)
	require.Error(t, err)

	var incomplete *IncompleteProfileError
	require.True(t, errors.As(err, &incomplete))
	assert.Equal(t, "user_id", incomplete.Field)
}

func TestExtract_FullProfile(t *testing.T) {
	dob := time.Date(1997, 6, 1, 0, 0, 0, 0, time.UTC)
	snap := model.ProfileSnapshot{
		UserID: "u2",
		Demographics: model.Demographics{
			DateOfBirth:     &dob,
			Gender:          ptr("Female"),
			OccupationClass: ptr("class_3"),
			LocalityTier:    ptr("tier_1"),
		},
		Health: model.Health{
			HeightCM:           ptr(180.0),
			WeightKG:           ptr(81.0),
			ExistingConditions: []string{"asthma", "hypertension"},
			FamilyHistory:      ptr(true),
		},
		Lifestyle: model.Lifestyle{
			SmokingStatus:        ptr("current"),
			ExerciseFrequency:    ptr("5+"),
			AlcoholDrinksPerWeek: ptr(10.0),
			StressLevel:          ptr(8),
			SleepHours:           ptr(5.5),
		},
		Financial: model.Financial{
			AnnualIncome: ptr(50000.0),
			DebtToIncome: ptr(0.4),
		},
		Coverage: model.Coverage{
			Amount:    ptr(1500000.0),
			TermYears: ptr(30),
		},
	}

	fv, attrs, err := NewExtractor().Extract(snap, refNow)
	require.NoError(t, err)

	assert.InDelta(t, 28.0, fv[model.FeatureAge], 0.01)
	assert.Equal(t, 25.0, fv[model.FeatureBMI])
	assert.Equal(t, float64(model.SmokingCodeCurrent), fv[model.FeatureSmokingStatus])
	assert.Equal(t, 5.5, fv[model.FeatureExerciseFrequency])
	assert.Equal(t, 8.0, fv[model.FeatureStressLevel])
	assert.Equal(t, 2.0, fv[model.FeatureExistingConditionsCount])
	assert.Equal(t, 1.0, fv[model.FeatureFamilyHistory])
	assert.Equal(t, 10.0, fv[model.FeatureAlcoholDrinksPerWeek])
	assert.Equal(t, 5.5, fv[model.FeatureSleepHours])
	assert.Equal(t, 0.4, fv[model.FeatureDebtToIncome])
	assert.Equal(t, 30.0, fv[model.FeatureCoverageIncomeMultiple])

	assert.Equal(t, 1500000.0, attrs.CoverageAmount)
	assert.Equal(t, 30, attrs.TermYears)
	assert.Equal(t, "female", attrs.Gender)
	assert.Equal(t, "class_3", attrs.OccupationClass)
	assert.Equal(t, "tier_1", attrs.LocalityTier)
}

func TestExtract_ExplicitBMIWins(t *testing.T) {
	snap := model.ProfileSnapshot{
		UserID: "u3",
		Health: model.Health{BMI: ptr(31.2), HeightCM: ptr(180.0), WeightKG: ptr(60.0)},
	}
	fv, _, err := NewExtractor().Extract(snap, refNow)
	require.NoError(t, err)
	assert.Equal(t, 31.2, fv[model.FeatureBMI])
}

func TestExtract_UnknownEnumsDegradeToDefault(t *testing.T) {
	snap := model.ProfileSnapshot{
		UserID: "u4",
		Lifestyle: model.Lifestyle{
			SmokingStatus:     ptr("sometimes"),
			ExerciseFrequency: ptr("daily-ish"),
			StressLevel:       ptr(42),
		},
	}
	fv, _, err := NewExtractor().Extract(snap, refNow)
	require.NoError(t, err)
	assert.Equal(t, float64(model.SmokingCodeNever), fv[model.FeatureSmokingStatus])
	assert.Equal(t, DefaultExerciseSessions, fv[model.FeatureExerciseFrequency])
	assert.Equal(t, 10.0, fv[model.FeatureStressLevel])
}

func TestExtract_EmptyConditionsMeansNone(t *testing.T) {
	snap := model.ProfileSnapshot{UserID: "u5", Health: model.Health{ExistingConditions: []string{}}}
	fv, _, err := NewExtractor().Extract(snap, refNow)
	require.NoError(t, err)
	assert.Equal(t, 0.0, fv[model.FeatureExistingConditionsCount])
}

func TestExtract_AgeDriftsWithClock(t *testing.T) {
	dob := time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := model.ProfileSnapshot{UserID: "u6", Demographics: model.Demographics{DateOfBirth: &dob}}
	ex := NewExtractor()

	first, _, err := ex.Extract(snap, refNow)
	require.NoError(t, err)
	later, _, err := ex.Extract(snap, refNow.AddDate(0, 6, 0))
	require.NoError(t, err)

	assert.Greater(t, later[model.FeatureAge], first[model.FeatureAge])
	assert.InDelta(t, 0.5, later[model.FeatureAge]-first[model.FeatureAge], 0.02)
}

func TestExtract_FreshVectorEachCall(t *testing.T) {
	ex := NewExtractor()
	a, _, err := ex.Extract(model.ProfileSnapshot{UserID: "u7"}, refNow)
	require.NoError(t, err)
	b, _, err := ex.Extract(model.ProfileSnapshot{UserID: "u7"}, refNow)
	require.NoError(t, err)

	a[model.FeatureAge] = 99
	assert.Equal(t, DefaultAge, b[model.FeatureAge])
}
