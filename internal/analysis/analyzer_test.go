package analysis

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/risk-engine/internal/config"
	"github.com/sells-group/risk-engine/internal/features"
	"github.com/sells-group/risk-engine/internal/model"
	"github.com/sells-group/risk-engine/internal/pricing"
)

func ptr[T any](v T) *T { return &v }

var now = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func newTestAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	a, err := New(config.Defaults())
	require.NoError(t, err)
	return a
}

// youngNonSmoker is 28 at now, BMI 27, exercises 3-4 times a week.
func youngNonSmoker() model.ProfileSnapshot {
	dob := time.Date(1997, 6, 1, 0, 0, 0, 0, time.UTC)
	return model.ProfileSnapshot{
		UserID:       "user-28",
		Demographics: model.Demographics{DateOfBirth: &dob},
		Health:       model.Health{BMI: ptr(27.0)},
		Lifestyle: model.Lifestyle{
			SmokingStatus:     ptr(model.SmokingNever),
			ExerciseFrequency: ptr(model.ExerciseRegular),
		},
	}
}

func TestAnalyze_YoungNonSmoker(t *testing.T) {
	a := newTestAnalyzer(t)

	got, err := a.Analyze(youngNonSmoker(), nil, now)
	require.NoError(t, err)

	assert.Equal(t, "user-28", got.UserID)
	assert.NotEmpty(t, got.ID)
	assert.InDelta(t, 15.2, got.OverallScore, 0.001)
	assert.Equal(t, model.RiskLow, got.Category)
	assert.Equal(t, "Non-smoker", got.Explanation.Factors[0].Factor.Name)
	assert.InDelta(t, 21.40, got.Premium.MonthlyAmount, 0.001)
	assert.Len(t, got.Predictions, 4)
	assert.True(t, got.Explanation.Fairness.Passed)
	assert.Equal(t, a.ModelVersion(), got.ModelVersion)
	assert.Equal(t, now, got.GeneratedAt)
	require.Len(t, got.Recommendations, 1)
	assert.Contains(t, got.Recommendations[0], "BMI below 25")
}

func TestAnalyze_CurrentSmoker(t *testing.T) {
	snap := youngNonSmoker()
	snap.Lifestyle.SmokingStatus = ptr(model.SmokingCurrent)

	got, err := newTestAnalyzer(t).Analyze(snap, nil, now)
	require.NoError(t, err)
	assert.InDelta(t, 41.2, got.OverallScore, 0.001)
	assert.Equal(t, model.RiskMedium, got.Category)
	require.NotEmpty(t, got.Recommendations)
	assert.Contains(t, got.Recommendations[0], "Quit smoking")
}

func TestAnalyze_Deterministic(t *testing.T) {
	a := newTestAnalyzer(t)
	first, err := a.Analyze(youngNonSmoker(), nil, now)
	require.NoError(t, err)
	second, err := a.Analyze(youngNonSmoker(), nil, now)
	require.NoError(t, err)

	first.ID, second.ID = "", ""
	assert.Equal(t, first, second)
}

func TestAnalyze_IncompleteProfile(t *testing.T) {
	_, err := newTestAnalyzer(t).Analyze(model.ProfileSnapshot{}, nil, now)
	var ie *features.IncompleteProfileError
	assert.True(t, errors.As(err, &ie))
}

func TestAnalyze_UnsupportedAttribute(t *testing.T) {
	snap := youngNonSmoker()
	snap.Coverage.TermYears = ptr(17)

	_, err := newTestAnalyzer(t).Analyze(snap, nil, now)
	var ue *pricing.UnsupportedRatingAttributeError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, pricing.AttrTermYears, ue.Attribute)
}

func TestAnalyze_UsesHistoryForTrend(t *testing.T) {
	history := []model.ScorePoint{{Score: 25.2, At: now.AddDate(0, -1, 0)}}
	got, err := newTestAnalyzer(t).Analyze(youngNonSmoker(), history, now)
	require.NoError(t, err)

	for _, p := range got.Predictions {
		assert.Less(t, p.PredictedScore, 15.2)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Pricing.Currency = "nope"
	_, err := New(cfg)
	assert.Error(t, err)
}
