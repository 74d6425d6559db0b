package pricing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/sells-group/risk-engine/internal/config"
	"github.com/sells-group/risk-engine/internal/model"
)

func defaultAttrs() model.RatingAttributes {
	return model.RatingAttributes{
		CoverageAmount:  250000,
		TermYears:       20,
		Gender:          "unspecified",
		OccupationClass: "class_2",
		LocalityTier:    "tier_2",
	}
}

func newTestCalculator(t *testing.T) *Calculator {
	t.Helper()
	c, err := NewCalculator(config.Defaults().Pricing)
	require.NoError(t, err)
	return c
}

func TestQuote_DefaultAttributes(t *testing.T) {
	c := newTestCalculator(t)

	q, err := c.Quote(15.2, defaultAttrs())
	require.NoError(t, err)
	assert.InDelta(t, 21.40, q.MonthlyAmount, 0.001)
	assert.Equal(t, "USD", q.Currency)
	assert.Equal(t, 250000.0, q.CoverageAmount)
	assert.Equal(t, 20, q.TermYears)
	assert.InDelta(t, 0.0856, q.RatePerUnit, 1e-9)

	q, err = c.Quote(41.2, defaultAttrs())
	require.NoError(t, err)
	assert.InDelta(t, 40.90, q.MonthlyAmount, 0.001)
}

func TestQuote_MultipliersApplied(t *testing.T) {
	c := newTestCalculator(t)
	attrs := defaultAttrs()
	attrs.OccupationClass = "class_4"
	attrs.LocalityTier = "tier_1"
	attrs.TermYears = 30

	q, err := c.Quote(40, attrs)
	require.NoError(t, err)

	// (0.04 + 0.12) * 250 * 1.5 * 1.1 * 1.3
	assert.InDelta(t, 85.80, q.MonthlyAmount, 0.001)

	require.Len(t, q.AppliedMultipliers, 4)
	assert.Equal(t, model.Multiplier{Attribute: AttrOccupationClass, Value: "class_4", Factor: 1.5}, q.AppliedMultipliers[0])
	assert.Equal(t, model.Multiplier{Attribute: AttrLocalityTier, Value: "tier_1", Factor: 1.1}, q.AppliedMultipliers[1])
	assert.Equal(t, model.Multiplier{Attribute: AttrTermYears, Value: "30", Factor: 1.3}, q.AppliedMultipliers[2])
	assert.Equal(t, AttrGender, q.AppliedMultipliers[3].Attribute)
}

func TestQuote_MonotonicInScore(t *testing.T) {
	c := newTestCalculator(t)
	prev := -1.0
	for score := 5.0; score <= 95.0; score += 0.5 {
		q, err := c.Quote(score, defaultAttrs())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, q.MonthlyAmount, prev, "score %.1f", score)
		prev = q.MonthlyAmount
	}

	low, err := c.Quote(20, defaultAttrs())
	require.NoError(t, err)
	high, err := c.Quote(80, defaultAttrs())
	require.NoError(t, err)
	assert.Greater(t, high.MonthlyAmount, low.MonthlyAmount)
}

func TestQuote_Deterministic(t *testing.T) {
	c := newTestCalculator(t)
	a, err := c.Quote(63.37, defaultAttrs())
	require.NoError(t, err)
	b, err := c.Quote(63.37, defaultAttrs())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestQuote_UnsupportedAttribute(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.RatingAttributes)
		attr   string
		value  string
	}{
		{"occupation", func(a *model.RatingAttributes) { a.OccupationClass = "class_9" }, AttrOccupationClass, "class_9"},
		{"locality", func(a *model.RatingAttributes) { a.LocalityTier = "mars" }, AttrLocalityTier, "mars"},
		{"term", func(a *model.RatingAttributes) { a.TermYears = 12 }, AttrTermYears, "12"},
		{"gender", func(a *model.RatingAttributes) { a.Gender = "robot" }, AttrGender, "robot"},
		{"zero coverage", func(a *model.RatingAttributes) { a.CoverageAmount = 0 }, AttrCoverageAmount, "0"},
		{"negative coverage", func(a *model.RatingAttributes) { a.CoverageAmount = -5 }, AttrCoverageAmount, "-5"},
	}

	c := newTestCalculator(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs := defaultAttrs()
			tt.mutate(&attrs)

			_, err := c.Quote(40, attrs)
			require.Error(t, err)
			var ue *UnsupportedRatingAttributeError
			require.True(t, errors.As(err, &ue))
			assert.Equal(t, tt.attr, ue.Attribute)
			assert.Equal(t, tt.value, ue.Value)
		})
	}
}

func TestNewCalculator_InvalidCurrency(t *testing.T) {
	cfg := config.Defaults().Pricing
	cfg.Currency = "XXXX"
	_, err := NewCalculator(cfg)
	assert.Error(t, err)
}

func TestFormat(t *testing.T) {
	q := model.PremiumQuote{MonthlyAmount: 21.4, Currency: "USD", CoverageAmount: 250000}

	assert.Contains(t, FormatMonthly(q, language.English), "21.4")
	assert.Equal(t, "250,000", FormatCoverage(q, language.English))
}
