// Package pricing turns a risk score and rating attributes into a monthly
// premium quote.
package pricing

import (
	"fmt"
	"math"
	"strconv"

	"github.com/rotisserie/eris"
	"golang.org/x/text/currency"

	"github.com/sells-group/risk-engine/internal/config"
	"github.com/sells-group/risk-engine/internal/model"
)

// Rating attribute names, in the order multipliers are applied.
const (
	AttrCoverageAmount  = "coverage_amount"
	AttrOccupationClass = "occupation_class"
	AttrLocalityTier    = "locality_tier"
	AttrTermYears       = "term_years"
	AttrGender          = "gender"
)

// UnsupportedRatingAttributeError is returned when an attribute value has no
// entry in its rating table.
type UnsupportedRatingAttributeError struct {
	Attribute string
	Value     string
}

func (e *UnsupportedRatingAttributeError) Error() string {
	return fmt.Sprintf("pricing: unsupported %s %q", e.Attribute, e.Value)
}

// Calculator computes premiums from configured rate tables.
type Calculator struct {
	cfg  config.PricingConfig
	unit currency.Unit
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(cfg config.PricingConfig) (*Calculator, error) {
	unit, err := currency.ParseISO(cfg.Currency)
	if err != nil {
		return nil, eris.Wrapf(err, "pricing: parse currency %q", cfg.Currency)
	}
	if cfg.UnitSize <= 0 {
		return nil, eris.New("pricing: unit_size must be > 0")
	}
	return &Calculator{cfg: cfg, unit: unit}, nil
}

// Currency returns the quote currency.
func (c *Calculator) Currency() currency.Unit { return c.unit }

// RatePerUnit returns the monthly rate per coverage unit at the given score.
func (c *Calculator) RatePerUnit(score float64) float64 {
	return c.cfg.BaseRate + c.cfg.ScoreRate*score
}

// Quote prices a policy. It is deterministic and non-decreasing in score
// for fixed attributes.
func (c *Calculator) Quote(score float64, attrs model.RatingAttributes) (model.PremiumQuote, error) {
	if attrs.CoverageAmount <= 0 || math.IsNaN(attrs.CoverageAmount) || math.IsInf(attrs.CoverageAmount, 0) {
		return model.PremiumQuote{}, &UnsupportedRatingAttributeError{
			Attribute: AttrCoverageAmount,
			Value:     strconv.FormatFloat(attrs.CoverageAmount, 'f', -1, 64),
		}
	}

	lookups := []struct {
		attr  string
		value string
		table map[string]float64
	}{
		{AttrOccupationClass, attrs.OccupationClass, c.cfg.Occupations},
		{AttrLocalityTier, attrs.LocalityTier, c.cfg.Localities},
		{AttrTermYears, strconv.Itoa(attrs.TermYears), c.cfg.Terms},
		{AttrGender, attrs.Gender, c.cfg.Genders},
	}

	rate := c.RatePerUnit(score)
	amount := rate * attrs.CoverageAmount / c.cfg.UnitSize
	multipliers := make([]model.Multiplier, 0, len(lookups))
	for _, l := range lookups {
		f, ok := l.table[l.value]
		if !ok {
			return model.PremiumQuote{}, &UnsupportedRatingAttributeError{Attribute: l.attr, Value: l.value}
		}
		amount *= f
		multipliers = append(multipliers, model.Multiplier{Attribute: l.attr, Value: l.value, Factor: f})
	}

	return model.PremiumQuote{
		MonthlyAmount:      roundCents(amount),
		Currency:           c.unit.String(),
		CoverageAmount:     attrs.CoverageAmount,
		TermYears:          attrs.TermYears,
		RatePerUnit:        math.Round(rate*1e6) / 1e6,
		AppliedMultipliers: multipliers,
	}, nil
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
