// Package trend projects a user's risk score over fixed horizons.
package trend

import (
	"fmt"
	"math"
	"time"

	"github.com/sells-group/risk-engine/internal/config"
	"github.com/sells-group/risk-engine/internal/model"
)

const daysPerMonth = 30.436875

// Predictor projects scores forward. It never fails.
type Predictor struct {
	cfg      config.TrendConfig
	minScore float64
	maxScore float64
}

// NewPredictor creates a Predictor clamping projections to [minScore, maxScore].
func NewPredictor(cfg config.TrendConfig, minScore, maxScore float64) *Predictor {
	return &Predictor{cfg: cfg, minScore: minScore, maxScore: maxScore}
}

// Predict returns one prediction per configured horizon. history holds prior
// overall scores, most recent first; the most recent point with a different
// score sets the slope, so reruns that append the same score again do not
// move the projection. With no such point the projection is flat and
// confidence is reduced by the flat penalty.
func (p *Predictor) Predict(current float64, history []model.ScorePoint, now time.Time) []model.Prediction {
	slope, ok := p.slope(current, history, now)

	out := make([]model.Prediction, 0, len(p.cfg.HorizonsMonths))
	for _, h := range p.cfg.HorizonsMonths {
		hm := float64(h)
		predicted := current
		conf := Confidence(p.cfg.ConfidenceCeiling, hm, p.cfg.HalfLifeMonths)
		if ok {
			predicted = current + slope*hm/(1+hm/p.cfg.DampingMonths)
		} else {
			conf *= p.cfg.FlatPenalty
		}
		predicted = math.Max(p.minScore, math.Min(p.maxScore, predicted))

		out = append(out, model.Prediction{
			TimeframeLabel:    Label(h),
			HorizonMonths:     h,
			PredictedScore:    math.Round(predicted*100) / 100,
			ConfidencePercent: math.Round(conf*10) / 10,
		})
	}
	return out
}

// slope returns points per month between the most recent differing history
// point and the current score. Elapsed time is floored at MinSlopeMonths.
func (p *Predictor) slope(current float64, history []model.ScorePoint, now time.Time) (float64, bool) {
	key := model.ScoreKey(current)
	for _, pt := range history {
		if model.ScoreKey(pt.Score) == key {
			continue
		}
		months := p.cfg.MinSlopeMonths
		if !pt.At.IsZero() {
			months = math.Max(months, now.Sub(pt.At).Hours()/24/daysPerMonth)
		}
		if months <= 0 {
			months = 1
		}
		return (current - pt.Score) / months, true
	}
	return 0, false
}

// Confidence decays the ceiling with a half-life in months:
// ceiling * 2^(-horizon/halfLife).
func Confidence(ceiling, horizonMonths, halfLifeMonths float64) float64 {
	if halfLifeMonths <= 0 {
		halfLifeMonths = 24
	}
	return ceiling * math.Pow(2, -horizonMonths/halfLifeMonths)
}

// Label renders a horizon for display.
func Label(months int) string {
	if months == 1 {
		return "1 month"
	}
	return fmt.Sprintf("%d months", months)
}
